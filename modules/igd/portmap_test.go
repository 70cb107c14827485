package igd

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routerctl/modules/eventloop"
	"routerctl/modules/igd/model"
)

func boundSession() *Session {
	s := newSession()
	s.wanConn = &Service{Type: ServiceWANIPConnection + "1", ID: connIDOne}
	return s
}

// mappingTable 索引超出表长时返回 sentinel
func mappingTable(inv *fakeInvoker, sentinel int, rows ...Args) {
	inv.on("GetGenericPortMappingEntry", func(in []Arg) (Args, error) {
		index, err := strconv.Atoi(in[0].Value)
		if err != nil {
			return nil, err
		}
		if index >= len(rows) {
			return nil, &ActionError{Action: "GetGenericPortMappingEntry", Code: sentinel, Message: "SpecifiedArrayIndexInvalid"}
		}
		return rows[index], nil
	})
}

func row(ext, internal, proto, host, desc string) Args {
	return Args{
		"NewRemoteHost":             "",
		"NewExternalPort":           ext,
		"NewProtocol":               proto,
		"NewInternalPort":           internal,
		"NewInternalClient":         host,
		"NewEnabled":                "1",
		"NewPortMappingDescription": desc,
		"NewLeaseDuration":          "0",
	}
}

// 以下辅助函数在循环中发起动作并等待 done

func listMappings(t *testing.T, e *Engine, s *Session) ([]model.PortMapping, error) {
	t.Helper()
	return eventloop.AwaitResult(t.Context(), e.loop, func(done func([]model.PortMapping, error)) {
		e.ListMappings(s, done)
	})
}

func addMapping(t *testing.T, e *Engine, s *Session, m model.PortMapping) error {
	t.Helper()
	return e.loop.Await(t.Context(), func(done func(error)) { e.AddMapping(s, m, done) })
}

func deleteMapping(t *testing.T, e *Engine, s *Session, protocol model.Protocol, port uint16) error {
	t.Helper()
	return e.loop.Await(t.Context(), func(done func(error)) { e.DeleteMapping(s, protocol, port, "", done) })
}

func TestListMappings_StopsAtSentinel(t *testing.T) {
	for _, code := range []int{CodeArrayIndexInvalid, CodeInvalidArgs} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			inv := newFakeInvoker()
			mappingTable(inv, code,
				row("8080", "80", "TCP", "192.168.1.50", "web"),
				row("0", "0", "UDP", "", "placeholder"),
				row("5353", "5353", "udp", "192.168.1.51", "mdns"),
			)
			e, fe, _ := newTestEngine(t, inv, nil)
			runLoop(t, e)

			list, err := listMappings(t, e, boundSession())
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, uint16(8080), list[0].ExternalPort)
			assert.Equal(t, model.ProtocolTCP, list[0].Protocol)
			assert.Equal(t, "192.168.1.50", list[0].InternalHost)
			assert.True(t, list[0].Enabled)
			assert.Equal(t, uint16(5353), list[1].ExternalPort)
			assert.Equal(t, model.ProtocolUDP, list[1].Protocol)

			assert.Equal(t, 4, inv.count("GetGenericPortMappingEntry"))
			assert.Equal(t, 1, fe.clears)
			require.Equal(t, 1, fe.batchCount())
			assert.Equal(t, list, fe.batches[0])
		})
	}
}

func TestListMappings_EmptyTable(t *testing.T) {
	inv := newFakeInvoker()
	mappingTable(inv, CodeArrayIndexInvalid)
	e, fe, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)

	list, err := listMappings(t, e, boundSession())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1, fe.clears)
	assert.Equal(t, 1, fe.batchCount())
}

func TestListMappings_ErrorKeepsPartialList(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("GetGenericPortMappingEntry", func(in []Arg) (Args, error) {
		if in[0].Value == "0" {
			return row("22", "22", "TCP", "192.168.1.2", "ssh"), nil
		}
		return nil, &ActionError{Action: "GetGenericPortMappingEntry", Code: 501, Message: "Action Failed"}
	})
	e, fe, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)

	list, err := listMappings(t, e, boundSession())
	require.Error(t, err)
	assert.Equal(t, 501, ErrorCode(err))
	assert.False(t, IsEndOfEnumeration(err))
	require.Len(t, list, 1)
	assert.Equal(t, 1, fe.batchCount())
}

func TestListMappings_NoConnectionService(t *testing.T) {
	e, fe, _ := newTestEngine(t, newFakeInvoker(), nil)
	runLoop(t, e)
	_, err := listMappings(t, e, newSession())
	assert.ErrorIs(t, err, ErrNoConnectionService)
	assert.Equal(t, 0, fe.batchCount())
}

func TestAddMapping_Success(t *testing.T) {
	inv := newFakeInvoker()
	inv.reply("AddPortMapping", Args{})
	e, fe, _ := newTestEngine(t, inv, nil)

	m := model.PortMapping{
		Protocol:     model.ProtocolTCP,
		InternalPort: 8080,
		ExternalPort: 8080,
		InternalHost: "192.168.1.50",
		Enabled:      true,
	}
	runLoop(t, e)
	require.NoError(t, addMapping(t, e, boundSession(), m))

	calls := inv.callsTo("AddPortMapping")
	require.Len(t, calls, 1)
	assert.Equal(t, []Arg{
		{"NewRemoteHost", ""},
		{"NewExternalPort", "8080"},
		{"NewProtocol", "TCP"},
		{"NewInternalPort", "8080"},
		{"NewInternalClient", "192.168.1.50"},
		{"NewEnabled", "1"},
		{"NewPortMappingDescription", ""},
		{"NewLeaseDuration", "0"},
	}, calls[0].In)

	require.Equal(t, 1, fe.batchCount())
	assert.Equal(t, []model.PortMapping{m}, fe.batches[0])
	assert.Equal(t, 0, fe.clears)
	assert.Equal(t, 0, inv.count("GetGenericPortMappingEntry"))
}

func TestAddMapping_FailureReturnsError(t *testing.T) {
	inv := newFakeInvoker()
	inv.fail("AddPortMapping", 718)
	e, fe, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)

	err := addMapping(t, e, boundSession(), model.PortMapping{Protocol: model.ProtocolTCP, ExternalPort: 80, InternalPort: 80})
	require.Error(t, err)

	var ae *ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 718, ae.Code)
	assert.Equal(t, "AddPortMapping", ae.Action)
	assert.Equal(t, 0, fe.batchCount())
	assert.Equal(t, 0, fe.clears)
}

func TestDeleteMapping(t *testing.T) {
	inv := newFakeInvoker()
	inv.reply("DeletePortMapping", Args{})
	e, fe, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)

	require.NoError(t, deleteMapping(t, e, boundSession(), model.ProtocolTCP, 8080))

	calls := inv.callsTo("DeletePortMapping")
	require.Len(t, calls, 1)
	assert.Equal(t, []Arg{
		{"NewRemoteHost", ""},
		{"NewExternalPort", "8080"},
		{"NewProtocol", "TCP"},
	}, calls[0].In)
	assert.Equal(t, 0, inv.count("GetGenericPortMappingEntry"))
	assert.Equal(t, 0, fe.batchCount())
}

func TestDeleteMapping_Failure(t *testing.T) {
	inv := newFakeInvoker()
	inv.fail("DeletePortMapping", 714)
	e, _, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)

	err := deleteMapping(t, e, boundSession(), model.ProtocolUDP, 9000)
	assert.Equal(t, 714, ErrorCode(err))
}

func TestEngineAPI_NoSession(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeInvoker(), nil)
	runLoop(t, e)

	_, err := e.List(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, e.Add(context.Background(), model.PortMapping{}), ErrNoSession)
	assert.ErrorIs(t, e.Refresh(context.Background()), ErrNoSession)
}

func TestListMappings_SessionClosedMidway(t *testing.T) {
	inv := newFakeInvoker()
	e, fe, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)

	s := boundSession()
	inv.on("GetGenericPortMappingEntry", func(in []Arg) (Args, error) {
		if in[0].Value == "1" {
			// 第二条在途时会话被拆除
			_ = e.loop.Do(context.Background(), func() error {
				s.close(nil)
				return nil
			})
		}
		return row("22", "22", "TCP", "192.168.1.2", "ssh"), nil
	})

	list, err := listMappings(t, e, s)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Nil(t, list)
	assert.Equal(t, 2, inv.count("GetGenericPortMappingEntry"))
	assert.Equal(t, 0, fe.batchCount())
}

func TestEngineAPI_AddAndDelete(t *testing.T) {
	inv := newFakeInvoker()
	routerReplies(inv)
	inv.reply("AddPortMapping", Args{})
	inv.fail("DeletePortMapping", 714)
	e, fe, _ := newTestEngine(t, inv, nil)
	runLoop(t, e)
	arrive(t, e, igdTree(), testDescURL)
	before := fe.batchCount()

	m := model.PortMapping{Protocol: model.ProtocolUDP, ExternalPort: 51820, InternalPort: 51820, InternalHost: "192.168.1.9"}
	require.NoError(t, e.Add(t.Context(), m))
	assert.Equal(t, before+1, fe.batchCount())

	err := e.Delete(t.Context(), model.ProtocolUDP, 51820, "")
	assert.Equal(t, 714, ErrorCode(err))

	list, err := e.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list)
}
