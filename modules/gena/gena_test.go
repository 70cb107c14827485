package gena

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routerctl/modules/igd"
)

const notifyBody = `<?xml version="1.0"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
<e:property><ExternalIPAddress>203.0.113.7</ExternalIPAddress></e:property>
<e:property><ConnectionStatus>Connected</ConnectionStatus></e:property>
</e:propertyset>`

func TestParsePropertySet(t *testing.T) {
	props, err := ParsePropertySet(strings.NewReader(notifyBody))
	require.NoError(t, err)
	assert.Equal(t, []Property{
		{Name: "ExternalIPAddress", Value: "203.0.113.7"},
		{Name: "ConnectionStatus", Value: "Connected"},
	}, props)

	// 没有命名空间，一个 property 中多个变量
	props, err = ParsePropertySet(strings.NewReader(`<propertyset><property>
<PortMappingNumberOfEntries> 3 </PortMappingNumberOfEntries>
<ExternalIPAddress>0.0.0.0</ExternalIPAddress>
</property></propertyset>`))
	require.NoError(t, err)
	assert.Equal(t, []Property{
		{Name: "PortMappingNumberOfEntries", Value: "3"},
		{Name: "ExternalIPAddress", Value: "0.0.0.0"},
	}, props)

	_, err = ParsePropertySet(strings.NewReader("<propertyset><property>"))
	assert.Error(t, err)
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, 300*time.Second, parseTimeout("Second-300"))
	assert.Equal(t, 300*time.Second, parseTimeout("second-300"))
	assert.Equal(t, DefaultTimeout, parseTimeout("infinite"))
	assert.Equal(t, DefaultTimeout, parseTimeout(""))
	assert.Equal(t, DefaultTimeout, parseTimeout("Second-abc"))
	assert.Equal(t, "Second-1800", timeoutHeader(DefaultTimeout))

	assert.Equal(t, 900*time.Second, renewalDelay(DefaultTimeout))
	assert.Equal(t, minRenewal, renewalDelay(10*time.Second))
}

type recorded struct {
	Method   string
	SID      string
	Callback string
	NT       string
	Timeout  string
}

// eventRouter 模拟路由器的事件订阅地址
type eventRouter struct {
	mu       sync.Mutex
	requests []recorded
	failSID  bool
}

func (r *eventRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	rec := recorded{
		Method:   req.Method,
		SID:      req.Header.Get("SID"),
		Callback: req.Header.Get("CALLBACK"),
		NT:       req.Header.Get("NT"),
		Timeout:  req.Header.Get("TIMEOUT"),
	}
	r.mu.Lock()
	r.requests = append(r.requests, rec)
	failSID := r.failSID
	r.mu.Unlock()

	switch req.Method {
	case "SUBSCRIBE":
		if rec.SID != "" && failSID {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", "uuid:sid-1")
		w.Header().Set("TIMEOUT", "Second-1800")
	case "UNSUBSCRIBE":
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *eventRouter) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.requests...)
}

type events struct {
	mu   sync.Mutex
	vars map[string]string
}

func (e *events) record(variable, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[variable] = value
}

func (e *events) get(variable string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vars[variable]
}

func startServer(t *testing.T, clk clock.Clock) *Server {
	t.Helper()
	s := NewServer(clk, nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func notify(t *testing.T, callback, sid, body string) int {
	t.Helper()
	req, err := http.NewRequest("NOTIFY", callback, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", "0")
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestSubscribeNotifyCancel(t *testing.T) {
	router := &eventRouter{}
	rs := httptest.NewServer(router)
	defer rs.Close()

	clk := clock.NewMock()
	s := startServer(t, clk)

	evtURL, err := url.Parse(rs.URL + "/evt/IPConn")
	require.NoError(t, err)
	svc := &igd.Service{ID: "urn:upnp-org:serviceId:WANIPConn1", EventSubURL: evtURL}

	got := &events{vars: map[string]string{}}
	handle, err := s.Subscribe(context.Background(), svc, got.record)
	require.NoError(t, err)
	sub := handle.(*Subscription)
	assert.Equal(t, "uuid:sid-1", sub.SID())

	reqs := router.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, "SUBSCRIBE", reqs[0].Method)
	assert.Equal(t, "upnp:event", reqs[0].NT)
	assert.Equal(t, "Second-1800", reqs[0].Timeout)
	assert.Empty(t, reqs[0].SID)
	require.True(t, strings.HasPrefix(reqs[0].Callback, "<http://127.0.0.1:"))
	callback := strings.Trim(reqs[0].Callback, "<>")
	assert.True(t, strings.HasSuffix(callback, "/notify/1"))

	assert.Equal(t, http.StatusOK, notify(t, callback, "uuid:sid-1", notifyBody))
	assert.Equal(t, "203.0.113.7", got.get("ExternalIPAddress"))
	assert.Equal(t, "Connected", got.get("ConnectionStatus"))

	assert.Equal(t, http.StatusPreconditionFailed, notify(t, callback, "uuid:other", notifyBody))
	assert.Equal(t, http.StatusPreconditionFailed, notify(t, strings.TrimSuffix(callback, "1")+"9", "uuid:sid-1", notifyBody))
	assert.Equal(t, http.StatusBadRequest, notify(t, callback, "uuid:sid-1", "<propertyset>"))

	// 过期时间过半时续订
	clk.Add(900 * time.Second)
	require.Eventually(t, func() bool { return len(router.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	renew := router.snapshot()[1]
	assert.Equal(t, "SUBSCRIBE", renew.Method)
	assert.Equal(t, "uuid:sid-1", renew.SID)
	assert.Empty(t, renew.Callback)

	require.NoError(t, handle.Cancel(context.Background()))
	require.NoError(t, handle.Cancel(context.Background()))
	reqs = router.snapshot()
	require.Len(t, reqs, 3)
	assert.Equal(t, "UNSUBSCRIBE", reqs[2].Method)
	assert.Equal(t, "uuid:sid-1", reqs[2].SID)

	assert.Equal(t, http.StatusPreconditionFailed, notify(t, callback, "uuid:sid-1", notifyBody))
}

func TestRenewFailureResubscribes(t *testing.T) {
	router := &eventRouter{failSID: true}
	rs := httptest.NewServer(router)
	defer rs.Close()

	clk := clock.NewMock()
	s := startServer(t, clk)

	evtURL, err := url.Parse(rs.URL + "/evt")
	require.NoError(t, err)
	handle, err := s.Subscribe(context.Background(), &igd.Service{ID: "conn", EventSubURL: evtURL}, func(string, string) {})
	require.NoError(t, err)
	defer handle.Cancel(context.Background())

	clk.Add(900 * time.Second)
	require.Eventually(t, func() bool { return len(router.snapshot()) == 3 }, time.Second, 10*time.Millisecond)
	reqs := router.snapshot()
	assert.Equal(t, "uuid:sid-1", reqs[1].SID)
	assert.Empty(t, reqs[2].SID)
	assert.NotEmpty(t, reqs[2].Callback)
}

func TestClose_CancelsAll(t *testing.T) {
	router := &eventRouter{}
	rs := httptest.NewServer(router)
	defer rs.Close()

	s := startServer(t, clock.NewMock())
	evtURL, err := url.Parse(rs.URL + "/evt")
	require.NoError(t, err)
	for _, id := range []string{"conn", "common"} {
		_, err := s.Subscribe(context.Background(), &igd.Service{ID: id, EventSubURL: evtURL}, func(string, string) {})
		require.NoError(t, err)
	}

	s.Close(context.Background())
	s.Close(context.Background())
	reqs := router.snapshot()
	require.Len(t, reqs, 4)
	assert.Equal(t, "UNSUBSCRIBE", reqs[2].Method)
	assert.Equal(t, "UNSUBSCRIBE", reqs[3].Method)
}

func TestSubscribeErrors(t *testing.T) {
	s := NewServer(clock.NewMock(), nil)
	evtURL, _ := url.Parse("http://127.0.0.1:1/evt")

	_, err := s.Subscribe(context.Background(), &igd.Service{ID: "x"}, func(string, string) {})
	assert.Error(t, err)
	_, err = s.Subscribe(context.Background(), &igd.Service{ID: "x", EventSubURL: evtURL}, func(string, string) {})
	assert.ErrorIs(t, err, ErrNotListening)
	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
}
