package igd

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/huin/goupnp"
	"github.com/stretchr/testify/require"

	"routerctl/modules/eventloop"
	"routerctl/modules/igd/model"
)

type fakeCall struct {
	Service string
	Action  string
	In      []Arg
}

// fakeInvoker 按动作名返回预设结果，未注册的动作返回 401
type fakeInvoker struct {
	mu       sync.Mutex
	handlers map[string]func(in []Arg) (Args, error)
	calls    []fakeCall
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{handlers: map[string]func(in []Arg) (Args, error){}}
}

func (f *fakeInvoker) on(action string, h func(in []Arg) (Args, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[action] = h
}

func (f *fakeInvoker) reply(action string, out Args) {
	f.on(action, func([]Arg) (Args, error) { return out, nil })
}

func (f *fakeInvoker) fail(action string, code int) {
	f.on(action, func([]Arg) (Args, error) {
		return nil, &ActionError{Action: action, Code: code, Message: "fault"}
	})
}

func (f *fakeInvoker) Call(_ context.Context, svc *Service, action string, in []Arg) (Args, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Service: svc.ID, Action: action, In: in})
	h := f.handlers[action]
	f.mu.Unlock()
	if h == nil {
		return nil, &ActionError{Action: action, Code: 401, Message: "Invalid Action"}
	}
	return h(in)
}

func (f *fakeInvoker) callsTo(action string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeInvoker) count(action string) int {
	return len(f.callsTo(action))
}

type fakeSubscription struct {
	mu       sync.Mutex
	canceled int
}

func (s *fakeSubscription) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled++
	return nil
}

func (s *fakeSubscription) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

type fakeSubscriber struct {
	mu  sync.Mutex
	cb  func(variable, value string)
	svc *Service
	sub *fakeSubscription
}

func (f *fakeSubscriber) Subscribe(_ context.Context, svc *Service, cb func(variable, value string)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb, f.svc = cb, svc
	f.sub = &fakeSubscription{}
	return f.sub, nil
}

func (f *fakeSubscriber) callback() func(variable, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

// fakeFrontend 记录引擎推送的内容
type fakeFrontend struct {
	mu sync.Mutex

	info           model.RouterInfo
	status         ConnStatus
	extIPs         []string
	down, up       []float64
	received, sent []uint64
	disabled       map[string]int
	graphUpdates   int
	batches        [][]model.PortMapping
	clears         int
	link           model.LinkProperties
	icons          []string
	enables        int
	disables       int
}

func newFakeFrontend() *fakeFrontend {
	return &fakeFrontend{disabled: map[string]int{}}
}

func (f *fakeFrontend) lock() func() {
	f.mu.Lock()
	return f.mu.Unlock
}

func (f *fakeFrontend) SetRouterInfo(info model.RouterInfo) { defer f.lock()(); f.info = info }
func (f *fakeFrontend) SetConnStatus(status ConnStatus) { defer f.lock()(); f.status = status }
func (f *fakeFrontend) DisableConnStatus() { defer f.lock()(); f.disabled["status"]++ }
func (f *fakeFrontend) SetExtIP(ip string) { defer f.lock()(); f.extIPs = append(f.extIPs, ip) }
func (f *fakeFrontend) DisableExtIP() { defer f.lock()(); f.disabled["extip"]++ }
func (f *fakeFrontend) SetDownloadSpeed(v float64) { defer f.lock()(); f.down = append(f.down, v) }
func (f *fakeFrontend) SetUploadSpeed(v float64) { defer f.lock()(); f.up = append(f.up, v) }
func (f *fakeFrontend) SetTotalReceived(v uint64) { defer f.lock()(); f.received = append(f.received, v) }
func (f *fakeFrontend) SetTotalSent(v uint64) { defer f.lock()(); f.sent = append(f.sent, v) }
func (f *fakeFrontend) DisableDownloadSpeed() { defer f.lock()(); f.disabled["down"]++ }
func (f *fakeFrontend) DisableUploadSpeed() { defer f.lock()(); f.disabled["up"]++ }
func (f *fakeFrontend) DisableTotalReceived() { defer f.lock()(); f.disabled["received"]++ }
func (f *fakeFrontend) DisableTotalSent() { defer f.lock()(); f.disabled["sent"]++ }
func (f *fakeFrontend) UpdateGraph() { defer f.lock()(); f.graphUpdates++ }
func (f *fakeFrontend) ClearPortsList() { defer f.lock()(); f.clears++ }
func (f *fakeFrontend) SetRouterIcon(path string) { defer f.lock()(); f.icons = append(f.icons, path) }
func (f *fakeFrontend) Enable() { defer f.lock()(); f.enables++ }
func (f *fakeFrontend) Disable() { defer f.lock()(); f.disables++ }

func (f *fakeFrontend) AddMappedPorts(list []model.PortMapping) {
	defer f.lock()()
	f.batches = append(f.batches, append([]model.PortMapping(nil), list...))
}

func (f *fakeFrontend) SetLinkProperties(props model.LinkProperties) {
	defer f.lock()()
	f.link = props
}

func (f *fakeFrontend) lastExtIP() string {
	defer f.lock()()
	if len(f.extIPs) == 0 {
		return "<none>"
	}
	return f.extIPs[len(f.extIPs)-1]
}

func (f *fakeFrontend) disabledCount(name string) int {
	defer f.lock()()
	return f.disabled[name]
}

func (f *fakeFrontend) batchCount() int {
	defer f.lock()()
	return len(f.batches)
}

// newTestEngine 使用模拟时钟，定时器只有在 Add 时才会到期
func newTestEngine(t *testing.T, inv Invoker, sub Subscriber) (*Engine, *fakeFrontend, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	fe := newFakeFrontend()
	e := New(eventloop.New(clk), inv, sub, fe, Options{IconDir: t.TempDir()})
	return e, fe, clk
}

// runLoop 启动事件循环，测试结束时退出
func runLoop(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// onLoop 在事件循环中执行 fn 并等待其返回
func onLoop(t *testing.T, e *Engine, fn func()) {
	t.Helper()
	require.NoError(t, e.loop.Do(t.Context(), func() error {
		fn()
		return nil
	}))
}

// settle 等待所有在途动作的结果回到循环并处理完毕。模拟时钟不前进时定时器不会触发
func settle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := eventloop.AwaitResult(context.Background(), e.loop, func(done func(int64, error)) {
			done(e.loop.Pending(), nil)
		})
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond)
}

// arrive 模拟一次设备上线并等待遍历和初始拉取完成
func arrive(t *testing.T, e *Engine, dev *goupnp.Device, location string) *Session {
	t.Helper()
	loc := mustURL(t, location)
	onLoop(t, e, func() { e.handleDeviceAvailable(dev, loc) })
	settle(t, e)
	var s *Session
	onLoop(t, e, func() { s = e.session })
	return s
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func urlField(raw string) goupnp.URLField {
	u, _ := url.Parse(raw)
	return goupnp.URLField{URL: *u, Str: raw}
}

func upnpService(typ, id string) goupnp.Service {
	return goupnp.Service{
		ServiceType: typ,
		ServiceId:   id,
		ControlURL:  urlField("http://192.168.1.1:5000/ctl/" + id),
		EventSubURL: urlField("http://192.168.1.1:5000/evt/" + id),
	}
}

const (
	testUDN     = "uuid:11111111-2222-3333-4444-555555555555"
	connIDOne   = "urn:upnp-org:serviceId:WANIPConn1"
	connIDTwo   = "urn:upnp-org:serviceId:WANIPConn2"
	commonID    = "urn:upnp-org:serviceId:WANCommonIFC1"
	l3fwdID     = "urn:upnp-org:serviceId:L3Forwarding1"
	testDescURL = "http://192.168.1.1:5000/rootDesc.xml"
)

// igdTree 典型的三层 IGD 设备树，两个 WANIPConnection 服务
func igdTree() *goupnp.Device {
	return &goupnp.Device{
		DeviceType:       "urn:schemas-upnp-org:device:InternetGatewayDevice:1",
		FriendlyName:     "Home Router",
		Manufacturer:     "ACME",
		ManufacturerURL:  urlField("http://acme.example"),
		ModelDescription: "ACME Gateway",
		ModelName:        "AG-100",
		ModelNumber:      "100",
		UDN:              testUDN,
		Services: []goupnp.Service{
			upnpService("urn:schemas-upnp-org:service:Layer3Forwarding:1", l3fwdID),
		},
		Devices: []goupnp.Device{{
			DeviceType: "urn:schemas-upnp-org:device:WANDevice:1",
			Services: []goupnp.Service{
				upnpService("urn:schemas-upnp-org:service:WANCommonInterfaceConfig:1", commonID),
			},
			Devices: []goupnp.Device{{
				DeviceType: "urn:schemas-upnp-org:device:WANConnectionDevice:1",
				Services: []goupnp.Service{
					upnpService("urn:schemas-upnp-org:service:WANIPConnection:1", connIDOne),
					upnpService("urn:schemas-upnp-org:service:WANIPConnection:2", connIDTwo),
				},
			}},
		}},
	}
}

// routerReplies 除映射表外的常用应答
func routerReplies(inv *fakeInvoker) {
	inv.reply("GetStatusInfo", Args{
		"NewConnectionStatus":    "Connected",
		"NewLastConnectionError": "ERROR_NONE",
		"NewUptime":              "3600",
	})
	inv.reply("GetExternalIPAddress", Args{"NewExternalIPAddress": "203.0.113.7"})
	inv.reply("GetNATRSIPStatus", Args{"NewRSIPAvailable": "0", "NewNATEnabled": "1"})
	inv.fail("GetGenericPortMappingEntry", CodeArrayIndexInvalid)
	inv.reply("GetCommonLinkProperties", Args{
		"NewWANAccessType":              "Ethernet",
		"NewLayer1UpstreamMaxBitRate":   "100000000",
		"NewLayer1DownstreamMaxBitRate": "500000000",
		"NewPhysicalLinkStatus":         "Up",
	})
	inv.reply("GetTotalBytesReceived", Args{"NewTotalBytesReceived": "1000"})
	inv.reply("GetTotalBytesSent", Args{"NewTotalBytesSent": "2000"})
}
