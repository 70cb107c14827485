// Package ssdp 周期性搜索根设备，跟踪设备存活并把上下线通知给监听者。
package ssdp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/huin/goupnp"
	"github.com/huin/goupnp/httpu"
	"github.com/huin/goupnp/ssdp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSearchInterval = time.Minute
	DefaultMaxAge         = 1800 * time.Second
	searchTimeout         = 3 * time.Second
	describeTimeout       = 10 * time.Second
	multicastAddr         = "239.255.255.250:1900"
)

var maxAgeRx = regexp.MustCompile(`max-age\s*=\s*(\d+)`)

// Listener 接收发现结果，方法在浏览器的 goroutine 中调用
type Listener interface {
	ContextAvailable(hostIP string)
	ContextUnavailable(err error)
	DeviceAvailable(root *goupnp.RootDevice, location *url.URL)
	DeviceUnavailable(udn string)
}

// Result 一条搜索响应或存活通告
type Result struct {
	USN      string
	Location *url.URL
	MaxAge   time.Duration
}

type (
	LocalIPFunc  func() (string, error)
	SearchFunc   func(ctx context.Context, hostIP string) ([]Result, error)
	DescribeFunc func(ctx context.Context, location *url.URL) (*goupnp.RootDevice, error)
)

type Options struct {
	SearchInterval time.Duration
	// Interface 监听存活通告的网卡，空则使用系统默认
	Interface *net.Interface
	// Passive 是否同时监听组播 NOTIFY
	Passive bool
}

type device struct {
	udn      string // 描述文件中的 UDN
	location string
	expires  time.Time
}

type Browser struct {
	listener Listener
	clock    clock.Clock
	opts     Options

	LocalIP  LocalIPFunc
	Search   SearchFunc
	Describe DescribeFunc

	mu        sync.Mutex
	hostIP    string
	available bool
	devices   map[string]*device // USN 中的 UDN -> 设备
}

func NewBrowser(clk clock.Clock, listener Listener, localIP LocalIPFunc, opts Options) *Browser {
	if clk == nil {
		clk = clock.New()
	}
	if opts.SearchInterval <= 0 {
		opts.SearchInterval = DefaultSearchInterval
	}
	return &Browser{
		listener: listener,
		clock:    clk,
		opts:     opts,
		LocalIP:  localIP,
		Search:   RawSearch,
		Describe: describe,
		devices:  map[string]*device{},
	}
}

// Run 搜索直到 ctx 取消
func (b *Browser) Run(ctx context.Context) error {
	if b.opts.Passive {
		go b.listenNotify(ctx)
	}
	for {
		b.Poll(ctx)

		t := b.clock.Timer(b.opts.SearchInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Poll 执行一轮：确认本机地址、搜索、淘汰过期设备
func (b *Browser) Poll(ctx context.Context) {
	hostIP, ok := b.checkContext()
	if !ok {
		return
	}

	results, err := b.Search(ctx, hostIP)
	if err != nil {
		logrus.Warnf("SSDP 搜索失败: %v", err)
	}
	for _, r := range results {
		b.seen(ctx, r)
	}
	b.expire()
}

func (b *Browser) checkContext() (string, bool) {
	ip, err := b.LocalIP()

	b.mu.Lock()
	changed := ip != b.hostIP || !b.available
	wasAvailable := b.available
	if err != nil {
		b.available = false
		b.hostIP = ""
	} else {
		b.available = true
		b.hostIP = ip
	}
	b.mu.Unlock()

	if err != nil {
		if wasAvailable {
			b.listener.ContextUnavailable(err)
		} else {
			logrus.Debugf("本机地址不可用: %v", err)
		}
		return "", false
	}
	if changed {
		b.listener.ContextAvailable(ip)
	}
	return ip, true
}

// seen 新设备或位置变化时获取描述文件，否则只延长存活时间
func (b *Browser) seen(ctx context.Context, r Result) {
	key := UDNFromUSN(r.USN)
	if key == "" || r.Location == nil {
		return
	}
	maxAge := r.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	loc := r.Location.String()

	b.mu.Lock()
	old := b.devices[key]
	if old != nil && old.location == loc {
		old.expires = b.clock.Now().Add(maxAge)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, describeTimeout)
	root, err := b.Describe(dctx, r.Location)
	cancel()
	if err != nil {
		logrus.Warnf("获取设备描述 %s 失败: %v", loc, err)
		return
	}
	udn := root.Device.UDN
	if udn == "" {
		udn = key
	}

	b.mu.Lock()
	// 描述期间可能已被并发的通告登记
	if cur := b.devices[key]; cur != nil && cur != old && cur.location == loc {
		cur.expires = b.clock.Now().Add(maxAge)
		b.mu.Unlock()
		return
	}
	b.devices[key] = &device{udn: udn, location: loc, expires: b.clock.Now().Add(maxAge)}
	b.mu.Unlock()

	if old != nil {
		logrus.Infof("设备 %s 位置变化: %s -> %s", old.udn, old.location, loc)
		b.listener.DeviceUnavailable(old.udn)
	}
	b.listener.DeviceAvailable(root, r.Location)
}

func (b *Browser) expire() {
	now := b.clock.Now()
	var gone []string

	b.mu.Lock()
	for key, d := range b.devices {
		if d.expires.Before(now) {
			delete(b.devices, key)
			gone = append(gone, d.udn)
		}
	}
	b.mu.Unlock()

	for _, udn := range gone {
		logrus.Infof("设备 %s 超时未响应", udn)
		b.listener.DeviceUnavailable(udn)
	}
}

func (b *Browser) byebye(usn string) {
	key := UDNFromUSN(usn)

	b.mu.Lock()
	d := b.devices[key]
	delete(b.devices, key)
	b.mu.Unlock()

	if d != nil {
		b.listener.DeviceUnavailable(d.udn)
	}
}

// listenNotify 通过 goupnp 的 Registry 解析组播通告
func (b *Browser) listenNotify(ctx context.Context) {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		logrus.Errorf("解析组播地址失败: %v", err)
		return
	}
	conn, err := net.ListenMulticastUDP("udp4", b.opts.Interface, addr)
	if err != nil {
		logrus.Warnf("监听 SSDP 通告失败，只使用主动搜索: %v", err)
		return
	}

	reg := ssdp.NewRegistry()
	updates := make(chan ssdp.Update, 32)
	reg.AddListener(updates)
	defer reg.RemoveListener(updates)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		if err := httpu.Serve(conn, reg); err != nil && ctx.Err() == nil {
			logrus.Warnf("SSDP 通告监听退出: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Browser) handleUpdate(ctx context.Context, u ssdp.Update) {
	switch u.EventType {
	case ssdp.EventByeBye:
		b.byebye(u.USN)
	case ssdp.EventAlive, ssdp.EventUpdate:
		if u.Entry == nil || u.Entry.NT != ssdp.UPNPRootDevice {
			return
		}
		b.mu.Lock()
		ok := b.available
		b.mu.Unlock()
		if !ok {
			return
		}
		loc := u.Entry.Location
		b.seen(ctx, Result{
			USN:      u.USN,
			Location: &loc,
			MaxAge:   u.Entry.CacheExpiry.Sub(u.Entry.LastUpdate),
		})
	}
}

// RawSearch 从 hostIP 发出 upnp:rootdevice 搜索
func RawSearch(ctx context.Context, hostIP string) ([]Result, error) {
	client, err := httpu.NewHTTPUClientAddr(hostIP)
	if err != nil {
		return nil, fmt.Errorf("绑定本地地址 %s 失败: %w", hostIP, err)
	}
	defer func() { _ = client.Close() }()

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	responses, err := ssdp.RawSearch(searchCtx, client, ssdp.UPNPRootDevice, 2)
	if err != nil {
		return nil, fmt.Errorf("SSDP 搜索失败: %w", err)
	}

	results := make([]Result, 0, len(responses))
	for _, resp := range responses {
		loc, err := resp.Location()
		if err != nil {
			continue
		}
		results = append(results, Result{
			USN:      resp.Header.Get("USN"),
			Location: loc,
			MaxAge:   ParseMaxAge(resp.Header.Get("CACHE-CONTROL")),
		})
	}
	return results, nil
}

func describe(ctx context.Context, location *url.URL) (*goupnp.RootDevice, error) {
	return goupnp.DeviceByURLCtx(ctx, location)
}

// UDNFromUSN "uuid:xxx::upnp:rootdevice" -> "uuid:xxx"
func UDNFromUSN(usn string) string {
	udn, _, _ := strings.Cut(strings.TrimSpace(usn), "::")
	return udn
}

// ParseMaxAge 缺失或无法解析时按默认值
func ParseMaxAge(cacheControl string) time.Duration {
	m := maxAgeRx.FindStringSubmatch(strings.ToLower(cacheControl))
	if len(m) != 2 {
		return DefaultMaxAge
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultMaxAge
	}
	return time.Duration(n) * time.Second
}
