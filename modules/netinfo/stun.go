package netinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/stun"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout = 2 * time.Second
	readTimeout = 3 * time.Second
	// 探测结果缓存时间
	DefaultTTL = 5 * time.Minute
)

var ErrNoServer = errors.New("没有可用的STUN服务器")

// DefaultSTUNServers 支持 TCP 的公共 STUN 服务器
var DefaultSTUNServers = []string{
	"stun.radiojar.com:3478",
	"stun.ringostat.com:3478",
	"stun.voipgate.com:3478",
	"stun.telnyx.com:3478",
	"stun.antisip.com:3478",
	"stun.hot-chilli.net:3478",
	"stun.siptrunk.com:3478",
}

// Info 网络信息
type Info struct {
	LocalIP       string    `json:"localIP"`       // 本机内网IP
	PublicIP      string    `json:"publicIP"`      // 真实公网IP
	RouterWanIP   string    `json:"routerWanIP"`   // 路由器WAN口IP
	RouterWanType IPType    `json:"routerWanType"` // WAN口地址类型
	IsNAT         bool      `json:"isNat"`         // 是否多层NAT
	STUNServer    string    `json:"stunServer"`    // 使用的STUN服务器
	DelayMs       int64     `json:"delayMs"`       // STUN往返延迟
	CheckedAt     time.Time `json:"checkedAt"`
}

type Prober struct {
	servers []string
	clock   clock.Clock
	ttl     time.Duration

	mu   sync.Mutex
	best string
	last *Info
}

func NewProber(clk clock.Clock, servers []string, ttl time.Duration) *Prober {
	if clk == nil {
		clk = clock.New()
	}
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Prober{servers: servers, clock: clk, ttl: ttl}
}

// Probe 获取网络信息，缓存未过期且路由器地址未变时直接返回
func (p *Prober) Probe(ctx context.Context, localIP, routerWanIP string) Info {
	p.mu.Lock()
	if p.last != nil && p.last.LocalIP == localIP && p.last.RouterWanIP == routerWanIP &&
		p.clock.Since(p.last.CheckedAt) < p.ttl {
		info := *p.last
		p.mu.Unlock()
		return info
	}
	best := p.best
	p.mu.Unlock()

	info := Info{
		LocalIP:       localIP,
		RouterWanIP:   routerWanIP,
		RouterWanType: ClassifyIP(routerWanIP),
		CheckedAt:     p.clock.Now(),
	}

	var (
		ip    net.IP
		delay time.Duration
		err   error
	)
	if best != "" {
		ip, delay, err = bindingRequest(ctx, best)
	}
	if best == "" || err != nil {
		best, err = p.Fastest(ctx)
		if err == nil {
			ip, delay, err = bindingRequest(ctx, best)
		}
	}
	if err != nil {
		logrus.Warnf("获取真实公网ip失败: %v", err)
	} else {
		info.PublicIP = ip.String()
		info.STUNServer = best
		info.DelayMs = delay.Milliseconds()
	}
	info.IsNAT = DoubleNAT(routerWanIP, info.PublicIP)

	p.mu.Lock()
	p.best = info.STUNServer
	p.last = &info
	p.mu.Unlock()
	return info
}

// Fastest 并发探测所有服务器，返回响应最快的一个
func (p *Prober) Fastest(ctx context.Context) (string, error) {
	type result struct {
		server string
		delay  time.Duration
	}

	results := make(chan result, len(p.servers))
	var wg sync.WaitGroup
	for _, server := range p.servers {
		wg.Add(1)
		go func(srv string) {
			defer wg.Done()
			_, delay, err := bindingRequest(ctx, srv)
			if err != nil {
				logrus.Debugf("❌ %s - %v", srv, err)
				return
			}
			logrus.Debugf("✅ %s - %dms", srv, delay.Milliseconds())
			results <- result{srv, delay}
		}(server)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var bestStun string
	bestDelay := time.Hour
	for res := range results {
		if res.delay < bestDelay {
			bestDelay = res.delay
			bestStun = res.server
		}
	}
	if bestStun == "" {
		return "", ErrNoServer
	}
	return bestStun, nil
}

// bindingRequest 通过 TCP 发送 Binding 请求，返回映射地址和往返时间
func bindingRequest(ctx context.Context, server string) (net.IP, time.Duration, error) {
	start := time.Now()
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp4", server)
	if err != nil {
		return nil, 0, fmt.Errorf("连接STUN服务器失败: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(readTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.Write(msg.Raw); err != nil {
		return nil, 0, fmt.Errorf("发送STUN请求失败: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("读取响应失败: %w", err)
	}
	delay := time.Since(start)

	var response stun.Message
	response.Raw = buf[:n]
	if err := response.Decode(); err != nil {
		return nil, 0, fmt.Errorf("解码stun失败: %w", err)
	}
	if response.TransactionID != msg.TransactionID {
		return nil, 0, errors.New("STUN响应事务ID不匹配")
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(&response); err != nil {
		return nil, 0, fmt.Errorf("获取映射地址失败: %w", err)
	}
	return xorAddr.IP, delay, nil
}
