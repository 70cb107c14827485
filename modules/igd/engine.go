// Package igd 路由器发现与控制引擎：设备树遍历、端口映射管理、流量统计、
// 事件订阅与兜底轮询。引擎的所有状态只在事件循环中访问。
package igd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"routerctl/modules/eventloop"
	"routerctl/modules/igd/model"
)

const (
	DefaultRefreshInterval = 300 * time.Second
	DefaultTrafficInterval = time.Second
	DefaultActionTimeout   = 10 * time.Second
)

type Options struct {
	RefreshInterval time.Duration // 兜底刷新周期
	TrafficInterval time.Duration // 流量采样周期
	ActionTimeout   time.Duration // 单次动作超时
	IconDir         string        // 路由器图标保存目录，空则使用系统临时目录
	HTTPClient      *http.Client  // 下载图标
}

func (o *Options) setDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.TrafficInterval <= 0 {
		o.TrafficInterval = DefaultTrafficInterval
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	if o.IconDir == "" {
		o.IconDir = os.TempDir()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: iconTimeout}
	}
}

type Engine struct {
	loop       *eventloop.Loop
	clock      clock.Clock
	invoker    Invoker
	subscriber Subscriber
	fe         Frontend
	opts       Options

	session *Session
	hostIP  string
}

// New subscriber 可以为 nil，此时只依赖轮询
func New(loop *eventloop.Loop, invoker Invoker, subscriber Subscriber, fe Frontend, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		loop:       loop,
		clock:      loop.Clock(),
		invoker:    invoker,
		subscriber: subscriber,
		fe:         fe,
		opts:       opts,
	}
}

// call 在循环外执行动作，done 回到循环中执行
func (e *Engine) call(svc *Service, action string, in []Arg, done func(Args, error)) {
	var (
		out Args
		err error
	)
	e.loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.ActionTimeout)
		defer cancel()
		out, err = e.invoker.Call(ctx, svc, action, in)
	}, func() {
		done(out, err)
	})
}

// step 一个异步步骤，无论成败都必须调用 next
type step func(next func())

// sequence 依次执行步骤。会话关闭后剩余步骤不再执行，done 收到 ErrNoSession
func (e *Engine) sequence(s *Session, done func(error), steps ...step) {
	if s.closed {
		if done != nil {
			done(ErrNoSession)
		}
		return
	}
	if len(steps) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}
	steps[0](func() { e.sequence(s, done, steps[1:]...) })
}

// current 返回已绑定 WAN 连接服务的会话
func (e *Engine) current() (*Session, error) {
	s := e.session
	if s == nil || s.closed {
		return nil, ErrNoSession
	}
	if s.wanConn == nil {
		return nil, ErrNoConnectionService
	}
	return s, nil
}

// List 供 API 调用：重新获取映射列表
func (e *Engine) List(ctx context.Context) ([]model.PortMapping, error) {
	return eventloop.AwaitResult(ctx, e.loop, func(done func([]model.PortMapping, error)) {
		s, err := e.current()
		if err != nil {
			done(nil, err)
			return
		}
		e.ListMappings(s, done)
	})
}

// Add 供 API 调用：添加端口映射
func (e *Engine) Add(ctx context.Context, m model.PortMapping) error {
	return e.loop.Await(ctx, func(done func(error)) {
		s, err := e.current()
		if err != nil {
			done(err)
			return
		}
		e.AddMapping(s, m, done)
	})
}

// Delete 供 API 调用：删除端口映射
func (e *Engine) Delete(ctx context.Context, protocol model.Protocol, externalPort uint16, remoteHost string) error {
	return e.loop.Await(ctx, func(done func(error)) {
		s, err := e.current()
		if err != nil {
			done(err)
			return
		}
		e.DeleteMapping(s, protocol, externalPort, remoteHost, done)
	})
}

// Refresh 供 API 调用：立即执行一轮兜底刷新，全部动作完成后返回
func (e *Engine) Refresh(ctx context.Context) error {
	return e.loop.Await(ctx, func(done func(error)) {
		s, err := e.current()
		if err != nil {
			done(err)
			return
		}
		e.refreshAll(s, done)
	})
}

// HostIP 本机在发现网络中的地址，添加映射时作为默认内网主机
func (e *Engine) HostIP(ctx context.Context) (string, error) {
	return eventloop.AwaitResult(ctx, e.loop, func(done func(string, error)) {
		done(e.hostIP, nil)
	})
}

// ExternalIP 当前会话记录的外网地址
func (e *Engine) ExternalIP(ctx context.Context) (string, error) {
	return eventloop.AwaitResult(ctx, e.loop, func(done func(string, error)) {
		ip := ""
		if e.session != nil {
			ip = e.session.ExternalIP
		}
		done(ip, nil)
	})
}

// Shutdown 退出前释放会话，在途动作的结果随后被丢弃
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.loop.Do(ctx, func() error {
		if e.session != nil {
			e.teardown(e.session)
			e.session = nil
		}
		return nil
	})
}
