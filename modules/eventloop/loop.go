// Package eventloop 单线程事件循环：设备上下线回调、事件通知、定时器、API 请求
// 全部在同一个 goroutine 中串行执行，引擎内部因此不需要加锁。
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ErrStopped 事件循环已退出
var ErrStopped = errors.New("eventloop: stopped")

type Loop struct {
	clock clock.Clock
	tasks chan func()
	done  chan struct{}
	once  sync.Once

	pending atomic.Int64
}

func New(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clock: clk,
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Clock 返回循环使用的时钟
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Run 执行任务直到 ctx 取消
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// exec 单个任务 panic 不能拖垮整个循环
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("事件循环任务 panic: %v", r)
		}
	}()
	fn()
}

// Post 投递任务，循环已退出时返回 false
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do 在循环中执行 fn 并等待结果
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	return l.Await(ctx, func(done func(error)) { done(fn()) })
}

// Await 在循环中启动 fn，fn 可以在之后的某个循环任务里再调用 done 交付结果
func (l *Loop) Await(ctx context.Context, fn func(done func(error))) error {
	_, err := AwaitResult(ctx, l, func(done func(struct{}, error)) {
		fn(func(err error) { done(struct{}{}, err) })
	})
	return err
}

type result[T any] struct {
	value T
	err   error
}

// AwaitResult 同 Await，带返回值。done 只有第一次调用有效
func AwaitResult[T any](ctx context.Context, l *Loop, fn func(done func(T, error))) (T, error) {
	var zero T
	ch := make(chan result[T], 1)
	var once sync.Once
	done := func(v T, err error) {
		once.Do(func() { ch <- result[T]{v, err} })
	}
	if !l.Post(func() { fn(done) }) {
		return zero, ErrStopped
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.done:
		return zero, ErrStopped
	}
}

// Go 在独立 goroutine 中执行 work（网络请求等），完成后把 done 投递回循环。
// work 不能访问循环内的状态
func (l *Loop) Go(work func(), done func()) {
	l.pending.Add(1)
	go func() {
		work()
		posted := l.Post(func() {
			defer l.pending.Add(-1)
			done()
		})
		if !posted {
			l.pending.Add(-1)
		}
	}()
}

// Pending 已启动但 done 尚未执行完的 Go 任务数
func (l *Loop) Pending() int64 {
	return l.pending.Load()
}

// AfterFunc d 之后在循环中执行 fn，一次性
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

// Timer 可取消的定时器句柄
type Timer struct {
	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool
	fired   bool
}

func (t *Timer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.fired = true
	return true
}

// Stop 幂等：只有第一次调用返回 true，已投递但未执行的任务也会被丢弃
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

func (t *Timer) Stopped() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fired 回调是否已经执行
func (t *Timer) Fired() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
