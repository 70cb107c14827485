package igd

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Rate 速率 KiB/s。计数器回退（重启或 32 位回绕）时按 0 处理
func Rate(prev, cur uint64, elapsed time.Duration) float64 {
	if cur <= prev || elapsed <= 0 {
		return 0
	}
	return float64(cur-prev) / elapsed.Seconds() / 1024
}

type byteCounter struct {
	total uint64
	at    time.Time
	valid bool
}

// update 第一次采样没有基线，速率为 0
func (c *byteCounter) update(total uint64, now time.Time) float64 {
	rate := 0.0
	if c.valid {
		rate = Rate(c.total, total, now.Sub(c.at))
	}
	c.total, c.at, c.valid = total, now, true
	return rate
}

// TrafficCounter 收发两个累计字节计数器，各自独立
type TrafficCounter struct {
	clock    clock.Clock
	received byteCounter
	sent     byteCounter
}

func NewTrafficCounter(clk clock.Clock) *TrafficCounter {
	return &TrafficCounter{clock: clk}
}

type counterSpec struct {
	action  string
	output  string
	state   *byteCounter
	setRate func(float64)
	setSum  func(uint64)
	disable func()
}

// sampleTraffic 依次采样两个计数器再刷新曲线，单个计数器失败不影响另一个。
// 会话关闭时中止，done 不会被调用
func (e *Engine) sampleTraffic(s *Session, done func()) {
	t := s.traffic
	specs := []counterSpec{
		{
			action: "GetTotalBytesReceived", output: "NewTotalBytesReceived", state: &t.received,
			setRate: e.fe.SetDownloadSpeed, setSum: e.fe.SetTotalReceived,
			disable: func() { e.fe.DisableDownloadSpeed(); e.fe.DisableTotalReceived() },
		},
		{
			action: "GetTotalBytesSent", output: "NewTotalBytesSent", state: &t.sent,
			setRate: e.fe.SetUploadSpeed, setSum: e.fe.SetTotalSent,
			disable: func() { e.fe.DisableUploadSpeed(); e.fe.DisableTotalSent() },
		},
	}

	steps := make([]step, 0, len(specs))
	for _, sp := range specs {
		steps = append(steps, func(next func()) { e.sampleCounter(s, t.clock, sp, next) })
	}
	e.sequence(s, func(err error) {
		if err != nil {
			return
		}
		e.fe.UpdateGraph()
		if done != nil {
			done()
		}
	}, steps...)
}

// sampleCounter 时间戳在动作返回时记录，速率按相邻两次完成时刻的间隔计算
func (e *Engine) sampleCounter(s *Session, clk clock.Clock, sp counterSpec, next func()) {
	var (
		out        Args
		err        error
		begin, end time.Time
	)
	svc := s.wanCommon
	e.loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.ActionTimeout)
		defer cancel()
		begin = clk.Now()
		out, err = e.invoker.Call(ctx, svc, sp.action, nil)
		end = clk.Now()
	}, func() {
		defer next()
		if s.closed {
			return
		}
		if err == nil {
			var total uint64
			total, err = out.Uint(sp.output)
			if err == nil {
				rate := sp.state.update(total, end)
				logrus.Debugf("%s 耗时 %v, 累计 %d, 速率 %.2f KiB/s", sp.action, end.Sub(begin), total, rate)
				sp.setRate(rate)
				sp.setSum(total)
				return
			}
		}
		logrus.Errorf("%s 失败: %v", sp.action, err)
		sp.disable()
	})
}

func (e *Engine) startTraffic(s *Session) {
	s.traffic = NewTrafficCounter(e.clock)
	e.trafficTick(s)
}

// trafficTick 采样完成后按原周期重新调度，失败也一样
func (e *Engine) trafficTick(s *Session) {
	if s.closed || s.wanCommon == nil || s.traffic == nil {
		return
	}
	e.sampleTraffic(s, func() {
		s.trafficTimer = e.loop.AfterFunc(e.opts.TrafficInterval, func() {
			e.trafficTick(s)
		})
	})
}
