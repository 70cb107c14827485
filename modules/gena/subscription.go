package gena

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

var ErrCanceled = errors.New("gena: 订阅已取消")

// Subscription 一个服务的事件订阅，到期前自动续订
type Subscription struct {
	srv      *Server
	token    string
	service  string
	eventURL string
	callback string
	cb       func(variable, value string)

	mu       sync.Mutex
	sid      string
	timer    *clock.Timer
	canceled bool
}

func (s *Subscription) SID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// acceptSID 首个 NOTIFY 可能早于 SUBSCRIBE 响应，此时还不知道 SID
func (s *Subscription) acceptSID(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return false
	}
	return s.sid == "" || s.sid == sid
}

func (s *Subscription) subscribe(ctx context.Context) error {
	resp, err := s.send(ctx, "SUBSCRIBE", map[string]string{
		"CALLBACK": "<" + s.callback + ">",
		"NT":       "upnp:event",
		"TIMEOUT":  timeoutHeader(s.srv.timeout),
	})
	if err != nil {
		return fmt.Errorf("订阅 %s 失败: %w", s.service, err)
	}
	sid := resp.Header.Get("SID")
	if sid == "" {
		return fmt.Errorf("订阅 %s 失败: 响应没有 SID", s.service)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return ErrCanceled
	}
	s.sid = sid
	s.scheduleLocked(renewalDelay(parseTimeout(resp.Header.Get("TIMEOUT"))))
	logrus.Debugf("订阅 %s 成功: SID=%s", s.service, sid)
	return nil
}

// renew 续订失败时重新订阅，仍失败则稍后重试
func (s *Subscription) renew() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	s.mu.Lock()
	sid, canceled := s.sid, s.canceled
	s.mu.Unlock()
	if canceled {
		return
	}
	resp, err := s.send(ctx, "SUBSCRIBE", map[string]string{
		"SID":     sid,
		"TIMEOUT": timeoutHeader(s.srv.timeout),
	})
	if err == nil {
		s.mu.Lock()
		if !s.canceled {
			s.scheduleLocked(renewalDelay(parseTimeout(resp.Header.Get("TIMEOUT"))))
		}
		s.mu.Unlock()
		logrus.Debugf("续订 %s 成功", s.service)
		return
	}

	logrus.Warnf("续订 %s 失败，重新订阅: %v", s.service, err)
	s.mu.Lock()
	s.sid = ""
	s.mu.Unlock()
	if err := s.subscribe(ctx); err != nil {
		if errors.Is(err, ErrCanceled) {
			return
		}
		logrus.Errorf("%v，%v 后重试", err, retryDelay)
		s.mu.Lock()
		if !s.canceled {
			s.timer = s.srv.clock.AfterFunc(retryDelay, s.renew)
		}
		s.mu.Unlock()
	}
}

func (s *Subscription) scheduleLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.srv.clock.AfterFunc(d, s.renew)
}

// Cancel 停止续订并发送 UNSUBSCRIBE，重复调用无副作用
func (s *Subscription) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return nil
	}
	s.canceled = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	sid := s.sid
	s.mu.Unlock()

	s.srv.remove(s.token)
	if sid == "" {
		return nil
	}
	_, err := s.send(ctx, "UNSUBSCRIBE", map[string]string{"SID": sid})
	if err != nil {
		return fmt.Errorf("取消订阅 %s 失败: %w", s.service, err)
	}
	logrus.Debugf("已取消订阅 %s", s.service)
	return nil
}

// send 头部按原样大小写发送
func (s *Subscription) send(ctx context.Context, method string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.eventURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = []string{v}
	}
	resp, err := s.srv.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s 返回 HTTP %s", method, resp.Status)
	}
	return resp, nil
}

func timeoutHeader(d time.Duration) string {
	return "Second-" + strconv.Itoa(int(d/time.Second))
}

// parseTimeout "Second-1800"；infinite 或无法解析时按默认值
func parseTimeout(v string) time.Duration {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(strings.ToLower(v), "second-") {
		return DefaultTimeout
	}
	n, err := strconv.Atoi(v[len("second-"):])
	if err != nil || n <= 0 {
		return DefaultTimeout
	}
	return time.Duration(n) * time.Second
}

// renewalDelay 在过期时间过半时续订
func renewalDelay(timeout time.Duration) time.Duration {
	d := timeout / 2
	if d < minRenewal {
		d = minRenewal
	}
	return d
}
