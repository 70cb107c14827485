// Package gena UPnP 事件订阅：SUBSCRIBE/续订/UNSUBSCRIBE，以及接收路由器 NOTIFY 的回调服务。
package gena

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/libp2p/go-reuseport"
	"github.com/sirupsen/logrus"

	"routerctl/modules/igd"
)

const (
	DefaultTimeout = 1800 * time.Second
	requestTimeout = 10 * time.Second
	retryDelay     = time.Minute
	minRenewal     = 15 * time.Second
)

var ErrNotListening = errors.New("gena: 回调服务未启动")

// Server 实现 igd.Subscriber
type Server struct {
	clock   clock.Clock
	client  *http.Client
	timeout time.Duration
	router  *gin.Engine

	mu   sync.Mutex
	ln   net.Listener
	subs map[string]*Subscription
	next int
}

func NewServer(clk clock.Clock, client *http.Client) *Server {
	if clk == nil {
		clk = clock.New()
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	s := &Server{
		clock:   clk,
		client:  client,
		timeout: DefaultTimeout,
		subs:    map[string]*Subscription{},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Handle("NOTIFY", "/notify/:token", s.handleNotify)
	s.router = r
	return s
}

// Listen 打开回调监听，端口为 0 时由系统分配
func (s *Server) Listen(addr string) error {
	ln, err := reuseport.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("事件回调监听 %s 失败: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	logrus.Infof("事件回调监听: %s", ln.Addr())
	return nil
}

func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve 处理 NOTIFY 直到 ctx 取消
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: requestTimeout}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Subscribe(ctx context.Context, svc *igd.Service, cb func(variable, value string)) (igd.Subscription, error) {
	if svc == nil || svc.EventSubURL == nil {
		return nil, errors.New("gena: 服务没有事件订阅地址")
	}
	port := s.Port()
	if port == 0 {
		return nil, ErrNotListening
	}

	s.mu.Lock()
	s.next++
	token := strconv.Itoa(s.next)
	s.mu.Unlock()

	callback, err := callbackURL(svc.EventSubURL, port, token)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		srv:      s,
		token:    token,
		service:  svc.ID,
		eventURL: svc.EventSubURL.String(),
		callback: callback,
		cb:       cb,
	}
	// 路由器可能在 SUBSCRIBE 响应之前就发出首个 NOTIFY
	s.mu.Lock()
	s.subs[token] = sub
	s.mu.Unlock()

	if err := sub.subscribe(ctx); err != nil {
		s.remove(token)
		return nil, err
	}
	return sub, nil
}

// Close 取消所有仍然有效的订阅
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Cancel(ctx); err != nil {
			logrus.Warnf("%v", err)
		}
	}
}

func (s *Server) lookup(token string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[token]
}

func (s *Server) remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, token)
}

func (s *Server) handleNotify(c *gin.Context) {
	sub := s.lookup(c.Param("token"))
	if sub == nil {
		c.Status(http.StatusPreconditionFailed)
		return
	}
	if c.GetHeader("NT") != "upnp:event" || c.GetHeader("NTS") != "upnp:propchange" {
		c.Status(http.StatusBadRequest)
		return
	}
	if !sub.acceptSID(c.GetHeader("SID")) {
		logrus.Debugf("丢弃过期的事件: SID=%s", c.GetHeader("SID"))
		c.Status(http.StatusPreconditionFailed)
		return
	}

	props, err := ParsePropertySet(c.Request.Body)
	if err != nil {
		logrus.Warnf("%s 事件格式错误: %v", sub.service, err)
		c.Status(http.StatusBadRequest)
		return
	}
	for _, p := range props {
		sub.cb(p.Name, p.Value)
	}
	c.Status(http.StatusOK)
}

// callbackURL 回调地址使用通往路由器的本地地址
func callbackURL(eventURL *url.URL, port int, token string) (string, error) {
	host := eventURL.Hostname()
	rport := eventURL.Port()
	if rport == "" {
		rport = "80"
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(host, rport))
	if err != nil {
		return "", fmt.Errorf("无法确定回调地址: %w", err)
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).IP
	return fmt.Sprintf("http://%s/notify/%s", net.JoinHostPort(local.String(), strconv.Itoa(port)), token), nil
}
