package igd

import (
	"net/url"
	"time"

	"routerctl/modules/eventloop"
	"routerctl/modules/igd/model"
)

type ConnStatus string

const (
	StatusConnected     ConnStatus = "Connected"
	StatusDisconnected  ConnStatus = "Disconnected"
	StatusConnecting    ConnStatus = "Connecting"
	StatusDisconnecting ConnStatus = "Disconnecting"
	StatusUnknown       ConnStatus = "Unknown"
)

// ParseConnStatus 未列出的取值（Unconfigured、PendingDisconnect 等）归为 Unknown
func ParseConnStatus(s string) ConnStatus {
	switch ConnStatus(s) {
	case StatusConnected, StatusDisconnected, StatusConnecting, StatusDisconnecting:
		return ConnStatus(s)
	}
	return StatusUnknown
}

// Session 当前路由器的全部状态，只在事件循环中读写
type Session struct {
	// 身份信息
	FriendlyName     string
	Brand            string
	BrandWebsite     string
	ModelDescription string
	ModelName        string
	ModelNumber      string
	UPC              string
	UDN              string
	Location         *url.URL
	HostIP           string
	PresentationURL  string
	IconURL          string

	// 实时状态
	ExternalIP          string
	Status              ConnStatus
	Connected           bool
	RSIPAvailable       bool
	NATEnabled          bool
	Uptime              time.Duration
	LastConnectionError string
	Link                model.LinkProperties

	hasMainDevice bool
	wanConn       *Service
	wanCommon     *Service

	// GetDefaultConnectionService 指定的服务ID，以及因此被跳过的候选
	connOverride  string
	connCandidate *Service

	refreshTimer *eventloop.Timer
	trafficTimer *eventloop.Timer
	subscription Subscription
	traffic      *TrafficCounter

	closed bool
}

func newSession() *Session {
	return &Session{Status: StatusUnknown}
}

func (s *Session) WANConnection() *Service {
	return s.wanConn
}

func (s *Session) WANCommonInterface() *Service {
	return s.wanCommon
}

func (s *Session) Closed() bool {
	return s.closed
}

func (s *Session) Info() model.RouterInfo {
	info := model.RouterInfo{
		FriendlyName:     s.FriendlyName,
		Brand:            s.Brand,
		BrandWebsite:     s.BrandWebsite,
		ModelDescription: s.ModelDescription,
		ModelName:        s.ModelName,
		ModelNumber:      s.ModelNumber,
		UPC:              s.UPC,
		UDN:              s.UDN,
		HostIP:           s.HostIP,
		PresentationURL:  s.PresentationURL,
	}
	if s.Location != nil {
		info.Location = s.Location.String()
	}
	return info
}

// close 先停定时器再释放句柄，重复调用无副作用
func (s *Session) close(fe Frontend) {
	if s.closed {
		return
	}
	s.closed = true

	s.refreshTimer.Stop()
	s.trafficTimer.Stop()
	s.refreshTimer = nil
	s.trafficTimer = nil

	if sub := s.subscription; sub != nil {
		s.subscription = nil
		go cancelSubscription(sub)
	}

	if fe != nil {
		fe.SetRouterIcon("")
		fe.Disable()
	}

	// 身份、状态和服务句柄全部释放
	*s = Session{Status: StatusUnknown, closed: true}
}
