package igd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"routerctl/modules/igd/model"
)

// 订阅的状态变量
const (
	VarPortMappingCount = "PortMappingNumberOfEntries"
	VarExternalIP       = "ExternalIPAddress"
	VarConnectionStatus = "ConnectionStatus"
)

// 部分路由器（如 Netgear DG834）在事件里报告的占位地址
const unassignedIP = "0.0.0.0"

// bindConnection 绑定 WAN 连接服务：先拉取一遍状态，再订阅事件并启动兜底刷新
func (e *Engine) bindConnection(s *Session, svc *Service) {
	s.wanConn = svc
	s.connCandidate = nil
	logrus.Infof("绑定 WAN 连接服务: %s", svc.ID)

	e.refreshAll(s, func(err error) {
		if err != nil {
			return
		}
		e.subscribe(s)
		e.scheduleRefresh(s)
	})
}

// refreshAll 连接状态、外网IP、NAT/RSIP、映射表，逐个完成。单项失败不影响后续
func (e *Engine) refreshAll(s *Session, done func(error)) {
	e.sequence(s, done,
		func(next func()) { e.fetchStatus(s, next) },
		func(next func()) { e.fetchExternalIP(s, next) },
		func(next func()) { e.fetchNATRSIP(s, next) },
		func(next func()) {
			e.ListMappings(s, func([]model.PortMapping, error) { next() })
		},
	)
}

// scheduleRefresh 与事件无关，会话存活期间一直运行。上一轮完成后才开始计时
func (e *Engine) scheduleRefresh(s *Session) {
	if s.closed {
		return
	}
	s.refreshTimer = e.loop.AfterFunc(e.opts.RefreshInterval, func() {
		if s.closed || s.wanConn == nil {
			return
		}
		logrus.Debug("兜底刷新路由器状态")
		e.refreshAll(s, func(err error) {
			if err == nil {
				e.scheduleRefresh(s)
			}
		})
	})
}

func (e *Engine) subscribe(s *Session) {
	if e.subscriber == nil || s.wanConn == nil || s.wanConn.EventSubURL == nil {
		return
	}
	svc := s.wanConn
	cb := func(variable, value string) {
		e.loop.Post(func() { e.handleEvent(s, variable, value) })
	}

	var (
		sub Subscription
		err error
	)
	e.loop.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.ActionTimeout)
		defer cancel()
		sub, err = e.subscriber.Subscribe(ctx, svc, cb)
	}, func() {
		if err != nil {
			logrus.Warnf("订阅 %s 事件失败，仅依赖轮询: %v", svc.ID, err)
			return
		}
		if s.closed {
			go cancelSubscription(sub)
			return
		}
		s.subscription = sub
		logrus.Infof("** 已订阅 %s 事件", svc.ID)
	})
}

func cancelSubscription(sub Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sub.Cancel(ctx); err != nil {
		logrus.Debugf("取消事件订阅失败: %v", err)
	}
}

func noop() {}

// handleEvent 处理状态变量通知
func (e *Engine) handleEvent(s *Session, variable, value string) {
	if s.closed {
		return
	}
	switch variable {
	case VarPortMappingCount:
		logrus.Infof("事件: 端口映射数量 %s", value)
		e.ListMappings(s, nil)
	case VarExternalIP:
		logrus.Infof("事件: 外网IP %s", value)
		if value == unassignedIP {
			// 占位地址不展示，主动再查一次
			s.ExternalIP = ""
			e.fetchExternalIP(s, noop)
			return
		}
		s.ExternalIP = value
		e.fe.SetExtIP(value)
	case VarConnectionStatus:
		logrus.Infof("事件: 连接状态 %s", value)
		s.Status = ParseConnStatus(value)
		s.Connected = s.Status == StatusConnected
		e.fe.SetConnStatus(s.Status)
	default:
		logrus.Debugf("事件: %s [未处理]", variable)
	}
}

func (e *Engine) fetchStatus(s *Session, next func()) {
	e.call(s.wanConn, "GetStatusInfo", nil, func(out Args, err error) {
		defer next()
		if s.closed {
			return
		}
		if err != nil {
			logrus.Errorf("GetStatusInfo 失败: %v", err)
			e.fe.DisableConnStatus()
			return
		}
		s.Status = ParseConnStatus(out.String("NewConnectionStatus"))
		s.Connected = s.Status == StatusConnected
		s.LastConnectionError = out.String("NewLastConnectionError")
		if up, uerr := out.Uint("NewUptime"); uerr == nil {
			s.Uptime = time.Duration(up) * time.Second
		}
		logrus.Infof("连接状态: %s, 已运行 %v", s.Status, s.Uptime)
		if s.LastConnectionError != "" && s.LastConnectionError != "ERROR_NONE" {
			logrus.Warnf("上次连接错误: %s", s.LastConnectionError)
		}
		e.fe.SetConnStatus(s.Status)
	})
}

func (e *Engine) fetchExternalIP(s *Session, next func()) {
	e.call(s.wanConn, "GetExternalIPAddress", nil, func(out Args, err error) {
		defer next()
		if s.closed {
			return
		}
		if err != nil {
			logrus.Errorf("GetExternalIPAddress 失败: %v", err)
			e.fe.DisableExtIP()
			return
		}
		ip := out.String("NewExternalIPAddress")
		logrus.Infof("外网IP: %s", ip)
		if ip == unassignedIP {
			ip = ""
		}
		s.ExternalIP = ip
		e.fe.SetExtIP(ip)
	})
}

func (e *Engine) fetchNATRSIP(s *Session, next func()) {
	e.call(s.wanConn, "GetNATRSIPStatus", nil, func(out Args, err error) {
		defer next()
		if s.closed {
			return
		}
		if err != nil {
			logrus.Errorf("GetNATRSIPStatus 失败: %v", err)
			return
		}
		if v, berr := out.Bool("NewRSIPAvailable"); berr == nil {
			s.RSIPAvailable = v
		}
		if v, berr := out.Bool("NewNATEnabled"); berr == nil {
			s.NATEnabled = v
		}
		logrus.Infof("RSIP=%v, NAT=%v", s.RSIPAvailable, s.NATEnabled)
	})
}

// fetchLinkProperties 仅记录链路信息，失败不影响流量统计
func (e *Engine) fetchLinkProperties(s *Session) {
	e.call(s.wanCommon, "GetCommonLinkProperties", nil, func(out Args, err error) {
		if s.closed {
			return
		}
		if err != nil {
			logrus.Errorf("GetCommonLinkProperties 失败: %v", err)
			return
		}
		s.Link.AccessType = out.String("NewWANAccessType")
		s.Link.PhysicalLinkStatus = out.String("NewPhysicalLinkStatus")
		if v, uerr := out.Uint("NewLayer1UpstreamMaxBitRate"); uerr == nil {
			s.Link.UpstreamMaxBitRate = v
		}
		if v, uerr := out.Uint("NewLayer1DownstreamMaxBitRate"); uerr == nil {
			s.Link.DownstreamMaxBitRate = v
		}
		logrus.Infof("WAN 链路: 类型=%s, 状态=%s, 上行=%d, 下行=%d",
			s.Link.AccessType, s.Link.PhysicalLinkStatus, s.Link.UpstreamMaxBitRate, s.Link.DownstreamMaxBitRate)
		e.fe.SetLinkProperties(s.Link)
	})
}
