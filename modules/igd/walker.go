package igd

import (
	"net/url"
	"strings"

	"github.com/huin/goupnp"
	"github.com/sirupsen/logrus"
)

// newService 把描述文件中的服务转换为句柄，地址已由 goupnp 按 URLBase 解析
func newService(svc *goupnp.Service) *Service {
	out := &Service{Type: svc.ServiceType, ID: svc.ServiceId}
	if svc.ControlURL.Str != "" {
		u := svc.ControlURL.URL
		out.ControlURL = &u
	}
	if svc.EventSubURL.Str != "" {
		u := svc.EventSubURL.URL
		out.EventSubURL = &u
	}
	return out
}

// walk 深度优先遍历设备树，按遍历顺序生成步骤，depth 只沿递归参数传递。
// 默认连接服务要等 Layer3Forwarding 的应答回来后才能比较，所以逐个执行
func (e *Engine) walk(s *Session, dev *goupnp.Device, location *url.URL, depth int) []step {
	indent := strings.Repeat("    ", depth)
	log := logrus.WithField("depth", depth)

	var steps []step
	if depth == 0 {
		steps = append(steps, func(next func()) {
			defer next()
			if s.hasMainDevice {
				return
			}
			switch {
			case Matches(dev.DeviceType, DeviceIGD, 1):
				e.claimMainDevice(s, dev, location, false)
			case Matches(dev.DeviceType, DeviceWANConnection, 1):
				e.claimMainDevice(s, dev, location, true)
			}
		})
	}

	if len(dev.Services) > 0 {
		log.Debugf("%s  枚举服务...", indent)
	}
	for i := range dev.Services {
		svc := newService(&dev.Services[i])
		log.Debugf("%s    服务: %s (%s)", indent, svc.ID, svc.Type)
		steps = append(steps, func(next func()) { e.visitService(s, svc, next) })
	}

	if len(dev.Devices) > 0 {
		log.Debugf("%s  枚举子设备...", indent)
	}
	for i := range dev.Devices {
		sub := &dev.Devices[i]
		log.Debugf("%s    子设备: %s", indent, sub.FriendlyName)
		steps = append(steps, e.walk(s, sub, location, depth+1)...)
	}
	return steps
}

// visitService 只有 Layer3Forwarding 需要等待应答，其余立即进入下一个服务
func (e *Engine) visitService(s *Session, svc *Service, next func()) {
	switch {
	case Matches(svc.Type, ServiceLayer3Forwarding, 1), Matches(svc.Type, ServiceL3Forwarding, 1):
		e.defaultConnectionService(svc, func(id string) {
			if id != "" && !s.closed {
				s.connOverride = id
			}
			next()
		})
		return

	case Matches(svc.Type, ServiceWANCommonIfc, 1):
		if s.wanCommon == nil {
			s.wanCommon = svc
			e.fetchLinkProperties(s)
			e.startTraffic(s)
		}

	case Matches(svc.Type, ServiceWANIPConnection, 1), Matches(svc.Type, ServiceWANPPPConnection, 1):
		switch {
		case s.wanConn != nil:
		case s.connOverride != "" && svc.ID != s.connOverride:
			logrus.Debugf("跳过 %s，默认连接服务为 %s", svc.ID, s.connOverride)
			if s.connCandidate == nil {
				s.connCandidate = svc
			}
		default:
			e.bindConnection(s, svc)
		}

	default:
		// 默认连接服务可能不是标准类型
		if s.wanConn == nil && s.connOverride != "" && svc.ID == s.connOverride {
			e.bindConnection(s, svc)
		}
	}
	next()
}

// defaultConnectionService 把 "设备UDN,服务ID" 中的服务ID交给 done，失败时为空
func (e *Engine) defaultConnectionService(svc *Service, done func(id string)) {
	logrus.Debug("** 获取 DefaultConnectionService")
	e.call(svc, "GetDefaultConnectionService", nil, func(out Args, err error) {
		if err != nil {
			logrus.Errorf("GetDefaultConnectionService 失败: %v", err)
			done("")
			return
		}
		done(parseDefaultConnection(out.String("NewDefaultConnectionService")))
	})
}

func parseDefaultConnection(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	logrus.Infof("默认连接服务: %s", value)
	_, id, ok := strings.Cut(value, ",")
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

// claimMainDevice 记录路由器身份信息并启用展示层
func (e *Engine) claimMainDevice(s *Session, dev *goupnp.Device, location *url.URL, wanOnly bool) {
	s.hasMainDevice = true
	s.FriendlyName = dev.FriendlyName
	s.Brand = dev.Manufacturer
	s.BrandWebsite = dev.ManufacturerURL.Str
	s.ModelDescription = dev.ModelDescription
	s.ModelName = dev.ModelName
	s.ModelNumber = dev.ModelNumber
	s.UPC = dev.UPC
	s.UDN = dev.UDN
	s.Location = location
	s.HostIP = e.hostIP
	s.PresentationURL = PresentationURL(dev.PresentationURL.Str, location)
	s.IconURL = iconURL(selectIcon(dev), location)

	// friendlyName 为空，或只是标准名称时
	if s.FriendlyName == "" || (wanOnly && s.FriendlyName == "WANConnectionDevice") {
		if s.ModelName != "" {
			s.FriendlyName = s.ModelName
		} else {
			s.FriendlyName = s.ModelDescription
		}
	}

	logrus.WithFields(logrus.Fields{
		"udn":   s.UDN,
		"model": s.ModelName,
		"brand": s.Brand,
	}).Infof("==> 路由器: %s, 管理页: %s", s.FriendlyName, s.PresentationURL)
	logrus.Debugf("   型号描述: %s, 型号: %s, UPC: %s, 图标: %s",
		s.ModelDescription, s.ModelNumber, s.UPC, s.IconURL)

	e.fe.SetRouterInfo(s.Info())
	e.fe.Enable()
	e.startIconDownload(s)
}

// finishWalk 默认连接服务始终没有出现时，退回到被跳过的候选
func (e *Engine) finishWalk(s *Session) {
	if s.closed || s.wanConn != nil || s.connCandidate == nil {
		return
	}
	logrus.Warnf("默认连接服务 %s 不存在，改用 %s", s.connOverride, s.connCandidate.ID)
	e.bindConnection(s, s.connCandidate)
}
