package igd

import (
	"net/url"

	"github.com/huin/goupnp"
	"github.com/sirupsen/logrus"
)

// 以下方法由发现层在任意 goroutine 中调用，统一投递到事件循环

// ContextAvailable 发现网络就绪，hostIP 为本机在该网络中的地址
func (e *Engine) ContextAvailable(hostIP string) {
	e.loop.Post(func() { e.handleContextAvailable(hostIP) })
}

// ContextUnavailable 只记录日志，重连由发现层负责
func (e *Engine) ContextUnavailable(err error) {
	logrus.Warnf("发现网络不可用，等待恢复: %v", err)
}

func (e *Engine) DeviceAvailable(root *goupnp.RootDevice, location *url.URL) {
	if root == nil {
		return
	}
	e.loop.Post(func() { e.handleDeviceAvailable(&root.Device, location) })
}

func (e *Engine) DeviceUnavailable(udn string) {
	e.loop.Post(func() { e.handleDeviceUnavailable(udn) })
}

func (e *Engine) handleContextAvailable(hostIP string) {
	if e.hostIP != hostIP {
		logrus.Infof("本机地址: %s，开始搜索根设备", hostIP)
	}
	e.hostIP = hostIP
}

// handleDeviceAvailable 已有存活会话时沿用，已认领的角色不会被覆盖
func (e *Engine) handleDeviceAvailable(dev *goupnp.Device, location *url.URL) {
	logrus.Infof("==> 设备上线: %s (%s)", dev.FriendlyName, dev.DeviceType)

	s := e.session
	if s == nil || s.closed {
		s = newSession()
		e.session = s
	}
	e.sequence(s, func(err error) {
		if err == nil {
			e.finishWalk(s)
		}
	}, e.walk(s, dev, location, 0)...)
}

// handleDeviceUnavailable 按 UDN 字符串比较，只有当前路由器下线才拆除会话。
// 拆除后不再持有会话，在途动作的结果由 closed 标记丢弃
func (e *Engine) handleDeviceUnavailable(udn string) {
	s := e.session
	if s == nil || s.closed || udn == "" || s.UDN != udn {
		logrus.Debugf("设备下线: %s", udn)
		return
	}
	logrus.Infof("==> 路由器下线: %s (%s)", s.FriendlyName, udn)
	e.teardown(s)
	e.session = nil
}

// teardown 可重复调用
func (e *Engine) teardown(s *Session) {
	s.close(e.fe)
}
