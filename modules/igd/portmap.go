package igd

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"routerctl/modules/igd/model"
)

// 防止路由器永远不返回结束错误码
const maxMappingEntries = 4096

// ListMappings 逐个索引枚举映射直到 713/402，整表一次性推送到展示层。
// 每个索引的结果回到循环后才请求下一个
func (e *Engine) ListMappings(s *Session, done func([]model.PortMapping, error)) {
	if done == nil {
		done = func([]model.PortMapping, error) {}
	}
	if s.wanConn == nil {
		done(nil, ErrNoConnectionService)
		return
	}
	logrus.Debug("==> 获取端口映射列表")
	e.listFrom(s, s.wanConn, 0, nil, done)
}

func (e *Engine) listFrom(s *Session, svc *Service, index int, list []model.PortMapping, done func([]model.PortMapping, error)) {
	if index >= maxMappingEntries {
		logrus.Warnf("端口映射超过 %d 条，停止枚举", maxMappingEntries)
		e.pushMappings(list)
		done(list, nil)
		return
	}
	e.call(svc, "GetGenericPortMappingEntry",
		[]Arg{{Name: "NewPortMappingIndex", Value: strconv.Itoa(index)}},
		func(out Args, err error) {
			if s.closed {
				done(nil, ErrNoSession)
				return
			}
			if err != nil {
				var listErr error
				if !IsEndOfEnumeration(err) {
					logrus.Errorf("GetGenericPortMappingEntry 失败: %v", err)
					listErr = fmt.Errorf("枚举第 %d 条映射失败: %w", index, err)
				}
				e.pushMappings(list)
				done(list, listErr)
				return
			}

			m := parseMappingEntry(out)
			logrus.Debugf(" * %s [%s] 外网端口: %d %s, 内网: %s:%d, 远端: %s",
				m.Description, enabledText(m.Enabled), m.ExternalPort, m.Protocol,
				m.InternalHost, m.InternalPort, m.RemoteHost)
			if m.ExternalPort > 0 {
				list = append(list, m)
			}
			e.listFrom(s, svc, index+1, list, done)
		})
}

func (e *Engine) pushMappings(list []model.PortMapping) {
	e.fe.ClearPortsList()
	e.fe.AddMappedPorts(list)
}

func parseMappingEntry(out Args) model.PortMapping {
	var m model.PortMapping
	m.RemoteHost = out.String("NewRemoteHost")
	m.InternalHost = out.String("NewInternalClient")
	m.Description = out.String("NewPortMappingDescription")
	if p, perr := model.ParseProtocol(out.String("NewProtocol")); perr == nil {
		m.Protocol = p
	} else {
		m.Protocol = model.Protocol(out.String("NewProtocol"))
	}
	if v, perr := out.Uint("NewExternalPort"); perr == nil && v <= 0xffff {
		m.ExternalPort = uint16(v)
	}
	if v, perr := out.Uint("NewInternalPort"); perr == nil && v <= 0xffff {
		m.InternalPort = uint16(v)
	}
	if v, perr := out.Uint("NewLeaseDuration"); perr == nil && v <= 0xffffffff {
		m.LeaseDuration = uint32(v)
	}
	if v, perr := out.Bool("NewEnabled"); perr == nil {
		m.Enabled = v
	}
	return m
}

// AddMapping 成功后只追加这一条，失败原样交给 done
func (e *Engine) AddMapping(s *Session, m model.PortMapping, done func(error)) {
	if s.wanConn == nil {
		done(ErrNoConnectionService)
		return
	}
	e.call(s.wanConn, "AddPortMapping", []Arg{
		{Name: "NewRemoteHost", Value: m.RemoteHost},
		{Name: "NewExternalPort", Value: strconv.Itoa(int(m.ExternalPort))},
		{Name: "NewProtocol", Value: string(m.Protocol)},
		{Name: "NewInternalPort", Value: strconv.Itoa(int(m.InternalPort))},
		{Name: "NewInternalClient", Value: m.InternalHost},
		{Name: "NewEnabled", Value: FormatBool(m.Enabled)},
		{Name: "NewPortMappingDescription", Value: m.Description},
		{Name: "NewLeaseDuration", Value: strconv.FormatUint(uint64(m.LeaseDuration), 10)},
	}, func(_ Args, err error) {
		if err != nil {
			logrus.Errorf("AddPortMapping 失败: %v", err)
			done(err)
			return
		}
		logrus.Infof("✓ 添加端口映射: %s, 远端: %q, 外网端口: %d %s, 内网: %s:%d",
			m.Description, m.RemoteHost, m.ExternalPort, m.Protocol, m.InternalHost, m.InternalPort)
		// 路由器已经接受，会话关闭后只是不再展示
		if !s.closed {
			e.fe.AddMappedPorts([]model.PortMapping{m})
		}
		done(nil)
	})
}

// DeleteMapping 按 协议+外网端口+远端主机 删除，成功后由调用方移除本地行
func (e *Engine) DeleteMapping(s *Session, protocol model.Protocol, externalPort uint16, remoteHost string, done func(error)) {
	if s.wanConn == nil {
		done(ErrNoConnectionService)
		return
	}
	e.call(s.wanConn, "DeletePortMapping", []Arg{
		{Name: "NewRemoteHost", Value: remoteHost},
		{Name: "NewExternalPort", Value: strconv.Itoa(int(externalPort))},
		{Name: "NewProtocol", Value: string(protocol)},
	}, func(_ Args, err error) {
		if err != nil {
			logrus.Errorf("DeletePortMapping 失败: %v", err)
			done(err)
			return
		}
		logrus.Infof("✓ 删除端口映射: %d (%s)", externalPort, protocol)
		done(nil)
	})
}

func enabledText(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
