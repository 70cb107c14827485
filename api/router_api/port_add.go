package router_api

import (
	"routerctl/middleware"
	"routerctl/modules/igd/model"
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PortAddViewRequest struct {
	Protocol      string `json:"protocol" binding:"required,oneof=TCP UDP tcp udp"`
	ExternalPort  uint16 `json:"externalPort" binding:"required"`
	InternalPort  uint16 `json:"internalPort"`                              // 为空时与外网端口相同
	InternalHost  string `json:"internalHost" binding:"omitempty,ip4_addr"` // 为空时使用本机地址
	RemoteHost    string `json:"remoteHost"`
	Description   string `json:"description"`
	LeaseDuration uint32 `json:"leaseDuration"` // 秒，0 为永久
	Enabled       *bool  `json:"enabled"`
}

func (a RouterApi) PortAddView(c *gin.Context) {
	cr := middleware.GetBindRequest[PortAddViewRequest](c)

	protocol, err := model.ParseProtocol(cr.Protocol)
	if err != nil {
		res.FailWithError(err, c)
		return
	}
	m := model.PortMapping{
		Enabled:       cr.Enabled == nil || *cr.Enabled,
		Description:   cr.Description,
		Protocol:      protocol,
		InternalHost:  cr.InternalHost,
		InternalPort:  cr.InternalPort,
		RemoteHost:    cr.RemoteHost,
		ExternalPort:  cr.ExternalPort,
		LeaseDuration: cr.LeaseDuration,
	}
	if m.InternalPort == 0 {
		m.InternalPort = m.ExternalPort
	}
	if m.InternalHost == "" {
		host, err := a.Engine.HostIP(c.Request.Context())
		if err != nil || host == "" {
			res.FailWithMsg("无法确定本机地址，请填写内网主机", c)
			return
		}
		m.InternalHost = host
	}

	if err := a.Engine.Add(c.Request.Context(), m); err != nil {
		logrus.Warnf("添加端口映射 %s %d 失败: %v", m.Protocol, m.ExternalPort, err)
		res.FailWithMsg(errMsg("添加端口映射", err), c)
		return
	}
	res.OkWithData(m, c)
}
