package router_api

import (
	"routerctl/middleware"
	"routerctl/modules/igd/model"
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PortDeleteViewRequest struct {
	Protocol     string `json:"protocol" binding:"required,oneof=TCP UDP tcp udp"`
	ExternalPort uint16 `json:"externalPort" binding:"required"`
	RemoteHost   string `json:"remoteHost"`
}

func (a RouterApi) PortDeleteView(c *gin.Context) {
	cr := middleware.GetBindRequest[PortDeleteViewRequest](c)

	protocol, err := model.ParseProtocol(cr.Protocol)
	if err != nil {
		res.FailWithError(err, c)
		return
	}
	if err := a.Engine.Delete(c.Request.Context(), protocol, cr.ExternalPort, cr.RemoteHost); err != nil {
		logrus.Warnf("删除端口映射 %s %d 失败: %v", protocol, cr.ExternalPort, err)
		res.FailWithMsg(errMsg("删除端口映射", err), c)
		return
	}
	// 引擎不重新读取列表，这里直接移除对应行
	a.Panel.RemovePort(protocol, cr.ExternalPort, cr.RemoteHost)
	res.OkWithMsg("删除成功", c)
}
