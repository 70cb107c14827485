package router_api

import (
	"routerctl/middleware"
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
)

type PortListViewRequest struct {
	Refresh bool `form:"refresh"` // 是否重新从路由器读取
}

func (a RouterApi) PortListView(c *gin.Context) {
	cr := middleware.GetBindRequest[PortListViewRequest](c)

	if !cr.Refresh {
		res.OkWithData(a.Panel.Snapshot().Ports, c)
		return
	}
	list, err := a.Engine.List(c.Request.Context())
	if err != nil {
		res.FailWithMsg(errMsg("读取映射列表", err), c)
		return
	}
	res.OkWithData(list, c)
}
