package router_api

import (
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
)

// 立即刷新连接状态、外网地址和映射列表
func (a RouterApi) RefreshView(c *gin.Context) {
	if err := a.Engine.Refresh(c.Request.Context()); err != nil {
		res.FailWithMsg(errMsg("刷新", err), c)
		return
	}
	res.OkWithData(a.Panel.Snapshot(), c)
}
