package router_api

import (
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
)

// 当前路由器的全部信息
func (a RouterApi) RouterInfoView(c *gin.Context) {
	res.OkWithData(a.Panel.Snapshot(), c)
}

// 路由器图标
func (a RouterApi) RouterIconView(c *gin.Context) {
	path := a.Panel.Icon()
	if path == "" {
		res.FailWithMsg("路由器没有图标", c)
		return
	}
	c.File(path)
}
