package routers

import (
	"routerctl/api"
	"routerctl/api/router_api"
	"routerctl/middleware"

	"github.com/gin-gonic/gin"
)

func RouterRouters(g *gin.RouterGroup, app api.Api) {
	var a = app.RouterApi

	// 路由器信息
	g.GET("router", a.RouterInfoView)
	g.GET("router/icon", a.RouterIconView)

	// 端口映射
	g.GET("ports",
		middleware.BindQueryMiddleware[router_api.PortListViewRequest],
		a.PortListView,
	)
	g.POST("ports",
		middleware.BindJsonMiddleware[router_api.PortAddViewRequest],
		a.PortAddView,
	)
	g.DELETE("ports",
		middleware.BindJsonMiddleware[router_api.PortDeleteViewRequest],
		a.PortDeleteView,
	)

	g.POST("refresh", a.RefreshView)
	g.GET("graph", a.GraphView)
	g.GET("netinfo", a.NetInfoView)
}
