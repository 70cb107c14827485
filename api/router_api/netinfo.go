package router_api

import (
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
)

// 本机地址、STUN 公网地址以及是否多层 NAT
func (a RouterApi) NetInfoView(c *gin.Context) {
	ctx := c.Request.Context()
	localIP, err := a.Engine.HostIP(ctx)
	if err != nil {
		res.FailWithError(err, c)
		return
	}
	wanIP, err := a.Engine.ExternalIP(ctx)
	if err != nil {
		res.FailWithError(err, c)
		return
	}
	res.OkWithData(a.Prober.Probe(ctx, localIP, wanIP), c)
}
