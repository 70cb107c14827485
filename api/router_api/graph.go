package router_api

import (
	"routerctl/utils/res"

	"github.com/gin-gonic/gin"
)

func (a RouterApi) GraphView(c *gin.Context) {
	res.OkWithData(a.Panel.Graph(), c)
}
