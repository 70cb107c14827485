package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"routerctl/utils/res"
)

const requestKey = "request"

func BindJsonMiddleware[T any](c *gin.Context) {
	var cr T
	if err := c.ShouldBindJSON(&cr); err != nil {
		res.FailWithMsg(bindError(err), c)
		c.Abort()
		return
	}
	c.Set(requestKey, cr)
}

func BindQueryMiddleware[T any](c *gin.Context) {
	var cr T
	if err := c.ShouldBindQuery(&cr); err != nil {
		res.FailWithMsg(bindError(err), c)
		c.Abort()
		return
	}
	c.Set(requestKey, cr)
}

func GetBindRequest[T any](c *gin.Context) (cr T) {
	return c.MustGet(requestKey).(T)
}

// bindError 校验失败时列出出错的字段
func bindError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "参数错误: " + err.Error()
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s(%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
	}
	return "参数错误: " + strings.Join(fields, ", ")
}
