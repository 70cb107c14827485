package res

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Code int

const (
	SuccessCode Code = 0
	FailCode    Code = 7
)

// Response 统一的返回结构
type Response struct {
	Code Code   `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}

func response(code Code, data any, msg string, c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code: code,
		Data: data,
		Msg:  msg,
	})
}

func Ok(data any, msg string, c *gin.Context) {
	response(SuccessCode, data, msg, c)
}

func OkWithData(data any, c *gin.Context) {
	Ok(data, "成功", c)
}

func OkWithMsg(msg string, c *gin.Context) {
	Ok(map[string]any{}, msg, c)
}

func FailWithMsg(msg string, c *gin.Context) {
	response(FailCode, map[string]any{}, msg, c)
}

func FailWithError(err error, c *gin.Context) {
	FailWithMsg(err.Error(), c)
}
