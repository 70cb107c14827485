// Package soap 基于 goupnp 的 SOAP 客户端，把任意动作调用转换成有序输入、键值输出。
package soap

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/huin/goupnp/soap"
	"github.com/sirupsen/logrus"

	"routerctl/modules/igd"
)

var stringType = reflect.TypeOf("")

// Client 实现 igd.Invoker，每次调用只有一个请求，不做重试
type Client struct {
	HTTPClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTPClient: httpClient}
}

func (c *Client) Call(ctx context.Context, svc *igd.Service, action string, in []igd.Arg) (igd.Args, error) {
	if svc == nil || svc.ControlURL == nil {
		return nil, &igd.ActionError{Action: action, Message: "服务没有控制地址"}
	}

	client := soap.NewSOAPClient(*svc.ControlURL)
	client.HTTPClient = *c.HTTPClient

	out := make(responseArgs)
	err := client.PerformActionCtx(ctx, svc.Type, action, requestArgs(in), &out)
	if err != nil {
		return nil, actionError(action, err)
	}
	logrus.Debugf("%s -> %v", action, map[string]string(out))
	return igd.Args(out), nil
}

// requestArgs goupnp 按结构体字段顺序编码参数，字段名由 soap 标签覆盖
func requestArgs(in []igd.Arg) any {
	fields := make([]reflect.StructField, len(in))
	for i, arg := range in {
		fields[i] = reflect.StructField{
			Name: "Arg" + strconv.Itoa(i),
			Type: stringType,
			Tag:  reflect.StructTag(`soap:"` + arg.Name + `"`),
		}
	}
	v := reflect.New(reflect.StructOf(fields)).Elem()
	for i, arg := range in {
		v.Field(i).SetString(arg.Value)
	}
	return v.Addr().Interface()
}

// responseArgs 把 <u:xxxResponse> 下的所有子元素解析成键值
type responseArgs map[string]string

func (r *responseArgs) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if *r == nil {
		*r = make(responseArgs)
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return fmt.Errorf("解析输出参数 %s 失败: %w", t.Name.Local, err)
			}
			(*r)[t.Name.Local] = strings.TrimSpace(value)
		case xml.EndElement:
			return nil
		}
	}
}

// actionError SOAP fault 中带 UPnP 错误码，其余都是传输层错误
func actionError(action string, err error) error {
	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		msg := fault.Detail.UPnPError.ErrorDescription
		if msg == "" {
			msg = fault.FaultString
		}
		return &igd.ActionError{
			Action:  action,
			Code:    fault.Detail.UPnPError.Errorcode,
			Message: msg,
			Err:     err,
		}
	}
	return &igd.ActionError{Action: action, Message: err.Error(), Err: err}
}
