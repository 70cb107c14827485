package igd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// UPnP 控制错误码
const (
	CodeInvalidArgs       = 402 // 参数无效，枚举时表示没有更多条目
	CodeArrayIndexInvalid = 713 // 枚举结束
)

var (
	ErrNoSession           = errors.New("igd: 未发现路由器")
	ErrNoConnectionService = errors.New("igd: 路由器没有 WAN 连接服务")
)

// Service 设备描述中的一个服务句柄
type Service struct {
	Type        string
	ID          string
	ControlURL  *url.URL
	EventSubURL *url.URL
}

func (s *Service) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.ID
}

// Arg 有序的输入参数
type Arg struct {
	Name  string
	Value string
}

// Args 动作的输出参数
type Args map[string]string

func (a Args) String(name string) string {
	return a[name]
}

func (a Args) Uint(name string) (uint64, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("缺少输出参数 %s", name)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("输出参数 %s 不是整数: %w", name, err)
	}
	return n, nil
}

// Bool UPnP boolean 取值 0/1/true/false/yes/no
func (a Args) Bool(name string) (bool, error) {
	v, ok := a[name]
	if !ok {
		return false, fmt.Errorf("缺少输出参数 %s", name)
	}
	return ParseBool(v)
}

func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("无效的布尔值 %q", v)
}

func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Invoker 远程动作调用。失败时返回 *ActionError
type Invoker interface {
	Call(ctx context.Context, svc *Service, action string, in []Arg) (Args, error)
}

// Subscription 事件订阅句柄
type Subscription interface {
	Cancel(ctx context.Context) error
}

// Subscriber 订阅服务的状态变量通知，cb 可能在任意 goroutine 中被调用
type Subscriber interface {
	Subscribe(ctx context.Context, svc *Service, cb func(variable, value string)) (Subscription, error)
}

// ActionError 动作失败，Code 为 0 表示传输层错误
type ActionError struct {
	Action  string
	Code    int
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Action, e.Message, e.Code)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ErrorCode 取出 UPnP 错误码，非 ActionError 返回 0
func ErrorCode(err error) int {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return 0
}

// IsEndOfEnumeration 713 和 402 在分页枚举中都表示没有更多条目
func IsEndOfEnumeration(err error) bool {
	code := ErrorCode(err)
	return code == CodeArrayIndexInvalid || code == CodeInvalidArgs
}
