package router_api

import (
	"context"
	"errors"
	"fmt"

	"routerctl/modules/igd"
	"routerctl/modules/igd/model"
	"routerctl/modules/netinfo"
	"routerctl/modules/panel"
)

// Controller 引擎对外的操作，均在事件循环中执行
type Controller interface {
	List(ctx context.Context) ([]model.PortMapping, error)
	Add(ctx context.Context, m model.PortMapping) error
	Delete(ctx context.Context, protocol model.Protocol, externalPort uint16, remoteHost string) error
	Refresh(ctx context.Context) error
	HostIP(ctx context.Context) (string, error)
	ExternalIP(ctx context.Context) (string, error)
}

type View interface {
	Snapshot() panel.Snapshot
	Graph() []panel.GraphPoint
	Icon() string
	RemovePort(protocol model.Protocol, externalPort uint16, remoteHost string) bool
}

type Prober interface {
	Probe(ctx context.Context, localIP, routerWanIP string) netinfo.Info
}

type RouterApi struct {
	Engine Controller
	Panel  View
	Prober Prober
}

// errMsg 动作失败时把错误码一并返回给前端
func errMsg(op string, err error) string {
	switch {
	case errors.Is(err, igd.ErrNoSession):
		return "未发现路由器"
	case errors.Is(err, igd.ErrNoConnectionService):
		return "路由器没有可用的WAN连接服务"
	}
	var ae *igd.ActionError
	if errors.As(err, &ae) && ae.Code != 0 {
		return fmt.Sprintf("%s失败: %s (错误码 %d)", op, ae.Message, ae.Code)
	}
	return fmt.Sprintf("%s失败: %v", op, err)
}
