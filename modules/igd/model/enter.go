package model

import (
	"fmt"
	"strings"
)

type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// ParseProtocol 大小写不敏感
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TCP":
		return ProtocolTCP, nil
	case "UDP":
		return ProtocolUDP, nil
	}
	return "", fmt.Errorf("未知协议: %q", s)
}

// PortMapping 路由器上的一条端口映射，ExternalPort 为 0 的条目视为占位
type PortMapping struct {
	Enabled       bool     `json:"enabled"`       // 是否启用
	Description   string   `json:"description"`   // 映射说明
	Protocol      Protocol `json:"protocol"`      // TCP / UDP
	InternalHost  string   `json:"internalHost"`  // 内网目标IP
	InternalPort  uint16   `json:"internalPort"`  // 内网端口
	RemoteHost    string   `json:"remoteHost"`    // 远端主机，空表示任意
	ExternalPort  uint16   `json:"externalPort"`  // 外网端口
	LeaseDuration uint32   `json:"leaseDuration"` // 租期（秒），0 表示永久
}

// RouterInfo 路由器身份信息
type RouterInfo struct {
	FriendlyName     string `json:"friendlyName"`
	Brand            string `json:"brand"`
	BrandWebsite     string `json:"brandWebsite"`
	ModelDescription string `json:"modelDescription"`
	ModelName        string `json:"modelName"`
	ModelNumber      string `json:"modelNumber"`
	UPC              string `json:"upc"`
	UDN              string `json:"udn"`
	Location         string `json:"location"`
	HostIP           string `json:"hostIP"`
	PresentationURL  string `json:"presentationURL"`
}

// LinkProperties WANCommonInterfaceConfig 返回的链路属性
type LinkProperties struct {
	AccessType           string `json:"accessType"`
	UpstreamMaxBitRate   uint64 `json:"upstreamMaxBitRate"`
	DownstreamMaxBitRate uint64 `json:"downstreamMaxBitRate"`
	PhysicalLinkStatus   string `json:"physicalLinkStatus"`
}
