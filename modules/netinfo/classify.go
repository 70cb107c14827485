package netinfo

import "net"

// 预编译CIDR
var (
	_, private10, _  = net.ParseCIDR("10.0.0.0/8")
	_, private172, _ = net.ParseCIDR("172.16.0.0/12")
	_, private192, _ = net.ParseCIDR("192.168.0.0/16")
	_, cgnRange, _   = net.ParseCIDR("100.64.0.0/10")
)

type IPType string

// IP类型常量
const (
	IPTypeUnknown IPType = ""
	IPTypePrivate IPType = "private"
	IPTypeCGN     IPType = "cgn"
	IPTypePublic  IPType = "public"
)

// ClassifyIP 路由器外网地址的类型，私网或运营商级 NAT 说明路由器之上还有一层
func ClassifyIP(ipStr string) IPType {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return IPTypeUnknown
	}
	if cgnRange.Contains(ip) {
		return IPTypeCGN
	}
	if private10.Contains(ip) || private172.Contains(ip) || private192.Contains(ip) {
		return IPTypePrivate
	}
	return IPTypePublic
}

// DoubleNAT 路由器外网地址不是公网地址，或与 STUN 看到的地址不一致
func DoubleNAT(routerWanIP, publicIP string) bool {
	switch ClassifyIP(routerWanIP) {
	case IPTypeUnknown:
		return false
	case IPTypePrivate, IPTypeCGN:
		return true
	}
	return publicIP != "" && publicIP != routerWanIP
}
