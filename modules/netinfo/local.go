// Package netinfo 本机网络信息：选定网卡的地址、STUN 公网地址探测与多层 NAT 判断。
package netinfo

import (
	"errors"
	"fmt"
	"net"
)

var ErrNoAddress = errors.New("未找到本机IP地址")

// LocalIP 返回网卡上第一个非回环 IPv4 地址，ifname 为空时遍历所有网卡
func LocalIP(ifname string) (string, error) {
	if ifname == "" {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return "", err
		}
		return firstIPv4(addrs)
	}

	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return "", fmt.Errorf("网卡 %s 不存在: %w", ifname, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return "", fmt.Errorf("网卡 %s 未启用", ifname)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("读取网卡 %s 地址失败: %w", ifname, err)
	}
	ip, err := firstIPv4(addrs)
	if err != nil {
		return "", fmt.Errorf("网卡 %s: %w", ifname, err)
	}
	return ip, nil
}

// Interface 名称为空返回 nil，表示系统默认网卡
func Interface(ifname string) (*net.Interface, error) {
	if ifname == "" {
		return nil, nil
	}
	return net.InterfaceByName(ifname)
}

func firstIPv4(addrs []net.Addr) (string, error) {
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLinkLocalUnicast() {
				return ip4.String(), nil
			}
		}
	}
	return "", ErrNoAddress
}
