package igd

import (
	"strconv"
	"strings"
)

// 设备与服务类型前缀，版本号单独比较
const (
	DeviceIGD           = "urn:schemas-upnp-org:device:InternetGatewayDevice:"
	DeviceWANConnection = "urn:schemas-upnp-org:device:WANConnectionDevice:"

	ServiceLayer3Forwarding = "urn:schemas-upnp-org:service:Layer3Forwarding:"
	ServiceL3Forwarding     = "urn:schemas-upnp-org:service:L3Forwarding:"
	ServiceWANCommonIfc     = "urn:schemas-upnp-org:service:WANCommonInterfaceConfig:"
	ServiceWANIPConnection  = "urn:schemas-upnp-org:service:WANIPConnection:"
	ServiceWANPPPConnection = "urn:schemas-upnp-org:service:WANPPPConnection:"
)

// Matches 候选类型以 prefix 开头，且其后的版本号 >= minVersion
func Matches(candidate, prefix string, minVersion int) bool {
	if prefix == "" || !strings.HasPrefix(candidate, prefix) {
		return false
	}
	ver, err := strconv.Atoi(strings.TrimSpace(candidate[len(prefix):]))
	if err != nil {
		return false
	}
	return ver >= minVersion
}
