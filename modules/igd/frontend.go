package igd

import "routerctl/modules/igd/model"

// Frontend 展示层，引擎只推送数据，从不读取展示层状态
type Frontend interface {
	SetRouterInfo(info model.RouterInfo)
	SetConnStatus(status ConnStatus)
	DisableConnStatus()
	// SetExtIP ip 为空表示外网地址尚未分配
	SetExtIP(ip string)
	DisableExtIP()

	SetDownloadSpeed(kibps float64)
	SetUploadSpeed(kibps float64)
	SetTotalReceived(bytes uint64)
	SetTotalSent(bytes uint64)
	DisableDownloadSpeed()
	DisableUploadSpeed()
	DisableTotalReceived()
	DisableTotalSent()
	UpdateGraph()

	AddMappedPorts(list []model.PortMapping)
	ClearPortsList()

	SetLinkProperties(props model.LinkProperties)
	SetRouterIcon(path string)
	Enable()
	Disable()
}
