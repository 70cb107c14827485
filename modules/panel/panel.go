// Package panel 引擎的展示层：保存最新的路由器状态供 HTTP 接口读取，并同步到 Prometheus 指标。
package panel

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"routerctl/modules/igd"
	"routerctl/modules/igd/model"
)

// DefaultGraphSize 流量曲线保留的采样点数
const DefaultGraphSize = 120

// GraphPoint 流量曲线上的一个点，单位 KiB/s
type GraphPoint struct {
	Time     time.Time `json:"time"`
	Download float64   `json:"download"`
	Upload   float64   `json:"upload"`
}

// Snapshot 面板当前内容，nil 字段表示该项不可用
type Snapshot struct {
	Enabled       bool                  `json:"enabled"`
	Router        model.RouterInfo      `json:"router"`
	HasIcon       bool                  `json:"hasIcon"`
	Status        *igd.ConnStatus       `json:"status"`
	ExternalIP    *string               `json:"externalIP"`
	DownloadKiBps *float64              `json:"downloadKiBps"`
	UploadKiBps   *float64              `json:"uploadKiBps"`
	TotalReceived *uint64               `json:"totalReceived"`
	TotalSent     *uint64               `json:"totalSent"`
	Link          *model.LinkProperties `json:"link"`
	Ports         []model.PortMapping   `json:"ports"`
}

// Panel 实现 igd.Frontend，引擎在事件循环中写入，HTTP 处理函数并发读取
type Panel struct {
	clock   clock.Clock
	metrics *Metrics

	mu    sync.RWMutex
	state Snapshot
	icon  string
	graph []GraphPoint
	head  int
	size  int
}

var _ igd.Frontend = (*Panel)(nil)

func New(clk clock.Clock, metrics *Metrics, graphSize int) *Panel {
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if graphSize <= 0 {
		graphSize = DefaultGraphSize
	}
	return &Panel{
		clock:   clk,
		metrics: metrics,
		graph:   make([]GraphPoint, graphSize),
	}
}

func (p *Panel) Metrics() *Metrics {
	return p.metrics
}

// Snapshot 返回副本
func (p *Panel) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	s.Ports = append([]model.PortMapping{}, p.state.Ports...)
	return s
}

// Icon 图标文件路径，空表示没有
func (p *Panel) Icon() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.icon
}

// Graph 按时间顺序返回曲线
func (p *Panel) Graph() []GraphPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]GraphPoint, 0, p.size)
	start := (p.head - p.size + len(p.graph)) % len(p.graph)
	for i := 0; i < p.size; i++ {
		out = append(out, p.graph[(start+i)%len(p.graph)])
	}
	return out
}

func (p *Panel) SetRouterInfo(info model.RouterInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Router = info
	p.metrics.RouterInfo.Reset()
	p.metrics.RouterInfo.WithLabelValues(info.FriendlyName, info.ModelName, info.UDN).Set(1)
}

func (p *Panel) SetConnStatus(status igd.ConnStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Status = &status
	if status == igd.StatusConnected {
		p.metrics.Connected.Set(1)
	} else {
		p.metrics.Connected.Set(0)
	}
}

func (p *Panel) DisableConnStatus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Status = nil
	p.metrics.Connected.Set(0)
}

func (p *Panel) SetExtIP(ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ExternalIP = &ip
}

func (p *Panel) DisableExtIP() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ExternalIP = nil
}

func (p *Panel) SetDownloadSpeed(kibps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.DownloadKiBps = &kibps
	p.metrics.DownloadKiBps.Set(kibps)
}

func (p *Panel) SetUploadSpeed(kibps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.UploadKiBps = &kibps
	p.metrics.UploadKiBps.Set(kibps)
}

func (p *Panel) SetTotalReceived(bytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.TotalReceived = &bytes
	p.metrics.BytesReceived.Set(float64(bytes))
}

func (p *Panel) SetTotalSent(bytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.TotalSent = &bytes
	p.metrics.BytesSent.Set(float64(bytes))
}

func (p *Panel) DisableDownloadSpeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.DownloadKiBps = nil
	p.metrics.DownloadKiBps.Set(0)
}

func (p *Panel) DisableUploadSpeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.UploadKiBps = nil
	p.metrics.UploadKiBps.Set(0)
}

func (p *Panel) DisableTotalReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.TotalReceived = nil
}

func (p *Panel) DisableTotalSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.TotalSent = nil
}

// UpdateGraph 以当前速率追加一个点，不可用的速率记为 0
func (p *Panel) UpdateGraph() {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt := GraphPoint{Time: p.clock.Now()}
	if p.state.DownloadKiBps != nil {
		pt.Download = *p.state.DownloadKiBps
	}
	if p.state.UploadKiBps != nil {
		pt.Upload = *p.state.UploadKiBps
	}
	p.graph[p.head] = pt
	p.head = (p.head + 1) % len(p.graph)
	if p.size < len(p.graph) {
		p.size++
	}
}

// AddMappedPorts 同一协议、外网端口和远端主机的条目会被替换
func (p *Panel) AddMappedPorts(list []model.PortMapping) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range list {
		if i := p.indexLocked(m.Protocol, m.ExternalPort, m.RemoteHost); i >= 0 {
			p.state.Ports[i] = m
			continue
		}
		p.state.Ports = append(p.state.Ports, m)
	}
	p.metrics.PortMappings.Set(float64(len(p.state.Ports)))
}

func (p *Panel) ClearPortsList() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Ports = nil
	p.metrics.PortMappings.Set(0)
}

// RemovePort 删除成功后由调用方移除对应行
func (p *Panel) RemovePort(protocol model.Protocol, externalPort uint16, remoteHost string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(protocol, externalPort, remoteHost)
	if i < 0 {
		return false
	}
	p.state.Ports = append(p.state.Ports[:i], p.state.Ports[i+1:]...)
	p.metrics.PortMappings.Set(float64(len(p.state.Ports)))
	return true
}

func (p *Panel) indexLocked(protocol model.Protocol, externalPort uint16, remoteHost string) int {
	for i, m := range p.state.Ports {
		if m.Protocol == protocol && m.ExternalPort == externalPort && m.RemoteHost == remoteHost {
			return i
		}
	}
	return -1
}

func (p *Panel) SetLinkProperties(props model.LinkProperties) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Link = &props
}

func (p *Panel) SetRouterIcon(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.icon = path
	p.state.HasIcon = path != ""
}

func (p *Panel) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Enabled = true
	p.metrics.RouterUp.Set(1)
}

// Disable 路由器下线，清空所有内容
func (p *Panel) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Snapshot{}
	p.icon = ""
	p.metrics.RouterUp.Set(0)
	p.metrics.Connected.Set(0)
	p.metrics.DownloadKiBps.Set(0)
	p.metrics.UploadKiBps.Set(0)
	p.metrics.PortMappings.Set(0)
	p.metrics.RouterInfo.Reset()
}
