package panel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 路由器状态指标，使用独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	RouterUp      prometheus.Gauge
	Connected     prometheus.Gauge
	DownloadKiBps prometheus.Gauge
	UploadKiBps   prometheus.Gauge
	BytesReceived prometheus.Gauge
	BytesSent     prometheus.Gauge
	PortMappings  prometheus.Gauge
	RouterInfo    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RouterUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_router_up",
			Help: "Whether a gateway is currently discovered (1) or not (0)",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_wan_connected",
			Help: "WAN connection status reported by the gateway",
		}),
		DownloadKiBps: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_download_kibps",
			Help: "Current download rate in KiB/s",
		}),
		UploadKiBps: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_upload_kibps",
			Help: "Current upload rate in KiB/s",
		}),
		BytesReceived: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_wan_received_bytes",
			Help: "Total bytes received as reported by the gateway",
		}),
		BytesSent: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_wan_sent_bytes",
			Help: "Total bytes sent as reported by the gateway",
		}),
		PortMappings: f.NewGauge(prometheus.GaugeOpts{
			Name: "routerctl_port_mappings",
			Help: "Number of port mappings shown in the panel",
		}),
		RouterInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routerctl_router_info",
			Help: "Identity of the discovered gateway",
		}, []string{"friendly_name", "model", "udn"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
