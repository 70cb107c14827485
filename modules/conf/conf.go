// Package conf 配置文件读写与命令行参数。
package conf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"routerctl/utils"
)

const DefaultPath = "config/routerctl.json"

// Duration 在配置文件中写成 "300s"、"1m" 这样的字符串
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("时长必须是字符串: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Listen          string   `json:"listen"`          // HTTP 接口监听地址
	Interface       string   `json:"interface"`       // 搜索路由器使用的网卡，空为自动选择
	EventPort       int      `json:"eventPort"`       // 事件回调端口，0 为随机
	RefreshInterval Duration `json:"refreshInterval"` // 兜底刷新周期
	TrafficInterval Duration `json:"trafficInterval"` // 流量采样周期
	SearchInterval  Duration `json:"searchInterval"`  // SSDP 搜索周期
	ActionTimeout   Duration `json:"actionTimeout"`   // 单次动作超时
	IconDir         string   `json:"iconDir"`
	LogDir          string   `json:"logDir"`
	Debug           bool     `json:"debug"`
	GraphSize       int      `json:"graphSize"` // 流量曲线点数
	STUNServers     []string `json:"stunServers"`
}

func Default() Config {
	return Config{
		Listen:          "0.0.0.0:8080",
		RefreshInterval: Duration(300 * time.Second),
		TrafficInterval: Duration(time.Second),
		SearchInterval:  Duration(time.Minute),
		ActionTimeout:   Duration(10 * time.Second),
		IconDir:         "data",
		LogDir:          "logs",
		GraphSize:       120,
		STUNServers: []string{
			"stun.radiojar.com:3478",
			"stun.ringostat.com:3478",
			"stun.voipgate.com:3478",
			"stun.telnyx.com:3478",
			"stun.antisip.com:3478",
		},
	}
}

// fill 缺失的字段使用默认值
func (c *Config) fill() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.TrafficInterval <= 0 {
		c.TrafficInterval = def.TrafficInterval
	}
	if c.SearchInterval <= 0 {
		c.SearchInterval = def.SearchInterval
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.IconDir == "" {
		c.IconDir = def.IconDir
	}
	if c.LogDir == "" {
		c.LogDir = def.LogDir
	}
	if c.GraphSize <= 0 {
		c.GraphSize = def.GraphSize
	}
	if len(c.STUNServers) == 0 {
		c.STUNServers = def.STUNServers
	}
}

func (c *Config) Validate() error {
	if c.EventPort < 0 || c.EventPort > 65535 {
		return fmt.Errorf("事件端口超出范围: %d", c.EventPort)
	}
	return nil
}

// Load 读取配置文件，不存在或为空时写入默认配置
func Load(path string) (Config, error) {
	if utils.FileMissing(path) {
		cfg := Default()
		if err := utils.WriteJsonFile(path, cfg); err != nil {
			logrus.Errorf("写入默认配置失败: %v", err)
			return cfg, err
		}
		logrus.Infof("已创建默认配置: %s", path)
		return cfg, nil
	}

	cfg, err := utils.ReadJsonFile[Config](path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置 %s 失败: %w", path, err)
	}
	cfg.fill()
	return cfg, cfg.Validate()
}
