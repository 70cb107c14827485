package conf

import (
	"flag"
	"io"
)

// Flags 命令行参数，只有显式给出的参数才覆盖配置文件
type Flags struct {
	ConfigPath string
	Interface  string
	Port       int
	Listen     string
	Debug      bool
	Version    bool

	set map[string]bool
}

func ParseFlags(name string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: map[string]bool{}}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.ConfigPath, "config", DefaultPath, "配置文件路径")
	fs.StringVar(&f.Interface, "if", "", "搜索路由器使用的网卡")
	fs.IntVar(&f.Port, "port", 0, "事件回调端口，0 为随机")
	fs.StringVar(&f.Listen, "listen", "", "HTTP 接口监听地址")
	fs.BoolVar(&f.Debug, "debug", false, "输出调试日志")
	fs.BoolVar(&f.Version, "version", false, "显示版本")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

func (f *Flags) Apply(cfg *Config) {
	if f.set["if"] {
		cfg.Interface = f.Interface
	}
	if f.set["port"] {
		cfg.EventPort = f.Port
	}
	if f.set["listen"] {
		cfg.Listen = f.Listen
	}
	if f.set["debug"] {
		cfg.Debug = f.Debug
	}
}
