package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"routerctl/api"
	"routerctl/core"
	"routerctl/modules/conf"
	"routerctl/modules/eventloop"
	"routerctl/modules/gena"
	"routerctl/modules/igd"
	"routerctl/modules/netinfo"
	"routerctl/modules/panel"
	"routerctl/modules/soap"
	"routerctl/modules/ssdp"
	"routerctl/routers"
)

var version = "dev"

func main() {
	flags, err := conf.ParseFlags("routerctl", os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if flags.Version {
		fmt.Println("routerctl", version)
		return
	}

	cfg, err := conf.Load(flags.ConfigPath)
	if err != nil {
		logrus.Fatalf("读取配置文件失败: %v", err)
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}
	core.InitLogger(cfg.Debug, cfg.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("已退出")
}

func run(ctx context.Context, cfg conf.Config) error {
	iface, err := netinfo.Interface(cfg.Interface)
	if err != nil {
		return fmt.Errorf("网卡 %s 不可用: %w", cfg.Interface, err)
	}

	clk := clock.New()
	loop := eventloop.New(clk)
	view := panel.New(clk, nil, cfg.GraphSize)

	events := gena.NewServer(clk, nil)
	if err := events.Listen(net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.EventPort))); err != nil {
		return err
	}

	engine := igd.New(loop, soap.NewClient(nil), events, view, igd.Options{
		RefreshInterval: cfg.RefreshInterval.D(),
		TrafficInterval: cfg.TrafficInterval.D(),
		ActionTimeout:   cfg.ActionTimeout.D(),
		IconDir:         cfg.IconDir,
	})
	browser := ssdp.NewBrowser(clk, engine, func() (string, error) {
		return netinfo.LocalIP(cfg.Interface)
	}, ssdp.Options{
		SearchInterval: cfg.SearchInterval.D(),
		Interface:      iface,
		Passive:        true,
	})
	prober := netinfo.NewProber(clk, cfg.STUNServers, 0)
	handler := routers.New(api.New(engine, view, prober), view.Metrics().Registry())

	// 事件循环最后退出，留给引擎释放会话
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := loop.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return events.Serve(gctx) })
	g.Go(func() error { return browser.Run(gctx) })
	g.Go(func() error { return routers.Run(gctx, cfg.Listen, handler) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("释放会话失败: %v", err)
		}
		events.Close(shutdownCtx)
		stopLoop()
		return nil
	})

	logrus.Infof("routerctl %s 已启动，事件端口 %d", version, events.Port())
	return g.Wait()
}
