package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/dnsserver"
	"github.com/mprestonsparks/DEAN-sub001/internal/health"
	"github.com/mprestonsparks/DEAN-sub001/internal/orchestrator"
	"github.com/mprestonsparks/DEAN-sub001/internal/registry"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
	etcdstore "github.com/mprestonsparks/DEAN-sub001/internal/store/etcd"
	"github.com/mprestonsparks/DEAN-sub001/internal/store/memory"
)

var configFile string

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 打印启动信息
	logger.Info("DEAN Orchestrator Starting...",
		zap.String("version", "0.1.0"),
		zap.Int("api_port", cfg.Server.API.Port),
		zap.Int("registry_port", cfg.Server.Registry.Port),
		zap.Bool("etcd_enabled", cfg.Etcd.Enabled),
		zap.Bool("dns_enabled", cfg.DNS.Enabled),
	)

	// 初始化注册表存储：启用etcd时用etcd，否则用内存存储
	var serviceStore store.ServiceStore
	var etcdClient *etcdstore.Client
	if cfg.Etcd.Enabled {
		etcdClient, err = etcdstore.NewClient(cfg)
		if err != nil {
			logger.Fatal("连接etcd失败", zap.Error(err))
		}
		leaseTTL := cfg.Registry.HeartbeatInterval * time.Duration(cfg.Registry.StaleFactor)
		serviceStore = etcdstore.NewEtcdStore(etcdClient, leaseTTL)
	} else {
		serviceStore = memory.NewMemoryStore()
	}

	// 启动服务注册API服务
	registryServer := registry.NewServer(serviceStore, cfg, logger)
	if err := registryServer.Start(); err != nil {
		logger.Fatal("启动服务注册API服务失败", zap.Error(err))
	}

	// 初始化健康探测与缓存
	prober := health.NewHTTPProber(cfg.Health.ProbeTimeout)
	healthCache := health.NewCache(prober, cfg.Health.CacheTTL, logger)

	// 启动协调器API服务
	router := orchestrator.NewRouter(cfg, serviceStore, healthCache, logger)
	apiServer := orchestrator.NewServer(router, cfg, logger)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("启动协调器API服务失败", zap.Error(err))
	}

	// 按配置启动DNS发现服务
	var dnsServer *dnsserver.Server
	if cfg.DNS.Enabled {
		dnsCfg := &dnsserver.Config{
			ListenAddr: fmt.Sprintf("%s:%d", cfg.DNS.ListenAddress, cfg.DNS.Port),
			Domain:     cfg.DNS.Domain,
			TTL:        cfg.DNS.TTL,
			Timeout:    cfg.Health.ProbeTimeout,
			EnableUDP:  cfg.DNS.Protocol == "udp" || cfg.DNS.Protocol == "both",
			EnableTCP:  cfg.DNS.Protocol == "tcp" || cfg.DNS.Protocol == "both",
		}
		dnsServer = dnsserver.NewServer(dnsCfg, serviceStore, logger)
		if err := dnsServer.Start(context.Background()); err != nil {
			logger.Fatal("启动DNS发现服务失败", zap.Error(err))
		}
	}

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，开始优雅关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 按启动的相反顺序关闭
	if dnsServer != nil {
		if err := dnsServer.Stop(); err != nil {
			logger.Error("关闭DNS发现服务失败", zap.Error(err))
		}
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭协调器API服务失败", zap.Error(err))
	}
	if err := registryServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭服务注册API服务失败", zap.Error(err))
	}
	if etcdClient != nil {
		if err := etcdClient.Close(); err != nil {
			logger.Error("关闭etcd客户端失败", zap.Error(err))
		}
	}

	logger.Info("DEAN Orchestrator 已退出")
}
