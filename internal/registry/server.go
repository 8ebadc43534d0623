package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/registry/handler"
	"github.com/mprestonsparks/DEAN-sub001/internal/registry/service"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

// Server 表示服务注册API服务
type Server struct {
	e               *echo.Echo
	host            string
	port            int
	service         service.RegistryService
	logger          config.Logger
	cleanupInterval time.Duration
	shutdownCtx     context.Context
	cancel          context.CancelFunc
	cleanupDone     chan struct{}
}

// NewServer 创建一个新的服务注册API服务
func NewServer(st store.ServiceStore, cfg *config.Config, logger config.Logger) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true

	// 添加中间件
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// 创建服务注册服务
	registryService := service.NewRegistryService(
		st,
		cfg.Registry.HeartbeatInterval,
		cfg.Registry.StaleFactor,
	)

	// 创建服务注册处理器并注册路由
	registryHandler := handler.NewRegistryHandler(registryService, cfg.Auth.APIToken)
	registryHandler.RegisterRoutes(e)

	// 注册表自身的存活检查，不依赖任何下游
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":    "ok",
			"service":   "dean-registry",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		e:               e,
		host:            cfg.Server.Registry.ListenAddress,
		port:            cfg.Server.Registry.Port,
		service:         registryService,
		logger:          logger,
		cleanupInterval: cfg.Registry.CleanupInterval,
		shutdownCtx:     ctx,
		cancel:          cancel,
		cleanupDone:     make(chan struct{}),
	}
}

// Start 启动服务，并启动过期注册的定期清理任务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("服务注册API服务启动", zap.String("addr", addr))

	// 以非阻塞方式启动服务
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("服务注册API服务异常退出", zap.Error(err))
		}
	}()

	// 启动定期清理任务
	go s.runCleanupTask()

	return nil
}

// runCleanupTask 定期清理过期的服务注册
func (s *Server) runCleanupTask() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := s.service.CleanupStaleServices(s.shutdownCtx)
			if err != nil {
				s.logger.Error("清理过期服务失败", zap.Error(err))
			} else if count > 0 {
				s.logger.Info("清理过期服务", zap.Int("count", count))
			}
		case <-s.shutdownCtx.Done():
			return
		}
	}
}

// Shutdown 关闭服务，等待清理任务退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	<-s.cleanupDone
	return s.e.Shutdown(ctx)
}
