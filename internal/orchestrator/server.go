package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
)

// Server 表示协调器API服务，对外暴露带降级策略的能力入口
type Server struct {
	e      *echo.Echo
	host   string
	port   int
	router *Router
	logger config.Logger
}

// NewServer 创建协调器API服务
func NewServer(router *Router, cfg *config.Config, logger config.Logger) *Server {
	if logger == nil {
		logger = &config.NopLogger{}
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		e:      e,
		host:   cfg.Server.API.ListenAddress,
		port:   cfg.Server.API.Port,
		router: router,
		logger: logger,
	}
	s.registerRoutes()

	return s
}

// registerRoutes 注册API路由
func (s *Server) registerRoutes() {
	// 协调器自身的存活检查，永远返回200，与依赖健康状况无关
	s.e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":    "ok",
			"service":   "dean-orchestrator",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := s.e.Group("/api/v1")

	// 创建智能体，依赖agent-manager
	api.POST("/agents", s.capabilityHandler(CapabilityCreateAgent))

	// 执行指定工作流，依赖workflow-scheduler
	api.POST("/workflows/:id/execute", s.capabilityHandler(CapabilityExecuteWorkflow))

	// 查询进化状态，依赖evolution-runner
	api.GET("/evolution/status", s.capabilityHandler(CapabilityEvolutionStatus))

	// 聚合的依赖健康视图
	api.GET("/system/health", s.systemHealth)
}

// capabilityHandler 将一项能力包装为echo处理函数
func (s *Server) capabilityHandler(capName string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body []byte
		if c.Request().Body != nil {
			data, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error": "读取请求体失败: " + err.Error(),
				})
			}
			body = data
		}

		// 路径参数原样传给路由器，替换能力路径中的对应占位
		var params map[string]string
		if names := c.ParamNames(); len(names) > 0 {
			params = make(map[string]string, len(names))
			for i, name := range names {
				params[name] = c.ParamValues()[i]
			}
		}

		result := s.router.ForwardJSON(c.Request().Context(), capName, params, body)
		return s.writeResult(c, result)
	}
}

// writeResult 根据调用终态写出响应
func (s *Server) writeResult(c echo.Context, result *Result) error {
	switch result.State {
	case StateSuccess, StateUpstreamError:
		// 下游响应原样透传（包括业务错误）
		return c.Blob(result.StatusCode, echo.MIMEApplicationJSON, result.Body)
	default:
		// disabled与degraded均为结构化载荷，协调器自身不返回5xx
		return c.JSON(result.StatusCode, result.Payload)
	}
}

// systemHealth 返回所有已注册服务的健康聚合视图
func (s *Server) systemHealth(c echo.Context) error {
	entries, err := s.router.CheckDependencies(c.Request().Context())
	if err != nil {
		// 聚合失败也不让协调器报错，返回空列表并附带原因
		s.logger.Error("聚合依赖健康状态失败", zap.Error(err))
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"services": []interface{}{},
			"detail":   err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"services": entries,
	})
}

// Start 以非阻塞方式启动服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("协调器API服务启动", zap.String("addr", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("协调器API服务异常退出", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
