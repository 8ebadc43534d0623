package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/registry/service"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

// RegistryHandler 处理服务注册表相关的HTTP请求
type RegistryHandler struct {
	service  service.RegistryService
	apiToken string
}

// NewRegistryHandler 创建一个新的服务注册表处理器
// apiToken非空时，注册相关路由要求Bearer令牌认证
func NewRegistryHandler(service service.RegistryService, apiToken string) *RegistryHandler {
	return &RegistryHandler{
		service:  service,
		apiToken: apiToken,
	}
}

// RegisterRoutes 注册API路由
// Bearer令牌只保护变更类路由，发现类GET不要求认证
func (h *RegistryHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/registry")

	// 服务注册
	api.POST("/register", h.registerService, h.authMiddleware)

	// 服务心跳
	api.POST("/services/:name/heartbeat", h.updateHeartbeat, h.authMiddleware)

	// 服务注销
	api.DELETE("/services/:name", h.deregisterService, h.authMiddleware)

	// 元数据部分更新
	api.PATCH("/services/:name/metadata", h.patchMetadata, h.authMiddleware)

	// 单服务发现
	api.GET("/services/:name", h.getService)

	// 服务列表与按类型发现
	api.GET("/services", h.listServices)
}

// authMiddleware 校验Bearer令牌，未配置令牌时直接放行
func (h *RegistryHandler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.apiToken == "" {
			return next(c)
		}

		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != h.apiToken {
			return c.JSON(http.StatusUnauthorized, errorResponse(http.StatusUnauthorized, "无效的API令牌"))
		}
		return next(c)
	}
}

// 返回成功响应
func successResponse(code int, message string, data interface{}) *model.ApiResponse {
	return &model.ApiResponse{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// 返回错误响应
func errorResponse(code int, message string) *model.ApiResponse {
	return &model.ApiResponse{
		Code:    code,
		Message: message,
	}
}

// registerService 处理服务注册请求
func (h *RegistryHandler) registerService(c echo.Context) error {
	// 解析请求参数
	req := new(model.ServiceRegistrationRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}

	// 校验必填字段
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}
	if req.Host == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务主机不能为空"))
	}
	if req.Port <= 0 || req.Port > 65535 {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的服务端口"))
	}

	// 调用服务层注册服务
	resp, err := h.service.RegisterService(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "注册服务失败: "+err.Error()))
	}

	// 返回成功响应
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "服务注册成功", resp))
}

// updateHeartbeat 处理服务心跳请求
func (h *RegistryHandler) updateHeartbeat(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	// 调用服务层更新心跳
	resp, err := h.service.UpdateHeartbeat(c.Request().Context(), name)
	if err != nil {
		// 注册不存在时返回404，客户端据此触发重新注册
		if store.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "服务未注册: "+name))
		}
		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "更新心跳失败: "+err.Error()))
	}

	// 返回成功响应
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "心跳更新成功", resp))
}

// deregisterService 处理服务注销请求
func (h *RegistryHandler) deregisterService(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	// 调用服务层注销服务
	if err := h.service.DeregisterService(c.Request().Context(), name); err != nil {
		if store.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "服务不存在: "+name))
		}
		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "注销服务失败: "+err.Error()))
	}

	// 返回成功响应
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "服务注销成功", nil))
}

// patchMetadata 处理元数据部分更新请求
func (h *RegistryHandler) patchMetadata(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	req := new(model.MetadataPatchRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}
	if len(req.Metadata) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "元数据不能为空"))
	}

	if err := h.service.PatchMetadata(c.Request().Context(), name, req.Metadata); err != nil {
		if store.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "服务不存在: "+name))
		}
		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "更新元数据失败: "+err.Error()))
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "元数据更新成功", nil))
}

// getService 处理单服务发现请求
func (h *RegistryHandler) getService(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	service, err := h.service.GetService(c.Request().Context(), name)
	if err != nil {
		if store.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "服务不存在: "+name))
		}
		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "查询服务失败: "+err.Error()))
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", service))
}

// listServices 处理服务列表与按类型发现请求
func (h *RegistryHandler) listServices(c echo.Context) error {
	serviceType := c.QueryParam("type")

	services, err := h.service.ListServices(c.Request().Context(), serviceType)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "查询服务列表失败: "+err.Error()))
	}

	// 构造响应数据，保证空列表序列化为[]而不是null
	data := map[string]interface{}{
		"services": services,
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}
