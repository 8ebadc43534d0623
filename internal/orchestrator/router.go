package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/health"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

// State 表示一次能力调用的终态
type State string

const (
	// StateDisabled 特性开关关闭
	StateDisabled State = "disabled"
	// StateDegraded 依赖不可用，返回降级响应
	StateDegraded State = "degraded"
	// StateSuccess 转发成功
	StateSuccess State = "success"
	// StateUpstreamError 依赖健康但返回了业务错误，原样透传
	StateUpstreamError State = "upstream_error"
)

// Result 表示一次能力调用的结果
type Result struct {
	State      State
	StatusCode int
	// 转发成功或上游错误时的原始响应体
	Body []byte
	// disabled或degraded时的结构化载荷
	Payload map[string]interface{}
}

// Router 实现带降级策略的请求路由
// 单次调用内不做任何自动重试，重试交由调用方根据retry_after_seconds决定
type Router struct {
	capabilities map[string]*Capability
	store        store.ServiceStore
	cache        *health.Cache
	staticURLs   map[string]string
	httpClient   *http.Client
	logger       config.Logger
}

// NewRouter 创建降级感知路由器
func NewRouter(cfg *config.Config, st store.ServiceStore, cache *health.Cache, logger config.Logger) *Router {
	if logger == nil {
		logger = &config.NopLogger{}
	}
	return &Router{
		capabilities: BuildCapabilities(cfg),
		store:        st,
		cache:        cache,
		staticURLs:   staticDependencyURLs(cfg),
		httpClient: &http.Client{
			Timeout: cfg.HTTP.RequestTimeout,
		},
		logger: logger,
	}
}

// Capability 返回指定名称的能力定义
func (r *Router) Capability(name string) (*Capability, bool) {
	cap, ok := r.capabilities[name]
	return cap, ok
}

// Invoke 执行一次能力调用，params替换能力路径中的:参数
// 状态机：FLAG_CHECK → (DISABLED | HEALTH_CHECK) →
// (HEALTHY → FORWARD → (SUCCESS | UPSTREAM_ERROR)) | (UNHEALTHY → DEGRADED)
func (r *Router) Invoke(ctx context.Context, capName string, params map[string]string, body io.Reader) *Result {
	cap, ok := r.capabilities[capName]
	if !ok {
		// 未定义的能力按空载荷降级，协调器自身绝不因此报错
		return r.degraded(&Capability{Name: capName})
	}

	// 开关关闭：不做健康探测，不发任何网络请求
	if !cap.Enabled {
		return &Result{
			State:      StateDisabled,
			StatusCode: http.StatusOK,
			Payload: map[string]interface{}{
				"status":            "disabled",
				"service_available": false,
			},
		}
	}

	// 解析依赖服务地址，注册表优先，静态配置兜底
	baseURL, healthURL, resolved := r.resolve(ctx, cap.Service)
	if !resolved {
		r.logger.Warn("依赖服务无法解析，返回降级响应",
			zap.String("capability", cap.Name),
			zap.String("service", cap.Service),
		)
		return r.degraded(cap)
	}

	// 健康检查，命中未过期缓存时不发探测请求
	if !r.cache.GetOrProbe(ctx, cap.Service, healthURL) {
		return r.degraded(cap)
	}

	// 依赖健康，转发真实调用
	return r.forward(ctx, cap, baseURL, expandPath(cap.Path, params), body)
}

// expandPath 将路径模板中的:参数替换为实际值
func expandPath(path string, params map[string]string) string {
	for name, value := range params {
		path = strings.Replace(path, ":"+name, url.PathEscape(value), 1)
	}
	return path
}

// resolve 解析依赖服务的基础URL和健康检查URL
func (r *Router) resolve(ctx context.Context, serviceName string) (baseURL, healthURL string, ok bool) {
	svc, err := r.store.GetService(ctx, serviceName)
	if err == nil {
		return svc.BaseURL(), svc.HealthURL(), true
	}
	if !store.IsNotFound(err) {
		r.logger.Error("查询注册表失败", zap.String("service", serviceName), zap.Error(err))
	}

	// 注册表中没有时回退到静态配置地址
	if url, exists := r.staticURLs[serviceName]; exists {
		return url, url + model.DefaultHealthPath, true
	}
	return "", "", false
}

// forward 转发真实调用，下游的业务错误原样透传
func (r *Router) forward(ctx context.Context, cap *Capability, baseURL, path string, body io.Reader) *Result {
	url := baseURL + path

	req, err := http.NewRequestWithContext(ctx, cap.Method, url, body)
	if err != nil {
		r.logger.Error("创建转发请求失败", zap.String("capability", cap.Name), zap.Error(err))
		return r.degraded(cap)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// 健康检查通过但调用失败，按依赖不可用降级并作废缓存
		r.logger.Warn("转发调用失败，返回降级响应",
			zap.String("capability", cap.Name),
			zap.String("url", url),
			zap.Error(err),
		)
		r.cache.Invalidate(cap.Service)
		return r.degraded(cap)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Error("读取下游响应失败", zap.String("capability", cap.Name), zap.Error(err))
		return r.degraded(cap)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return &Result{
			State:      StateSuccess,
			StatusCode: resp.StatusCode,
			Body:       respBody,
		}
	}

	// 依赖健康但返回了错误：这是唯一不掩盖失败的情况
	return &Result{
		State:      StateUpstreamError,
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}
}

// degraded 构造降级响应，未配置降级载荷时按空载荷处理
func (r *Router) degraded(cap *Capability) *Result {
	payload := make(map[string]interface{}, len(cap.DegradedPayload)+2)
	for k, v := range cap.DegradedPayload {
		payload[k] = v
	}
	payload["service_available"] = false
	if cap.RetryAfterSeconds > 0 {
		payload["retry_after_seconds"] = cap.RetryAfterSeconds
	}

	return &Result{
		State:      StateDegraded,
		StatusCode: http.StatusOK,
		Payload:    payload,
	}
}

// ForwardJSON 是便捷封装：包装请求体后执行Invoke
func (r *Router) ForwardJSON(ctx context.Context, capName string, params map[string]string, body []byte) *Result {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	return r.Invoke(ctx, capName, params, reader)
}

// CheckDependencies 对注册表中的所有服务执行健康检查（经缓存）
// 供系统健康端点聚合使用
func (r *Router) CheckDependencies(ctx context.Context) ([]health.Entry, error) {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取服务列表失败: %w", err)
	}

	for _, svc := range services {
		r.cache.GetOrProbe(ctx, svc.Name, svc.HealthURL())
	}
	return r.cache.Snapshot(), nil
}
