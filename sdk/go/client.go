package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 客户端可能返回的哨兵错误
// 调用方用errors.Is区分"服务未知"与"注册表不可达"
var (
	// ErrServiceNotFound 目标服务未在注册表中
	ErrServiceNotFound = errors.New("服务未在注册表中")
	// ErrNotRunning 客户端尚未启动
	ErrNotRunning = errors.New("客户端尚未启动")
)

// 默认的客户端参数
const (
	// 心跳间隔，留在注册表过期窗口（心跳间隔×宽限系数）之内
	DefaultHeartbeatInterval = 25 * time.Second
	// 常规操作超时
	DefaultTimeout = 5 * time.Second
	// 注册操作允许更长的窗口
	DefaultRegisterTimeout = 30 * time.Second
	// 心跳异常后的固定退避时间
	DefaultRetryBackoff = 5 * time.Second
)

// HealthCheck 描述服务的健康检查端点
type HealthCheck struct {
	Protocol string        `json:"protocol"`
	Path     string        `json:"path"`
	Method   string        `json:"method"`
	Timeout  time.Duration `json:"timeout"`
}

// ServiceInfo 表示从注册表发现的服务信息
type ServiceInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	Version       string            `json:"version,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	HealthCheck   HealthCheck       `json:"health_check"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// BaseURL 根据健康检查协议拼出服务的基础URL
func (s *ServiceInfo) BaseURL() string {
	protocol := s.HealthCheck.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, s.Host, s.Port)
}

// Config SDK客户端配置
type Config struct {
	// 协调器（注册表）地址，格式为 "host:port"
	OrchestratorAddr string
	// 服务名称，注册表中的唯一键
	ServiceName string
	// 服务主机地址
	ServiceHost string
	// 服务端口
	ServicePort int
	// 服务版本
	Version string
	// 元数据，type键用于按类型发现
	Metadata map[string]string
	// 健康检查描述符，为nil时使用默认值 {http, /health, GET, 5s}
	HealthCheck *HealthCheck
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 常规操作超时时间
	Timeout time.Duration
	// 注册操作超时时间
	RegisterTimeout time.Duration
	// 心跳异常后的退避时间
	RetryBackoff time.Duration
	// 是否使用HTTPS访问注册表
	Secure bool
	// API令牌（认证使用）
	APIToken string
	// 日志器，为nil时不输出日志
	Logger *zap.Logger
}

// Client SDK客户端，嵌入每个服务进程完成自注册与心跳
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger

	// mu保护running与心跳任务的生命周期
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Response 注册表API响应结构
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RegisterResponse 注册响应数据
type RegisterResponse struct {
	ServiceID    string    `json:"service_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// NewClient 创建SDK客户端
func NewClient(config *Config) (*Client, error) {
	// 验证必填配置
	if config.OrchestratorAddr == "" {
		return nil, fmt.Errorf("协调器地址不能为空")
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("服务名称不能为空")
	}
	if config.ServiceHost == "" {
		return nil, fmt.Errorf("服务主机不能为空")
	}
	if config.ServicePort <= 0 {
		return nil, fmt.Errorf("服务端口必须大于0")
	}

	// 设置默认值
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RegisterTimeout == 0 {
		config.RegisterTimeout = DefaultRegisterTimeout
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RegisterTimeout,
		},
		logger: logger,
	}, nil
}

// buildURL 构建注册表API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.OrchestratorAddr, path)
}

// doRequest 发送HTTP请求
// 返回解析后的响应和HTTP状态码；error仅表示传输层失败
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, timeout time.Duration) (*Response, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 准备请求体
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	// 创建请求
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	// 设置请求头
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	// 发送请求
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	// 读取响应体
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应体失败: %w", err)
	}

	// 解析响应
	var apiResp Response
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
		}
	}

	return &apiResp, resp.StatusCode, nil
}

// IsRunning 检查客户端是否在运行（已注册且心跳任务存活）
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
