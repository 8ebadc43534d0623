package model

import (
	"fmt"
	"time"
)

// 健康状态枚举
type HealthStatus string

const (
	// HealthStatusHealthy 表示服务健康
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusUnhealthy 表示服务不健康
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	// HealthStatusUnknown 表示尚未探测过服务
	HealthStatusUnknown HealthStatus = "unknown"
)

// 健康检查描述符的默认值
const (
	DefaultHealthProtocol = "http"
	DefaultHealthPath     = "/health"
	DefaultHealthMethod   = "GET"
	DefaultHealthTimeout  = 5 * time.Second
)

// HealthCheck 描述如何对一个服务执行存活探测
type HealthCheck struct {
	Protocol string        `json:"protocol"`
	Path     string        `json:"path"`
	Method   string        `json:"method"`
	Timeout  time.Duration `json:"timeout"`
}

// DefaultHealthCheck 返回默认的健康检查描述符
func DefaultHealthCheck() HealthCheck {
	return HealthCheck{
		Protocol: DefaultHealthProtocol,
		Path:     DefaultHealthPath,
		Method:   DefaultHealthMethod,
		Timeout:  DefaultHealthTimeout,
	}
}

// Normalize 为未填写的字段补上默认值
func (h *HealthCheck) Normalize() {
	if h.Protocol == "" {
		h.Protocol = DefaultHealthProtocol
	}
	if h.Path == "" {
		h.Path = DefaultHealthPath
	}
	if h.Method == "" {
		h.Method = DefaultHealthMethod
	}
	if h.Timeout <= 0 {
		h.Timeout = DefaultHealthTimeout
	}
}

// Service 表示一个已注册的服务实例
// 服务名称是唯一键：同名重复注册时后注册者覆盖前者
type Service struct {
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
func (s *Service) BaseURL() string {
	protocol := s.HealthCheck.Protocol
	if protocol == "" {
		protocol = DefaultHealthProtocol
	}
	return fmt.Sprintf("%s://%s:%d", protocol, s.Host, s.Port)
}

// HealthURL 返回服务健康检查端点的完整URL
func (s *Service) HealthURL() string {
	return s.BaseURL() + s.HealthCheck.Path
}

// Type 返回服务的类型标签（取元数据中的type键）
func (s *Service) Type() string {
	return s.Metadata["type"]
}

// Clone 返回服务记录的深拷贝，Metadata与原对象互不影响
func (s *Service) Clone() *Service {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// ServiceRegistrationRequest 表示服务注册请求
type ServiceRegistrationRequest struct {
	Name        string            `json:"name"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Version     string            `json:"version,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	HealthCheck *HealthCheck      `json:"health_check,omitempty"`
}

// ServiceRegistrationResponse 表示服务注册响应
type ServiceRegistrationResponse struct {
	ServiceID    string    `json:"service_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ServiceHeartbeatResponse 表示服务心跳响应
type ServiceHeartbeatResponse struct {
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// MetadataPatchRequest 表示元数据部分更新请求
type MetadataPatchRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// ApiResponse 表示通用API响应
type ApiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
