package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

// RegistryService 提供服务注册相关的业务逻辑
type RegistryService interface {
	// RegisterService 注册服务
	RegisterService(ctx context.Context, req *model.ServiceRegistrationRequest) (*model.ServiceRegistrationResponse, error)

	// DeregisterService 注销服务
	DeregisterService(ctx context.Context, name string) error

	// UpdateHeartbeat 更新服务心跳
	UpdateHeartbeat(ctx context.Context, name string) (*model.ServiceHeartbeatResponse, error)

	// PatchMetadata 部分更新服务元数据
	PatchMetadata(ctx context.Context, name string, patch map[string]string) error

	// GetService 根据名称查询服务
	GetService(ctx context.Context, name string) (*model.Service, error)

	// ListServices 查询服务列表，serviceType为空时返回全部
	ListServices(ctx context.Context, serviceType string) ([]*model.Service, error)

	// CleanupStaleServices 清理过期服务
	CleanupStaleServices(ctx context.Context) (int, error)
}

// registryService 实现 RegistryService 接口
type registryService struct {
	store             store.ServiceStore
	heartbeatInterval time.Duration
	staleFactor       int
}

// NewRegistryService 创建一个新的服务注册服务
// 超过 heartbeatInterval * staleFactor 未心跳的注册视为过期
func NewRegistryService(s store.ServiceStore, heartbeatInterval time.Duration, staleFactor int) RegistryService {
	if staleFactor < 2 {
		staleFactor = 2
	}
	return &registryService{
		store:             s,
		heartbeatInterval: heartbeatInterval,
		staleFactor:       staleFactor,
	}
}

// RegisterService 注册服务
func (s *registryService) RegisterService(ctx context.Context, req *model.ServiceRegistrationRequest) (*model.ServiceRegistrationResponse, error) {
	// 创建服务实例
	service := &model.Service{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Version:  req.Version,
		Metadata: req.Metadata,
	}

	// 应用健康检查描述符，未提供时使用默认值
	if req.HealthCheck != nil {
		service.HealthCheck = *req.HealthCheck
	}
	service.HealthCheck.Normalize()

	// 注册服务
	if err := s.store.Register(ctx, service); err != nil {
		return nil, fmt.Errorf("注册服务失败: %w", err)
	}

	// 返回注册响应
	return &model.ServiceRegistrationResponse{
		ServiceID:    service.ID,
		RegisteredAt: service.RegisteredAt,
	}, nil
}

// DeregisterService 注销服务
func (s *registryService) DeregisterService(ctx context.Context, name string) error {
	if err := s.store.Deregister(ctx, name); err != nil {
		return fmt.Errorf("注销服务失败: %w", err)
	}
	return nil
}

// UpdateHeartbeat 更新服务心跳
func (s *registryService) UpdateHeartbeat(ctx context.Context, name string) (*model.ServiceHeartbeatResponse, error) {
	// 更新服务心跳
	if err := s.store.Heartbeat(ctx, name); err != nil {
		return nil, fmt.Errorf("更新服务心跳失败: %w", err)
	}

	// 获取服务信息
	service, err := s.store.GetService(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("获取服务信息失败: %w", err)
	}

	// 返回心跳响应
	return &model.ServiceHeartbeatResponse{
		LastHeartbeat: service.LastHeartbeat,
	}, nil
}

// PatchMetadata 部分更新服务元数据
func (s *registryService) PatchMetadata(ctx context.Context, name string, patch map[string]string) error {
	if err := s.store.PatchMetadata(ctx, name, patch); err != nil {
		return fmt.Errorf("更新服务元数据失败: %w", err)
	}
	return nil
}

// GetService 根据名称查询服务
func (s *registryService) GetService(ctx context.Context, name string) (*model.Service, error) {
	return s.store.GetService(ctx, name)
}

// ListServices 查询服务列表
func (s *registryService) ListServices(ctx context.Context, serviceType string) ([]*model.Service, error) {
	if serviceType != "" {
		return s.store.ListServicesByType(ctx, serviceType)
	}
	return s.store.ListServices(ctx)
}

// CleanupStaleServices 清理过期服务
func (s *registryService) CleanupStaleServices(ctx context.Context) (int, error) {
	// 计算过期时间
	before := time.Now().Add(-s.heartbeatInterval * time.Duration(s.staleFactor))

	// 清理过期服务
	count, err := s.store.CleanupStaleServices(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("清理过期服务失败: %w", err)
	}

	return count, nil
}
