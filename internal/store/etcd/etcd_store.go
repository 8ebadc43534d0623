package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

const (
	// 服务存储的前缀
	servicePrefix = "/dean/services/"
)

// EtcdStore 实现基于etcd的服务注册表
// 注册时写入带租约的键，停止心跳的服务由etcd在租约到期后自动删除
type EtcdStore struct {
	client *Client
	// 租约TTL，即 heartbeat_interval * stale_factor
	leaseTTL time.Duration
}

// NewEtcdStore 创建一个新的基于etcd的服务注册表
func NewEtcdStore(client *Client, leaseTTL time.Duration) *EtcdStore {
	return &EtcdStore{
		client:   client,
		leaseTTL: leaseTTL,
	}
}

// serviceKey 获取服务的存储键
func serviceKey(name string) string {
	return servicePrefix + name
}

// Register 注册服务实例，同名注册后者覆盖前者
func (s *EtcdStore) Register(ctx context.Context, service *model.Service) error {
	if service.Name == "" || service.Host == "" || service.Port <= 0 {
		return store.NewInvalidArgumentError("服务名称、主机和端口不能为空")
	}

	// 为本次注册生成新的实例ID
	if service.ID == "" {
		service.ID = uuid.New().String()
	}

	// 补全健康检查描述符并设置时间戳
	service.HealthCheck.Normalize()
	now := time.Now()
	service.RegisteredAt = now
	service.LastHeartbeat = now

	return s.put(ctx, service)
}

// Deregister 注销服务实例
func (s *EtcdStore) Deregister(ctx context.Context, name string) error {
	if name == "" {
		return store.NewInvalidArgumentError("服务名称不能为空")
	}

	if _, err := s.GetService(ctx, name); err != nil {
		return err
	}

	if err := s.client.Delete(ctx, serviceKey(name)); err != nil {
		return store.NewInternalError(fmt.Sprintf("删除服务失败: %v", err))
	}
	return nil
}

// Heartbeat 刷新服务的最后心跳时间并续租
func (s *EtcdStore) Heartbeat(ctx context.Context, name string) error {
	service, err := s.GetService(ctx, name)
	if err != nil {
		return err
	}

	service.LastHeartbeat = time.Now()
	return s.put(ctx, service)
}

// PatchMetadata 合并更新服务元数据
func (s *EtcdStore) PatchMetadata(ctx context.Context, name string, patch map[string]string) error {
	service, err := s.GetService(ctx, name)
	if err != nil {
		return err
	}

	if service.Metadata == nil {
		service.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		service.Metadata[k] = v
	}
	return s.put(ctx, service)
}

// GetService 根据名称获取服务
func (s *EtcdStore) GetService(ctx context.Context, name string) (*model.Service, error) {
	if name == "" {
		return nil, store.NewInvalidArgumentError("服务名称不能为空")
	}

	data, err := s.client.Get(ctx, serviceKey(name))
	if err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("获取服务失败: %v", err))
	}
	if data == nil {
		return nil, store.NewNotFoundError("服务不存在: " + name)
	}

	var service model.Service
	if err := json.Unmarshal(data, &service); err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("解析服务信息失败: %v", err))
	}
	return &service, nil
}

// ListServices 获取所有服务，按注册时间排序
// 跨进程重启后顺序不保证与注册顺序一致
func (s *EtcdStore) ListServices(ctx context.Context) ([]*model.Service, error) {
	kvs, err := s.client.GetWithPrefix(ctx, servicePrefix)
	if err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("获取服务列表失败: %v", err))
	}

	services := make([]*model.Service, 0, len(kvs))
	for key, data := range kvs {
		var service model.Service
		if err := json.Unmarshal(data, &service); err != nil {
			return nil, store.NewInternalError(fmt.Sprintf("解析服务信息失败 [%s]: %v", key, err))
		}
		services = append(services, &service)
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].RegisteredAt.Before(services[j].RegisteredAt)
	})
	return services, nil
}

// ListServicesByType 获取指定类型的服务
func (s *EtcdStore) ListServicesByType(ctx context.Context, serviceType string) ([]*model.Service, error) {
	if serviceType == "" {
		return nil, store.NewInvalidArgumentError("服务类型不能为空")
	}

	all, err := s.ListServices(ctx)
	if err != nil {
		return nil, err
	}

	services := make([]*model.Service, 0)
	for _, service := range all {
		if service.Type() == serviceType {
			services = append(services, service)
		}
	}
	return services, nil
}

// CleanupStaleServices 清理最后心跳早于before的服务
// 租约已经覆盖了大部分过期清理，这里兜底处理租约续期异常的残留记录
func (s *EtcdStore) CleanupStaleServices(ctx context.Context, before time.Time) (int, error) {
	all, err := s.ListServices(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, service := range all {
		if service.LastHeartbeat.Before(before) {
			if err := s.client.Delete(ctx, serviceKey(service.Name)); err != nil {
				return count, store.NewInternalError(fmt.Sprintf("删除过期服务失败 [%s]: %v", service.Name, err))
			}
			count++
		}
	}
	return count, nil
}

// put 序列化服务信息并写入带租约的键
func (s *EtcdStore) put(ctx context.Context, service *model.Service) error {
	data, err := json.Marshal(service)
	if err != nil {
		return store.NewInternalError(fmt.Sprintf("序列化服务信息失败: %v", err))
	}

	if s.leaseTTL > 0 {
		err = s.client.PutWithLease(ctx, serviceKey(service.Name), data, s.leaseTTL)
	} else {
		err = s.client.Put(ctx, serviceKey(service.Name), data)
	}
	if err != nil {
		return store.NewInternalError(fmt.Sprintf("存储服务信息失败: %v", err))
	}
	return nil
}
