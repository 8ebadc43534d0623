package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

// MemoryStore 是基于内存的服务注册表实现，也是默认存储
// 通过order切片保留注册顺序，供ListServices按注册顺序返回
// 读取接口返回深拷贝：调用方在锁外序列化或修改返回值时，
// 不会与Heartbeat和PatchMetadata对存储内对象的写入发生竞争
type MemoryStore struct {
	services map[string]*model.Service
	order    []string
	mutex    sync.RWMutex
}

// NewMemoryStore 创建新的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services: make(map[string]*model.Service),
	}
}

// Register 注册服务实例，同名注册后者覆盖前者
func (m *MemoryStore) Register(ctx context.Context, service *model.Service) error {
	if service.Name == "" || service.Host == "" || service.Port <= 0 {
		return store.NewInvalidArgumentError("服务名称、主机和端口不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// 为本次注册生成新的实例ID
	if service.ID == "" {
		service.ID = uuid.New().String()
	}

	// 补全健康检查描述符
	service.HealthCheck.Normalize()

	// 设置注册时间和最后心跳时间
	now := time.Now()
	service.RegisteredAt = now
	service.LastHeartbeat = now

	// 重新注册时保持原有的注册顺序
	if _, exists := m.services[service.Name]; !exists {
		m.order = append(m.order, service.Name)
	}

	// 存入拷贝，注册完成后调用方对原对象的修改不影响存储
	m.services[service.Name] = service.Clone()
	return nil
}

// Deregister 注销服务实例
func (m *MemoryStore) Deregister(ctx context.Context, name string) error {
	if name == "" {
		return store.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.services[name]; !exists {
		return store.NewNotFoundError("服务不存在: " + name)
	}

	delete(m.services, name)
	m.removeFromOrder(name)
	return nil
}

// Heartbeat 刷新服务的最后心跳时间
func (m *MemoryStore) Heartbeat(ctx context.Context, name string) error {
	if name == "" {
		return store.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	service, exists := m.services[name]
	if !exists {
		return store.NewNotFoundError("服务不存在: " + name)
	}

	service.LastHeartbeat = time.Now()
	return nil
}

// PatchMetadata 合并更新服务元数据
func (m *MemoryStore) PatchMetadata(ctx context.Context, name string, patch map[string]string) error {
	if name == "" {
		return store.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	service, exists := m.services[name]
	if !exists {
		return store.NewNotFoundError("服务不存在: " + name)
	}

	if service.Metadata == nil {
		service.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		service.Metadata[k] = v
	}
	return nil
}

// GetService 根据名称获取服务
func (m *MemoryStore) GetService(ctx context.Context, name string) (*model.Service, error) {
	if name == "" {
		return nil, store.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	service, exists := m.services[name]
	if !exists {
		return nil, store.NewNotFoundError("服务不存在: " + name)
	}

	return service.Clone(), nil
}

// ListServices 按注册顺序获取所有服务
func (m *MemoryStore) ListServices(ctx context.Context) ([]*model.Service, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	services := make([]*model.Service, 0, len(m.services))
	for _, name := range m.order {
		if service, exists := m.services[name]; exists {
			services = append(services, service.Clone())
		}
	}

	return services, nil
}

// ListServicesByType 按注册顺序获取指定类型的服务
func (m *MemoryStore) ListServicesByType(ctx context.Context, serviceType string) ([]*model.Service, error) {
	if serviceType == "" {
		return nil, store.NewInvalidArgumentError("服务类型不能为空")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	services := make([]*model.Service, 0)
	for _, name := range m.order {
		if service, exists := m.services[name]; exists && service.Type() == serviceType {
			services = append(services, service.Clone())
		}
	}

	return services, nil
}

// CleanupStaleServices 清理最后心跳早于before的服务
func (m *MemoryStore) CleanupStaleServices(ctx context.Context, before time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	staleServices := make([]string, 0)
	for name, service := range m.services {
		if service.LastHeartbeat.Before(before) {
			staleServices = append(staleServices, name)
		}
	}

	for _, name := range staleServices {
		delete(m.services, name)
		m.removeFromOrder(name)
	}

	return len(staleServices), nil
}

// removeFromOrder 从注册顺序中移除服务名称，调用方需持有写锁
func (m *MemoryStore) removeFromOrder(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
