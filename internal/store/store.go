package store

import (
	"context"
	"errors"
	"time"

	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
)

// ServiceStore 定义服务注册表存储接口
// 注册表以服务名称为唯一键，假设每个逻辑服务至多一个存活实例
type ServiceStore interface {
	// Register 注册服务实例，同名注册后者覆盖前者
	Register(ctx context.Context, service *model.Service) error

	// Deregister 注销服务实例
	Deregister(ctx context.Context, name string) error

	// Heartbeat 刷新服务的最后心跳时间
	Heartbeat(ctx context.Context, name string) error

	// PatchMetadata 合并更新服务元数据
	PatchMetadata(ctx context.Context, name string, patch map[string]string) error

	// GetService 根据名称获取服务
	GetService(ctx context.Context, name string) (*model.Service, error)

	// ListServices 按注册顺序获取所有服务
	ListServices(ctx context.Context) ([]*model.Service, error)

	// ListServicesByType 按注册顺序获取指定类型的服务
	ListServicesByType(ctx context.Context, serviceType string) ([]*model.Service, error)

	// CleanupStaleServices 清理最后心跳早于before的服务，返回清理数量
	CleanupStaleServices(ctx context.Context, before time.Time) (int, error)
}

// StoreError 定义存储操作可能返回的错误类型
type StoreError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *StoreError) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInternal,
		Message: message,
	}
}

// IsNotFound 判断错误是否为资源不存在
func IsNotFound(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code == ErrNotFound
	}
	return false
}
