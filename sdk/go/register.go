package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	Name        string            `json:"name"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Version     string            `json:"version,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	HealthCheck *HealthCheck      `json:"health_check,omitempty"`
}

// Start 注册服务并启动心跳任务
// 幂等：已在运行时直接返回nil，不发起任何网络请求
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	// 注册失败时不启动心跳任务
	if err := c.register(ctx); err != nil {
		return err
	}

	// 启动受监督的心跳任务，Stop时取消并等待其退出
	hbCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.heartbeatLoop(hbCtx)

	c.running = true
	c.logger.Info("服务注册成功，心跳任务已启动",
		zap.String("service", c.config.ServiceName),
		zap.Duration("interval", c.config.HeartbeatInterval),
	)
	return nil
}

// Stop 停止心跳任务并注销服务
// 注销失败只记录日志不返回错误；未运行时为无操作
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	// 取消心跳任务并等待其完全退出后再释放资源
	c.cancel()
	c.wg.Wait()
	c.running = false

	// 尽力注销
	if err := c.deregister(ctx); err != nil {
		c.logger.Warn("注销服务失败",
			zap.String("service", c.config.ServiceName),
			zap.Error(err),
		)
	}

	// 释放连接资源
	c.httpClient.CloseIdleConnections()
	return nil
}

// UpdateMetadata 部分更新服务元数据
// 客户端未运行时直接返回ErrNotRunning，不发起网络请求
func (c *Client) UpdateMetadata(ctx context.Context, patch map[string]string) error {
	if !c.IsRunning() {
		return ErrNotRunning
	}

	body := map[string]interface{}{"metadata": patch}
	path := fmt.Sprintf("/registry/services/%s/metadata", url.PathEscape(c.config.ServiceName))

	resp, status, err := c.doRequest(ctx, http.MethodPatch, path, body, c.config.Timeout)
	if err != nil {
		return fmt.Errorf("更新元数据失败: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("更新元数据被拒绝: %s (状态码: %d)", resp.Message, status)
	}
	return nil
}

// register 发送注册请求，注册允许比常规操作更长的超时窗口
func (c *Client) register(ctx context.Context) error {
	req := RegisterRequest{
		Name:        c.config.ServiceName,
		Host:        c.config.ServiceHost,
		Port:        c.config.ServicePort,
		Version:     c.config.Version,
		Metadata:    c.config.Metadata,
		HealthCheck: c.config.HealthCheck,
	}

	resp, status, err := c.doRequest(ctx, http.MethodPost, "/registry/register", req, c.config.RegisterTimeout)
	if err != nil {
		return fmt.Errorf("服务注册失败: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("服务注册被拒绝: %s (状态码: %d)", resp.Message, status)
	}

	return nil
}

// deregister 发送注销请求
func (c *Client) deregister(ctx context.Context) error {
	path := fmt.Sprintf("/registry/services/%s", url.PathEscape(c.config.ServiceName))

	resp, status, err := c.doRequest(ctx, http.MethodDelete, path, nil, c.config.Timeout)
	if err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("服务注销被拒绝: %s (状态码: %d)", resp.Message, status)
	}
	return nil
}
