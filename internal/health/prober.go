package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober 执行单次存活探测，返回nil表示健康
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber 基于HTTP GET的存活探测器
// 超时、连接失败和非2xx响应一律视为不健康，探测本身不做重试
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber 创建带硬超时的HTTP探测器
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Probe 对健康检查端点执行一次探测
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("创建探测请求失败: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("探测请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("健康检查返回非2xx状态码: %d", resp.StatusCode)
	}

	return nil
}
