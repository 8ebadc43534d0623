package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// CallResponse 表示对已发现服务的一次调用结果
// 下游的非2xx业务错误不在SDK层转换为error，由调用方自行判断
type CallResponse struct {
	StatusCode int
	Body       []byte
}

// Discover 根据名称查询服务的当前注册信息
// 服务未注册时返回ErrServiceNotFound；注册表不可达时返回包装后的传输错误
func (c *Client) Discover(ctx context.Context, name string) (*ServiceInfo, error) {
	path := fmt.Sprintf("/registry/services/%s", url.PathEscape(name))

	resp, status, err := c.doRequest(ctx, http.MethodGet, path, nil, c.config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("查询注册表失败: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("查询服务被拒绝: %s (状态码: %d)", resp.Message, status)
	}

	var info ServiceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("解析服务信息失败: %w", err)
	}
	return &info, nil
}

// DiscoverByType 按类型查询服务，返回注册顺序的列表（可能为空）
func (c *Client) DiscoverByType(ctx context.Context, serviceType string) ([]*ServiceInfo, error) {
	path := "/registry/services?type=" + url.QueryEscape(serviceType)

	resp, status, err := c.doRequest(ctx, http.MethodGet, path, nil, c.config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("查询注册表失败: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("查询服务列表被拒绝: %s (状态码: %d)", resp.Message, status)
	}

	var data struct {
		Services []*ServiceInfo `json:"services"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("解析服务列表失败: %w", err)
	}
	return data.Services, nil
}

// ResolveBaseURL 解析服务的基础URL（协议取自健康检查描述符）
func (c *Client) ResolveBaseURL(ctx context.Context, name string) (string, error) {
	info, err := c.Discover(ctx, name)
	if err != nil {
		return "", err
	}
	return info.BaseURL(), nil
}

// Call 解析目标服务地址后发起调用
// 服务无法解析时返回ErrServiceNotFound，与"服务返回了错误"相区分
func (c *Client) Call(ctx context.Context, name, method, path string, body interface{}) (*CallResponse, error) {
	baseURL, err := c.ResolveBaseURL(ctx, name)
	if err != nil {
		return nil, err
	}

	// 准备请求体
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建调用请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用服务[%s]失败: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取服务[%s]响应失败: %w", name, err)
	}

	return &CallResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}, nil
}
