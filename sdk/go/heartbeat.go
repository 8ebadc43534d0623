package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// heartbeatLoop 心跳循环
// 同一时刻至多一个在途心跳；除Stop的取消外循环永不退出：
// 心跳被拒绝时立即重新注册自愈，其他异常记录日志后固定退避再继续
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rejected, err := c.sendHeartbeat(ctx)
			if err == nil {
				continue
			}

			if rejected {
				// 注册表不再认识我们（通常是注册已过期被清理），
				// 在下一次心跳之前完成重新注册
				c.logger.Warn("心跳被拒绝，立即重新注册",
					zap.String("service", c.config.ServiceName),
					zap.Error(err),
				)
				if regErr := c.register(ctx); regErr != nil {
					c.logger.Error("重新注册失败，退避后继续",
						zap.String("service", c.config.ServiceName),
						zap.Error(regErr),
					)
					c.backoff(ctx)
				}
				continue
			}

			// 传输层异常：记录后退避，循环继续
			c.logger.Error("心跳发送失败，退避后继续",
				zap.String("service", c.config.ServiceName),
				zap.Error(err),
			)
			c.backoff(ctx)
		}
	}
}

// sendHeartbeat 发送一次心跳
// rejected为true表示注册表明确拒绝（非2xx响应），需要重新注册
func (c *Client) sendHeartbeat(ctx context.Context) (rejected bool, err error) {
	path := fmt.Sprintf("/registry/services/%s/heartbeat", url.PathEscape(c.config.ServiceName))

	resp, status, err := c.doRequest(ctx, http.MethodPost, path, nil, c.config.Timeout)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return true, fmt.Errorf("心跳被拒绝: %s (状态码: %d)", resp.Message, status)
	}
	return false, nil
}

// backoff 固定时长退避，期间响应取消
func (c *Client) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.config.RetryBackoff):
	}
}
