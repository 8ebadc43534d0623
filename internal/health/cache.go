package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
)

// Entry 表示某个服务最近一次的健康探测结果
type Entry struct {
	ServiceName string             `json:"service_name"`
	Status      model.HealthStatus `json:"status"`
	CheckedAt   time.Time          `json:"checked_at"`
	Detail      string             `json:"detail,omitempty"`
}

// cacheEntry 携带每个服务名独立的锁，保证同名探测串行、异名探测并发
type cacheEntry struct {
	mu sync.Mutex
	Entry
}

// Cache 实现健康结果的TTL缓存
// 不变量：返回的健康判断距上次探测不超过TTL；过期条目在返回前同步刷新
type Cache struct {
	prober Prober
	ttl    time.Duration
	logger config.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry

	// 可注入的时钟，测试用
	now func() time.Time
}

// NewCache 创建新的健康结果缓存
func NewCache(prober Prober, ttl time.Duration, logger config.Logger) *Cache {
	if logger == nil {
		logger = &config.NopLogger{}
	}
	return &Cache{
		prober:  prober,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// GetOrProbe 返回服务的健康状态
// 缓存未过期时直接返回，否则在per-name锁内同步探测后返回
func (c *Cache) GetOrProbe(ctx context.Context, name, url string) bool {
	entry := c.entry(name)

	// 同名探测串行化：并发的缓存未命中只会触发一次探测，
	// 后到者在锁内看到新鲜结果后直接返回
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := c.now()
	if !entry.CheckedAt.IsZero() && now.Sub(entry.CheckedAt) < c.ttl {
		return entry.Status == model.HealthStatusHealthy
	}

	// 过期或未探测过，同步刷新
	err := c.prober.Probe(ctx, url)
	checkedAt := c.now()

	// 按时间戳last-write-wins，不覆盖更新的结果
	if checkedAt.After(entry.CheckedAt) {
		entry.CheckedAt = checkedAt
		if err != nil {
			entry.Status = model.HealthStatusUnhealthy
			entry.Detail = err.Error()
			c.logger.Warn("服务健康探测失败",
				zap.String("service", name),
				zap.String("url", url),
				zap.Error(err),
			)
		} else {
			entry.Status = model.HealthStatusHealthy
			entry.Detail = ""
		}
	}

	return entry.Status == model.HealthStatusHealthy
}

// Invalidate 使指定服务的缓存立即过期
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Snapshot 返回当前所有缓存条目的副本，供系统健康端点使用
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	names := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e)
	}
	c.mu.Unlock()

	snapshot := make([]Entry, 0, len(names))
	for _, e := range names {
		e.mu.Lock()
		snapshot = append(snapshot, e.Entry)
		e.mu.Unlock()
	}
	return snapshot
}

// entry 获取或创建服务对应的缓存条目
func (c *Cache) entry(name string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[name]
	if !exists {
		e = &cacheEntry{
			Entry: Entry{
				ServiceName: name,
				Status:      model.HealthStatusUnknown,
			},
		}
		c.entries[name] = e
	}
	return e
}
