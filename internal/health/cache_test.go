package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
)

// countingProber 记录探测次数的桩探测器
type countingProber struct {
	calls int64
	err   error
	// 可选：模拟探测耗时
	delay time.Duration
}

func (p *countingProber) Probe(ctx context.Context, url string) error {
	atomic.AddInt64(&p.calls, 1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.err
}

func (p *countingProber) count() int64 {
	return atomic.LoadInt64(&p.calls)
}

func TestGetOrProbeCachesWithinTTL(t *testing.T) {
	prober := &countingProber{}
	cache := NewCache(prober, 300*time.Second, nil)

	// 可控时钟
	base := time.Now()
	current := base
	cache.now = func() time.Time { return current }

	ctx := context.Background()

	// t=0 首次查询触发探测
	assert.True(t, cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health"))
	assert.EqualValues(t, 1, prober.count(), "首次查询应触发一次探测")

	// t=299 仍在TTL内，复用缓存
	current = base.Add(299 * time.Second)
	assert.True(t, cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health"))
	assert.EqualValues(t, 1, prober.count(), "TTL内的查询不应触发探测")

	// t=301 超过TTL，同步刷新
	current = base.Add(301 * time.Second)
	assert.True(t, cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health"))
	assert.EqualValues(t, 2, prober.count(), "TTL过期后的首次查询应触发一次新探测")
}

func TestGetOrProbeCachesUnhealthyResult(t *testing.T) {
	prober := &countingProber{err: errors.New("连接被拒绝")}
	cache := NewCache(prober, 300*time.Second, nil)
	ctx := context.Background()

	assert.False(t, cache.GetOrProbe(ctx, "evolution-runner", "http://127.0.0.1:9002/health"))
	assert.False(t, cache.GetOrProbe(ctx, "evolution-runner", "http://127.0.0.1:9002/health"))
	assert.EqualValues(t, 1, prober.count(), "不健康结果同样应被缓存")
}

func TestConcurrentMissesTriggerSingleProbe(t *testing.T) {
	// 给探测加一点耗时，放大并发窗口
	prober := &countingProber{delay: 50 * time.Millisecond}
	cache := NewCache(prober, 300*time.Second, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, prober.count(), "同名并发未命中只应触发一次探测")
}

func TestDifferentNamesProbeIndependently(t *testing.T) {
	prober := &countingProber{}
	cache := NewCache(prober, 300*time.Second, nil)
	ctx := context.Background()

	cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health")
	cache.GetOrProbe(ctx, "evolution-runner", "http://127.0.0.1:9002/health")

	assert.EqualValues(t, 2, prober.count(), "不同服务名应各自探测")
}

func TestInvalidateForcesRefresh(t *testing.T) {
	prober := &countingProber{}
	cache := NewCache(prober, 300*time.Second, nil)
	ctx := context.Background()

	cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health")
	cache.Invalidate("agent-manager")
	cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health")

	assert.EqualValues(t, 2, prober.count(), "作废缓存后应重新探测")
}

func TestSnapshot(t *testing.T) {
	prober := &countingProber{}
	cache := NewCache(prober, 300*time.Second, nil)
	ctx := context.Background()

	cache.GetOrProbe(ctx, "agent-manager", "http://127.0.0.1:9001/health")

	snapshot := cache.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "agent-manager", snapshot[0].ServiceName)
	assert.Equal(t, model.HealthStatusHealthy, snapshot[0].Status)
	assert.False(t, snapshot[0].CheckedAt.IsZero(), "快照应包含探测时间")
}
