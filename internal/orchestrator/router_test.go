package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/health"
	"github.com/mprestonsparks/DEAN-sub001/internal/store/memory"
)

// countingProber 记录探测次数的桩探测器
type countingProber struct {
	calls int64
	err   error
}

func (p *countingProber) Probe(ctx context.Context, url string) error {
	atomic.AddInt64(&p.calls, 1)
	return p.err
}

func (p *countingProber) count() int64 {
	return atomic.LoadInt64(&p.calls)
}

// testConfig 返回全部特性开启的测试配置
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Features.CreateAgent = true
	cfg.Features.ExecuteWorkflow = true
	cfg.Features.EvolutionStatus = true
	cfg.Degradation.RetryAfterSeconds = 30
	cfg.HTTP.RequestTimeout = 5 * time.Second
	cfg.Health.CacheTTL = 300 * time.Second
	return cfg
}

// registerDependency 将httptest服务器注册为指定逻辑名称的依赖
func registerDependency(t *testing.T, st *memory.MemoryStore, name, serverURL string) {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	require.NoError(t, st.Register(context.Background(), &model.Service{
		Name: name,
		Host: u.Hostname(),
		Port: port,
	}))
}

func TestInvokeDisabledSkipsProbeAndForward(t *testing.T) {
	var dependencyCalls int64
	dependency := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dependencyCalls, 1)
	}))
	defer dependency.Close()

	st := memory.NewMemoryStore()
	registerDependency(t, st, ServiceAgentManager, dependency.URL)

	cfg := testConfig()
	cfg.Features.CreateAgent = false

	prober := &countingProber{}
	cache := health.NewCache(prober, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, st, cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityCreateAgent, nil, nil)

	// 无论依赖健康与否，关闭的能力都必须直接返回disabled
	assert.Equal(t, StateDisabled, result.State)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, map[string]interface{}{
		"status":            "disabled",
		"service_available": false,
	}, result.Payload, "disabled响应的载荷必须精确匹配")
	assert.EqualValues(t, 0, prober.count(), "关闭的能力不应触发健康探测")
	assert.EqualValues(t, 0, atomic.LoadInt64(&dependencyCalls), "关闭的能力不应调用依赖")
}

func TestInvokeForwardsWhenHealthy(t *testing.T) {
	dependency := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/agents", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"agent_id":"a-1","status":"created"}`))
	}))
	defer dependency.Close()

	st := memory.NewMemoryStore()
	registerDependency(t, st, ServiceAgentManager, dependency.URL)

	cfg := testConfig()
	prober := &countingProber{}
	cache := health.NewCache(prober, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, st, cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityCreateAgent, nil, []byte(`{"name":"demo"}`))

	assert.Equal(t, StateSuccess, result.State)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.JSONEq(t, `{"agent_id":"a-1","status":"created"}`, string(result.Body))
	assert.EqualValues(t, 1, prober.count(), "首次调用应探测一次依赖健康")
}

func TestInvokePassesThroughUpstreamError(t *testing.T) {
	dependency := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"无效的智能体定义"}`))
	}))
	defer dependency.Close()

	st := memory.NewMemoryStore()
	registerDependency(t, st, ServiceAgentManager, dependency.URL)

	cfg := testConfig()
	cache := health.NewCache(&countingProber{}, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, st, cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityCreateAgent, nil, []byte(`{}`))

	// 依赖健康但返回业务错误时必须原样透传
	assert.Equal(t, StateUpstreamError, result.State)
	assert.Equal(t, http.StatusUnprocessableEntity, result.StatusCode)
	assert.JSONEq(t, `{"error":"无效的智能体定义"}`, string(result.Body))
}

func TestInvokeDegradesWhenUnhealthy(t *testing.T) {
	st := memory.NewMemoryStore()
	require.NoError(t, st.Register(context.Background(), &model.Service{
		Name: ServiceEvolutionRunner,
		Host: "10.0.0.9",
		Port: 9002,
	}))

	cfg := testConfig()
	prober := &countingProber{err: errors.New("连接超时")}
	cache := health.NewCache(prober, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, st, cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityEvolutionStatus, nil, nil)

	assert.Equal(t, StateDegraded, result.State)
	assert.Equal(t, http.StatusOK, result.StatusCode, "降级响应不应是5xx")
	assert.Equal(t, false, result.Payload["service_available"], "降级响应必须显式标记service_available")
	assert.Equal(t, 30, result.Payload["retry_after_seconds"], "降级响应应携带退避提示")
	assert.Equal(t, "unknown", result.Payload["status"])
}

func TestInvokeDegradesWhenUnresolvable(t *testing.T) {
	// 注册表为空且无静态兜底地址
	cfg := testConfig()
	prober := &countingProber{}
	cache := health.NewCache(prober, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, memory.NewMemoryStore(), cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityCreateAgent, nil, nil)

	assert.Equal(t, StateDegraded, result.State)
	assert.Equal(t, false, result.Payload["service_available"])
	assert.EqualValues(t, 0, prober.count(), "无法解析的依赖不应触发探测")
}

func TestInvokeUsesStaticURLFallback(t *testing.T) {
	dependency := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running","generation":42}`))
	}))
	defer dependency.Close()

	// 注册表为空，但配置了静态兜底地址
	cfg := testConfig()
	cfg.Dependencies.EvolutionRunnerURL = dependency.URL

	cache := health.NewCache(&countingProber{}, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, memory.NewMemoryStore(), cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityEvolutionStatus, nil, nil)

	assert.Equal(t, StateSuccess, result.State)
	assert.JSONEq(t, `{"status":"running","generation":42}`, string(result.Body))
}

func TestInvokeUnknownCapabilityFailsClosed(t *testing.T) {
	cfg := testConfig()
	cache := health.NewCache(&countingProber{}, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, memory.NewMemoryStore(), cache, nil)

	result := router.ForwardJSON(context.Background(), "no_such_capability", nil, nil)

	// 未定义的能力按空载荷降级，协调器自身不报错
	assert.Equal(t, StateDegraded, result.State)
	assert.Equal(t, false, result.Payload["service_available"])
}

func TestInvokeReusesHealthCache(t *testing.T) {
	dependency := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer dependency.Close()

	st := memory.NewMemoryStore()
	registerDependency(t, st, ServiceAgentManager, dependency.URL)

	cfg := testConfig()
	prober := &countingProber{}
	cache := health.NewCache(prober, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, st, cache, nil)

	for i := 0; i < 5; i++ {
		result := router.ForwardJSON(context.Background(), CapabilityCreateAgent, nil, nil)
		assert.Equal(t, StateSuccess, result.State)
	}

	assert.EqualValues(t, 1, prober.count(), "TTL内的重复调用应复用健康缓存")
}

func TestInvokeSubstitutesPathParams(t *testing.T) {
	dependency := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/workflows/wf-7/execute", r.URL.Path, "路径参数应替换到下游路径中")
		w.Write([]byte(`{"execution_id":"e-1","status":"started"}`))
	}))
	defer dependency.Close()

	st := memory.NewMemoryStore()
	registerDependency(t, st, ServiceWorkflowScheduler, dependency.URL)

	cfg := testConfig()
	cache := health.NewCache(&countingProber{}, cfg.Health.CacheTTL, nil)
	router := NewRouter(cfg, st, cache, nil)

	result := router.ForwardJSON(context.Background(), CapabilityExecuteWorkflow,
		map[string]string{"id": "wf-7"}, []byte(`{"input":{}}`))

	assert.Equal(t, StateSuccess, result.State)
	assert.JSONEq(t, `{"execution_id":"e-1","status":"started"}`, string(result.Body))
}
