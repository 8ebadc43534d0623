package orchestrator

import (
	"net/http"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
)

// 依赖服务的逻辑名称
const (
	ServiceAgentManager      = "agent-manager"
	ServiceWorkflowScheduler = "workflow-scheduler"
	ServiceEvolutionRunner   = "evolution-runner"
)

// 能力名称
const (
	CapabilityCreateAgent     = "create_agent"
	CapabilityExecuteWorkflow = "execute_workflow"
	CapabilityEvolutionStatus = "evolution_status"
)

// Capability 描述协调器对外暴露的一项依赖下游的能力
// 进程启动时从配置构建一次，运行期不变
type Capability struct {
	// 能力名称
	Name string
	// 依赖的下游服务逻辑名称
	Service string
	// 转发到下游的方法和路径，路径中的:参数在调用时替换
	Method string
	Path   string
	// 特性开关，关闭时直接返回disabled响应
	Enabled bool
	// 降级响应的载荷，未配置时按空载荷降级（fail closed）
	DegradedPayload map[string]interface{}
	// 降级响应中建议调用方退避的秒数
	RetryAfterSeconds int
}

// BuildCapabilities 根据配置构建能力表
func BuildCapabilities(cfg *config.Config) map[string]*Capability {
	retryAfter := cfg.Degradation.RetryAfterSeconds

	return map[string]*Capability{
		CapabilityCreateAgent: {
			Name:    CapabilityCreateAgent,
			Service: ServiceAgentManager,
			Method:  http.MethodPost,
			Path:    "/api/v1/agents",
			Enabled: cfg.Features.CreateAgent,
			DegradedPayload: map[string]interface{}{
				"status":   "degraded",
				"agent_id": nil,
				"message":  "智能体管理服务当前不可用",
			},
			RetryAfterSeconds: retryAfter,
		},
		CapabilityExecuteWorkflow: {
			Name:    CapabilityExecuteWorkflow,
			Service: ServiceWorkflowScheduler,
			Method:  http.MethodPost,
			Path:    "/api/v1/workflows/:id/execute",
			Enabled: cfg.Features.ExecuteWorkflow,
			DegradedPayload: map[string]interface{}{
				"status":       "degraded",
				"execution_id": nil,
				"message":      "工作流调度服务当前不可用",
			},
			RetryAfterSeconds: retryAfter,
		},
		CapabilityEvolutionStatus: {
			Name:    CapabilityEvolutionStatus,
			Service: ServiceEvolutionRunner,
			Method:  http.MethodGet,
			Path:    "/api/v1/evolution/status",
			Enabled: cfg.Features.EvolutionStatus,
			DegradedPayload: map[string]interface{}{
				"status":     "unknown",
				"generation": 0,
				"message":    "进化运行服务当前不可用",
			},
			RetryAfterSeconds: retryAfter,
		},
	}
}

// staticDependencyURLs 返回配置中各依赖服务的静态兜底地址
func staticDependencyURLs(cfg *config.Config) map[string]string {
	urls := make(map[string]string)
	if cfg.Dependencies.AgentManagerURL != "" {
		urls[ServiceAgentManager] = cfg.Dependencies.AgentManagerURL
	}
	if cfg.Dependencies.WorkflowSchedulerURL != "" {
		urls[ServiceWorkflowScheduler] = cfg.Dependencies.WorkflowSchedulerURL
	}
	if cfg.Dependencies.EvolutionRunnerURL != "" {
		urls[ServiceEvolutionRunner] = cfg.Dependencies.EvolutionRunnerURL
	}
	return urls
}
