package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
// 进程启动时加载一次，之后不再变更（特性开关不支持热更新）
type Config struct {
	// 服务器配置
	Server struct {
		// 协调器API（对外能力入口）
		API struct {
			ListenAddress string `mapstructure:"listen_address"`
			Port          int    `mapstructure:"port"`
		} `mapstructure:"api"`

		// 服务注册API
		Registry struct {
			ListenAddress string `mapstructure:"listen_address"`
			Port          int    `mapstructure:"port"`
		} `mapstructure:"registry"`
	} `mapstructure:"server"`

	// 注册表配置
	Registry struct {
		// 心跳间隔
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		// 过期宽限系数：超过 heartbeat_interval * stale_factor 未心跳的注册视为过期
		StaleFactor int `mapstructure:"stale_factor"`
		// 过期清理任务的执行间隔
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"registry"`

	// 健康检查配置
	Health struct {
		// 健康结果缓存TTL
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		// 单次探测的超时时间
		ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	} `mapstructure:"health"`

	// HTTP转发配置
	HTTP struct {
		// 转发下游调用的全局超时时间
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"http"`

	// 特性开关：关闭的能力直接返回disabled响应，不做健康检查
	Features struct {
		CreateAgent     bool `mapstructure:"create_agent"`
		ExecuteWorkflow bool `mapstructure:"execute_workflow"`
		EvolutionStatus bool `mapstructure:"evolution_status"`
	} `mapstructure:"features"`

	// 依赖服务的静态地址（注册表中查不到时的兜底）
	Dependencies struct {
		AgentManagerURL      string `mapstructure:"agent_manager_url"`
		WorkflowSchedulerURL string `mapstructure:"workflow_scheduler_url"`
		EvolutionRunnerURL   string `mapstructure:"evolution_runner_url"`
	} `mapstructure:"dependencies"`

	// 降级响应中建议调用方退避的秒数
	Degradation struct {
		RetryAfterSeconds int `mapstructure:"retry_after_seconds"`
	} `mapstructure:"degradation"`

	// etcd配置（enabled为false时使用内存存储）
	Etcd struct {
		Enabled        bool          `mapstructure:"enabled"`
		Endpoints      []string      `mapstructure:"endpoints"`
		Username       string        `mapstructure:"username"`
		Password       string        `mapstructure:"password"`
		DialTimeout    time.Duration `mapstructure:"dial_timeout"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"etcd"`

	// DNS发现服务配置
	DNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Protocol      string `mapstructure:"protocol"` // "udp", "tcp", 或 "both"
		Domain        string `mapstructure:"domain"`
		TTL           uint32 `mapstructure:"ttl"`
	} `mapstructure:"dns"`

	// 认证配置
	Auth struct {
		// 注册API的Bearer令牌，为空表示不校验
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"auth"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")      // 配置文件名（无扩展名）
		v.AddConfigPath(".")           // 当前目录
		v.AddConfigPath("./configs")   // configs目录
		v.AddConfigPath("$HOME/.dean") // 用户目录
		v.AddConfigPath("/etc/dean")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅记录警告；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("DEAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 从环境变量覆盖
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.api.listen_address", "0.0.0.0")
	v.SetDefault("server.api.port", 8080)
	v.SetDefault("server.registry.listen_address", "0.0.0.0")
	v.SetDefault("server.registry.port", 8081)

	// 注册表默认配置
	v.SetDefault("registry.heartbeat_interval", 25*time.Second)
	v.SetDefault("registry.stale_factor", 2)
	v.SetDefault("registry.cleanup_interval", 30*time.Second)

	// 健康检查默认配置
	v.SetDefault("health.cache_ttl", 300*time.Second)
	v.SetDefault("health.probe_timeout", 5*time.Second)

	// HTTP转发默认配置
	v.SetDefault("http.request_timeout", 30*time.Second)

	// 特性开关默认全部开启
	v.SetDefault("features.create_agent", true)
	v.SetDefault("features.execute_workflow", true)
	v.SetDefault("features.evolution_status", true)

	// 依赖服务静态地址默认为空（只走注册表发现）
	v.SetDefault("dependencies.agent_manager_url", "")
	v.SetDefault("dependencies.workflow_scheduler_url", "")
	v.SetDefault("dependencies.evolution_runner_url", "")

	// 降级默认配置
	v.SetDefault("degradation.retry_after_seconds", 30)

	// etcd默认配置
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.request_timeout", 5*time.Second)

	// DNS服务默认配置
	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 8053)
	v.SetDefault("dns.protocol", "both")
	v.SetDefault("dns.domain", "dean.local")
	v.SetDefault("dns.ttl", 60)

	// 认证默认配置
	v.SetDefault("auth.api_token", "")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("server.api.port", "DEAN_API_PORT")
	v.BindEnv("server.registry.port", "DEAN_REGISTRY_PORT")
	v.BindEnv("registry.heartbeat_interval", "DEAN_HEARTBEAT_INTERVAL")
	v.BindEnv("health.cache_ttl", "DEAN_HEALTH_CACHE_TTL")
	v.BindEnv("auth.api_token", "DEAN_API_TOKEN")
	v.BindEnv("features.create_agent", "DEAN_FEATURE_CREATE_AGENT")
	v.BindEnv("features.execute_workflow", "DEAN_FEATURE_EXECUTE_WORKFLOW")
	v.BindEnv("features.evolution_status", "DEAN_FEATURE_EVOLUTION_STATUS")
	v.BindEnv("dependencies.agent_manager_url", "DEAN_AGENT_MANAGER_URL")
	v.BindEnv("dependencies.workflow_scheduler_url", "DEAN_WORKFLOW_SCHEDULER_URL")
	v.BindEnv("dependencies.evolution_runner_url", "DEAN_EVOLUTION_RUNNER_URL")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	// 按顺序检查不同位置的配置文件
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.dean/config.yaml",
		"/etc/dean/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
