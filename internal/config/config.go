package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AGENT_CONFIG"

// Config 描述了 Agent 服务在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Agent         AgentConfig         `json:"agent" yaml:"agent"`
	LLM           LLMConfig           `json:"llm" yaml:"llm"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Mail          MailConfig          `json:"mail" yaml:"mail"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Audit         AuditConfig         `json:"audit" yaml:"audit"`
	Logging       logger.Config       `json:"logging" yaml:"logging"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
}

// ServerConfig 控制 HTTP 服务的监听地址与 webhook 密钥。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	// WebhookSecret 为空时不校验 Authorization 请求头。
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

// AgentConfig 控制工具循环的行为。超时为 0 表示不限制。
type AgentConfig struct {
	Name          string    `json:"name" yaml:"name"`
	MaxIterations int       `json:"max_iterations" yaml:"max_iterations"`
	MaxTokens     int       `json:"max_tokens" yaml:"max_tokens"`
	SystemPrompt  string    `json:"system_prompt" yaml:"system_prompt"`
	RunTimeout    *Duration `json:"run_timeout" yaml:"run_timeout"`
	LLMTimeout    *Duration `json:"llm_timeout" yaml:"llm_timeout"`
	ToolTimeout   *Duration `json:"tool_timeout" yaml:"tool_timeout"`
	// Denylist 替换默认的忽略表列表。
	Denylist []string `json:"denylist" yaml:"denylist"`
}

// LLMConfig 选择大模型供应商。
type LLMConfig struct {
	Provider  string         `json:"provider" yaml:"provider"`
	Anthropic ProviderConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    ProviderConfig `json:"openai" yaml:"openai"`
}

// ProviderConfig 描述单个供应商的访问参数。
type ProviderConfig struct {
	APIKey     string `json:"api_key" yaml:"api_key"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Model      string `json:"model" yaml:"model"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

// DatabaseConfig 描述业务数据与审计记录所在的数据库。
type DatabaseConfig struct {
	// Driver 取值 memory、sqlite 或 mysql。
	Driver          string    `json:"driver" yaml:"driver"`
	DSN             string    `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int       `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int       `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime *Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	SkipMigrations  bool      `json:"skip_migrations" yaml:"skip_migrations"`
}

// MailConfig 描述 Resend 邮件服务。
type MailConfig struct {
	APIKey      string `json:"api_key" yaml:"api_key"`
	BaseURL     string `json:"base_url" yaml:"base_url"`
	DefaultFrom string `json:"default_from" yaml:"default_from"`
}

// NotificationsConfig 描述内部通知渠道。
type NotificationsConfig struct {
	Email EmailNotificationConfig `json:"email" yaml:"email"`
	Slack SlackNotificationConfig `json:"slack" yaml:"slack"`
}

// EmailNotificationConfig 配置邮件通知收件人。
type EmailNotificationConfig struct {
	To            []string `json:"to" yaml:"to"`
	From          string   `json:"from" yaml:"from"`
	SubjectPrefix string   `json:"subject_prefix" yaml:"subject_prefix"`
}

// SlackNotificationConfig 配置 Slack Incoming Webhook。
type SlackNotificationConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// AuditConfig 控制审计记录的投递方式。
type AuditConfig struct {
	// Delivery 取值 direct、memory、redis 或 rabbitmq。
	Delivery     string         `json:"delivery" yaml:"delivery"`
	WriteTimeout *Duration      `json:"write_timeout" yaml:"write_timeout"`
	Workers      int            `json:"workers" yaml:"workers"`
	QueueSize    int            `json:"queue_size" yaml:"queue_size"`
	Redis        RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ     RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述审计队列使用的 Redis。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Queue    string `json:"queue" yaml:"queue"`
}

// RabbitMQConfig 描述审计队列使用的 RabbitMQ。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// MetricsConfig 控制独立的指标端口，主服务始终暴露 /metrics。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// LoadFromEnv 读取 AGENT_CONFIG 指向的文件，未设置时仅使用默认值与环境变量。
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load 解析指定路径的配置文件，按扩展名选择 YAML 或 JSON，然后应用环境变量覆盖。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(content, &cfg)
		default:
			err = yaml.Unmarshal(content, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用环境变量覆盖文件中的值。
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Address, "LISTEN_ADDR")
	set(&c.Server.WebhookSecret, "WEBHOOK_SECRET")
	set(&c.LLM.Provider, "LLM_PROVIDER")
	set(&c.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	set(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Mail.APIKey, "RESEND_API_KEY")
	set(&c.Database.DSN, "DATABASE_DSN")
	set(&c.Database.Driver, "DATABASE_DRIVER")
	set(&c.Notifications.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	set(&c.Logging.Level, "LOG_LEVEL")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "event-agent"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.RunTimeout == nil {
		c.Agent.RunTimeout = &Duration{5 * time.Minute}
	}
	if c.Agent.LLMTimeout == nil {
		c.Agent.LLMTimeout = &Duration{60 * time.Second}
	}
	if c.Agent.ToolTimeout == nil {
		c.Agent.ToolTimeout = &Duration{30 * time.Second}
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		if c.Database.DSN != "" {
			c.Database.Driver = "mysql"
		} else {
			c.Database.Driver = "memory"
		}
	}

	c.Audit.Delivery = strings.ToLower(strings.TrimSpace(c.Audit.Delivery))
	if c.Audit.Delivery == "" {
		c.Audit.Delivery = "direct"
	}
	if c.Audit.WriteTimeout == nil {
		c.Audit.WriteTimeout = &Duration{10 * time.Second}
	}
	if c.Audit.Workers <= 0 {
		c.Audit.Workers = 2
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Notifications.Email.SubjectPrefix == "" {
		c.Notifications.Email.SubjectPrefix = "[agent] "
	}
}

// Validate 检查驱动、供应商等枚举值以及必需的连接参数。
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("llm.anthropic.api_key 未配置 (ANTHROPIC_API_KEY)"))
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("llm.openai.api_key 未配置 (OPENAI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 llm.provider %q", c.LLM.Provider))
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.driver=%s 需要 database.dsn", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 database.driver %q", c.Database.Driver))
	}

	switch c.Audit.Delivery {
	case "direct", "memory":
	case "redis":
		if c.Audit.Redis.Address == "" {
			errs = append(errs, errors.New("audit.delivery=redis 需要 audit.redis.address"))
		}
	case "rabbitmq":
		if c.Audit.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("audit.delivery=rabbitmq 需要 audit.rabbitmq.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 audit.delivery %q", c.Audit.Delivery))
	}

	for name, d := range map[string]*Duration{
		"agent.run_timeout":   c.Agent.RunTimeout,
		"agent.llm_timeout":   c.Agent.LLMTimeout,
		"agent.tool_timeout":  c.Agent.ToolTimeout,
		"audit.write_timeout": c.Audit.WriteTimeout,
	} {
		if d.Std() < 0 {
			errs = append(errs, fmt.Errorf("%s 不能为负数", name))
		}
	}

	return errors.Join(errs...)
}
