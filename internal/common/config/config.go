// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	LLM           LLMConfig               `mapstructure:"llm"`
	Orchestrator  OrchestratorConfig      `mapstructure:"orchestrator"`
	Finance       FinanceConfig           `mapstructure:"finance"`
	Security      SecurityConfig          `mapstructure:"security"`
	RateLimit     RateLimitConfig         `mapstructure:"rate_limit"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int      `mapstructure:"write_timeout"` // milliseconds
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LLMConfig selects the model provider and the models used per call site.
type LLMConfig struct {
	Provider            string `mapstructure:"provider"` // openai | anthropic | stub
	BaseURL             string `mapstructure:"base_url"`
	APIKey              string `mapstructure:"api_key"`
	ClassificationModel string `mapstructure:"classification_model"`
	AgentModel          string `mapstructure:"agent_model"`
	Timeout             int    `mapstructure:"timeout"` // milliseconds
	MaxRetries          int    `mapstructure:"max_retries"`
	MaxTokens           struct {
		Classification int `mapstructure:"classification"`
		Invoice        int `mapstructure:"invoice"`
		Payment        int `mapstructure:"payment"`
		Commission     int `mapstructure:"commission"`
	} `mapstructure:"max_tokens"`
}

type OrchestratorConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// FinanceConfig tunes the business rule calculator.
type FinanceConfig struct {
	RetentionConvention string `mapstructure:"retention_convention"` // deducted | held
	RequirePOForAuto    bool   `mapstructure:"require_po_for_auto"`
}

type SecurityConfig struct {
	InjectionSensitivity string `mapstructure:"injection_sensitivity"` // low | medium | high
	AuthEnabled          bool   `mapstructure:"auth_enabled"`
	JWTSecret            string `mapstructure:"jwt_secret"`
}

// RateLimitRule is a request budget per window.
type RateLimitRule struct {
	Limit  int `mapstructure:"limit"`
	Window int `mapstructure:"window"` // seconds
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Query       RateLimitRule `mapstructure:"query"`
	FinancialOp RateLimitRule `mapstructure:"financial_op"`
	Export      RateLimitRule `mapstructure:"export"`
}

type AuditConfig struct {
	PostgresEnabled      bool   `mapstructure:"postgres_enabled"`
	ElasticsearchEnabled bool   `mapstructure:"elasticsearch_enabled"`
	Index                string `mapstructure:"index"`
}

// NotificationConfig holds settings for approval notifications.
type NotificationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	AWS     struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		FromEmail string   `mapstructure:"from_email"`
		ToEmails  []string `mapstructure:"to_emails"`
	} `mapstructure:"ses"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	ProcessID      string `mapstructure:"process_id"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ObservabilityConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
