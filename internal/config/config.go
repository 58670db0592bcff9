package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig contains all database-related configuration settings.
// URL is a Postgres connection string for the postgres driver and a file
// path or DSN for the sqlite driver.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AuthConfig contains the settings for the bearer tokens that protect the
// dispatch trigger and the operator endpoints.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenIssuer          string `mapstructure:"token_issuer" validate:"required"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0,lte=525600"`
	ClockSkewSeconds     int    `mapstructure:"clock_skew_seconds" validate:"gte=0,lte=300"`
}

// Supported content generation providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" validate:"required,oneof=gemini openai anthropic"`
	GeminiAPIKey      string        `mapstructure:"gemini_api_key"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	AnthropicAPIKey   string        `mapstructure:"anthropic_api_key"`
	Model             string        `mapstructure:"model"`
	MaxOutputTokens   int           `mapstructure:"max_output_tokens" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
	MaxDelaySeconds   int           `mapstructure:"max_delay_seconds" validate:"gte=0,lte=300"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	// MaxPromptBytes bounds an assembled prompt; longer prompts are rejected
	// before any provider call.
	MaxPromptBytes int `mapstructure:"max_prompt_bytes" validate:"gt=0"`
}

// APIKey returns the key of the configured provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	default:
		return c.GeminiAPIKey
	}
}

// Execution modes of the analysis phase.
const (
	ExecutionModeStepped    = "stepped"
	ExecutionModeSingleShot = "single_shot"
)

// PipelineConfig contains the settings of the resumable task pipeline.
type PipelineConfig struct {
	// LockTimeout is the age after which a task lock is presumed abandoned.
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	// TopicBatchSize is stamped on new tasks; a task keeps its batch size.
	TopicBatchSize     int `mapstructure:"topic_batch_size" validate:"gt=0,lte=50"`
	MaxOutlineItems    int `mapstructure:"max_outline_items" validate:"gt=0,lte=200"`
	HighPerformerLimit int `mapstructure:"high_performer_limit" validate:"gt=0,lte=500"`
	// ExecutionMode selects how queued tasks run their analysis.
	// single_shot is deprecated and kept for existing deployments.
	ExecutionMode string `mapstructure:"execution_mode" validate:"required,oneof=stepped single_shot"`
	// TickSchedule is an optional cron expression for in-process dispatch
	// ticks. Empty disables them and relies on the external trigger.
	TickSchedule string `mapstructure:"tick_schedule"`
	// TickTimeout bounds each in-process tick. It must leave room for the
	// slowest unit, see bootstrap.CheckTickBudget.
	TickTimeout time.Duration `mapstructure:"tick_timeout" validate:"gt=0"`
	// CandidateLimit is how many tasks per priority tier a tick considers.
	CandidateLimit int `mapstructure:"candidate_limit" validate:"gt=0,lte=1000"`
	// MaxInterruptions fails a task after this many consecutive units were
	// cut off by the end of their tick.
	MaxInterruptions int `mapstructure:"max_interruptions" validate:"gt=0,lte=50"`
}
