// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Flows       FlowsConfig       `mapstructure:"flows" yaml:"flows"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Escalation  EscalationConfig  `mapstructure:"escalation" yaml:"escalation"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NoSandbox         bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// LLMProvider defines the supported decision-model providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the decision model.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// AgentConfig holds settings for the agent loop and its decision model.
type AgentConfig struct {
	LLM LLMModelConfig `mapstructure:"llm" yaml:"llm"`
	// SettleDelay is the pause before each decision call, giving the page
	// time to settle after mutating actions.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// FlowConfig holds the per-flow goal text and iteration bound.
type FlowConfig struct {
	Instructions  string `mapstructure:"instructions" yaml:"instructions"`
	MaxIterations int    `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// ChatFlowConfig extends FlowConfig with the conversation-turn range.
type ChatFlowConfig struct {
	FlowConfig `mapstructure:",squash" yaml:",inline"`
	MinTurns   int `mapstructure:"min_turns" yaml:"min_turns"`
	MaxTurns   int `mapstructure:"max_turns" yaml:"max_turns"`
}

// FlowsConfig groups the settings for both QA flows.
type FlowsConfig struct {
	BaseURL      string         `mapstructure:"base_url" yaml:"base_url"`
	ArtefactsDir string         `mapstructure:"artefacts_dir" yaml:"artefacts_dir"`
	Login        FlowConfig     `mapstructure:"login" yaml:"login"`
	Chat         ChatFlowConfig `mapstructure:"chat" yaml:"chat"`
}

// CredentialsConfig carries the login secrets. Values are bound to the
// PLLM_LOGIN_EMAIL / PLLM_LOGIN_PASSWORD environment variables and are
// never written back to disk.
type CredentialsConfig struct {
	Email    string `mapstructure:"email" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// EscalationConfig configures the error-folder monitor and its remote sinks.
type EscalationConfig struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Region   string `mapstructure:"region" yaml:"region"`
	TopicARN string `mapstructure:"topic_arn" yaml:"topic_arn"`
	ErrorDir string `mapstructure:"error_dir" yaml:"error_dir"`
	// Retain skips local folder deletion after a successful upload.
	Retain bool `mapstructure:"retain" yaml:"retain"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "parallellm-qa")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 1200)
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Agent --
	v.SetDefault("agent.llm.provider", "gemini")
	v.SetDefault("agent.llm.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.api_timeout", "60s")
	v.SetDefault("agent.llm.temperature", 0.0)
	v.SetDefault("agent.llm.max_tokens", 8192)
	v.SetDefault("agent.settle_delay", "2s")

	// -- Flows --
	v.SetDefault("flows.base_url", "https://chat.parallellm.com")
	v.SetDefault("flows.artefacts_dir", "artefacts")
	v.SetDefault("flows.login.instructions", "Log in successfully and reach the main app.")
	v.SetDefault("flows.login.max_iterations", 25)
	v.SetDefault("flows.chat.instructions", "Have a small conversation with the chat interface.")
	v.SetDefault("flows.chat.max_iterations", 100)
	v.SetDefault("flows.chat.min_turns", 1)
	v.SetDefault("flows.chat.max_turns", 2)

	// -- Escalation --
	v.SetDefault("escalation.prefix", "qa-monitoring")
	v.SetDefault("escalation.region", "eu-west-1")
	v.SetDefault("escalation.error_dir", "artefacts/error")
	v.SetDefault("escalation.retain", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("credentials.email", "PLLM_LOGIN_EMAIL")
	v.BindEnv("credentials.password", "PLLM_LOGIN_PASSWORD")
	v.BindEnv("agent.llm.api_key", "PLLM_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("escalation.bucket", "PLLM_S3_BUCKET")
	v.BindEnv("escalation.topic_arn", "PLLM_SNS_TOPIC_ARN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Flows.BaseURL == "" {
		return fmt.Errorf("flows.base_url is a required configuration field")
	}
	if c.Flows.Login.MaxIterations <= 0 {
		return fmt.Errorf("flows.login.max_iterations must be a positive integer")
	}
	if c.Flows.Chat.MaxIterations <= 0 {
		return fmt.Errorf("flows.chat.max_iterations must be a positive integer")
	}
	if c.Flows.Chat.MinTurns <= 0 || c.Flows.Chat.MaxTurns < c.Flows.Chat.MinTurns {
		return fmt.Errorf("flows.chat turn range is invalid: min=%d max=%d", c.Flows.Chat.MinTurns, c.Flows.Chat.MaxTurns)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive")
	}
	return nil
}

// Validate checks the escalation configuration. The monitor requires a
// remote-storage target before any folder is processed; a missing
// notification topic merely degrades escalation to upload-only.
func (e *EscalationConfig) Validate() error {
	if e.Bucket == "" {
		return fmt.Errorf("escalation.bucket is required (set PLLM_S3_BUCKET)")
	}
	if e.ErrorDir == "" {
		return fmt.Errorf("escalation.error_dir must not be empty")
	}
	return nil
}
