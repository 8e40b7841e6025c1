// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration. It is built once at startup
// and passed explicitly into component constructors; there is no package
// level mutable configuration state.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Backends  BackendsConfig  `mapstructure:"backends" yaml:"backends"`
	Labeler   LabelerConfig   `mapstructure:"labeler" yaml:"labeler"`
	OCR       OCRConfig       `mapstructure:"ocr" yaml:"ocr"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig holds the iteration-loop and retry policy for one objective.
type AgentConfig struct {
	// MaxIterations caps the observe/act loop for a single objective.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// CallRetries bounds same-backend retries on transient or parse failure.
	CallRetries int `mapstructure:"call_retries" yaml:"call_retries"`
	// RetryDelay is the fixed pause between retry attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// CallTimeout bounds one model call end to end.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// CallsPerSecond paces outbound model calls.
	CallsPerSecond float64 `mapstructure:"calls_per_second" yaml:"calls_per_second"`
	// FallbackModel is the coordinate-based backend used for escalation when
	// label or text resolution fails.
	FallbackModel string `mapstructure:"fallback_model" yaml:"fallback_model"`
}

// Provider identifies the transport used to reach a model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai" // OpenAI-compatible chat completions API
	ProviderGemini Provider = "gemini" // Google genai SDK
	ProviderOllama Provider = "ollama" // local Ollama chat API
	ProviderLocal  Provider = "local"  // local VLM microservice (/generate)
)

// ModelConfig configures one model backend.
type ModelConfig struct {
	Provider    Provider      `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// BackendsConfig maps model ids (the dispatch keys, e.g. "gpt-4-with-som")
// to their transport configuration.
type BackendsConfig struct {
	Default string                 `mapstructure:"default" yaml:"default"`
	Models  map[string]ModelConfig `mapstructure:"models" yaml:"models"`
}

// LabelerMode selects the labeling service implementation.
type LabelerMode string

const (
	LabelerLocal  LabelerMode = "local"  // in-process detector
	LabelerRemote LabelerMode = "remote" // labeling microservice
)

// LabelerConfig configures the element labeling service client.
type LabelerConfig struct {
	Mode     LabelerMode   `mapstructure:"mode" yaml:"mode"`
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// OCRConfig configures the OCR matcher.
type OCRConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MinMatchRatio is the longest-common-substring ratio below which a
	// candidate is rejected as not matching the query.
	MinMatchRatio float64 `mapstructure:"min_match_ratio" yaml:"min_match_ratio"`
}

// ArtifactsConfig controls audit image persistence.
type ArtifactsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir           string `mapstructure:"dir" yaml:"dir"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// ServerConfig configures the HTTP pass-through server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "screenpilot")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.call_retries", 3)
	v.SetDefault("agent.retry_delay", "1s")
	v.SetDefault("agent.call_timeout", "90s")
	v.SetDefault("agent.calls_per_second", 1.0)
	v.SetDefault("agent.fallback_model", "gpt-4")

	// -- Backends --
	v.SetDefault("backends.default", "gpt-4-with-ocr")
	v.SetDefault("backends.models.gpt-4.provider", "openai")
	v.SetDefault("backends.models.gpt-4.model", "gpt-4o")
	v.SetDefault("backends.models.gpt-4.api_timeout", "90s")
	v.SetDefault("backends.models.gpt-4-with-som.provider", "openai")
	v.SetDefault("backends.models.gpt-4-with-som.model", "gpt-4o")
	v.SetDefault("backends.models.gpt-4-with-som.api_timeout", "90s")
	v.SetDefault("backends.models.gpt-4-with-ocr.provider", "openai")
	v.SetDefault("backends.models.gpt-4-with-ocr.model", "gpt-4o")
	v.SetDefault("backends.models.gpt-4-with-ocr.api_timeout", "90s")
	v.SetDefault("backends.models.gemini-pro-vision.provider", "gemini")
	v.SetDefault("backends.models.gemini-pro-vision.model", "gemini-1.5-pro")
	v.SetDefault("backends.models.gemini-pro-vision.api_timeout", "90s")
	v.SetDefault("backends.models.llava.provider", "ollama")
	v.SetDefault("backends.models.llava.model", "llava")
	v.SetDefault("backends.models.llava.endpoint", "http://localhost:11434")
	v.SetDefault("backends.models.llava.api_timeout", "120s")
	v.SetDefault("backends.models.local-qwen.provider", "local")
	v.SetDefault("backends.models.local-qwen.endpoint", "http://localhost:8001")
	v.SetDefault("backends.models.local-qwen.api_timeout", "120s")

	// -- Labeler --
	v.SetDefault("labeler.mode", "remote")
	v.SetDefault("labeler.endpoint", "http://localhost:8001")
	v.SetDefault("labeler.timeout", "60s")

	// -- OCR --
	v.SetDefault("ocr.endpoint", "http://localhost:8001")
	v.SetDefault("ocr.timeout", "60s")
	v.SetDefault("ocr.min_match_ratio", 0.8)

	// -- Artifacts --
	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.dir", "labeled_images")
	v.SetDefault("artifacts.screenshot_dir", "screenshots")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8002")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate enforces cross-field invariants that viper cannot express.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.CallRetries < 0 {
		return fmt.Errorf("agent.call_retries must not be negative")
	}
	if _, ok := c.Backends.Models[c.Agent.FallbackModel]; !ok {
		return fmt.Errorf("agent.fallback_model %q has no backend configuration", c.Agent.FallbackModel)
	}
	if c.OCR.MinMatchRatio < 0 || c.OCR.MinMatchRatio > 1 {
		return fmt.Errorf("ocr.min_match_ratio must be in [0,1]")
	}
	switch c.Labeler.Mode {
	case LabelerLocal, LabelerRemote:
	default:
		return fmt.Errorf("labeler.mode %q is not supported", c.Labeler.Mode)
	}
	return nil
}
