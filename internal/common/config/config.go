// Package config provides configuration management for Navigator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// Environment names recognised by the runtime.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Model types recognised by the executor.
const (
	ModelPrimary     = "primary"
	ModelAccelerated = "accelerated"
)

// Session store backends.
const (
	StoreBackendDocument = "document"
	StoreBackendMemory   = "memory"
	StoreBackendFile     = "file"
)

// Config holds all configuration sections for Navigator.
type Config struct {
	Environment string               `mapstructure:"environment"`
	Server      ServerConfig         `mapstructure:"server"`
	Security    SecurityConfig       `mapstructure:"security"`
	Store       StoreConfig          `mapstructure:"store"`
	Bus         BusConfig            `mapstructure:"bus"`
	Stream      StreamConfig         `mapstructure:"stream"`
	Workflow    WorkflowConfig       `mapstructure:"workflow"`
	Logging     logger.LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// SecurityConfig holds message signing and identity configuration.
type SecurityConfig struct {
	// TrustedServiceAccounts is a comma-separated list of service-account
	// emails allowed to sign messages. Required in production.
	TrustedServiceAccounts string `mapstructure:"trustedServiceAccounts"`

	// SigningKey is the symmetric key material used for HMAC signing. Required.
	SigningKey string `mapstructure:"signingKey"`

	// UsePBKDF2 enables key derivation over the canonical bytes before HMAC.
	UsePBKDF2 bool `mapstructure:"usePbkdf2"`

	// PBKDF2Iterations is the iteration count for the derivation mode.
	PBKDF2Iterations int `mapstructure:"pbkdf2Iterations"`

	// ServiceURL is the expected audience for incoming ID tokens.
	ServiceURL string `mapstructure:"serviceUrl"`
}

// StoreConfig holds session store configuration.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // document, memory, file

	// Path is the sqlite database file used by the file backend.
	Path string `mapstructure:"path"`

	// ProjectID is the Cloud project hosting the document backend.
	ProjectID string `mapstructure:"projectId"`

	// OperationTimeout bounds every store call, in seconds.
	OperationTimeout int `mapstructure:"operationTimeout"`

	// HistoryCapacityPerSession bounds the per-session message archive.
	HistoryCapacityPerSession int `mapstructure:"historyCapacityPerSession"`
}

// BusConfig holds A2A message bus configuration.
type BusConfig struct {
	QueueCapacity      int `mapstructure:"queueCapacity"`
	ClockSkewTolerance int `mapstructure:"clockSkewTolerance"` // in seconds
}

// StreamConfig holds event emitter configuration.
type StreamConfig struct {
	BufferCapacity int `mapstructure:"bufferCapacity"`
}

// WorkflowConfig holds workflow executor configuration.
type WorkflowConfig struct {
	ModelType   string `mapstructure:"modelType"`   // primary, accelerated
	MaxDuration int    `mapstructure:"maxDuration"` // in seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TrustedAccounts returns the trusted service-account emails as a slice.
func (s *SecurityConfig) TrustedAccounts() []string {
	if s.TrustedServiceAccounts == "" {
		return nil
	}
	parts := strings.Split(s.TrustedServiceAccounts, ",")
	accounts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	return accounts
}

// OperationTimeoutDuration returns the store call timeout as a time.Duration.
func (s *StoreConfig) OperationTimeoutDuration() time.Duration {
	return time.Duration(s.OperationTimeout) * time.Second
}

// ClockSkewToleranceDuration returns the bus clock-skew tolerance as a time.Duration.
func (b *BusConfig) ClockSkewToleranceDuration() time.Duration {
	return time.Duration(b.ClockSkewTolerance) * time.Second
}

// MaxDurationTime returns the workflow duration budget as a time.Duration.
func (w *WorkflowConfig) MaxDurationTime() time.Duration {
	return time.Duration(w.MaxDuration) * time.Second
}

// IsProduction reports whether the runtime is configured for production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Security defaults
	v.SetDefault("security.trustedServiceAccounts", "")
	v.SetDefault("security.signingKey", "")
	v.SetDefault("security.usePbkdf2", false)
	v.SetDefault("security.pbkdf2Iterations", 100000)
	v.SetDefault("security.serviceUrl", "")

	// Store defaults
	v.SetDefault("store.backend", StoreBackendMemory)
	v.SetDefault("store.path", "./navigator.db")
	v.SetDefault("store.projectId", "")
	v.SetDefault("store.operationTimeout", 2)
	v.SetDefault("store.historyCapacityPerSession", 1000)

	// Bus defaults
	v.SetDefault("bus.queueCapacity", 1024)
	v.SetDefault("bus.clockSkewTolerance", 5)

	// Stream defaults
	v.SetDefault("stream.bufferCapacity", 256)

	// Workflow defaults
	v.SetDefault("workflow.modelType", ModelPrimary)
	v.SetDefault("workflow.maxDuration", 600)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.output_path", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix NAVIGATOR_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/navigator/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NAVIGATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the documented env var names (camelCase config
	// keys do not round-trip through AutomaticEnv).
	_ = v.BindEnv("environment", "NAVIGATOR_ENVIRONMENT")
	_ = v.BindEnv("security.trustedServiceAccounts", "NAVIGATOR_TRUSTED_SERVICE_ACCOUNTS")
	_ = v.BindEnv("security.signingKey", "NAVIGATOR_SIGNING_KEY")
	_ = v.BindEnv("security.usePbkdf2", "NAVIGATOR_USE_PBKDF2")
	_ = v.BindEnv("security.pbkdf2Iterations", "NAVIGATOR_PBKDF2_ITERATIONS")
	_ = v.BindEnv("security.serviceUrl", "NAVIGATOR_SERVICE_URL")
	_ = v.BindEnv("store.backend", "NAVIGATOR_SESSION_STORE_BACKEND")
	_ = v.BindEnv("store.historyCapacityPerSession", "NAVIGATOR_HISTORY_CAPACITY_PER_SESSION")
	_ = v.BindEnv("bus.queueCapacity", "NAVIGATOR_MESSAGE_QUEUE_CAPACITY")
	_ = v.BindEnv("bus.clockSkewTolerance", "NAVIGATOR_CLOCK_SKEW_TOLERANCE_SECONDS")
	_ = v.BindEnv("stream.bufferCapacity", "NAVIGATOR_EVENT_BUFFER_CAPACITY")
	_ = v.BindEnv("workflow.modelType", "NAVIGATOR_MODEL_TYPE")
	_ = v.BindEnv("workflow.maxDuration", "NAVIGATOR_MAX_WORKFLOW_DURATION_SECONDS")
	_ = v.BindEnv("logging.level", "NAVIGATOR_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/navigator/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.ConfigInvalid(fmt.Sprintf("error reading config file: %v", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("error unmarshaling config: %v", err))
	}

	if cfg.Logging.Format == "" {
		if cfg.IsProduction() {
			cfg.Logging.Format = "json"
		} else {
			cfg.Logging.Format = "text"
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
// Violations are fatal at startup and reported as config_invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Environment != EnvDevelopment && cfg.Environment != EnvProduction {
		errs = append(errs, "environment must be one of: development, production")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Security.SigningKey == "" {
		errs = append(errs, "security.signingKey is required")
	}
	if cfg.IsProduction() && len(cfg.Security.TrustedAccounts()) == 0 {
		errs = append(errs, "security.trustedServiceAccounts is required in production")
	}
	if cfg.Security.UsePBKDF2 && cfg.Security.PBKDF2Iterations < 100000 {
		errs = append(errs, "security.pbkdf2Iterations must be at least 100000")
	}

	switch cfg.Store.Backend {
	case StoreBackendDocument, StoreBackendMemory, StoreBackendFile:
	default:
		errs = append(errs, "store.backend must be one of: document, memory, file")
	}
	if cfg.Store.Backend == StoreBackendDocument && cfg.Store.ProjectID == "" {
		errs = append(errs, "store.projectId is required for the document backend")
	}
	if cfg.Store.Backend == StoreBackendFile && cfg.Store.Path == "" {
		errs = append(errs, "store.path is required for the file backend")
	}
	if cfg.Store.OperationTimeout <= 0 {
		errs = append(errs, "store.operationTimeout must be positive")
	}
	if cfg.Store.HistoryCapacityPerSession <= 0 {
		errs = append(errs, "store.historyCapacityPerSession must be positive")
	}

	if cfg.Bus.QueueCapacity <= 0 {
		errs = append(errs, "bus.queueCapacity must be positive")
	}
	if cfg.Bus.ClockSkewTolerance < 0 {
		errs = append(errs, "bus.clockSkewTolerance must be non-negative")
	}

	if cfg.Stream.BufferCapacity <= 0 {
		errs = append(errs, "stream.bufferCapacity must be positive")
	}

	if cfg.Workflow.ModelType != ModelPrimary && cfg.Workflow.ModelType != ModelAccelerated {
		errs = append(errs, "workflow.modelType must be one of: primary, accelerated")
	}
	if cfg.Workflow.MaxDuration <= 0 {
		errs = append(errs, "workflow.maxDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return apperrors.ConfigInvalid(strings.Join(errs, "; "))
	}

	return nil
}
