package models

import "time"

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Provider  ProviderConfig  `json:"provider"`
	Cron      CronConfig      `json:"cron"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tracing   TracingConfig   `json:"tracing"`
	Retry     RetryConfig     `json:"retry"`
	LogLevel  string          `json:"log_level"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ProviderConfig holds messaging provider API configuration
type ProviderConfig struct {
	APIBaseURL string        `json:"api_base_url"`
	APIKey     string        `json:"api_key"`
	Timeout    time.Duration `json:"timeout_ms"`
	RetryCount int           `json:"retry_count"`
}

// CronConfig holds the shared secret protecting the tick endpoints
type CronConfig struct {
	Secret string `json:"secret"`
}

// SchedulerConfig holds job processing configuration
type SchedulerConfig struct {
	BatchSize       int `json:"batch_size"`
	StaleAfterMin   int `json:"stale_after_min"`
	SequenceBatch   int `json:"sequence_batch"`
	BroadcastsBatch int `json:"broadcasts_batch"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
