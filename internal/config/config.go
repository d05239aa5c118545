package config

import (
	"encoding/json"
	"fmt"
	"os"

	"chatflow/internal/constants"
	"chatflow/internal/models"
	"chatflow/internal/security"
)

var (
	ErrMissingProviderURL = models.ConfigError{Message: "missing provider API URL"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Provider.APIBaseURL == "" {
		return ErrMissingProviderURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultIdleTimeoutSec
	}

	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = constants.DefaultJobBatchSize
	}
	if c.Scheduler.SequenceBatch <= 0 {
		c.Scheduler.SequenceBatch = constants.DefaultSequenceBatchSize
	}
	if c.Scheduler.BroadcastsBatch <= 0 {
		c.Scheduler.BroadcastsBatch = constants.DefaultBroadcastBatchSize
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultRetryBackoffMs * 10
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CHATFLOW_PROVIDER_URL"); url != "" {
		c.Provider.APIBaseURL = url
	}

	// SECURITY: secrets should be set via environment variables
	if key := os.Getenv("CHATFLOW_PROVIDER_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if secret := os.Getenv("CHATFLOW_CRON_SECRET"); secret != "" {
		c.Cron.Secret = secret
	}

	if path := os.Getenv("CHATFLOW_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("CHATFLOW_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CHATFLOW_ENV") == "production"

	if isProduction {
		// In production, the tick endpoints must be protected
		if c.Cron.Secret == "" {
			return models.ConfigError{Message: "cron secret is required in production (set CHATFLOW_CRON_SECRET environment variable)"}
		}
		if len(c.Cron.Secret) < 32 {
			return models.ConfigError{Message: "cron secret must be at least 32 characters long"}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Cron.Secret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: cron secret not set. Set CHATFLOW_CRON_SECRET environment variable for security.\n")
		}
	}

	return nil
}
