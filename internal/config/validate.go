package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the merged configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := ValidateTiming(&cfg.Timing); err != nil {
		return err
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}
	if err := validateChannel(&cfg.Channel); err != nil {
		return fmt.Errorf("channel validation failed: %w", err)
	}
	if err := validateAudit(&cfg.Audit); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}
	if err := ValidateCatalog(cfg.Catalog); err != nil {
		return fmt.Errorf("catalog validation failed: %w", err)
	}

	return nil
}

// ValidateTiming checks the timer block.
func ValidateTiming(config *TimingConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateHeartbeat(config); err != nil {
		return fmt.Errorf("heartbeat validation failed: %w", err)
	}
	if err := validateCommandTimeouts(config); err != nil {
		return fmt.Errorf("command timeout validation failed: %w", err)
	}
	if err := validateLease(config); err != nil {
		return fmt.Errorf("lease validation failed: %w", err)
	}
	if err := validateEventBuffer(config); err != nil {
		return fmt.Errorf("event buffer validation failed: %w", err)
	}

	return nil
}

func validateServer(config *ServerConfig) error {
	if config.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if config.ReadTimeout <= 0 || config.WriteTimeout <= 0 || config.IdleTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	return nil
}

// validateHeartbeat validates heartbeat timing parameters.
func validateHeartbeat(config *TimingConfig) error {
	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", config.HeartbeatInterval)
	}

	// Jitter is capped at half the interval
	maxJitter := config.HeartbeatInterval / 2
	if config.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", config.HeartbeatJitter)
	}
	if config.HeartbeatJitter > maxJitter {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", config.HeartbeatJitter, config.HeartbeatInterval)
	}

	return nil
}

func validateCommandTimeouts(config *TimingConfig) error {
	minTimeout := 100 * time.Millisecond
	maxTimeout := 5 * time.Minute

	if config.CommandTimeoutPublish < minTimeout || config.CommandTimeoutPublish > maxTimeout {
		return fmt.Errorf("command timeout publish %v is outside reasonable range [%v, %v]",
			config.CommandTimeoutPublish, minTimeout, maxTimeout)
	}
	if config.CommandTimeoutStore < minTimeout || config.CommandTimeoutStore > maxTimeout {
		return fmt.Errorf("command timeout store %v is outside reasonable range [%v, %v]",
			config.CommandTimeoutStore, minTimeout, maxTimeout)
	}
	if config.TelemetryPollInterval <= 0 {
		return fmt.Errorf("telemetry poll interval must be positive, got %v", config.TelemetryPollInterval)
	}

	return nil
}

func validateLease(config *TimingConfig) error {
	if config.LeaseIdleTimeout < 0 {
		return fmt.Errorf("lease idle timeout must be non-negative, got %v", config.LeaseIdleTimeout)
	}
	if config.LeaseIdleTimeout > 0 && config.LeaseReapInterval <= 0 {
		return fmt.Errorf("lease reap interval must be positive when idle timeout is set, got %v", config.LeaseReapInterval)
	}
	return nil
}

// validateEventBuffer validates event buffer parameters.
func validateEventBuffer(config *TimingConfig) error {
	if config.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", config.EventBufferSize)
	}
	if config.EventBufferRetention <= 0 {
		return fmt.Errorf("event buffer retention must be positive, got %v", config.EventBufferRetention)
	}
	return nil
}

func validateAuth(config *AuthConfig) error {
	switch config.Algorithm {
	case "HS256":
		// Secret may be empty in development; the server then rejects every token.
	case "RS256":
		if config.PublicKeyPEM == "" && config.JWKSURL == "" {
			return fmt.Errorf("RS256 requires publicKeyPem or jwksUrl")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", config.Algorithm)
	}
	if config.MinimumOperatorLevel < 0 {
		return fmt.Errorf("minimum operator level must be non-negative, got %d", config.MinimumOperatorLevel)
	}
	return nil
}

func validateStorage(config *StorageConfig) error {
	switch config.Driver {
	case "memory":
	case "sqlite":
		if config.Path == "" {
			return fmt.Errorf("sqlite storage requires a path")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", config.Driver)
	}
	return nil
}

func validateChannel(config *ChannelConfig) error {
	switch config.Driver {
	case "fake":
	case "rosbridge":
		if config.URL == "" {
			return fmt.Errorf("rosbridge channel requires a url")
		}
		if config.DialTimeout <= 0 {
			return fmt.Errorf("dial timeout must be positive, got %v", config.DialTimeout)
		}
	default:
		return fmt.Errorf("unsupported channel driver %q", config.Driver)
	}
	return nil
}

func validateAudit(config *AuditConfig) error {
	if config.Dir == "" {
		return fmt.Errorf("audit directory is required")
	}
	if config.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be positive, got %d", config.MaxSizeMB)
	}
	if config.MaxBackups < 0 || config.MaxAgeDays < 0 {
		return fmt.Errorf("max backups and max age must be non-negative")
	}
	return nil
}

// ValidateCatalog checks joint tables, seeds and the script allow-list.
func ValidateCatalog(catalog *RobotCatalog) error {
	if catalog == nil {
		return fmt.Errorf("catalog cannot be nil")
	}
	if len(catalog.Models) == 0 {
		return fmt.Errorf("catalog defines no models")
	}

	for model, spec := range catalog.Models {
		if err := validateModelSpec(spec); err != nil {
			return fmt.Errorf("model %s: %w", model, err)
		}
	}
	for robotID, spec := range catalog.Overrides {
		if err := validateModelSpec(spec); err != nil {
			return fmt.Errorf("override %s: %w", robotID, err)
		}
	}

	seen := make(map[string]bool, len(catalog.Scripts))
	for _, script := range catalog.Scripts {
		if script == "" {
			return fmt.Errorf("empty script name")
		}
		if seen[script] {
			return fmt.Errorf("duplicate script %q", script)
		}
		seen[script] = true
	}

	ids := make(map[string]bool, len(catalog.Robots))
	for _, seed := range catalog.Robots {
		if seed.ID == "" {
			return fmt.Errorf("robot seed without id")
		}
		if seed.ID == "active" {
			return fmt.Errorf("robot id %q is reserved", seed.ID)
		}
		if ids[seed.ID] {
			return fmt.Errorf("duplicate robot id %q", seed.ID)
		}
		ids[seed.ID] = true
		if !catalog.HasModel(seed.Model) {
			return fmt.Errorf("robot %s uses unknown model %q (available: %s)",
				seed.ID, seed.Model, strings.Join(catalog.AvailableModels(), ", "))
		}
	}
	if catalog.Active != "" && !ids[catalog.Active] {
		return fmt.Errorf("active robot %q is not seeded", catalog.Active)
	}

	return nil
}

func validateModelSpec(spec ModelSpec) error {
	if len(spec.Joints) == 0 {
		return fmt.Errorf("at least one joint is required")
	}
	for i, joint := range spec.Joints {
		if joint.Lower > joint.Upper {
			return fmt.Errorf("joint %d lower bound %d exceeds upper bound %d", i+1, joint.Lower, joint.Upper)
		}
	}
	return nil
}
