package config

import (
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Timing  TimingConfig  `yaml:"timing"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Channel ChannelConfig `yaml:"channel"`
	Audit   AuditConfig   `yaml:"audit"`

	// CatalogPath points at the robot catalog YAML.
	CatalogPath string `yaml:"catalogPath" env:"RCP_CATALOG"`

	// Catalog is populated by Load from CatalogPath (or the built-in default).
	Catalog *RobotCatalog `yaml:"-"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"RCP_ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout" env:"RCP_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"RCP_SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" env:"RCP_SERVER_IDLE_TIMEOUT"`
}

// TimingConfig groups every timer the core uses.
type TimingConfig struct {
	// SSE heartbeat
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"RCP_TIMING_HEARTBEAT_INTERVAL"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter" env:"RCP_TIMING_HEARTBEAT_JITTER"`

	// Bound on a single control channel publish.
	CommandTimeoutPublish time.Duration `yaml:"commandTimeoutPublish" env:"RCP_TIMING_COMMAND_PUBLISH"`

	// Bound on a single persistence call.
	CommandTimeoutStore time.Duration `yaml:"commandTimeoutStore" env:"RCP_TIMING_COMMAND_STORE"`

	// Joint orientation polling cadence.
	TelemetryPollInterval time.Duration `yaml:"telemetryPollInterval" env:"RCP_TIMING_TELEMETRY_POLL"`

	// Zero disables lease expiry.
	LeaseIdleTimeout  time.Duration `yaml:"leaseIdleTimeout" env:"RCP_TIMING_LEASE_IDLE_TIMEOUT"`
	LeaseReapInterval time.Duration `yaml:"leaseReapInterval" env:"RCP_TIMING_LEASE_REAP_INTERVAL"`

	EventBufferSize      int           `yaml:"eventBufferSize" env:"RCP_TIMING_EVENT_BUFFER_SIZE"`
	EventBufferRetention time.Duration `yaml:"eventBufferRetention" env:"RCP_TIMING_EVENT_BUFFER_RETENTION"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Algorithm           string        `yaml:"algorithm" env:"RCP_AUTH_ALGORITHM"`
	SecretKey           string        `yaml:"secretKey" env:"RCP_AUTH_SECRET"`
	PublicKeyPEM        string        `yaml:"publicKeyPem" env:"RCP_AUTH_PUBLIC_KEY_PEM"`
	JWKSURL             string        `yaml:"jwksUrl" env:"RCP_AUTH_JWKS_URL"`
	JWKSRefreshInterval time.Duration `yaml:"jwksRefreshInterval" env:"RCP_AUTH_JWKS_REFRESH"`
	JWKSCacheTimeout    time.Duration `yaml:"jwksCacheTimeout" env:"RCP_AUTH_JWKS_CACHE_TIMEOUT"`

	// Callers need an access level strictly above this to operate a robot.
	MinimumOperatorLevel int `yaml:"minimumOperatorLevel" env:"RCP_AUTH_MIN_OPERATOR_LEVEL"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"RCP_STORAGE_DRIVER"` // "sqlite" or "memory"
	Path   string `yaml:"path" env:"RCP_STORAGE_PATH"`
}

// ChannelConfig selects the downstream control channel.
type ChannelConfig struct {
	Driver      string        `yaml:"driver" env:"RCP_CHANNEL_DRIVER"` // "rosbridge" or "fake"
	URL         string        `yaml:"url" env:"RCP_CHANNEL_URL"`
	DialTimeout time.Duration `yaml:"dialTimeout" env:"RCP_CHANNEL_DIAL_TIMEOUT"`
}

// AuditConfig controls the audit trail file and its rotation.
type AuditConfig struct {
	Dir        string `yaml:"dir" env:"RCP_AUDIT_DIR"`
	MaxSizeMB  int    `yaml:"maxSizeMb" env:"RCP_AUDIT_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"RCP_AUDIT_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"RCP_AUDIT_MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"RCP_AUDIT_COMPRESS"`
}

// LoadBaseline returns the built-in defaults.
func LoadBaseline() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Timing: TimingConfig{
			HeartbeatInterval:     15 * time.Second,
			HeartbeatJitter:       2 * time.Second,
			CommandTimeoutPublish: 2 * time.Second,
			CommandTimeoutStore:   5 * time.Second,
			TelemetryPollInterval: 400 * time.Millisecond,
			LeaseIdleTimeout:      0,
			LeaseReapInterval:     5 * time.Second,
			EventBufferSize:       50,
			EventBufferRetention:  1 * time.Hour,
		},
		Auth: AuthConfig{
			Algorithm:            "HS256",
			JWKSRefreshInterval:  5 * time.Minute,
			JWKSCacheTimeout:     15 * time.Minute,
			MinimumOperatorLevel: 1,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "data/rcp.db",
		},
		Channel: ChannelConfig{
			Driver:      "rosbridge",
			URL:         "ws://localhost:9090",
			DialTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 90,
		},
		CatalogPath: "robots.yaml",
	}
}
