// Package config loads jobforge's structured configuration from a YAML file,
// environment variable overrides, and flag bindings via viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/northcloud/jobforge/internal/logger"
)

// Config is the root configuration tree, mirroring the sections named in
// §6.5: server (with database), execution, http, output (with security),
// registry, mcp (with authentication/session/security), logging.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	HTTP        HTTPConfig      `mapstructure:"http"`
	Output      OutputConfig    `mapstructure:"output"`
	Registry    RegistryConfig  `mapstructure:"registry"`
	MCP         MCPConfig       `mapstructure:"mcp"`
	Admin       AdminConfig     `mapstructure:"admin"`
	Logging     logger.Config   `mapstructure:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

// TracingConfig is the `tracing` section backing spec.md §2's "per-request
// spans" responsibility of the Observability Core. Unlike metrics (always
// on) and correlation IDs (always on), span emission is opt-in: SampleRatio
// lets an operator dial down span volume without disabling the capability
// outright.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// AdminConfig is the `admin` section fronting §6.1's Administrative API —
// not named in spec.md's §6.5 grammar (the admin surface is "interface
// only" there), but required to run the gin router SPEC_FULL.md adds.
// Serves on the same server.bind_address/port as the rest of the core.
type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig is the `server` section, including the nested `database`
// sub-section (§6.5).
type ServerConfig struct {
	BindAddress string         `mapstructure:"bind_address"`
	Port        int            `mapstructure:"port"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

// DatabaseConfig is the `server.database` section.
type DatabaseConfig struct {
	URL               string        `mapstructure:"url"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// RedisConfig backs the Streaming Session Layer's event store and the MCP
// rate limiter — not named in spec.md's prose section list, but required by
// §4.4 and §6.5's mcp.security.rate_limiting.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ExecutionConfig is the `execution` section.
type ExecutionConfig struct {
	MaxExecutionDuration time.Duration `mapstructure:"max_execution_duration"`
	MaxConcurrentTasks   int           `mapstructure:"max_concurrent_tasks"`
	TimeoutGracePeriod   time.Duration `mapstructure:"timeout_grace_period"`
	ValidateSchemas      bool          `mapstructure:"validate_schemas"`

	// QueueSoftLimit bounds the number of Queued jobs (§5's back-pressure
	// rule: "Job enqueue rate is bounded by the queue's soft ceiling;
	// beyond it, enqueue returns a QueueFull error"). 0 disables the check.
	QueueSoftLimit int `mapstructure:"queue_soft_limit"`
}

// HTTPConfig is the `http` section — the fetch capability's policy
// (§4.2.2). A script's fetch call has no per-call option to override it.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	UserAgent    string        `mapstructure:"user_agent"`
	VerifySSL    bool          `mapstructure:"verify_ssl"`
}

// OutputSecurityConfig is the `output.security` section (§4.3.4).
type OutputSecurityConfig struct {
	AllowLocalhostWebhooks      bool     `mapstructure:"allow_localhost_webhooks"`
	AllowPrivateNetworkWebhooks bool     `mapstructure:"allow_private_network_webhooks"`
	AllowedWebhookDomains       []string `mapstructure:"allowed_webhook_domains"`
}

// OutputConfig is the `output` section.
type OutputConfig struct {
	MaxConcurrentDeliveries int                  `mapstructure:"max_concurrent_deliveries"`
	DefaultTimeout          time.Duration        `mapstructure:"default_timeout"`
	DefaultRetryPolicy      RetryPolicyConfig    `mapstructure:"default_retry_policy"`
	Security                OutputSecurityConfig `mapstructure:"security"`
}

// RetryPolicyConfig mirrors domain.RetryPolicy in config form.
type RetryPolicyConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	Jitter            bool          `mapstructure:"jitter"`
}

// RegistrySourceConfig is one entry of `registry.sources` (§4.5.1, §4.5.2).
// WatchPatterns/IgnorePatterns/DebounceDelay/BatchWindow/MinSyncInterval are
// only meaningful for Type == "filesystem" (§4.5.2).
type RegistrySourceConfig struct {
	Name            string        `mapstructure:"name"`
	URI             string        `mapstructure:"uri"`
	Type            string        `mapstructure:"type"` // filesystem | git | http
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	Enabled         bool          `mapstructure:"enabled"`

	WatchPatterns   []string      `mapstructure:"watch_patterns"`
	IgnorePatterns  []string      `mapstructure:"ignore_patterns"`
	DebounceDelay   time.Duration `mapstructure:"debounce_delay"`
	BatchWindow     time.Duration `mapstructure:"batch_window"`
	MinSyncInterval time.Duration `mapstructure:"min_sync_interval"`
}

// RegistryConfig is the `registry` section.
type RegistryConfig struct {
	Sources            []RegistrySourceConfig `mapstructure:"sources"`
	MaxConcurrentSyncs int                    `mapstructure:"max_concurrent_syncs"`
	UnhealthyThreshold int                    `mapstructure:"unhealthy_threshold"`
	AlertThreshold     int                    `mapstructure:"alert_threshold"`
}

// SetDefaults fills the §4.5 defaults for any zero-valued fields.
func (c *RegistryConfig) SetDefaults() {
	if c.MaxConcurrentSyncs <= 0 {
		c.MaxConcurrentSyncs = 2
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 6
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.PollingInterval <= 0 {
			s.PollingInterval = 5 * time.Minute
		}
		if s.DebounceDelay <= 0 {
			s.DebounceDelay = time.Second
		}
		if s.BatchWindow <= 0 {
			s.BatchWindow = 2 * time.Second
		}
		if s.MinSyncInterval <= 0 {
			s.MinSyncInterval = 30 * time.Second
		}
	}
}

// APIKeyAuthConfig is `mcp.authentication.api_key`.
type APIKeyAuthConfig struct {
	Keys       []string `mapstructure:"keys"`
	HeaderName string   `mapstructure:"header_name"`
	Prefix     string   `mapstructure:"prefix"`
}

// MCPAuthConfig is `mcp.authentication`.
type MCPAuthConfig struct {
	Method string           `mapstructure:"method"` // none | api_key
	APIKey APIKeyAuthConfig `mapstructure:"api_key"`
}

// MCPSessionConfig is `mcp.session`. CleanupIntervalSeconds and
// MaxEventsPerSession implement §4.4's session_timeout/cleanup_interval/
// max_events_per_session knobs, which the prose config grammar of §6.5
// doesn't enumerate but §4.4.1/§4.4.2 require.
type MCPSessionConfig struct {
	TimeoutSeconds         int `mapstructure:"timeout_seconds"`
	MaxSessionsPerClient   int `mapstructure:"max_sessions_per_client"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
	MaxEventsPerSession    int `mapstructure:"max_events_per_session"`
}

// RateLimitingConfig is `mcp.security.rate_limiting`.
type RateLimitingConfig struct {
	GlobalPerMinute      int `mapstructure:"global_per_minute"`
	ExecuteTaskPerMinute int `mapstructure:"execute_task_per_minute"`
}

// MCPSecurityConfig is `mcp.security`.
type MCPSecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// MCPConfig is the `mcp` section.
type MCPConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	Transport      string           `mapstructure:"transport"` // stdio | sse
	Host           string           `mapstructure:"host"`
	Port           int              `mapstructure:"port"`
	Authentication MCPAuthConfig    `mapstructure:"authentication"`
	Session        MCPSessionConfig `mapstructure:"session"`
	Security       MCPSecurityConfig `mapstructure:"security"`
}

// Validate enforces the cross-field invariants config loading cannot express
// as plain defaults (§6.5, §4.3.4).
func (c *Config) Validate() error {
	if c.Server.Database.URL == "" {
		return errors.New("server.database.url is required")
	}
	if c.Execution.MaxConcurrentTasks < 1 {
		return errors.New("execution.max_concurrent_tasks must be >= 1")
	}
	if c.MCP.Enabled {
		switch c.MCP.Transport {
		case "stdio", "sse":
		default:
			return fmt.Errorf("mcp.transport must be \"stdio\" or \"sse\", got %q", c.MCP.Transport)
		}
		if c.MCP.Authentication.Method == "api_key" && len(c.MCP.Authentication.APIKey.Keys) == 0 {
			return errors.New("mcp.authentication.api_key.keys must be non-empty when method is api_key")
		}
	}
	return nil
}

// Exit codes (§6.5): 0 success, 1 config error, 2 runtime fatal, 3 migration failure.
const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitRuntimeFatal    = 2
	ExitMigrationFailed = 3
)
