package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads config.yaml (if present), applies environment variable
// overrides, and returns a validated Config. Call InitializeViper once at
// process startup before Load.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// InitializeViper wires up viper's search paths, defaults, and the named
// environment variable overrides §6.5 calls out explicitly (database URL,
// server port, HTTP timeout, MCP database URL).
func InitializeViper() error {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	return bindEnvironmentVariables()
}

func setDefaults() {
	viper.SetDefault("environment", "production")

	viper.SetDefault("server", map[string]any{
		"bind_address": "0.0.0.0",
		"port":         8080,
		"database": map[string]any{
			"max_connections":    25,
			"connection_timeout": "10s",
		},
		"redis": map[string]any{
			"addr": "localhost:6379",
			"db":   0,
		},
	})

	viper.SetDefault("execution", map[string]any{
		"max_execution_duration": "5m",
		"max_concurrent_tasks":   10,
		"timeout_grace_period":   "5s",
		"validate_schemas":       true,
		"queue_soft_limit":       1000,
	})

	viper.SetDefault("admin", map[string]any{
		"jwt_secret": "",
	})

	viper.SetDefault("http", map[string]any{
		"timeout":       "30s",
		"max_redirects": 5,
		"user_agent":    "jobforge/1.0",
		"verify_ssl":    true,
	})

	viper.SetDefault("output", map[string]any{
		"max_concurrent_deliveries": 20,
		"default_timeout":           "30s",
		"default_retry_policy": map[string]any{
			"max_attempts":       3,
			"initial_delay":      "1s",
			"max_delay":          "30s",
			"backoff_multiplier": 2.0,
			"jitter":             true,
		},
		"security": map[string]any{
			"allow_localhost_webhooks":       false,
			"allow_private_network_webhooks": false,
			"allowed_webhook_domains":        []string{},
		},
	})

	viper.SetDefault("mcp", map[string]any{
		"enabled":   false,
		"transport": "stdio",
		"host":      "0.0.0.0",
		"port":      8081,
		"authentication": map[string]any{
			"method": "none",
			"api_key": map[string]any{
				"header_name": "X-API-Key",
				"prefix":      "",
			},
		},
		"session": map[string]any{
			"timeout_seconds":          300,
			"max_sessions_per_client":  10,
		},
		"security": map[string]any{
			"rate_limiting": map[string]any{
				"global_per_minute":        600,
				"execute_task_per_minute":  60,
			},
		},
	})

	viper.SetDefault("logging", map[string]any{
		"level":        "info",
		"format":       "json",
		"development":  false,
		"output_paths": []string{"stdout"},
	})

	viper.SetDefault("tracing", map[string]any{
		"enabled":      false,
		"service_name": "jobforge",
		"sample_ratio": 1.0,
	})
}

func bindEnvironmentVariables() error {
	binds := [][2]string{
		{"server.database.url", "JOBFORGE_DATABASE_URL"},
		{"server.port", "JOBFORGE_SERVER_PORT"},
		{"http.timeout", "JOBFORGE_HTTP_TIMEOUT"},
		{"server.database.url", "JOBFORGE_MCP_DATABASE_URL"},
	}
	for _, b := range binds {
		if err := viper.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("bind %s: %w", b[1], err)
		}
	}
	return nil
}
