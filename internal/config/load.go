package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment variables use the WORKER_ prefix with underscores for
	// nesting, e.g. WORKER_SERVER_PORT, WORKER_DATABASE_URL.
	v.SetEnvPrefix("WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine; env vars alone can configure the app.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for every tunable setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("orchestrator.dispatcher_count", 4)
	v.SetDefault("orchestrator.queue_name", "tasks")
	v.SetDefault("orchestrator.pop_timeout", 2*time.Second)
	v.SetDefault("orchestrator.shutdown_grace", 30*time.Second)

	v.SetDefault("idempotency.default_ttl", 24*time.Hour)
	v.SetDefault("idempotency.reap_interval", time.Hour)

	v.SetDefault("status.ttl", 24*time.Hour)

	v.SetDefault("events.heartbeat_interval", 30*time.Second)
	v.SetDefault("events.stale_connection_age", 24*time.Hour)
}
