// Package config loads and validates application configuration.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database" validate:"required"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" validate:"required"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency" validate:"required"`
	Status       StatusConfig       `mapstructure:"status" validate:"required"`
	Events       EventsConfig       `mapstructure:"events" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// OrchestratorConfig tunes the dispatcher and its workers.
type OrchestratorConfig struct {
	// DispatcherCount is the number of concurrent dispatcher loops.
	DispatcherCount int `mapstructure:"dispatcher_count" validate:"required,gt=0"`

	// QueueName is the shared dispatch queue all dispatchers pop from.
	QueueName string `mapstructure:"queue_name" validate:"required"`

	// PopTimeout bounds each queue pop so dispatchers can observe shutdown.
	PopTimeout time.Duration `mapstructure:"pop_timeout" validate:"required"`

	// ShutdownGrace bounds how long Shutdown waits for in-flight executions.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"required"`
}

// IdempotencyConfig tunes the idempotency ledger.
type IdempotencyConfig struct {
	// DefaultTTL is how long a stored record deduplicates repeat calls.
	DefaultTTL time.Duration `mapstructure:"default_ttl" validate:"required"`

	// ReapInterval is how often expired records are deleted.
	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"required"`
}

// StatusConfig tunes the status projection cache.
type StatusConfig struct {
	// TTL bounds how long a projection may serve reads before readers fall
	// back to the durable record.
	TTL time.Duration `mapstructure:"ttl" validate:"required"`
}

// EventsConfig tunes the event broadcaster and SSE streaming.
type EventsConfig struct {
	// HeartbeatInterval is how often idle subscribers receive a heartbeat.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required"`

	// StaleConnectionAge is the inactivity threshold for reaping subscriptions.
	StaleConnectionAge time.Duration `mapstructure:"stale_connection_age" validate:"required"`
}
