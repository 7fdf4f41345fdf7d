package config

import (
	"fmt"
	"strings"
	"time"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine" validate:"required"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is only required when the postgres store driver is selected.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"min=1s"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" validate:"min=1s"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
}

// EngineConfig tunes the lifecycle engine.
type EngineConfig struct {
	// ReserveNextMax caps the batch size a single reserve-next call may request.
	ReserveNextMax int `mapstructure:"reserve_next_max" validate:"gt=0,lte=500"`
}

// SweeperConfig contains the deadline sweeper settings.
type SweeperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval" validate:"min=1s"`
	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
	// MaxRuns is the run budget; 0 means unbounded.
	MaxRuns        int  `mapstructure:"max_runs" validate:"gte=0"`
	ReopenDeferred bool `mapstructure:"reopen_deferred"`
	// Escalations lists queue escalation targets as
	// "SOURCE_Q=TARGET_Q,OTHER_Q=TARGET_Q".
	Escalations string `mapstructure:"escalations"`
}

// EscalationTargets parses Escalations into a source-to-target queue map.
func (c SweeperConfig) EscalationTargets() (map[string]string, error) {
	targets := make(map[string]string)
	if strings.TrimSpace(c.Escalations) == "" {
		return targets, nil
	}

	for _, pair := range strings.Split(c.Escalations, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		src, dst, ok := strings.Cut(pair, "=")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid escalation %q: expected SOURCE=TARGET", pair)
		}
		if src == dst {
			return nil, fmt.Errorf("invalid escalation %q: queue escalates to itself", pair)
		}
		if _, dup := targets[src]; dup {
			return nil, fmt.Errorf("invalid escalation %q: queue %s listed twice", pair, src)
		}
		targets[src] = dst
	}

	return targets, nil
}
