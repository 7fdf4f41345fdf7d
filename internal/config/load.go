package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CASEQ"

// ErrValidation wraps every configuration validation failure.
var ErrValidation = errors.New("config validation failed")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.connect_timeout", 30*time.Second)

	v.SetDefault("store.driver", StoreDriverPostgres)

	v.SetDefault("engine.reserve_next_max", 50)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.batch_size", 200)
	v.SetDefault("sweeper.max_runs", 0)
	v.SetDefault("sweeper.reopen_deferred", true)
	v.SetDefault("sweeper.escalations", "")
}

// Load reads configuration from environment variables and, when present,
// a .env file and config.yaml in the working directory.
// Environment variables take precedence over values from config files.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path
// searches for config.yaml in the working directory.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if cfg.Store.Driver == StoreDriverPostgres && cfg.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required for the postgres store", ErrValidation)
	}

	if _, err := cfg.Sweeper.EscalationTargets(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return nil
}
