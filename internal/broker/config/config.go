// Package config loads gale-broker's runtime configuration with viper
// (file + environment overlay, the way the teacher's cobra_cli.go wires
// viper for alex-config.json) and watches the config file for changes with
// fsnotify, adapted from the teacher's internal/config/runtime_watcher.go.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// HTTPConfig configures the inbound HTTP server.
type HTTPConfig struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	Environment      string   `mapstructure:"environment"`
	AllowedOrigins   []string `mapstructure:"allowedOrigins"`
	MaxTaskBodyBytes int64    `mapstructure:"maxTaskBodyBytes"`
}

// StoreConfig selects and configures the persistence adapter.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // "memory" or "postgres"
	PostgresDSN string `mapstructure:"postgresDsn"`
}

// BusConfig selects and configures the message bus adapter.
type BusConfig struct {
	Driver   string `mapstructure:"driver"` // "local" or "redis"
	RedisURL string `mapstructure:"redisUrl"`
}

// CatalogConfig configures the agent catalog.
type CatalogConfig struct {
	FilePath  string `mapstructure:"filePath"`
	CacheSize int    `mapstructure:"cacheSize"`
}

// InvokerConfig configures the outbound agent HTTP client.
type InvokerConfig struct {
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// TracingConfig configures the otel trace exporter.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlpEndpoint"`
	ServiceName  string  `mapstructure:"serviceName"`
	SampleRate   float64 `mapstructure:"sampleRate"`
}

// LoggingConfig configures the slog-backed root logger.
type LoggingConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// Config is gale-broker's complete runtime configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Bus     BusConfig     `mapstructure:"bus"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Invoker InvokerConfig `mapstructure:"invoker"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.environment", "development")
	v.SetDefault("http.maxTaskBodyBytes", 1<<20)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgresDsn", "")
	v.SetDefault("bus.driver", "local")
	v.SetDefault("bus.redisUrl", "")
	v.SetDefault("catalog.filePath", "catalog.json5")
	v.SetDefault("catalog.cacheSize", 256)
	v.SetDefault("invoker.timeoutSeconds", 30)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlpEndpoint", "")
	v.SetDefault("tracing.serviceName", "")
	v.SetDefault("tracing.sampleRate", 1.0)
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// Load reads configuration from path (if non-empty) or gale-broker.{yaml,json}
// in the working directory / $HOME, then overlays GALE_-prefixed environment
// variables. A missing config file is not an error: defaults apply, the way
// the goclaw pack's config.Load treats a missing file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gale-broker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
