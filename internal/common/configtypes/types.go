// Package configtypes holds the configuration schema shared by the
// urlclean frontends.
package configtypes

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log output formats
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Duration wraps time.Duration with a human-readable YAML form
// ("30s", "5m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig maps onto lumberjack's knobs.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // megabytes
	MaxAge     int  `yaml:"max_age"`     // days
	MaxBackups int  `yaml:"max_backups"` // files
	Compress   bool `yaml:"compress"`
}

// CacheConfig selects and configures the side-effect cache backend.
type CacheConfig struct {
	// Backend is "sqlite", "redis" or "memory". Empty disables caching.
	Backend string `yaml:"backend"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// Redis holds the redis backend settings.
	Redis RedisCacheConfig `yaml:"redis"`
	// Delay is parsed but clean-server does not read it: a batch delays
	// cache hits only when its request sets cache_delay.
	Delay bool `yaml:"delay"`
}

type RedisCacheConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// ServerConfig is the clean-server configuration file.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	CleanerPath  string        `yaml:"cleaner"`
	ProfilesPath string        `yaml:"profiles"`
	Workers      int           `yaml:"workers"`
	MaxBodyBytes int           `yaml:"max_body_bytes"`
	ReadTimeout  Duration      `yaml:"read_timeout"`
	WriteTimeout Duration      `yaml:"write_timeout"`
	Cache        CacheConfig   `yaml:"cache"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Log          LogConfig     `yaml:"log"`
}

// Validate checks the server config for load-time mistakes.
func (c *ServerConfig) Validate() error {
	if err := ValidateListenAddress(c.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if c.CleanerPath == "" {
		return fmt.Errorf("cleaner path must be set")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	switch c.Cache.Backend {
	case "", "memory", "redis":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Metrics.Enabled {
		if err := ValidateListenAddress(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
		if c.Metrics.Listen == c.Listen {
			return fmt.Errorf("metrics.listen must differ from listen")
		}
	}
	return nil
}
