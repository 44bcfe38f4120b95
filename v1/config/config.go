// Package config defines the typed configuration record consumed by the
// warmlock components and loads it from defaults, an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the full configuration record.
type Config struct {
	Cache  CacheConfig  `koanf:"cache"`
	Warmup WarmupConfig `koanf:"warmup"`
	Log    LogConfig    `koanf:"log"`
}

// CacheConfig describes the backing store and the cache built on top of it.
// An empty Host means no remote store: the cache runs on its local fallback.
type CacheConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
	// TTL is the default entry lifetime in seconds.
	TTL int `koanf:"ttl" validate:"min=0"`
	// Max is the capacity of the local fallback map.
	Max      int    `koanf:"max" validate:"min=1"`
	Fallback bool   `koanf:"fallback"`
	Engine   string `koanf:"engine" validate:"oneof=lru ristretto bigcache"`
	Codec    string `koanf:"codec" validate:"oneof=json msgpack cbor gob"`

	RetryAttempts int `koanf:"retry_attempts" validate:"min=1"`
	// RetryDelay is the fixed pause between connection attempts, in milliseconds.
	RetryDelay int `koanf:"retry_delay" validate:"min=0"`
	// OpTimeout bounds a single store command, in milliseconds.
	OpTimeout int `koanf:"op_timeout" validate:"min=1"`
}

// WarmupConfig controls the warmup coordinator.
type WarmupConfig struct {
	Enabled bool `koanf:"enabled"`
	// Timeout is both the lock TTL and the run deadline, in milliseconds.
	Timeout int `koanf:"timeout" validate:"min=1"`
	// Interval re-runs warmup periodically, in seconds. Zero runs it at startup only.
	Interval int `koanf:"interval" validate:"min=0"`
}

// LogConfig selects the slog handler built by the command line tools.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns a Config holding every default value.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Port:          6379,
			TTL:           3600,
			Max:           1000,
			Fallback:      true,
			Engine:        "lru",
			Codec:         "json",
			RetryAttempts: 5,
			RetryDelay:    5000,
			OpTimeout:     2000,
		},
		Warmup: WarmupConfig{
			Enabled: true,
			Timeout: 30000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Configured reports whether a remote store host is set.
func (c CacheConfig) Configured() bool { return c.Host != "" }

// Addr returns the host:port pair of the remote store.
func (c CacheConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultTTL returns TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration { return time.Duration(c.TTL) * time.Second }

// RetryInterval returns RetryDelay as a duration.
func (c CacheConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

// CommandTimeout returns OpTimeout as a duration.
func (c CacheConfig) CommandTimeout() time.Duration {
	return time.Duration(c.OpTimeout) * time.Millisecond
}

// RunTimeout returns Timeout as a duration.
func (w WarmupConfig) RunTimeout() time.Duration { return time.Duration(w.Timeout) * time.Millisecond }

// Every returns Interval as a duration.
func (w WarmupConfig) Every() time.Duration { return time.Duration(w.Interval) * time.Second }

func (c *Config) String() string {
	return fmt.Sprintf("cache=%s db=%d fallback=%t engine=%s codec=%s warmup=%t",
		c.Cache.Addr(), c.Cache.DB, c.Cache.Fallback, c.Cache.Engine, c.Cache.Codec, c.Warmup.Enabled)
}
