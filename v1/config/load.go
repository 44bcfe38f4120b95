package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the configuration file path.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths lists the files probed, in order, when no path is given.
var DefaultPaths = []string{
	"warmlock.yaml",
	"warmlock.yml",
	"/etc/warmlock/config.yaml",
}

// envKeys maps environment variables to configuration paths.
var envKeys = map[string]string{
	"redis_host":      "cache.host",
	"redis_port":      "cache.port",
	"redis_password":  "cache.password",
	"redis_db":        "cache.db",
	"cache_ttl":       "cache.ttl",
	"cache_max":       "cache.max",
	"cache_fallback":  "cache.fallback",
	"cache_engine":    "cache.engine",
	"cache_codec":     "cache.codec",
	"warmup_enabled":  "warmup.enabled",
	"warmup_timeout":  "warmup.timeout",
	"warmup_interval": "warmup.interval",
	"log_level":       "log.level",
	"log_format":      "log.format",
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Load builds a Config from defaults, the YAML file at path and environment
// variables, in increasing priority. An empty path falls back to CONFIG_PATH
// and then DefaultPaths; a missing default file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envTransform(key string) string {
	return envKeys[strings.ToLower(key)]
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
