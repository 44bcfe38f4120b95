package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "warmlock.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	p := writeFile(t, "log:\n  level: info\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Configured() {
		t.Fatal("expected no host by default")
	}
	if cfg.Cache.DefaultTTL() != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", cfg.Cache.DefaultTTL())
	}
	if cfg.Cache.RetryAttempts != 5 || cfg.Cache.RetryInterval() != 5*time.Second {
		t.Fatalf("unexpected retry policy %d/%v", cfg.Cache.RetryAttempts, cfg.Cache.RetryInterval())
	}
	if !cfg.Cache.Fallback || cfg.Cache.Engine != "lru" || cfg.Cache.Codec != "json" {
		t.Fatalf("unexpected cache defaults %+v", cfg.Cache)
	}
	if !cfg.Warmup.Enabled || cfg.Warmup.RunTimeout() != 30*time.Second {
		t.Fatalf("unexpected warmup defaults %+v", cfg.Warmup)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	p := writeFile(t, `
cache:
  host: redis.internal
  port: 6380
  db: 2
  ttl: 60
  max: 50
  codec: msgpack
warmup:
  enabled: false
  timeout: 1500
`)
	t.Setenv("REDIS_PORT", "6390")
	t.Setenv("WARMUP_ENABLED", "true")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Addr() != "redis.internal:6390" {
		t.Fatalf("expected env to override port, got %s", cfg.Cache.Addr())
	}
	if cfg.Cache.DB != 2 || cfg.Cache.Max != 50 || cfg.Cache.Codec != "msgpack" {
		t.Fatalf("file values not applied: %+v", cfg.Cache)
	}
	if cfg.Cache.DefaultTTL() != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", cfg.Cache.DefaultTTL())
	}
	if !cfg.Warmup.Enabled || cfg.Warmup.RunTimeout() != 1500*time.Millisecond {
		t.Fatalf("unexpected warmup %+v", cfg.Warmup)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, `
cache:
  hots: typo
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected unknown key to fail")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	p := writeFile(t, `
cache:
  engine: arc
`)
	_, err := Load(p)
	if err == nil {
		t.Fatal("expected invalid engine to fail")
	}
	if !strings.Contains(err.Error(), "Engine") {
		t.Fatalf("expected error to name the field, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected missing explicit file to fail")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record below warn level was written: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
