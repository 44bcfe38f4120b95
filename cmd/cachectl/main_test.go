package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func startStore(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	t.Setenv("WARMUP_ENABLED", "false")
	return mr
}

func TestSetGetDelPattern(t *testing.T) {
	mr := startStore(t)

	if code, _, errOut := runCLI(t, "set", "user:1", `{"name":"ada"}`, "1m"); code != 0 {
		t.Fatalf("set exit %d: %s", code, errOut)
	}
	if raw, err := mr.Get("user:1"); err != nil || raw != `{"name":"ada"}` {
		t.Fatalf("stored %q err %v", raw, err)
	}
	code, out, _ := runCLI(t, "get", "user:1")
	if code != 0 || !strings.Contains(out, `"name": "ada"`) {
		t.Fatalf("get exit %d out %q", code, out)
	}
	if code, out, _ := runCLI(t, "del-pattern", "user:*"); code != 0 || strings.TrimSpace(out) != "1" {
		t.Fatalf("del-pattern exit %d out %q", code, out)
	}
	if code, _, _ := runCLI(t, "get", "user:1"); code != 1 {
		t.Fatalf("get of deleted key exit %d, want 1", code)
	}
}

func TestLockCommands(t *testing.T) {
	startStore(t)

	code, out, errOut := runCLI(t, "lock", "job", "30s")
	if code != 0 {
		t.Fatalf("lock exit %d: %s", code, errOut)
	}
	token := strings.TrimSpace(out)
	if _, out, _ := runCLI(t, "locked", "job"); strings.TrimSpace(out) != "true" {
		t.Fatalf("locked printed %q", out)
	}
	if code, _, _ := runCLI(t, "lock", "job"); code != 1 {
		t.Fatal("second lock must fail")
	}
	if code, _, _ := runCLI(t, "unlock", "job", "wrong"); code != 1 {
		t.Fatal("unlock with wrong token must fail")
	}
	if code, _, errOut := runCLI(t, "unlock", "job", token); code != 0 {
		t.Fatalf("unlock exit %d: %s", code, errOut)
	}
}

func TestHealthStatsFlush(t *testing.T) {
	mr := startStore(t)
	_ = mr.Set("a", `"1"`)

	if code, out, _ := runCLI(t, "health"); code != 0 || strings.TrimSpace(out) != "healthy" {
		t.Fatalf("health exit %d out %q", code, out)
	}
	if code, out, _ := runCLI(t, "stats"); code != 0 || !strings.Contains(out, "mode: redis") || !strings.Contains(out, "keys: 1") {
		t.Fatalf("stats exit %d out %q", code, out)
	}
	if code, _, _ := runCLI(t, "flush"); code != 0 {
		t.Fatalf("flush exit %d", code)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("keys left after flush: %v", mr.Keys())
	}
}

func TestUsageErrors(t *testing.T) {
	startStore(t)
	if code, _, _ := runCLI(t); code != 2 {
		t.Fatalf("no command exit %d, want 2", code)
	}
	if code, _, _ := runCLI(t, "bogus"); code != 2 {
		t.Fatalf("unknown command exit %d, want 2", code)
	}
	if code, _, errOut := runCLI(t, "get"); code != 1 || !strings.Contains(errOut, "wrong number of arguments") {
		t.Fatalf("get without key exit %d: %s", code, errOut)
	}
}

func TestParseValue(t *testing.T) {
	if v, ok := parseValue("42").(float64); !ok || v != 42 {
		t.Fatalf("parseValue(42) = %#v", parseValue("42"))
	}
	if v := parseValue("hello world"); v != "hello world" {
		t.Fatalf("parseValue kept %#v", v)
	}
}

func TestGobCodecRejected(t *testing.T) {
	startStore(t)
	t.Setenv("CACHE_CODEC", "gob")

	code, _, errOut := runCLI(t, "get", "k")
	if code != 1 || !strings.Contains(errOut, "codec gob is not supported") {
		t.Fatalf("exit %d: %s", code, errOut)
	}
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	startStore(t)
	t.Setenv("CACHE_CODEC", "msgpack")

	if code, _, errOut := runCLI(t, "set", "n", "42"); code != 0 {
		t.Fatalf("set exit %d: %s", code, errOut)
	}
	if code, out, errOut := runCLI(t, "get", "n"); code != 0 || strings.TrimSpace(out) != "42" {
		t.Fatalf("get exit %d out %q: %s", code, out, errOut)
	}
}
