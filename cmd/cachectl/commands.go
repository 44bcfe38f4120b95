package main

import (
	"context"
	stdErrors "errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirkobrombin/go-warmlock/v1/config"
	"github.com/mirkobrombin/go-warmlock/v1/lock"
	"github.com/mirkobrombin/go-warmlock/v1/metrics"
	"github.com/mirkobrombin/go-warmlock/v1/presets"
)

var errUsage = stdErrors.New("wrong number of arguments")

type app struct {
	stack  *presets.Stack[any]
	stdout io.Writer
	stderr io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"health":      health,
	"stats":       stats,
	"flush":       flush,
	"del-pattern": delPattern,
	"get":         get,
	"set":         set,
	"lock":        acquire,
	"unlock":      release,
	"locked":      locked,
	"serve":       serve,
}

func newApp(ctx context.Context, path string, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Codec == "gob" {
		// gob cannot decode into an interface value without registered types.
		return nil, stdErrors.New("codec gob is not supported by cachectl, use json, msgpack or cbor")
	}
	logger := cfg.Log.NewLogger(stderr)
	stack, err := presets.New[any](cfg, presets.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if stack.Conn.Configured() {
		if err := stack.Conn.Connect(ctx); err != nil {
			logger.Warn("warmlock: store unreachable, using fallback", "error", err)
		}
	}
	return &app{stack: stack, stdout: stdout, stderr: stderr}, nil
}

func (a *app) close() { _ = a.stack.Close() }

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func health(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if !a.stack.Cache.IsHealthy(ctx) {
		fmt.Fprintln(a.stdout, "unhealthy")
		return stdErrors.New("store did not answer the health probe")
	}
	fmt.Fprintln(a.stdout, "healthy")
	return nil
}

func stats(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	st := a.stack.Cache.Stats(ctx)
	if st == nil {
		return stdErrors.New("no backend available")
	}
	fmt.Fprintf(a.stdout, "mode: %s\nkeys: %d\n", st.Mode, st.Keys)
	fields := make([]string, 0, len(st.Info))
	for k := range st.Info {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		fmt.Fprintf(a.stdout, "%s: %s\n", k, st.Info[k])
	}
	return nil
}

func flush(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if !a.stack.Cache.FlushAll(ctx) {
		return stdErrors.New("store flush failed, local fallback cleared")
	}
	fmt.Fprintln(a.stdout, "flushed")
	return nil
}

func delPattern(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	fmt.Fprintln(a.stdout, a.stack.Cache.DeleteByPattern(ctx, args[0]))
	return nil
}

func get(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	v, ok := a.stack.Cache.Get(ctx, args[0])
	if !ok {
		return fmt.Errorf("%s: not found", args[0])
	}
	return a.printJSON(v)
}

func set(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	var ttl time.Duration
	if len(args) == 3 {
		d, err := time.ParseDuration(args[2])
		if err != nil {
			return err
		}
		ttl = d
	}
	a.stack.Cache.Set(ctx, args[0], parseValue(args[1]), ttl)
	fmt.Fprintln(a.stdout, "OK")
	return nil
}

// parseValue decodes s as JSON, keeping it as a plain string when it is not.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func acquire(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	opts := []lock.AcquireOption{lock.WithMaxRetries(0)}
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return err
		}
		opts = append(opts, lock.WithTTL(d))
	}
	token, ok := a.stack.Locker.Acquire(ctx, args[0], opts...)
	if !ok {
		return fmt.Errorf("%s: lock is held or store unavailable", args[0])
	}
	fmt.Fprintln(a.stdout, token)
	return nil
}

func release(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if !a.stack.Locker.Release(ctx, args[0], args[1]) {
		return fmt.Errorf("%s: not held by token %s", args[0], args[1])
	}
	fmt.Fprintln(a.stdout, "released")
	return nil
}

func locked(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	fmt.Fprintln(a.stdout, a.stack.Locker.IsLocked(ctx, args[0]))
	return nil
}

func serve(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	addr := fs.String("addr", ":2112", "listen address for /metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !a.stack.Cache.IsHealthy(r.Context()) {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.stack.Start(ctx)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(a.stderr, "cachectl: serving metrics on %s\n", *addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
