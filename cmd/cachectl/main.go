// Command cachectl inspects and administers a warmlock cache and its locks.
//
// Usage:
//
//	cachectl [-config path] [-trace] <command> [args]
//
// Commands: health, stats, flush, del-pattern <glob>, get <key>,
// set <key> <value> [ttl], lock <resource> [ttl], unlock <resource> <token>,
// locked <resource>, serve [-addr :2112].
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: cachectl [flags] <health|stats|flush|del-pattern|get|set|lock|unlock|locked|serve> [args]")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cachectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file (defaults to $CONFIG_PATH)")
	trace := fs.Bool("trace", false, "print OpenTelemetry spans to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr, fs)
		return 2
	}

	if *trace {
		shutdown, err := setupTracing(stderr)
		if err != nil {
			fmt.Fprintf(stderr, "cachectl: tracing: %v\n", err)
			return 1
		}
		defer shutdown(context.WithoutCancel(ctx))
	}

	app, err := newApp(ctx, *configPath, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "cachectl: %v\n", err)
		return 1
	}
	defer app.close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	h, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "cachectl: unknown command %q\n", cmd)
		usage(stderr, fs)
		return 2
	}
	if err := h(ctx, app, rest); err != nil {
		fmt.Fprintf(stderr, "cachectl %s: %v\n", cmd, err)
		return 1
	}
	return 0
}
