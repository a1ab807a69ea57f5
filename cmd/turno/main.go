package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ashita-ai/turno"
	"github.com/ashita-ai/turno/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

type flags struct {
	envFile     string
	reconcile   bool
	migrateOnly bool
	memory      bool
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var f flags
	flagSet := pflag.NewFlagSet("turno", pflag.ContinueOnError)
	flagSet.StringVar(&f.envFile, "env-file", ".env", "load environment variables from this file if it exists")
	flagSet.BoolVar(&f.reconcile, "reconcile", false, "run one reconciliation pass and exit")
	flagSet.BoolVar(&f.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	flagSet.BoolVar(&f.memory, "memory", false, "keep all state in process (same as TURNO_STORE=memory)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if args := flagSet.Args(); len(args) > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument: %s\n", args[0])
		return 2
	}

	// The env file may set TURNO_LOG_LEVEL, so it is loaded before the logger.
	if err := config.LoadEnvFile(f.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("TURNO_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, f); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	opts := []turno.Option{
		turno.WithEnvFile(""),
		turno.WithLogger(logger),
		turno.WithVersion(version),
	}
	if f.memory {
		opts = append(opts, turno.WithMemoryStore())
	}
	app, err := turno.New(opts...)
	if err != nil {
		return err
	}

	switch {
	case f.migrateOnly:
		// New already applied the migrations.
		logger.Info("migrations applied")
		return app.Shutdown(context.Background())
	case f.reconcile:
		passCtx, passCancel := context.WithTimeout(ctx, time.Minute)
		report, err := app.Reconcile(passCtx)
		passCancel()
		if err != nil {
			_ = app.Shutdown(context.Background())
			return fmt.Errorf("reconcile: %w", err)
		}
		logger.Info("reconcile: done",
			"legacy_normalized", report.LegacyNormalized,
			"agents_linked", report.AgentsLinked,
			"stale_cleared", report.StaleCleared,
			"orphaned", report.Orphaned,
			"assigned", report.Assigned,
			"failed", report.Failed,
			"duration", report.Duration,
		)
		return app.Shutdown(context.Background())
	}

	return app.Run(ctx)
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
