// Command streamthread is the main entry point for the youtube2slackthread
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fuba/youtube2slackthread/internal/app"
	"github.com/fuba/youtube2slackthread/internal/config"
	"github.com/fuba/youtube2slackthread/internal/secretbox"
)

const version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "create-config" {
		return runCreateConfig(args[1:])
	}

	fs := flag.NewFlagSet("streamthread", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "streamthread: config file %q not found — run `streamthread create-config %s` to get started\n", *configPath, *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "streamthread: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("streamthread starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	secrets, err := loadSecrets()
	if err != nil {
		slog.Error("failed to load secrets", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := app.InitTelemetry(ctx, version)
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, secrets)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadSecrets reads everything app.Secrets needs from the environment.
// These never live in the YAML config (see internal/config).
func loadSecrets() (app.Secrets, error) {
	box, err := secretbox.LoadKeyFromEnv()
	if err != nil {
		return app.Secrets{}, fmt.Errorf("cookie encryption key: %w", err)
	}

	dbPath := os.Getenv("USER_COOKIES_DB_PATH")
	if dbPath == "" {
		dbPath = "streamthread.db"
	}

	return app.Secrets{
		CookieKey:          box,
		DBPath:             dbPath,
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
	}, nil
}

// runCreateConfig writes a starter config.yaml to the path given as the first
// positional argument (default config.yaml). Workspace administration
// (add/remove/list/activate) is a separate, unimplemented CLI surface —
// workspaces are registered through the store directly or bootstrapped from
// the SLACK_* env fallback on first boot.
func runCreateConfig(args []string) int {
	fs := flag.NewFlagSet("create-config", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := "config.yaml"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "streamthread: %q already exists, refusing to overwrite\n", path)
		return 1
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "streamthread: write %q: %v\n", path, err)
		return 1
	}
	fmt.Printf("wrote %s — edit it, then set SLACK_BOT_TOKEN/SLACK_SIGNING_SECRET/COOKIE_ENCRYPTION_KEY and run streamthread\n", path)
	return 0
}

const exampleConfig = `server:
  listen_addr: ":8080"
  log_level: info

whisper:
  model_path: /models/ggml-base.en.bin
  default_language: en

transcribe:
  workers: 2
  queue_depth: 16

vad:
  aggressiveness: 2
`

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
