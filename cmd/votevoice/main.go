// Command votevoice serves the voice command interpreter of the student
// election app: the device WebSocket, the admin API, uploads and the probes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/MrWong99/votevoice/internal/app"
	"github.com/MrWong99/votevoice/internal/config"
	"github.com/MrWong99/votevoice/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("votevoice", flag.ContinueOnError)
	configPath := fs.StringP("config", "c", "votevoice.yaml", "path to the YAML configuration file")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before the configuration")
	watch := fs.Bool("watch", true, "reload the dialogue settings and log level when the config file changes")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && (fs.Changed("env-file") || !errors.Is(err, os.ErrNotExist)) {
		fmt.Fprintf(os.Stderr, "votevoice: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath, fs.Changed("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "votevoice: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("votevoice starting",
		"version", version,
		"config", configSource(*configPath, fromFile),
		"listen_addr", cfg.Server.ListenAddr,
		"store", cfg.Store.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler),
		app.WithLogLevel(&level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	var background []func(context.Context) error
	if fromFile && *watch {
		w, err := config.NewWatcher(*configPath, application.Reload, config.WithEnv(os.LookupEnv))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		background = append(background, w.Run)
	}

	printStartupSummary(cfg)

	code := 0
	if err := application.Run(ctx, background...); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path with the environment overrides applied. A missing
// file that was not asked for explicitly yields the defaults.
func loadConfig(path string, explicit bool) (*config.Config, bool, error) {
	cfg, err := config.Load(path, os.LookupEnv)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) || explicit {
		return nil, false, err
	}
	cfg = config.Default()
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, false, fmt.Errorf("environment overrides: %w", err)
	}
	return cfg, false, nil
}

func configSource(path string, fromFile bool) string {
	if fromFile {
		return path
	}
	return "(defaults)"
}

func printStartupSummary(cfg *config.Config) {
	admin := "(disabled)"
	if cfg.Server.AdminToken != "" {
		admin = "enabled"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       votevoice - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Store           : %-19s ║\n", cfg.Store.Backend)
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Dialogue.Language)
	fmt.Printf("║  Max retries     : %-19d ║\n", cfg.Dialogue.MaxRetries)
	fmt.Printf("║  Positions       : %-19d ║\n", len(cfg.Election.Positions))
	fmt.Printf("║  Admin API       : %-19s ║\n", admin)
	fmt.Println("╚═══════════════════════════════════════╝")
}
