package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/HyphaGroup/airops-go"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/auth"
	"github.com/HyphaGroup/airops-go/internal/backup"
	"github.com/HyphaGroup/airops-go/internal/cleanup"
	"github.com/HyphaGroup/airops-go/internal/config"
	"github.com/HyphaGroup/airops-go/internal/logger"
	"github.com/HyphaGroup/airops-go/internal/mcp"
	"github.com/HyphaGroup/airops-go/internal/schedule"
	"github.com/HyphaGroup/airops-go/internal/store"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			cmdToken(os.Args[2:])
			return
		case "backup":
			cmdBackup(os.Args[2:])
			return
		}
	}

	showVersion := flag.Bool("version", false, "Print version and exit")
	configDir := flag.String("config", "", "Directory holding airops.jsonc")
	httpFlag := flag.Bool("http", false, "Serve streamable HTTP instead of stdio")
	addr := flag.String("addr", "", "HTTP listen address (default: server.address from config)")
	readOnly := flag.Bool("read-only", false, "Expose only tools that do not start or change work")
	flag.Parse()

	if *showVersion {
		fmt.Printf("airops-mcp %s (client %s)\n", Version, airops.Version)
		return
	}

	if err := run(*configDir, *httpFlag, *addr, *readOnly); err != nil {
		log.Fatalf("airops-mcp: %v", err)
	}
}

func run(configDir string, useHTTP bool, addr string, readOnly bool) error {
	cfg, err := config.LoadAll(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout belongs to the stdio transport
	if err := logger.Init(logger.Options{
		Dir:   cfg.Logging.Dir,
		JSON:  cfg.Logging.JSON,
		Level: cfg.Logging.Level,
		Out:   os.Stderr,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.CloseSlog() }()

	if cfg.ConfigDir == "" {
		logger.Slog().Warn("No airops.jsonc found, running on defaults")
	}

	history, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = history.Close() }()

	schedules, err := schedule.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open schedules: %w", err)
	}
	defer func() { _ = schedules.Close() }()

	var tokens *auth.Store
	if useHTTP && cfg.Server.RequireAuth {
		tokens, err = auth.NewStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open token store: %w", err)
		}
		defer func() { _ = tokens.Close() }()
	} else if useHTTP {
		logger.Slog().Warn("HTTP transport without authentication; set server.require_auth to require tokens")
	}

	client, err := cfg.NewClient(
		airops.WithRecorder(history),
		airops.WithLogger(logger.Slog()),
	)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	server, err := mcp.NewServer(mcp.ServerConfig{
		Client:    client,
		Apps:      cfg.Registry,
		History:   history,
		Schedules: schedules,
		Tokens:    tokens,
		ReadOnly:  readOnly,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Audit:     audit.New(cfg.Logging.Audit, os.Stderr),
		Logger:    logger.Slog(),
	})
	if err != nil {
		return err
	}
	defer server.Close()

	cleanerCfg := cleanup.DefaultConfig(cfg.Storage.DataDir)
	cleanerCfg.Retention = cfg.Storage.Retention()
	cleanerCfg.History = history
	cleanerCfg.Runs = schedules
	cleanerCfg.Limiter = server.Limiter()
	cleanerCfg.Logger = logger.Slog().With("component", "cleanup")
	cleaner := cleanup.New(cleanerCfg)
	cleaner.Start()
	defer cleaner.Stop()

	if interval := cfg.Storage.Backup.Interval(); interval > 0 {
		sources := map[string]backup.Source{
			"executions.db": history,
			"schedules.db":  schedules,
		}
		if tokens != nil {
			sources["auth.db"] = tokens
		}
		backups, err := backup.New(backup.Config{
			Sources:   sources,
			BackupDir: cfg.Storage.Backup.Dir,
			Retention: cfg.Storage.Backup.Retention,
			Interval:  interval,
			Logger:    logger.Slog().With("component", "backup"),
		})
		if err != nil {
			return err
		}
		backups.Start()
		defer backups.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Slog().Info("Airops-mcp starting",
		"version", Version,
		"host", client.Host(),
		"identified", client.Identified(),
		"apps", len(cfg.Registry.Names()),
		"data_dir", cfg.Storage.DataDir,
	)

	if useHTTP {
		if addr == "" {
			addr = cfg.Server.Address
		}
		return server.ServeHTTP(ctx, addr)
	}
	return server.ServeStdio(ctx)
}
