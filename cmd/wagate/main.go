package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wagate/internal/admission"
	"wagate/internal/channel"
	"wagate/internal/config"
	"wagate/internal/domain"
	"wagate/internal/lifecycle"
	"wagate/internal/notify"
	"wagate/internal/plan"
	"wagate/internal/registry"
	"wagate/internal/store"

	"github.com/spf13/cobra"

	wdriver "wagate/internal/driver"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "wagate",
		Short: "wagate: multi-tenant messaging session gateway",
		Long:  "wagate orchestrates browser-backed messaging sessions for multiple tenants: connection lifecycle, reconnects, quotas, and a realtime event stream.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.wagate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data", dataDir)
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (session orchestration + event stream)",
		Long:  "Starts the session orchestrator, health monitor, and realtime event server. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg)

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer db.Close()

	catalog, err := plan.NewCatalog(plan.CatalogConfig{
		Path:        cfg.Plans.CatalogPath,
		DefaultPlan: cfg.Plans.DefaultPlan,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}

	admit := admission.New(admission.Config{
		Plans:  catalog,
		Usage:  plan.NewStoreUsage(db, db),
		Logger: logger,
	})

	reg := registry.New(registry.Config{
		DestroyTimeout: time.Duration(cfg.Reconnect.ReleaseTimeoutSeconds) * time.Second,
		Logger:         logger,
	})

	hub := notify.NewHub(notify.Config{
		BufferSize: cfg.Notify.BufferSize,
		Logger:     logger,
	})

	dispatcher := channel.NewDispatcher(channel.DispatcherConfig{
		Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Secret:  cfg.Webhook.Secret,
		Logger:  logger,
	})

	drivers, err := buildDriverFactory(cfg)
	if err != nil {
		return err
	}

	orch := lifecycle.NewOrchestrator(lifecycle.OrchestratorConfig{
		Logger:    logger,
		Admission: admit,
		Audit:     db,
		Reconnect: lifecycle.SupervisorConfig{
			PollInterval: time.Duration(cfg.Reconnect.PollIntervalSeconds) * time.Second,
			MaxAttempts:  uint64(cfg.Reconnect.MaxAttempts),
			Logger:       logger,
		},
		Health: lifecycle.HealthConfig{
			Interval:     time.Duration(cfg.Health.IntervalSeconds) * time.Second,
			ProbeTimeout: time.Duration(cfg.Health.ProbeTimeoutSeconds) * time.Second,
			Logger:       logger,
		},
		Deps: lifecycle.Deps{
			Registry: reg,
			Notifier: hub,
			Store:    db,
			Messages: db,
			Drivers:  drivers,
			Webhooks: dispatcher,
			Logger:   logger,
		},
	})

	if err := orch.Resume(ctx); err != nil {
		return fmt.Errorf("resume sessions: %w", err)
	}

	if cfg.Realtime.Enabled {
		metricsEndpoint := ""
		if cfg.Metrics.Enabled {
			metricsEndpoint = cfg.Metrics.Endpoint
		}
		server := channel.NewServer(channel.ServerConfig{
			Host:            cfg.Realtime.Host,
			Port:            cfg.Realtime.Port,
			Path:            cfg.Realtime.Path,
			MetricsEndpoint: metricsEndpoint,
			Hub:             hub,
			Logger:          logger,
		})
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("realtime server error", "err", err)
			}
		}()
	} else {
		logger.Info("realtime server disabled")
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 15 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Shutdown(shutdownCtx)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func buildDriverFactory(cfg *config.Config) (domain.DriverFactory, error) {
	switch cfg.Driver.Mode {
	case "chrome":
		return wdriver.NewWebFactory(wdriver.WebConfig{
			ProfileDir:  cfg.Driver.ProfileDir,
			Headless:    cfg.Driver.Headless,
			InitTimeout: time.Duration(cfg.Driver.InitTimeoutSeconds) * time.Second,
			Logger:      logger,
		}), nil
	case "memory":
		return wdriver.NewMemoryFactory(), nil
	default:
		return nil, fmt.Errorf("unknown driver mode: %s", cfg.Driver.Mode)
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			db, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				logger.Info("store", "healthy", false, "err", err)
				return nil
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sessions, err := db.ListSessions(ctx, "")
			if err != nil {
				logger.Info("store", "healthy", false, "err", err)
				return nil
			}

			byState := make(map[domain.State]int)
			for _, s := range sessions {
				byState[s.State]++
			}
			logger.Info("store", "healthy", true, "sessions", len(sessions))
			for state, n := range byState {
				logger.Info("sessions", "state", state, "count", n)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. driver.mode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. driver.mode memory)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the system daemon (launchd/systemd)",
	}
	cmd.AddCommand(installDaemonCmd())
	cmd.AddCommand(uninstallDaemonCmd())
	return cmd
}
