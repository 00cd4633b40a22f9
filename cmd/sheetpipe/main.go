// Package main contains the entrypoint for the sheetpipe service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgard/sheetpipe/internal/app"
	"github.com/edgard/sheetpipe/internal/config"
	"github.com/edgard/sheetpipe/internal/database"
	"github.com/edgard/sheetpipe/internal/extract"
	"github.com/edgard/sheetpipe/internal/gemini"
	"github.com/edgard/sheetpipe/internal/logger"
	"github.com/edgard/sheetpipe/internal/pipeline"
	"github.com/edgard/sheetpipe/internal/server"
	"github.com/edgard/sheetpipe/internal/sheets"
	"github.com/edgard/sheetpipe/internal/tasks"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "sheetpipe",
	Short:   "Chat message pipeline: extract fields, enrich, deliver to a spreadsheet",
	Version: version,

	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, pipeline, and task scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print processing statistics from the local database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStats(cmd.Context())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database and spreadsheet reachability",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHealth(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd, statsCmd, healthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database %q: %w", cfg.Database.Path, err)
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	var analyzer gemini.Analyzer
	if cfg.Gemini.Enabled {
		client, err := gemini.NewClient(ctx, cfg.Gemini, log)
		if err != nil {
			return fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		analyzer = client
	} else {
		log.Info("AI enrichment disabled, messages will be stored without analysis")
	}

	deliverer, err := sheets.NewClient(ctx, cfg.Sheets, log)
	if err != nil {
		return fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	pipe := pipeline.New(log, cfg, store, extract.New(cfg.Extract.Strategy), analyzer, deliverer)

	tg, err := server.NewTelegramBot(cfg.Telegram, log, pipe)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	srv := server.New(log, cfg, pipe, store, tg)

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: cfg,
	})
	scheduler, err := app.NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	return app.New(log, cfg, srv, scheduler).Run(ctx)
}

func runStats(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database %q: %w", cfg.Database.Path, err)
	}
	defer database.CloseDB(db)

	stats, err := database.NewStore(db, nil).GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	checks := map[string]string{"config": "ok"}
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		record("database", err)
	} else {
		defer database.CloseDB(db)
		record("database", database.NewStore(db, nil).Ping(ctx))
	}

	if !cfg.SheetsConfigured() {
		record("sheets", sheets.ErrNotConfigured)
	} else if client, err := sheets.NewClient(ctx, cfg.Sheets, nil); err != nil {
		record("sheets", err)
	} else {
		record("sheets", client.Ping(ctx))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"healthy": healthy, "checks": checks}); err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("health check failed")
	}
	return nil
}
