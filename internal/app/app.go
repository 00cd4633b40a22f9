// Package app orchestrates the application components and manages their
// lifecycle: the HTTP server with its webhook consumer and the task
// scheduler run under one supervision group.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/sheetpipe/internal/config"
	"github.com/edgard/sheetpipe/internal/server"
)

// App represents the running application and its components.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	srv       *server.Server
	scheduler *Scheduler
}

// New creates the application supervisor over an assembled server and
// scheduler.
func New(logger *slog.Logger, cfg *config.Config, srv *server.Server, scheduler *Scheduler) *App {
	return &App{
		logger:    logger.With("component", "app"),
		cfg:       cfg,
		srv:       srv,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. Shutdown is graceful: the server drains within its
// configured timeout and the scheduler waits for running jobs.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Run(gCtx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
