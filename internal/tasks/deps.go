// Package tasks implements the scheduled background tasks: the daily
// processing report and SQLite maintenance.
package tasks

import (
	"log/slog"

	"github.com/edgard/sheetpipe/internal/config"
	"github.com/edgard/sheetpipe/internal/database"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
