package tasks

import (
	"context"
	"fmt"
)

// newDailyReportTask creates the task that logs a daily processing summary:
// total and today's message counts plus the urgency distribution of
// completed messages.
func newDailyReportTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "daily_report")

	return func(ctx context.Context) error {
		stats, err := deps.Store.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to collect stats for daily report: %w", err)
		}

		log.InfoContext(ctx, "Daily processing report",
			"total_messages", stats.Total,
			"messages_today", stats.Today,
			"urgency_distribution", stats.UrgencyDistribution)
		return nil
	}
}
