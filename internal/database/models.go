package database

import (
	"database/sql"
	"time"
)

// Message statuses. Progression is monotonic: pending → processing →
// processed/completed, or failed. A completed record always carries a sheet
// row number; a failed one never does.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Message represents one inbound chat message moving through the pipeline.
// Content and sender are immutable after insertion; extraction, analysis, and
// delivery results are filled in as the pipeline progresses.
type Message struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	Content  string `db:"content"`
	SenderID string `db:"sender_id"`
	Status   string `db:"status"`

	ExtractedData sql.NullString `db:"extracted_data"` // JSON mapping from the extractor
	Analysis      sql.NullString `db:"analysis"`       // JSON enrichment result, null when AI disabled or failed
	Urgency       sql.NullString `db:"urgency"`        // denormalized from the analysis for stats grouping

	SheetsRowNumber sql.NullInt64 `db:"sheets_row_number"`
	ProcessedAt     sql.NullTime  `db:"processed_at"` // set exactly once, on terminal status
}

// Stats aggregates message counts for reporting.
type Stats struct {
	Total               int            `json:"total"`
	Today               int            `json:"today"`
	UrgencyDistribution map[string]int `json:"urgency_distribution"`
}
