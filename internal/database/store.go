package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("message not found")

// Store defines the persistence gateway used by the pipeline. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// InsertMessage inserts a new message record and fills in its generated ID.
	InsertMessage(ctx context.Context, message *Message) error

	// MarkCompleted transitions a message to the completed status, recording
	// the extraction result, the optional analysis, and the delivered sheet
	// row number. processed_at is set here and never again.
	MarkCompleted(ctx context.Context, id int64, extractedData []byte, analysis []byte, urgency string, rowNumber int) error

	// MarkFailed transitions a message to the failed status. A failed message
	// never carries a sheet row number.
	MarkFailed(ctx context.Context, id int64) error

	// UpdateAnalysis records an enrichment result on an existing message
	// without touching its delivery state.
	UpdateAnalysis(ctx context.Context, id int64, analysis []byte, urgency string) error

	// GetMessage retrieves a message by ID. Returns ErrNotFound when absent.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// GetRecentMessages retrieves the most recent 'limit' messages.
	GetRecentMessages(ctx context.Context, limit int) ([]Message, error)

	// GetUnanalyzed retrieves messages that have no enrichment result yet,
	// oldest first, for batch analysis.
	GetUnanalyzed(ctx context.Context, limit int) ([]Message, error)

	// GetStats aggregates total and today's message counts plus the urgency
	// distribution of completed messages.
	GetStats(ctx context.Context) (*Stats, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) InsertMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.SenderID == "" {
		return fmt.Errorf("message must have a non-empty sender_id")
	}
	if message.Status == "" {
		message.Status = StatusPending
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO messages (content, sender_id, status, extracted_data, analysis, urgency, sheets_row_number, created_at, processed_at)
        VALUES (:content, :sender_id, :status, :extracted_data, :analysis, :urgency, :sheets_row_number, :created_at, :processed_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "sender_id", message.SenderID, "error", err)
		return fmt.Errorf("failed to save message from %s: %w", message.SenderID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read generated message id: %w", err)
	}
	message.ID = id

	s.logger.DebugContext(ctx, "Message saved", "message_id", message.ID, "sender_id", message.SenderID)
	return nil
}

func (s *sqlxStore) MarkCompleted(ctx context.Context, id int64, extractedData []byte, analysis []byte, urgency string, rowNumber int) error {
	query := `
        UPDATE messages
        SET status = ?, extracted_data = ?, analysis = ?, urgency = ?, sheets_row_number = ?, processed_at = ?
        WHERE id = ? AND processed_at IS NULL;
    `

	result, err := s.db.ExecContext(ctx, query,
		StatusCompleted,
		nullString(extractedData),
		nullString(analysis),
		sql.NullString{String: urgency, Valid: urgency != ""},
		rowNumber,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking message completed", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d completed: %w", id, err)
	}
	return s.expectOneRow(ctx, result, id)
}

func (s *sqlxStore) MarkFailed(ctx context.Context, id int64) error {
	query := `
        UPDATE messages
        SET status = ?, processed_at = ?
        WHERE id = ? AND processed_at IS NULL;
    `

	result, err := s.db.ExecContext(ctx, query, StatusFailed, time.Now().UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking message failed", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d failed: %w", id, err)
	}
	return s.expectOneRow(ctx, result, id)
}

func (s *sqlxStore) UpdateAnalysis(ctx context.Context, id int64, analysis []byte, urgency string) error {
	query := `
        UPDATE messages
        SET analysis = ?, urgency = ?
        WHERE id = ?;
    `

	result, err := s.db.ExecContext(ctx, query,
		nullString(analysis),
		sql.NullString{String: urgency, Valid: urgency != ""},
		id,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating analysis", "message_id", id, "error", err)
		return fmt.Errorf("failed to update analysis for message %d: %w", id, err)
	}
	return s.expectOneRow(ctx, result, id)
}

func (s *sqlxStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var message Message
	query := `SELECT * FROM messages WHERE id = ?;`

	if err := s.db.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &message, nil
}

func (s *sqlxStore) GetRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var messages []Message
	query := `SELECT * FROM messages ORDER BY created_at DESC, id DESC LIMIT ?;`

	if err := s.db.SelectContext(ctx, &messages, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	return messages, nil
}

func (s *sqlxStore) GetUnanalyzed(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var messages []Message
	query := `SELECT * FROM messages WHERE analysis IS NULL ORDER BY id ASC LIMIT ?;`

	if err := s.db.SelectContext(ctx, &messages, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get unanalyzed messages: %w", err)
	}
	return messages, nil
}

func (s *sqlxStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{UrgencyDistribution: make(map[string]int)}

	if err := s.db.GetContext(ctx, &stats.Total, `SELECT COUNT(*) FROM messages;`); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	if err := s.db.GetContext(ctx, &stats.Today, `SELECT COUNT(*) FROM messages WHERE created_at >= ?;`, startOfDay); err != nil {
		return nil, fmt.Errorf("failed to count today's messages: %w", err)
	}

	rows := []struct {
		Urgency string `db:"urgency"`
		Count   int    `db:"count"`
	}{}
	query := `
        SELECT urgency, COUNT(*) AS count
        FROM messages
        WHERE status = ? AND urgency IS NOT NULL
        GROUP BY urgency;
    `
	if err := s.db.SelectContext(ctx, &rows, query, StatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to group messages by urgency: %w", err)
	}
	for _, row := range rows {
		stats.UrgencyDistribution[row.Urgency] = row.Count
	}

	return stats, nil
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)")
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}
	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}

func (s *sqlxStore) expectOneRow(ctx context.Context, result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		s.logger.WarnContext(ctx, "Update matched no rows", "message_id", id)
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// ExtractedMap decodes the stored extraction JSON, returning an empty map when
// absent or malformed.
func (m *Message) ExtractedMap() map[string]any {
	out := make(map[string]any)
	if m.ExtractedData.Valid {
		_ = json.Unmarshal([]byte(m.ExtractedData.String), &out)
	}
	return out
}
