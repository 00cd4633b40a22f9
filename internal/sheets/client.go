// Package sheets implements the spreadsheet delivery client. It appends one
// formatted row per processed message to a configured Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/edgard/sheetpipe/internal/config"
)

// ErrNotConfigured is returned when the spreadsheet id or credentials are
// unset. The health check reports this as an unhealthy delivery target.
var ErrNotConfigured = errors.New("sheets: spreadsheet id or credentials not configured")

// Deliverer is the delivery capability consumed by the pipeline.
type Deliverer interface {
	// Append writes one row to the next free row of the sheet and returns the
	// 1-based row number it landed on.
	Append(ctx context.Context, row []string) (int, error)

	// Ping fetches spreadsheet metadata to verify reachability.
	Ping(ctx context.Context) error
}

// Client implements Deliverer against the Google Sheets API using
// service-account credentials.
type Client struct {
	svc           *sheets.Service
	log           *slog.Logger
	spreadsheetID string
	sheetName     string
}

// NewClient creates a new sheet delivery client for the configured
// spreadsheet and tab.
func NewClient(ctx context.Context, cfg config.SheetsConfig, log *slog.Logger) (*Client, error) {
	if cfg.SpreadsheetID == "" || cfg.CredentialsFile == "" {
		return nil, ErrNotConfigured
	}

	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return newWithService(svc, cfg.SpreadsheetID, cfg.SheetName, log), nil
}

func newWithService(svc *sheets.Service, spreadsheetID, sheetName string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	return &Client{
		svc:           svc,
		log:           log.With("component", "sheets_client"),
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}
}

// Append determines the next free row by reading the extent of column A, then
// writes the row as a single contiguous range update. An empty sheet appends
// at row 2: row 1 is reserved for a header by long-standing convention.
//
// The read-then-write is not synchronized against concurrent writers; two
// simultaneous appends can race for the same row.
func (c *Client) Append(ctx context.Context, row []string) (int, error) {
	if len(row) == 0 {
		return 0, errors.New("sheets: cannot append an empty row")
	}

	readRange := fmt.Sprintf("%s!A:A", c.sheetName)
	extent, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet extent: %w", err)
	}

	rowCount := len(extent.Values)
	if rowCount == 0 {
		rowCount = 1
	}
	target := rowCount + 1

	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}
	writeRange := fmt.Sprintf("%s!A%d:%s%d", c.sheetName, target, columnLetter(len(row)), target)

	_, err = c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, writeRange, &sheets.ValueRange{Values: [][]interface{}{values}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("failed to write row %d: %w", target, err)
	}

	c.log.DebugContext(ctx, "Row appended", "row", target, "columns", len(row))
	return target, nil
}

// Ping verifies the spreadsheet is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to fetch spreadsheet metadata: %w", err)
	}
	return nil
}

// columnLetter converts a 1-based column count to its A1-notation letter
// (1 → A, 26 → Z, 27 → AA).
func columnLetter(n int) string {
	letters := ""
	for n > 0 {
		n--
		letters = string(rune('A'+n%26)) + letters
		n /= 26
	}
	return letters
}
