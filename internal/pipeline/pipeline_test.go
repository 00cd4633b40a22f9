package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/edgard/sheetpipe/internal/config"
	"github.com/edgard/sheetpipe/internal/database"
	"github.com/edgard/sheetpipe/internal/extract"
	"github.com/edgard/sheetpipe/internal/gemini"
	"github.com/edgard/sheetpipe/internal/pipeline"
)

// fakeStore records the status transitions the pipeline drives.
type fakeStore struct {
	nextID        int64
	inserted      []database.Message
	completedID   int64
	completedRow  int
	urgency       string
	analysisJSON  []byte
	extractedJSON []byte
	failedID      int64
	updatedIDs    []int64
	unanalyzed    []database.Message

	insertErr   error
	completeErr error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) InsertMessage(_ context.Context, m *database.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	m.ID = f.nextID
	f.inserted = append(f.inserted, *m)
	return nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id int64, extractedData, analysis []byte, urgency string, rowNumber int) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completedID = id
	f.completedRow = rowNumber
	f.extractedJSON = extractedData
	f.analysisJSON = analysis
	f.urgency = urgency
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64) error {
	f.failedID = id
	return nil
}

func (f *fakeStore) UpdateAnalysis(_ context.Context, id int64, _ []byte, _ string) error {
	f.updatedIDs = append(f.updatedIDs, id)
	return nil
}

func (f *fakeStore) GetMessage(context.Context, int64) (*database.Message, error) {
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetRecentMessages(context.Context, int) ([]database.Message, error) {
	return nil, nil
}

func (f *fakeStore) GetUnanalyzed(context.Context, int) ([]database.Message, error) {
	return f.unanalyzed, nil
}

func (f *fakeStore) GetStats(context.Context) (*database.Stats, error) {
	return &database.Stats{}, nil
}

func (f *fakeStore) RunSQLMaintenance(context.Context) error { return nil }

type fakeAnalyzer struct {
	result *gemini.AnalysisResult
	calls  int
}

func (f *fakeAnalyzer) Analyze(context.Context, string) *gemini.AnalysisResult {
	f.calls++
	return f.result
}

func (f *fakeAnalyzer) AnalyzeBatch(_ context.Context, items []gemini.BatchItem, _ int) []gemini.BatchResult {
	results := make([]gemini.BatchResult, len(items))
	for i, item := range items {
		f.calls++
		results[i] = gemini.BatchResult{ID: item.ID, Result: f.result}
	}
	return results
}

type fakeDeliverer struct {
	rows      [][]string
	appendErr error
	rowNumber int
}

func (f *fakeDeliverer) Append(_ context.Context, row []string) (int, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	f.rows = append(f.rows, row)
	if f.rowNumber == 0 {
		f.rowNumber = 2
	}
	return f.rowNumber, nil
}

func (f *fakeDeliverer) Ping(context.Context) error { return nil }

func newTestConfig(enrichment bool) *config.Config {
	cfg := &config.Config{}
	cfg.Gemini.Enabled = enrichment
	cfg.Sheets.SpreadsheetID = "sheet-1"
	cfg.Sheets.CredentialsFile = "creds.json"
	return cfg
}

func TestProcessWithoutEnrichment(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	deliverer := &fakeDeliverer{}
	analyzer := &fakeAnalyzer{result: &gemini.AnalysisResult{Sentiment: "positive"}}
	p := pipeline.New(nil, newTestConfig(false), store, extract.New(extract.StrategySeparator), analyzer, deliverer)

	result, err := p.Process(context.Background(), pipeline.Inbound{Text: "緊急：至急連絡", SenderID: "42"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !result.Success || result.Status != database.StatusCompleted {
		t.Errorf("result = %+v, want completed success", result)
	}
	if result.Analysis != nil {
		t.Error("analysis should be nil when enrichment is disabled")
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer called %d times, want 0", analyzer.calls)
	}
	if result.ExtractedData["緊急"] != "至急連絡" {
		t.Errorf("extracted = %v, want 緊急→至急連絡", result.ExtractedData)
	}
	if store.completedID != result.MessageID || store.completedRow != 2 {
		t.Errorf("store recorded id=%d row=%d, want id=%d row=2", store.completedID, store.completedRow, result.MessageID)
	}

	if len(deliverer.rows) != 1 {
		t.Fatalf("delivered %d rows, want 1", len(deliverer.rows))
	}
	row := deliverer.rows[0]
	if len(row) != 10 {
		t.Fatalf("row has %d columns, want 10", len(row))
	}
	if row[1] != "緊急：至急連絡" {
		t.Errorf("row text column = %q", row[1])
	}
	for i := 2; i <= 8; i++ {
		if row[i] != "" {
			t.Errorf("column %d = %q, want empty (no contact fields, no analysis)", i, row[i])
		}
	}
}

func TestProcessWithEnrichment(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	deliverer := &fakeDeliverer{rowNumber: 7}
	analyzer := &fakeAnalyzer{result: &gemini.AnalysisResult{
		Sentiment: "negative",
		Urgency:   "high",
		Category:  "complaint",
	}}
	p := pipeline.New(nil, newTestConfig(true), store, extract.New(extract.StrategySeparator), analyzer, deliverer)

	result, err := p.Process(context.Background(), pipeline.Inbound{Text: "Name：Alice\nIssue：broken", SenderID: "7"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if analyzer.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", analyzer.calls)
	}
	if result.Analysis == nil || result.Analysis.Urgency != "high" {
		t.Errorf("analysis = %+v", result.Analysis)
	}
	if result.RowNumber != 7 {
		t.Errorf("row number = %d, want 7", result.RowNumber)
	}
	if store.urgency != "high" {
		t.Errorf("stored urgency = %q, want high", store.urgency)
	}
	if len(store.analysisJSON) == 0 {
		t.Error("analysis JSON should be persisted")
	}

	row := deliverer.rows[0]
	if row[2] != "Alice" {
		t.Errorf("name column = %q, want Alice", row[2])
	}
	if row[6] != "negative" || row[7] != "high" || row[8] != "complaint" {
		t.Errorf("analysis columns = %v", row[6:9])
	}
}

func TestProcessDeliveryFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	deliverer := &fakeDeliverer{appendErr: errors.New("quota exhausted")}
	p := pipeline.New(nil, newTestConfig(false), store, extract.New(extract.StrategySeparator), nil, deliverer)

	result, err := p.Process(context.Background(), pipeline.Inbound{Text: "hello", SenderID: "1"})
	if err != nil {
		t.Fatalf("delivery failure should not return an error: %v", err)
	}

	if result.Success || result.Status != database.StatusFailed {
		t.Errorf("result = %+v, want failed", result)
	}
	if result.Error == "" {
		t.Error("result should carry the delivery error")
	}
	if result.RowNumber != 0 {
		t.Errorf("row number = %d, want 0 on failure", result.RowNumber)
	}
	if store.failedID != result.MessageID {
		t.Errorf("failed id = %d, want %d", store.failedID, result.MessageID)
	}
	if store.completedID != 0 {
		t.Error("message must not be marked completed after failed delivery")
	}
}

func TestProcessInsertFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{insertErr: errors.New("disk full")}
	p := pipeline.New(nil, newTestConfig(false), store, extract.New(extract.StrategySeparator), nil, &fakeDeliverer{})

	if _, err := p.Process(context.Background(), pipeline.Inbound{Text: "hello", SenderID: "1"}); err == nil {
		t.Error("persistence failure on insert must propagate")
	}
}

func TestProcessNoDeduplication(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	deliverer := &fakeDeliverer{}
	p := pipeline.New(nil, newTestConfig(false), store, extract.New(extract.StrategySeparator), nil, deliverer)

	in := pipeline.Inbound{Text: "same text", SenderID: "9"}
	first, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	second, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if first.MessageID == second.MessageID {
		t.Error("identical text must create distinct records")
	}
	if len(deliverer.rows) != 2 {
		t.Errorf("delivered %d rows, want 2", len(deliverer.rows))
	}
}

func TestAnalyzeStored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{unanalyzed: []database.Message{
		{ID: 3, Content: "first"},
		{ID: 5, Content: "second"},
	}}
	analyzer := &fakeAnalyzer{result: &gemini.AnalysisResult{Urgency: "low"}}
	p := pipeline.New(nil, newTestConfig(true), store, extract.New(extract.StrategySeparator), analyzer, &fakeDeliverer{})

	updated, err := p.AnalyzeStored(context.Background(), 20, 2)
	if err != nil {
		t.Fatalf("AnalyzeStored failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}
	if len(store.updatedIDs) != 2 || store.updatedIDs[0] != 3 || store.updatedIDs[1] != 5 {
		t.Errorf("updated ids = %v, want [3 5]", store.updatedIDs)
	}
}

func TestAnalyzeStoredDisabled(t *testing.T) {
	t.Parallel()

	p := pipeline.New(nil, newTestConfig(false), &fakeStore{}, extract.New(extract.StrategySeparator), nil, &fakeDeliverer{})
	if _, err := p.AnalyzeStored(context.Background(), 20, 2); err == nil {
		t.Error("AnalyzeStored must fail when enrichment is disabled")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	p := pipeline.New(nil, newTestConfig(false), &fakeStore{}, extract.New(extract.StrategySeparator), nil, &fakeDeliverer{})
	health := p.HealthCheck(context.Background())
	if !health.Healthy {
		t.Errorf("health = %+v, want healthy", health)
	}
	for _, name := range []string{"config", "database", "sheets"} {
		if health.Checks[name] != "ok" {
			t.Errorf("check %q = %q, want ok", name, health.Checks[name])
		}
	}

	unconfigured := newTestConfig(false)
	unconfigured.Sheets.SpreadsheetID = ""
	p = pipeline.New(nil, unconfigured, &fakeStore{}, extract.New(extract.StrategySeparator), nil, nil)
	if health := p.HealthCheck(context.Background()); health.Healthy {
		t.Errorf("health = %+v, want unhealthy without sheet config", health)
	}
}
