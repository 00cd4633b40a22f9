// Package pipeline composes field extraction, AI enrichment, sheet delivery,
// and persistence into one request-scoped flow with status tracking.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/sheetpipe/internal/config"
	"github.com/edgard/sheetpipe/internal/database"
	"github.com/edgard/sheetpipe/internal/extract"
	"github.com/edgard/sheetpipe/internal/gemini"
	"github.com/edgard/sheetpipe/internal/sheets"
)

// Inbound is the payload the HTTP layer hands to the pipeline: raw message
// text plus an opaque sender identifier.
type Inbound struct {
	Text     string
	SenderID string
}

// Result is the structured outcome of one pipeline run. Failures after the
// initial persist are captured here rather than returned as errors.
type Result struct {
	RequestID      string                 `json:"request_id"`
	MessageID      int64                  `json:"message_id"`
	Success        bool                   `json:"success"`
	Status         string                 `json:"status"`
	RowNumber      int                    `json:"row_number,omitempty"`
	ExtractedData  map[string]any         `json:"extracted_data"`
	Analysis       *gemini.AnalysisResult `json:"analysis,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
}

// Health aggregates the collaborator probes. Healthy is true only when every
// check passed.
type Health struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
}

// Pipeline orchestrates the message flow. All collaborators are injected at
// construction so tests can substitute doubles.
type Pipeline struct {
	log       *slog.Logger
	cfg       *config.Config
	store     database.Store
	extractor extract.Extractor
	analyzer  gemini.Analyzer
	deliverer sheets.Deliverer
}

// New creates a pipeline with explicit dependencies. The analyzer may be nil
// when enrichment is disabled.
func New(
	log *slog.Logger,
	cfg *config.Config,
	store database.Store,
	extractor extract.Extractor,
	analyzer gemini.Analyzer,
	deliverer sheets.Deliverer,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline"),
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		analyzer:  analyzer,
		deliverer: deliverer,
	}
}

// Process runs one message through persist → extract → enrich → deliver →
// record. The returned error is non-nil only when the initial persist fails;
// without storage the pipeline cannot report status at all. Every other
// failure is absorbed into the Result. There are no retries; a failed message
// requires external re-submission, and identical text always creates a new
// record and a new row.
func (p *Pipeline) Process(ctx context.Context, in Inbound) (*Result, error) {
	startTime := time.Now()
	result := &Result{
		RequestID: uuid.NewString(),
		Status:    database.StatusProcessing,
	}
	log := p.log.With("request_id", result.RequestID, "sender_id", in.SenderID)

	msg := &database.Message{
		Content:  in.Text,
		SenderID: in.SenderID,
		Status:   database.StatusProcessing,
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist inbound message: %w", err)
	}
	result.MessageID = msg.ID

	extracted := p.extractor.Extract(in.Text)
	result.ExtractedData = extracted
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		log.WarnContext(ctx, "Failed to serialize extracted data", "error", err)
		extractedJSON = []byte("{}")
	}

	var analysis *gemini.AnalysisResult
	if p.cfg.Gemini.Enabled && p.analyzer != nil {
		analysis = p.analyzer.Analyze(ctx, in.Text)
		result.Analysis = analysis
	}

	rowNumber, err := p.deliverer.Append(ctx, BuildRow(in.Text, extracted, analysis, extractedJSON))
	if err != nil {
		log.ErrorContext(ctx, "Sheet delivery failed", "message_id", msg.ID, "error", err)
		if markErr := p.store.MarkFailed(ctx, msg.ID); markErr != nil {
			log.ErrorContext(ctx, "Failed to record failed status", "message_id", msg.ID, "error", markErr)
		}
		return p.fail(result, startTime, fmt.Errorf("delivery failed: %w", err)), nil
	}
	result.RowNumber = rowNumber

	var analysisJSON []byte
	if analysis != nil {
		analysisJSON, _ = json.Marshal(analysis)
	}
	if err := p.store.MarkCompleted(ctx, msg.ID, extractedJSON, analysisJSON, urgencyOf(analysis, extracted), rowNumber); err != nil {
		log.ErrorContext(ctx, "Failed to record completed status", "message_id", msg.ID, "error", err)
		return p.fail(result, startTime, fmt.Errorf("status update failed: %w", err)), nil
	}

	result.Success = true
	result.Status = database.StatusCompleted
	result.ProcessingTime = time.Since(startTime)
	log.InfoContext(ctx, "Message processed",
		"message_id", msg.ID,
		"row", rowNumber,
		"enriched", analysis != nil,
		"duration_ms", result.ProcessingTime.Milliseconds())
	return result, nil
}

// AnalyzeStored runs batch enrichment over messages that have no analysis
// yet and records each successful result. Returns the number of messages
// updated.
func (p *Pipeline) AnalyzeStored(ctx context.Context, limit, concurrency int) (int, error) {
	if p.analyzer == nil || !p.cfg.Gemini.Enabled {
		return 0, fmt.Errorf("AI enrichment is disabled")
	}

	messages, err := p.store.GetUnanalyzed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load unanalyzed messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	items := make([]gemini.BatchItem, len(messages))
	for i, msg := range messages {
		items[i] = gemini.BatchItem{ID: msg.ID, Text: msg.Content}
	}

	updated := 0
	for _, res := range p.analyzer.AnalyzeBatch(ctx, items, concurrency) {
		if res.Err != nil || res.Result == nil {
			p.log.WarnContext(ctx, "Batch item skipped", "message_id", res.ID, "error", res.Err)
			continue
		}
		analysisJSON, _ := json.Marshal(res.Result)
		if err := p.store.UpdateAnalysis(ctx, res.ID, analysisJSON, res.Result.Urgency); err != nil {
			p.log.ErrorContext(ctx, "Failed to record batch analysis", "message_id", res.ID, "error", err)
			continue
		}
		updated++
	}
	p.log.InfoContext(ctx, "Batch analysis finished", "candidates", len(messages), "updated", updated)
	return updated, nil
}

// HealthCheck probes configuration presence, persistence reachability, and
// sheet reachability. Healthy only when all three pass.
func (p *Pipeline) HealthCheck(ctx context.Context) *Health {
	health := &Health{Healthy: true, Checks: make(map[string]string)}
	pass := func(name string, err error) {
		if err != nil {
			health.Healthy = false
			health.Checks[name] = err.Error()
			return
		}
		health.Checks[name] = "ok"
	}

	var cfgErr error
	if !p.cfg.SheetsConfigured() {
		cfgErr = sheets.ErrNotConfigured
	}
	pass("config", cfgErr)
	pass("database", p.store.Ping(ctx))

	if p.deliverer == nil {
		pass("sheets", sheets.ErrNotConfigured)
	} else {
		pass("sheets", p.deliverer.Ping(ctx))
	}
	return health
}

func (p *Pipeline) fail(result *Result, startTime time.Time, err error) *Result {
	result.Success = false
	result.Status = database.StatusFailed
	result.Error = err.Error()
	result.ProcessingTime = time.Since(startTime)
	return result
}

// BuildRow assembles the fixed-column sheet row: timestamp, original text,
// the four contact fields, the analysis classification, and the full
// extracted mapping as JSON.
func BuildRow(text string, extracted map[string]any, analysis *gemini.AnalysisResult, extractedJSON []byte) []string {
	sentiment, urgency, category := "", "", ""
	if analysis != nil {
		sentiment = analysis.Sentiment
		urgency = analysis.Urgency
		category = analysis.Category
	}
	return []string{
		time.Now().UTC().Format(time.RFC3339),
		text,
		fieldString(extracted, "name"),
		fieldString(extracted, "email"),
		fieldString(extracted, "phone"),
		fieldString(extracted, "company"),
		sentiment,
		urgency,
		category,
		string(extractedJSON),
	}
}

func fieldString(extracted map[string]any, key string) string {
	value, ok := extracted[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// urgencyOf picks the urgency recorded for stats grouping: the analysis
// result when present, otherwise an urgency field from extraction, otherwise
// empty (stored as NULL and excluded from the distribution).
func urgencyOf(analysis *gemini.AnalysisResult, extracted map[string]any) string {
	if analysis != nil {
		return analysis.Urgency
	}
	return fieldString(extracted, "urgency")
}
