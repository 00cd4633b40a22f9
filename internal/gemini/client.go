// Package gemini implements the AI enrichment client on top of Google's
// Gemini API. Analysis never fails outward: remote or parse failures yield a
// deterministic low-confidence fallback result so the pipeline can always
// proceed.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/edgard/sheetpipe/internal/config"
)

// Analyzer is the enrichment capability consumed by the pipeline.
type Analyzer interface {
	// Analyze classifies one message. The result is always fully populated.
	Analyze(ctx context.Context, text string) *AnalysisResult

	// AnalyzeBatch classifies the given items with bounded concurrency,
	// chunk by chunk, pausing between chunks to respect rate limits. The
	// returned slice matches the input order; a single item's failure never
	// removes other items' results.
	AnalyzeBatch(ctx context.Context, items []BatchItem, concurrency int) []BatchResult
}

// BatchItem is one (id, text) pair submitted for batch analysis.
type BatchItem struct {
	ID   int64
	Text string
}

// BatchResult carries the outcome for one batch item. Err is only set when
// the batch was cancelled before the item ran; analysis itself never fails.
type BatchResult struct {
	ID     int64
	Result *AnalysisResult
	Err    error
}

// Client implements Analyzer using the Gemini Go SDK.
type Client struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	model         string
	timeout       time.Duration
	batchDelay    time.Duration
	concurrency   int
}

// NewClient creates a new Gemini enrichment client with the provided
// configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	contentConfig := &genai.GenerateContentConfig{
		Temperature: &temperature,

		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "model", cfg.Model)
	return &Client{
		genaiClient:   gi,
		log:           logger,
		contentConfig: contentConfig,
		model:         cfg.Model,
		timeout:       cfg.Timeout,
		batchDelay:    cfg.BatchDelay,
		concurrency:   cfg.BatchConcurrency,
	}, nil
}

// Analyze classifies one message. A failed API call yields a fallback with
// confidence 30, an unparseable response one with confidence 50; both are
// tagged with the "fallback" model marker. There is exactly one attempt per
// message, no retries.
func (c *Client) Analyze(ctx context.Context, text string) *AnalysisResult {
	startTime := time.Now()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(BuildAnalysisPrompt(text), genai.RoleUser),
	}

	resp, err := c.genaiClient.Models.GenerateContent(ctxWithTimeout, c.model, contents, c.contentConfig)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini API call failed, using fallback analysis", "error", err)
		return c.stamp(fallbackResult(text, callFallbackScore), fallbackModelName, startTime)
	}

	result, err := parseAnalysis(resp.Text())
	if err != nil {
		c.log.WarnContext(ctx, "Failed to parse Gemini response, using fallback analysis",
			"error", err, "response_preview", fallbackSummary(resp.Text()))
		return c.stamp(fallbackResult(text, parseFallbackScore), fallbackModelName, startTime)
	}

	c.log.DebugContext(ctx, "Message analyzed",
		"sentiment", result.Sentiment,
		"urgency", result.Urgency,
		"confidence", result.ConfidenceScore,
		"duration_ms", time.Since(startTime).Milliseconds())
	return c.stamp(result, c.model, startTime)
}

// AnalyzeBatch partitions items into chunks of the given concurrency, runs
// each chunk's analyses concurrently, and sleeps between chunks. Items not
// reached after cancellation carry the context error.
func (c *Client) AnalyzeBatch(ctx context.Context, items []BatchItem, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = c.concurrency
	}
	return analyzeInChunks(ctx, items, concurrency, c.batchDelay, c.Analyze)
}

func analyzeInChunks(ctx context.Context, items []BatchItem, concurrency int, delay time.Duration, analyze func(context.Context, string) *AnalysisResult) []BatchResult {
	results := make([]BatchResult, len(items))
	for start := 0; start < len(items); start += concurrency {
		end := min(start+concurrency, len(items))

		g, gCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					results[i] = BatchResult{ID: items[i].ID, Err: err}
					return nil
				}
				results[i] = BatchResult{ID: items[i].ID, Result: analyze(gCtx, items[i].Text)}
				return nil
			})
		}
		_ = g.Wait() // workers never return errors

		if end >= len(items) {
			break
		}
		select {
		case <-ctx.Done():
			for i := end; i < len(items); i++ {
				results[i] = BatchResult{ID: items[i].ID, Err: ctx.Err()}
			}
			return results
		case <-time.After(delay):
		}
	}
	return results
}

func (c *Client) stamp(result *AnalysisResult, model string, startTime time.Time) *AnalysisResult {
	result.ModelUsed = model
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return result
}
