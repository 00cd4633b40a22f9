// Package server exposes the HTTP surface: the messaging-platform webhook
// that feeds the pipeline, plus health, stats, and batch-analysis endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/sheetpipe/internal/config"
	"github.com/edgard/sheetpipe/internal/database"
	"github.com/edgard/sheetpipe/internal/logger"
	"github.com/edgard/sheetpipe/internal/pipeline"
)

// Server wires the chi router, the Telegram webhook receiver, and the
// pipeline together behind one HTTP listener.
type Server struct {
	log     *slog.Logger
	cfg     *config.Config
	pipe    *pipeline.Pipeline
	store   database.Store
	tg      *tgbot.Bot
	httpSrv *http.Server
}

// New builds the server and its routes. The Telegram bot may be nil; the
// webhook route is then not registered, which keeps the rest of the API
// usable in tests and in setups without a bot token.
func New(
	log *slog.Logger,
	cfg *config.Config,
	pipe *pipeline.Pipeline,
	store database.Store,
	tg *tgbot.Bot,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:   log.With("component", "server"),
		cfg:   cfg,
		pipe:  pipe,
		store: store,
		tg:    tg,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.routes(log),
	}
	return s
}

// NewTelegramBot creates the webhook-mode Telegram bot. Inbound messages are
// handed to the pipeline; every update is acknowledged regardless of the
// processing outcome so the platform does not redeliver.
func NewTelegramBot(cfg config.TelegramConfig, log *slog.Logger, pipe *pipeline.Pipeline) (*tgbot.Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	tgLog := log.With("component", "telegram_bot")

	opts := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			handleUpdate(ctx, tgLog, pipe, b, update)
		}),
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, tgbot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	b, err := tgbot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

func handleUpdate(ctx context.Context, log *slog.Logger, pipe *pipeline.Pipeline, b *tgbot.Bot, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return
	}

	senderID := "unknown"
	if update.Message.From != nil {
		senderID = strconv.FormatInt(update.Message.From.ID, 10)
	}

	result, err := pipe.Process(ctx, pipeline.Inbound{
		Text:     update.Message.Text,
		SenderID: senderID,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to process webhook message", "sender_id", senderID, "error", err)
		return
	}

	ack := fmt.Sprintf("Recorded at row %d.", result.RowNumber)
	if !result.Success {
		log.WarnContext(ctx, "Webhook message processing failed",
			"request_id", result.RequestID,
			"message_id", result.MessageID,
			"error", result.Error)
		ack = "Sorry, the message could not be processed."
	}
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   ack,
	}); err != nil {
		log.WarnContext(ctx, "Failed to send acknowledgement", "sender_id", senderID, "error", err)
	}
}

func (s *Server) routes(log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)

	if s.tg != nil {
		r.Post("/webhook", s.tg.WebhookHandler())
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/messages", s.handleRecentMessages)
	r.Post("/analyze/batch", s.handleBatchAnalyze)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.pipe.HealthCheck(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// messageView is the JSON projection of a stored message.
type messageView struct {
	ID            int64          `json:"id"`
	CreatedAt     string         `json:"created_at"`
	Content       string         `json:"content"`
	SenderID      string         `json:"sender_id"`
	Status        string         `json:"status"`
	Urgency       string         `json:"urgency,omitempty"`
	RowNumber     int64          `json:"row_number,omitempty"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := s.store.GetRecentMessages(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		view := messageView{
			ID:        m.ID,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
			Content:   m.Content,
			SenderID:  m.SenderID,
			Status:    m.Status,
			Urgency:   m.Urgency.String,
			RowNumber: m.SheetsRowNumber.Int64,
		}
		if m.ExtractedData.Valid {
			view.ExtractedData = m.ExtractedMap()
		}
		views = append(views, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": views, "count": len(views)})
}

func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	updated, err := s.pipe.AnalyzeStored(r.Context(), limit, s.cfg.Gemini.BatchConcurrency)
	if err != nil {
		s.writeError(w, r, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.log.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Run starts the HTTP listener and, when a bot is configured, the Telegram
// webhook consumer. It blocks until the context is cancelled or the listener
// fails, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if s.tg != nil {
		g.Go(func() error {
			s.tg.StartWebhook(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.log.Info("Shutting down HTTP server")
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Handler exposes the assembled routes, used by tests to drive requests
// without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}
