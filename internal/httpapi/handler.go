// Package httpapi exposes the engine over HTTP.
//
// Routes:
//
//	POST /webhook                  submit one event envelope
//	GET  /{customerId}/points      available points
//	POST /{customerId}/consume     redeem points, body {"points": n}
//	GET  /healthz                  liveness
//	GET  /debug/buffer             buffered event counts
package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

// maxBodyBytes bounds webhook and consume request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the loyalty HTTP API.
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithNow sets the clock used as "as of" for balance queries.
func WithNow(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a Handler over e.
func NewHandler(e *engine.Engine, opts ...Option) *Handler {
	h := &Handler{engine: e, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/debug/buffer", h.BufferStats)
	r.Post("/webhook", h.Webhook)
	r.Get("/{customerId}/points", h.GetPoints)
	r.Post("/{customerId}/consume", h.ConsumePoints)
}

// Router returns a chi router with middleware and routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLog(h.logger))
	r.Use(chimw.Recoverer)
	h.Routes(r)
	return r
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BufferStats handles GET /debug/buffer.
func (h *Handler) BufferStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.BufferStats(r.Context())
	if err != nil {
		h.logger.Error("buffer stats failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// Webhook handles POST /webhook.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid event format")
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		h.logger.Debug("webhook rejected", "error", err)
		Error(w, http.StatusBadRequest, "Invalid event format: "+err.Error())
		return
	}

	out, err := h.engine.Submit(r.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, event.ErrInvalidEvent):
		Error(w, http.StatusBadRequest, "Invalid event format: "+err.Error())
		return
	default:
		h.logger.Error("error processing event",
			"event", ev.String(),
			"receipt", out.Receipt,
			"contract", engine.IsContractError(err),
			"error", err,
		)
		Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":         "Event processed",
		"classification": out.Classification.String(),
		"receipt":        out.Receipt,
	})
}
