package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/ledger"
)

type pointsResponse struct {
	PointsAvailable int64 `json:"pointsAvailable"`
}

// GetPoints handles GET /{customerId}/points.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	n, err := h.engine.AvailablePoints(r.Context(), customerID, h.now())
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	JSON(w, http.StatusOK, pointsResponse{PointsAvailable: n})
}

// ConsumePoints handles POST /{customerId}/consume.
func (h *Handler) ConsumePoints(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	var req struct {
		Points json.RawMessage `json:"points"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	points, ok := parsePoints(req.Points)
	if !ok {
		Error(w, http.StatusBadRequest, "Invalid points value")
		return
	}

	remaining, err := h.engine.Consume(r.Context(), customerID, points, h.now())
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	JSON(w, http.StatusOK, pointsResponse{PointsAvailable: remaining})
}

// parsePoints accepts a positive whole JSON number. Strings, booleans,
// fractions and values beyond int64 are rejected.
func parsePoints(raw json.RawMessage) (int64, bool) {
	var f float64
	if len(raw) == 0 || json.Unmarshal(raw, &f) != nil {
		return 0, false
	}
	if f <= 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func (h *Handler) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		Error(w, http.StatusNotFound, "Customer not found")
	case errors.Is(err, ledger.ErrInsufficientPoints):
		Error(w, http.StatusBadRequest, "Insufficient points")
	case errors.Is(err, ledger.ErrInvalidPoints):
		Error(w, http.StatusBadRequest, "Invalid points value")
	default:
		h.logger.Error("points query failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
