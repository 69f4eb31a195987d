package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/go-chi/chi/v5"
)

// DeadLetterStore is the operator reconciliation queue.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, stage string, resolved bool, limit int) ([]domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id, resolvedBy string) (*domain.DeadLetter, error)
}

// HoldReleaser lifts the hold on a dead-lettered item.
type HoldReleaser interface {
	Release(ctx context.Context, stage, correlationID string) error
}

type DeadLetterHandler struct {
	store  DeadLetterStore
	holds  HoldReleaser
	logger *slog.Logger
}

func NewDeadLetterHandler(s DeadLetterStore, holds HoldReleaser, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{store: s, holds: holds, logger: logger}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	resolved := r.URL.Query().Get("resolved") == "true"

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := h.store.ListDeadLetters(r.Context(), stage, resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// Resolve closes a dead letter and lifts the item's hold, so it is picked
// up again if it still qualifies for its stage.
func (h *DeadLetterHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}

	letter, err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
		return
	}

	if err := h.holds.Release(r.Context(), letter.Stage, letter.CorrelationID); err != nil {
		h.logger.Error("dead letter resolved but hold not released",
			"dead_letter_id", letter.ID,
			"stage", letter.Stage,
			"correlation_id", letter.CorrelationID,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "resolved, but failed to release hold")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}
