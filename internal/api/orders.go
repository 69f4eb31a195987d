package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// OrderReader is the read side of the event log the order endpoints use.
type OrderReader interface {
	History(ctx context.Context, correlationID string) ([]domain.Event, error)
	LatestPerCorrelation(ctx context.Context, userID string) ([]domain.Event, error)
}

type OrderHandler struct {
	recorder *engine.Recorder
	orders   OrderReader
}

func NewOrderHandler(recorder *engine.Recorder, orders OrderReader) *OrderHandler {
	return &OrderHandler{recorder: recorder, orders: orders}
}

type createOrderRequest struct {
	CorrelationID string          `json:"correlation_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

type orderStatus struct {
	CorrelationID string         `json:"correlation_id"`
	Events        []domain.Event `json:"events"`
	Valid         bool           `json:"valid"`
	Error         string         `json:"error,omitempty"`
	NextKind      domain.Kind    `json:"next_kind,omitempty"`
	Complete      bool           `json:"complete"`
}

func (h *OrderHandler) CreateBuy(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	e, err := h.recorder.CreateBuyOrder(r.Context(), userID(r.Context()), req.CorrelationID, req.Amount)
	if err != nil {
		respondIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *OrderHandler) CreateSell(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	e, err := h.recorder.CreateSellOrder(r.Context(), userID(r.Context()), req.CorrelationID, req.Amount)
	if err != nil {
		respondIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

// List returns the latest event of each of the caller's workflows.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.LatestPerCorrelation(r.Context(), userID(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// Get returns one workflow's history and whether it follows a valid path.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := engine.NormalizeCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.orders.History(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	if len(history) == 0 || history[0].UserID != userID(r.Context()) {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	respondJSON(w, http.StatusOK, statusOf(id, history))
}

func statusOf(id string, history []domain.Event) orderStatus {
	kinds := make([]domain.Kind, len(history))
	for i, e := range history {
		kinds[i] = e.Kind
	}

	status := orderStatus{CorrelationID: id, Events: history, Valid: true}
	if err := engine.ValidateSequence(kinds); err != nil {
		status.Valid = false
		status.Error = err.Error()
		return status
	}
	next, ok := engine.NextKind(kinds)
	status.NextKind = next
	status.Complete = !ok
	return status
}

// respondIntakeError maps intake failures to HTTP statuses.
func respondIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount), errors.Is(err, engine.ErrInvalidCorrelationID),
		errors.Is(err, domain.ErrMissingIdentity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateEvent), errors.Is(err, engine.ErrOutOfOrder):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrWalletNotRegistered), errors.Is(err, engine.ErrWalletMismatch):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "failed to record event")
	}
}
