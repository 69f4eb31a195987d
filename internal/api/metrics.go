package api

import (
	"context"
	"net/http"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
)

// MetricsSource supplies the durable counters.
type MetricsSource interface {
	GetPipelineMetrics(ctx context.Context) (*store.PipelineMetrics, error)
}

// HoldLister reports held items per stage.
type HoldLister interface {
	Held(ctx context.Context, stage string) ([]string, error)
}

type MetricsHandler struct {
	source        MetricsSource
	holds         HoldLister
	breaker       *engine.CircuitBreaker
	collaborators []string
	clients       func() int
}

func NewMetricsHandler(source MetricsSource, holds HoldLister, breaker *engine.CircuitBreaker, collaborators []string, clients func() int) *MetricsHandler {
	return &MetricsHandler{source: source, holds: holds, breaker: breaker, collaborators: collaborators, clients: clients}
}

type metricsResponse struct {
	store.PipelineMetrics
	HeldItems        map[string]int                        `json:"held_items"`
	Circuits         map[string]engine.CircuitBreakerState `json:"circuits"`
	WebSocketClients int                                   `json:"websocket_clients"`
}

// Metrics returns pipeline counters, held items per stage and the state of
// each collaborator's circuit.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.source.GetPipelineMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	resp := metricsResponse{
		PipelineMetrics: *metrics,
		HeldItems:       make(map[string]int),
		Circuits:        make(map[string]engine.CircuitBreakerState),
	}
	for _, stage := range append(domain.Stages(), domain.RecoveryStages()...) {
		held, err := h.holds.Held(r.Context(), stage.Name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list held items")
			return
		}
		resp.HeldItems[stage.Name] = len(held)
	}
	if h.breaker != nil {
		for _, c := range h.collaborators {
			resp.Circuits[c] = h.breaker.GetState(r.Context(), c)
		}
	}
	if h.clients != nil {
		resp.WebSocketClients = h.clients()
	}

	respondJSON(w, http.StatusOK, resp)
}
