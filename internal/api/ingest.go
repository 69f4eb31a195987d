package api

import (
	"net/http"

	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/shopspring/decimal"
)

// IngestHandler receives on-chain observations from the blockchain
// listener: user deposits and confirmations of mints and burns.
type IngestHandler struct {
	recorder *engine.Recorder
}

func NewIngestHandler(recorder *engine.Recorder) *IngestHandler {
	return &IngestHandler{recorder: recorder}
}

type depositRequest struct {
	CorrelationID string          `json:"correlation_id"`
	FromWallet    string          `json:"from_wallet"`
	Amount        decimal.Decimal `json:"amount"`
	TxHash        string          `json:"tx_hash,omitempty"`
}

type confirmationRequest struct {
	CorrelationID string `json:"correlation_id"`
	TxHash        string `json:"tx_hash"`
}

func (h *IngestHandler) SettlementDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.recorder.RecordSettlementReceived(r.Context(), req.FromWallet, req.CorrelationID, req.Amount, req.TxHash)
	if err != nil {
		respondIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *IngestHandler) TokenDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.recorder.RecordTokenReceived(r.Context(), req.FromWallet, req.CorrelationID, req.Amount, req.TxHash)
	if err != nil {
		respondIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *IngestHandler) MintSettled(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.recorder.RecordMintSettled(r.Context(), req.CorrelationID, req.TxHash)
	if err != nil {
		respondIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *IngestHandler) BurnSettled(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.recorder.RecordBurnSettled(r.Context(), req.CorrelationID, req.TxHash)
	if err != nil {
		respondIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}
