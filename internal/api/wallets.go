package api

import (
	"context"
	"net/http"
	"regexp"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// WalletStore is the wallet directory.
type WalletStore interface {
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	UpsertWallet(ctx context.Context, userID string, req domain.RegisterWalletRequest) (*domain.Wallet, error)
}

type WalletHandler struct {
	store WalletStore
}

func NewWalletHandler(s WalletStore) *WalletHandler {
	return &WalletHandler{store: s}
}

// Put registers or replaces the caller's wallet pair.
func (h *WalletHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !addressPattern.MatchString(req.SettlementWallet) {
		respondError(w, http.StatusBadRequest, "settlement_wallet must be a 0x-prefixed 20 byte address")
		return
	}
	if !addressPattern.MatchString(req.TokenWallet) {
		respondError(w, http.StatusBadRequest, "token_wallet must be a 0x-prefixed 20 byte address")
		return
	}

	wallet, err := h.store.UpsertWallet(r.Context(), userID(r.Context()), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to register wallets")
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.store.GetWallet(r.Context(), userID(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get wallets")
		return
	}
	if wallet == nil {
		respondError(w, http.StatusNotFound, "no wallets registered")
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}
