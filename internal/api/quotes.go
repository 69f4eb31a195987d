package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
	"github.com/shopspring/decimal"
)

// MarketData prices order estimates.
type MarketData interface {
	LatestQuote(ctx context.Context, symbol string) (*exchange.Quote, error)
	MarketClock(ctx context.Context) (*exchange.Clock, error)
}

type QuoteHandler struct {
	market MarketData
	symbol string
	logger *slog.Logger
}

func NewQuoteHandler(market MarketData, symbol string, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{market: market, symbol: symbol, logger: logger}
}

type quoteResponse struct {
	Symbol     string          `json:"symbol"`
	Side       exchange.Side   `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	Ask        decimal.Decimal `json:"ask"`
	Estimate   decimal.Decimal `json:"estimate"`
	QuotedAt   time.Time       `json:"quoted_at"`
	MarketOpen bool            `json:"market_open"`
	NextOpen   time.Time       `json:"next_open"`
	NextClose  time.Time       `json:"next_close"`
}

// Get estimates an order at the latest ask. For a buy, amount is settlement
// currency and the estimate is asset units; for a sell it is the reverse.
func (h *QuoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	side := exchange.Side(r.URL.Query().Get("side"))
	if side == "" {
		side = exchange.SideBuy
	}
	if side != exchange.SideBuy && side != exchange.SideSell {
		respondError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	quote, err := h.market.LatestQuote(r.Context(), h.symbol)
	if err != nil {
		h.logger.Warn("latest quote unavailable", "symbol", h.symbol, "error", err)
		respondError(w, http.StatusBadGateway, "market data unavailable")
		return
	}
	clock, err := h.market.MarketClock(r.Context())
	if err != nil {
		h.logger.Warn("market clock unavailable", "error", err)
		respondError(w, http.StatusBadGateway, "market data unavailable")
		return
	}

	estimate := engine.EstimateBuyQuantity(amount, quote.Ask)
	if side == exchange.SideSell {
		estimate = engine.EstimateSellValue(amount, quote.Ask)
	}

	respondJSON(w, http.StatusOK, quoteResponse{
		Symbol:     quote.Symbol,
		Side:       side,
		Amount:     amount,
		Ask:        quote.Ask,
		Estimate:   estimate,
		QuotedAt:   quote.QuotedAt,
		MarketOpen: clock.IsOpen,
		NextOpen:   clock.NextOpen,
		NextClose:  clock.NextClose,
	})
}
