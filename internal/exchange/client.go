// Package exchange is a client for the brokerage that buys and sells the
// underlying asset. It speaks an Alpaca-style orders API.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

var (
	// ErrOrderRejected is returned when the exchange ends an order without
	// filling it.
	ErrOrderRejected = errors.New("order ended without a fill")

	// ErrNoQuote is returned when the latest quote carries no ask.
	ErrNoQuote = errors.New("no ask price quoted")
)

// OrderRequest is a market order. Exactly one of Notional (settlement value)
// or Quantity (asset units) is set. Notional is sent in whole cents, rounded
// down.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Notional      decimal.NullDecimal
	Quantity      decimal.NullDecimal
	ClientOrderID string
}

// Fill describes a completely filled order.
type Fill struct {
	OrderID        string
	FilledQuantity decimal.Decimal
	FilledAvgPrice decimal.Decimal
	FilledAt       time.Time
}

// Quote is the latest top-of-book quote for a symbol.
type Quote struct {
	Symbol   string
	Ask      decimal.Decimal
	Bid      decimal.Decimal
	QuotedAt time.Time
}

// Clock reports whether the market is open and its next session times.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Config configures the client. DataURL serves market data and defaults
// to BaseURL.
type Config struct {
	BaseURL string
	DataURL string
	KeyID   string
	Secret  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	dataURL    string
	keyID      string
	secret     string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = cfg.BaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dataURL:    strings.TrimRight(dataURL, "/"),
		keyID:      cfg.KeyID,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type orderBody struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	Notional      *string `json:"notional,omitempty"`
	Qty           *string `json:"qty,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	Status         string              `json:"status"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	FilledAt       *time.Time          `json:"filled_at"`
}

// PlaceMarketOrder submits the order and returns the exchange's order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := orderBody{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}
	switch {
	case req.Notional.Valid && !req.Quantity.Valid:
		v := req.Notional.Decimal.Truncate(2).StringFixed(2)
		body.Notional = &v
	case req.Quantity.Valid && !req.Notional.Valid:
		v := req.Quantity.Decimal.String()
		body.Qty = &v
	default:
		return "", fmt.Errorf("order needs exactly one of notional or quantity")
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/orders", body, &resp); err != nil {
		return "", fmt.Errorf("placing %s order: %w", req.Side, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("placing %s order: empty order id", req.Side)
	}
	return resp.ID, nil
}

// FilledOrder returns the fill once the order is completely filled and nil
// while it is still working.
func (c *Client) FilledOrder(ctx context.Context, orderID string) (*Fill, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &resp); err != nil {
		return nil, fmt.Errorf("getting order %s: %w", orderID, err)
	}

	switch resp.Status {
	case "filled":
	case "canceled", "expired", "rejected", "done_for_day":
		return nil, fmt.Errorf("order %s is %s: %w", orderID, resp.Status, ErrOrderRejected)
	default:
		return nil, nil
	}

	if !resp.FilledQty.Valid || !resp.FilledAvgPrice.Valid {
		return nil, fmt.Errorf("order %s filled without quantity or price", orderID)
	}
	fill := &Fill{
		OrderID:        resp.ID,
		FilledQuantity: resp.FilledQty.Decimal,
		FilledAvgPrice: resp.FilledAvgPrice.Decimal,
	}
	if resp.FilledAt != nil {
		fill.FilledAt = *resp.FilledAt
	}
	return fill, nil
}

type quoteResponse struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		AskPrice decimal.NullDecimal `json:"ap"`
		BidPrice decimal.NullDecimal `json:"bp"`
		Time     time.Time           `json:"t"`
	} `json:"quote"`
}

// LatestQuote returns the latest quote for symbol from the market data API.
func (c *Client) LatestQuote(ctx context.Context, symbol string) (*Quote, error) {
	var resp quoteResponse
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/quotes/latest"
	if err := c.doURL(ctx, http.MethodGet, c.dataURL+path, nil, &resp); err != nil {
		return nil, fmt.Errorf("getting %s quote: %w", symbol, err)
	}
	if !resp.Quote.AskPrice.Valid || !resp.Quote.AskPrice.Decimal.IsPositive() {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoQuote)
	}
	return &Quote{
		Symbol:   symbol,
		Ask:      resp.Quote.AskPrice.Decimal,
		Bid:      resp.Quote.BidPrice.Decimal,
		QuotedAt: resp.Quote.Time,
	}, nil
}

// MarketClock returns the exchange's trading clock.
func (c *Client) MarketClock(ctx context.Context) (*Clock, error) {
	var clock Clock
	if err := c.do(ctx, http.MethodGet, "/v2/clock", nil, &clock); err != nil {
		return nil, fmt.Errorf("getting market clock: %w", err)
	}
	return &clock, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.doURL(ctx, method, c.baseURL+path, in, out)
}

func (c *Client) doURL(ctx context.Context, method, target string, in, out any) error {
	var payload io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("exchange returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
