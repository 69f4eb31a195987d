// Package ledger is a client for the gateway that signs and submits token
// mints, burns and stablecoin transfers on chain.
package ledger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ErrOutcomeUnknown marks a failure after the request reached the gateway.
// The transaction may have been submitted and must not be sent again.
var ErrOutcomeUnknown = errors.New("ledger outcome unknown")

// Receipt is the mined result of a submitted transaction.
type Receipt struct {
	TxHash  string          `json:"tx_hash"`
	Status  int             `json:"status"`
	GasCost decimal.Decimal `json:"gas_cost"`
}

// Succeeded reports whether the transaction executed.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tokenRequest struct {
	Account        string `json:"account"`
	Amount         string `json:"amount"`
	CorrelationTag string `json:"correlation_tag"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Mint issues amount tokens to the given wallet.
func (c *Client) Mint(ctx context.Context, to string, amount decimal.Decimal, tag Tag) (*Receipt, error) {
	units, err := ToBaseUnits(amount, TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("minting: %w", err)
	}
	return c.submit(ctx, "/v1/mint", tokenRequest{Account: to, Amount: units, CorrelationTag: tag.Hex()})
}

// Burn destroys amount tokens held by the given wallet.
func (c *Client) Burn(ctx context.Context, from string, amount decimal.Decimal, tag Tag) (*Receipt, error) {
	units, err := ToBaseUnits(amount, TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("burning: %w", err)
	}
	return c.submit(ctx, "/v1/burn", tokenRequest{Account: from, Amount: units, CorrelationTag: tag.Hex()})
}

// TransferSettlement sends amount of the settlement stablecoin to a wallet.
func (c *Client) TransferSettlement(ctx context.Context, to string, amount decimal.Decimal) (*Receipt, error) {
	units, err := ToBaseUnits(amount, SettlementDecimals)
	if err != nil {
		return nil, fmt.Errorf("transferring: %w", err)
	}
	return c.submit(ctx, "/v1/transfer", transferRequest{To: to, Amount: units})
}

func (c *Client) submit(ctx context.Context, path string, in any) (*Receipt, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Ledger-Signature", Sign(body, c.token))

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if !wrote.Load() && dialFailed(err) {
			return nil, fmt.Errorf("%s request failed: %w", path, err)
		}
		return nil, fmt.Errorf("%s request failed after sending: %w: %w", path, ErrOutcomeUnknown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
		}
		return nil, err
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decoding %s receipt: %w: %w", path, ErrOutcomeUnknown, err)
	}
	return &receipt, nil
}

// dialFailed reports whether err came from opening the connection, so no
// byte of the request reached the gateway.
func dialFailed(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Sign returns the hex HMAC-SHA256 of a request body under the gateway token.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
