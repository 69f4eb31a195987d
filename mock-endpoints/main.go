// Command mock-endpoints serves a fake exchange and ledger gateway for
// running the orchestrator locally. Point EXCHANGE_URL, EXCHANGE_DATA_URL
// and LEDGER_URL at it.
package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var requestCount atomic.Int64

type order struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Status         string    `json:"status"`
	Notional       *string   `json:"notional,omitempty"`
	Qty            *string   `json:"qty,omitempty"`
	FilledQty      *string   `json:"filled_qty"`
	FilledAvgPrice *string   `json:"filled_avg_price"`
	FilledAt       *string   `json:"filled_at"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type exchange struct {
	mu       sync.Mutex
	orders   map[string]*order
	byClient map[string]string
	price    decimal.Decimal
	delay    time.Duration
}

func main() {
	port := getEnv("PORT", "9090")
	token := getEnv("LEDGER_TOKEN", "")

	ex := &exchange{
		orders:   make(map[string]*order),
		byClient: make(map[string]string),
		price:    decimal.RequireFromString(getEnv("MOCK_PRICE", "497.50")),
		delay:    2 * time.Second,
	}
	if d, err := time.ParseDuration(os.Getenv("FILL_DELAY")); err == nil {
		ex.delay = d
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/orders", ex.place)
	mux.HandleFunc("GET /v2/orders/{id}", ex.get)
	mux.HandleFunc("GET /v2/stocks/{symbol}/quotes/latest", ex.quote)
	mux.HandleFunc("GET /v2/clock", clock)

	mux.HandleFunc("POST /v1/mint", ledgerHandler(token))
	mux.HandleFunc("POST /v1/burn", ledgerHandler(token))
	mux.HandleFunc("POST /v1/transfer", ledgerHandler(token))

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock exchange and ledger starting on :%s", port)
	log.Printf("  POST /v2/orders       -> market order, fills after %s at %s", ex.delay, ex.price)
	log.Printf("  GET  /v2/orders/{id}  -> order status")
	log.Printf("  GET  /v2/stocks/{symbol}/quotes/latest -> ask at %s", ex.price)
	log.Printf("  GET  /v2/clock        -> always open")
	log.Printf("  POST /v1/mint|burn|transfer -> receipt")
	log.Printf("  GET  /stats           -> request count")

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func (ex *exchange) quote(w http.ResponseWriter, r *http.Request) {
	requestCount.Add(1)
	bid := ex.price.Sub(decimal.RequireFromString("0.05"))
	respond(w, http.StatusOK, map[string]any{
		"symbol": r.PathValue("symbol"),
		"quote": map[string]any{
			"ap": ex.price,
			"as": 1,
			"bp": bid,
			"bs": 1,
			"t":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func clock(w http.ResponseWriter, r *http.Request) {
	requestCount.Add(1)
	now := time.Now().UTC()
	respond(w, http.StatusOK, map[string]any{
		"timestamp":  now,
		"is_open":    true,
		"next_open":  now.Add(24 * time.Hour),
		"next_close": now.Add(6 * time.Hour),
	})
}

func (ex *exchange) place(w http.ResponseWriter, r *http.Request) {
	count := requestCount.Add(1)

	var o order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	if o.ClientOrderID != "" {
		if _, dup := ex.byClient[o.ClientOrderID]; dup {
			log.Printf("[#%d] order rejected, duplicate client_order_id=%s", count, o.ClientOrderID)
			respond(w, http.StatusUnprocessableEntity, map[string]string{"message": "client_order_id must be unique"})
			return
		}
	}

	o.ID = uuid.NewString()
	o.Status = "accepted"
	o.SubmittedAt = time.Now()
	ex.orders[o.ID] = &o
	if o.ClientOrderID != "" {
		ex.byClient[o.ClientOrderID] = o.ID
	}

	log.Printf("[#%d] %s %s notional=%s qty=%s -> %s", count, o.Side, o.Symbol, deref(o.Notional), deref(o.Qty), o.ID)
	respond(w, http.StatusOK, o)
}

func (ex *exchange) get(w http.ResponseWriter, r *http.Request) {
	requestCount.Add(1)

	ex.mu.Lock()
	defer ex.mu.Unlock()

	o, ok := ex.orders[r.PathValue("id")]
	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"message": "order not found"})
		return
	}

	if o.Status != "filled" && time.Since(o.SubmittedAt) >= ex.delay {
		qty := decimal.Zero
		switch {
		case o.Qty != nil:
			qty, _ = decimal.NewFromString(*o.Qty)
		case o.Notional != nil:
			notional, _ := decimal.NewFromString(*o.Notional)
			qty = notional.DivRound(ex.price, 9)
		}
		filledQty := qty.String()
		price := ex.price.String()
		at := time.Now().UTC().Format(time.RFC3339Nano)
		o.Status = "filled"
		o.FilledQty, o.FilledAvgPrice, o.FilledAt = &filledQty, &price, &at
	}

	respond(w, http.StatusOK, o)
}

func ledgerHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		if token != "" {
			mac := hmac.New(sha256.New, []byte(token))
			mac.Write(body)
			want := hex.EncodeToString(mac.Sum(nil))
			if !hmac.Equal([]byte(want), []byte(r.Header.Get("X-Ledger-Signature"))) {
				log.Printf("[#%d] %s -> 401 bad signature", count, r.URL.Path)
				respond(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
				return
			}
		}

		hash := make([]byte, 32)
		rand.Read(hash)
		txHash := "0x" + hex.EncodeToString(hash)

		log.Printf("[#%d] %s %s -> %s", count, r.URL.Path, string(body), truncate(txHash, 18))
		respond(w, http.StatusOK, map[string]any{
			"tx_hash":  txHash,
			"status":   1,
			"gas_cost": "0.0021",
		})
	}
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
