package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	ws "github.com/Priya8975/token-settlement-orchestrator/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// RouterConfig carries everything the HTTP layer needs.
type RouterConfig struct {
	Store         store.Store
	Recorder      *engine.Recorder
	Tracker       *engine.Tracker
	Breaker       *engine.CircuitBreaker
	Collaborators []string
	Hub           *ws.Hub
	Redis         Pinger
	MarketData    MarketData
	Symbol        string

	JWTSecret    string
	ServiceToken string
	RateLimit    float64
	Burst        int

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	if cfg.RateLimit > 0 {
		r.Use(newIPLimiter(cfg.RateLimit, cfg.Burst).Middleware)
	}

	orderHandler := NewOrderHandler(cfg.Recorder, cfg.Store)
	walletHandler := NewWalletHandler(cfg.Store)
	ingestHandler := NewIngestHandler(cfg.Recorder)
	dlqHandler := NewDeadLetterHandler(cfg.Store, cfg.Tracker, cfg.Logger)

	var clients func() int
	if cfg.Hub != nil {
		clients = cfg.Hub.ClientCount
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}
	metricsHandler := NewMetricsHandler(cfg.Store, cfg.Tracker, cfg.Breaker, cfg.Collaborators, clients)

	checks := map[string]Pinger{"database": cfg.Store}
	if cfg.Redis != nil {
		checks["redis"] = cfg.Redis
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(Version, checks))

		r.Group(func(r chi.Router) {
			r.Use(requireUser(cfg.JWTSecret))

			r.Route("/orders", func(r chi.Router) {
				r.Post("/buy", orderHandler.CreateBuy)
				r.Post("/sell", orderHandler.CreateSell)
				if cfg.MarketData != nil {
					r.Get("/quote", NewQuoteHandler(cfg.MarketData, cfg.Symbol, cfg.Logger).Get)
				}
				r.Get("/", orderHandler.List)
				r.Get("/{correlationID}", orderHandler.Get)
			})

			r.Put("/wallets", walletHandler.Put)
			r.Get("/wallets", walletHandler.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireService(cfg.ServiceToken))

			r.Route("/ledger", func(r chi.Router) {
				r.Post("/settlement-deposits", ingestHandler.SettlementDeposit)
				r.Post("/token-deposits", ingestHandler.TokenDeposit)
				r.Post("/mints-settled", ingestHandler.MintSettled)
				r.Post("/burns-settled", ingestHandler.BurnSettled)
			})

			r.Route("/dead-letters", func(r chi.Router) {
				r.Get("/", dlqHandler.List)
				r.Get("/{id}", dlqHandler.Get)
				r.Post("/{id}/resolve", dlqHandler.Resolve)
			})

			r.Get("/metrics", metricsHandler.Metrics)
		})
	})

	return r
}
