package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Priya8975/token-settlement-orchestrator/internal/api"
	"github.com/Priya8975/token-settlement-orchestrator/internal/engine"
	"github.com/Priya8975/token-settlement-orchestrator/internal/exchange"
	"github.com/Priya8975/token-settlement-orchestrator/internal/ledger"
	"github.com/Priya8975/token-settlement-orchestrator/internal/store"
	"github.com/Priya8975/token-settlement-orchestrator/internal/stream"
	"github.com/Priya8975/token-settlement-orchestrator/internal/telemetry"
	"github.com/Priya8975/token-settlement-orchestrator/internal/websocket"
	"github.com/Priya8975/token-settlement-orchestrator/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port string
}

// NewServeCommand creates the serve command, which runs the HTTP API and
// the stage pipeline until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API and the settlement pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Port != "" {
				opts.cfg.Port = opts.Port
			}
			if err := opts.cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "http port, overrides PORT")
	return cmd
}

func serve(ctx context.Context, opts *ServeOptions) error {
	cfg, logger := opts.cfg, opts.logger

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.MetricInterval, logger)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := telemetry.New(nil)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("connected to database")

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database migrations applied")

	rds, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rds.Close()
	logger.Info("connected to Redis")
	redisClient := rds.Client()

	hub := websocket.NewHub(logger)
	notifiers := []engine.Notifier{hub}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := stream.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		logger.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
	}
	journal := engine.NewJournal(st, logger, metrics, notifiers...)
	recorder := engine.NewRecorder(journal, st)

	breaker := engine.NewCircuitBreaker(redisClient, logger, cfg.BreakerThreshold, cfg.BreakerCooldown)
	limiter := engine.NewRateLimiter(redisClient, logger, time.Second)
	tracker := engine.NewTracker(redisClient, logger, cfg.MaxAttempts, cfg.RetryBase)
	claims := engine.NewClaims(redisClient, cfg.ClaimTTL)

	exchangeClient := exchange.New(exchange.Config{
		BaseURL: cfg.ExchangeURL,
		DataURL: cfg.ExchangeDataURL,
		KeyID:   cfg.ExchangeKeyID,
		Secret:  cfg.ExchangeSecret,
	})

	deps := worker.Deps{
		Log:      journal,
		Exchange: exchangeClient,
		Ledger: ledger.New(ledger.Config{
			BaseURL: cfg.LedgerURL,
			Token:   cfg.LedgerToken,
		}),
		ExchangeGuard: engine.NewGuard("exchange", breaker, limiter, cfg.ExchangeRateLimit),
		LedgerGuard:   engine.NewGuard("ledger", breaker, limiter, cfg.LedgerRateLimit),
		Symbol:        cfg.AssetSymbol,
		AdminWallet:   cfg.AdminWallet,
		FillTimeout:   cfg.FillTimeout,
		Logger:        logger,
	}
	pipeline := worker.NewPipeline(worker.PipelineConfig{
		NumWorkers:   cfg.NumWorkers,
		PollInterval: cfg.PollInterval,
	}, deps, claims, tracker, st, metrics, logger)

	router := api.NewRouter(api.RouterConfig{
		Store:         st,
		Recorder:      recorder,
		Tracker:       tracker,
		Breaker:       breaker,
		Collaborators: []string{"exchange", "ledger"},
		Hub:           hub,
		Redis:         rds,
		MarketData:    exchangeClient,
		Symbol:        cfg.AssetSymbol,
		JWTSecret:     cfg.JWTSecret,
		ServiceToken:  cfg.ServiceToken,
		RateLimit:     cfg.APIRateLimit,
		Burst:         cfg.APIBurst,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
