package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/squareoff-engine/internal/audit"
	"github.com/mohamedkhairy/squareoff-engine/internal/broker"
	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/engine"
	"github.com/mohamedkhairy/squareoff-engine/internal/executor"
	"github.com/mohamedkhairy/squareoff-engine/internal/feed"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/internal/storage"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting trading worker",
		logger.String("health_port", fmt.Sprintf("%d", cfg.Worker.HealthCheckPort)),
		logger.Duration("refresh_interval", cfg.Worker.RefreshInterval),
	)

	// Verify broker credentials before anything else; a bad session is
	// the one error class that must halt startup
	brokerClient := broker.NewRESTClient(cfg.Broker)
	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), cfg.Broker.Timeout)
	if err := brokerClient.VerifySession(verifyCtx); err != nil {
		cancelVerify()
		logger.Fatal("Broker authentication failed", logger.ErrorField(err))
	}
	cancelVerify()

	// Rule store
	ruleStore, err := rules.NewPostgresStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize rule store", logger.ErrorField(err))
	}
	defer ruleStore.Close()

	// Redis (trigger guard + last-price mirror); degraded mode without it
	var redisClient storage.RedisClient
	redisClient, err = storage.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, trigger guard disabled", logger.ErrorField(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Audit trail persister
	writeConfig := audit.WriteConfig{
		BatchSize:  cfg.Worker.AuditBatchSize,
		Interval:   cfg.Worker.AuditInterval,
		QueueSize:  cfg.Worker.AuditQueueSize,
		MaxRetries: cfg.Worker.AuditMaxRetries,
		RetryDelay: cfg.Worker.AuditRetryDelay,
	}
	persister, err := audit.NewPersister(cfg.Database, writeConfig)
	if err != nil {
		logger.Fatal("Failed to initialize trade log persister", logger.ErrorField(err))
	}
	defer persister.Close()

	if err := persister.Start(); err != nil {
		logger.Fatal("Failed to start trade log persister", logger.ErrorField(err))
	}

	// Engine wiring
	cache := engine.NewRuleCache(ruleStore)
	var guard *engine.TriggerGuard
	if redisClient != nil {
		guard = engine.NewTriggerGuard(redisClient)
	}
	factory := func(dryRun bool) engine.SquareOffRunner {
		return executor.New(brokerClient, persister, dryRun)
	}
	evaluator := engine.NewEvaluator(cache, ruleStore, persister, guard, factory)

	ticker := feed.NewTicker(feed.DefaultTickerConfig(cfg.Broker, cfg.Worker))
	worker := engine.NewWorker(cfg.Worker, cache, evaluator, ticker, redisClient)

	if err := worker.Start(); err != nil {
		logger.Fatal("Failed to start trading worker", logger.ErrorField(err))
	}
	defer worker.Stop()

	// Health and metrics server
	routerMux := mux.NewRouter()

	routerMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	routerMux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		snap := cache.Current()
		if ticker.IsConnected() && snap.Generation > 0 {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		}
	})

	routerMux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.HealthCheckPort),
		Handler: routerMux,
	}

	go func() {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down trading worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}

	logger.Info("Trading worker stopped")
}
