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

	"github.com/mohamedkhairy/squareoff-engine/internal/api"
	"github.com/mohamedkhairy/squareoff-engine/internal/broker"
	"github.com/mohamedkhairy/squareoff-engine/internal/config"
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

	logger.Info("Starting management API",
		logger.Int("port", cfg.API.Port),
		logger.Int("health_port", cfg.API.HealthCheckPort),
		logger.Int("rate_limit_rps", cfg.API.RateLimitRPS),
	)

	// Rule store
	ruleStore, err := rules.NewPostgresStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize rule store", logger.ErrorField(err))
	}
	defer ruleStore.Close()

	// Redis is only used to read the worker's last-price mirror; the API
	// stays up without it
	var redisClient storage.RedisClient
	redisClient, err = storage.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, live prices endpoint degraded", logger.ErrorField(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	brokerClient := broker.NewRESTClient(cfg.Broker)

	ruleHandler := api.NewRuleHandler(ruleStore)
	positionHandler := api.NewPositionHandler(brokerClient, redisClient)
	auth := api.NewAuthManager(cfg.API.JWTSecret, cfg.API.JWTExpiry)

	router := api.NewRouter(ruleHandler, positionHandler, auth, cfg.API.RateLimitRPS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", logger.ErrorField(err))
		}
	}()

	// Separate health and metrics listener so probes bypass auth
	healthMux := mux.NewRouter()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	healthMux.Handle("/metrics", promhttp.Handler())

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.HealthCheckPort),
		Handler: healthMux,
	}

	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server stopped", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down management API")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down health server", logger.ErrorField(err))
	}

	logger.Info("Management API stopped")
}
