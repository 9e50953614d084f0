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

	"tradebitcoin-stream/internal/accounts"
	"tradebitcoin-stream/internal/adapter"
	"tradebitcoin-stream/internal/auth"
	"tradebitcoin-stream/internal/config"
	"tradebitcoin-stream/internal/gateway"
	"tradebitcoin-stream/internal/health"
	"tradebitcoin-stream/internal/pubsub"
	"tradebitcoin-stream/internal/symbols"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	startTime = time.Now()
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("Starting TradeBitcoin Stream Gateway...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	// Set log level
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	// Initialize Redis
	logger.Info("Connecting to Redis...")
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis: ", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected successfully")

	// Session verification against the web app's session records
	verifier := auth.NewSessionVerifier(redisClient, cfg.Redis.SessionPrefix, logger)

	// Account ownership lookup
	var store accounts.Store
	if cfg.Gateway.AdapterMode == "live" {
		logger.Info("Connecting to Postgres...")
		pgStore, err := accounts.NewPostgresStore(cfg.Postgres.DSN(), logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres: ", err)
		}
		defer pgStore.Close()
		logger.Info("Postgres connected successfully")
		store = pgStore
	} else {
		logger.Warn("Simulated mode: using static demo account store")
		store = accounts.NewStaticStore(accounts.ExchangeAccount{
			ID:       "demo-account",
			UserID:   "demo-user",
			Exchange: "binance",
			Label:    "Demo",
		})
	}

	// Exchange adapter factory
	var factory adapter.Factory
	switch cfg.Gateway.AdapterMode {
	case "simulated":
		factory = adapter.SimulatedFactory(500*time.Millisecond, logger)
	default:
		// Live adapters are provided by the exchange connectivity service;
		// refusing to start beats silently serving nothing.
		logger.Fatal("Live adapter factory not configured in this build")
	}

	// Redis mirror for sibling services
	var publisher *pubsub.Publisher
	if cfg.Gateway.MirrorToRedis {
		publisher = pubsub.NewPublisher(redisClient, cfg.Redis.PubSubPrefix, logger)
	}

	// Symbol catalog
	catalog := symbols.NewCatalog(cfg.Symbols.FilePath, logger)

	// Initialize gateway
	gw := gateway.New(cfg, verifier, store, factory, publisher, catalog, logger)

	// Start gRPC health server
	healthSrv := health.NewServer(cfg, logger)
	grpcErrChan := make(chan error, 1)
	go func() {
		if err := healthSrv.Start(); err != nil {
			grpcErrChan <- err
		}
	}()

	// Start HTTP server (websocket endpoint, health, metrics)
	httpSrv := startHTTPServer(cfg, logger, gw)

	logger.Infof("TradeBitcoin Stream Gateway v%s started successfully", version)
	logger.Infof("HTTP server listening on :%d", cfg.Server.HTTPPort)
	logger.Infof("gRPC health server listening on :%d", cfg.Server.GRPCPort)

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-grpcErrChan:
		logger.WithError(err).Error("gRPC server error")
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw.Shutdown(shutdownCtx)
	healthSrv.Stop()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown with error")
	}

	logger.Info("Shutdown complete")
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger, gw *gateway.Gateway) *http.Server {
	mux := http.NewServeMux()

	// Market data websocket endpoint
	mux.HandleFunc("/ws/market-data", gw.HandleWS)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := gw.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy":        true,
			"version":        version,
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
			"gateway":        stats,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}

	go func() {
		logger.Infof("HTTP server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed: ", err)
		}
	}()

	return server
}
