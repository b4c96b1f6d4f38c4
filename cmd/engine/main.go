package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hypernode-labs/engine/internal/config"
	"github.com/hypernode-labs/engine/internal/handlers"
	"github.com/hypernode-labs/engine/internal/ledger"
	"github.com/hypernode-labs/engine/internal/matchmaker"
	"github.com/hypernode-labs/engine/internal/metrics"
	"github.com/hypernode-labs/engine/internal/middleware"
	"github.com/hypernode-labs/engine/internal/notify"
	"github.com/hypernode-labs/engine/internal/queue"
	"github.com/hypernode-labs/engine/internal/registry"
	"github.com/hypernode-labs/engine/internal/storage"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load config from %s: %v, using defaults\n", configPath, err)
		cfg = config.DefaultConfig()
	}

	log, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := storage.New(ctx, cfg.Database.DatabaseURL())
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}
	// A missing or unmigrated schema fails every query; do not run degraded
	if err := db.Migrate(migrationsPath); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Initialize Redis for the match queue
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	// Initialize components
	reg := registry.New(db, cfg.Matchmaker.FreshnessWindow(), cfg.Matchmaker.CandidateLimit)
	matcher := matchmaker.New(db, reg, cfg.Matchmaker.FreshnessWindow(), log)
	fanout := notify.New(cfg.Webhooks, log)
	q := queue.New(rdb, cfg.Queue.MaxAttempts, cfg.Queue.Visibility(), log)
	dispatcher := queue.NewDispatcher(q, matcher, fanout,
		cfg.Queue.Workers, cfg.Matchmaker.AttemptTimeout(), cfg.Queue.PollInterval(), log)
	aggregator := metrics.New(db, reg,
		cfg.Matchmaker.FreshnessWindow(), cfg.Metrics.Interval(),
		cfg.Metrics.RecentJobs, cfg.Metrics.RecentNodes, log)

	ledgerClient := ledger.NewClient(cfg.Ledger.WebsocketURL, cfg.Ledger.Commitment, log)
	ingestor, err := ledger.NewIngestor(ledgerClient, q, matcher, fanout, db, cfg.Ledger, log)
	if err != nil {
		log.Error("failed to create ledger ingestor", "error", err)
		os.Exit(1)
	}

	tokens := middleware.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL())

	// Start background pipelines
	dispatcher.Start(ctx)
	ingestor.Start(ctx)
	go aggregator.Run(ctx)

	// Set up HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Initialize handlers
	nodeHandler := handlers.NewNodeHandler(reg, matcher, tokens)
	matchHandler := handlers.NewMatchmakerHandler(matcher)
	metricsHandler := handlers.NewMetricsHandler(aggregator)
	webhookHandler := handlers.NewWebhookHandler(fanout)

	// API routes
	api := router.Group("/api")
	{
		api.POST("/matchmaker/match", matchHandler.Match)
		api.GET("/metrics/current", metricsHandler.Current)
		api.GET("/validation", metricsHandler.Validation)
		api.POST("/webhooks/trigger", webhookHandler.Trigger)
	}

	nodes := router.Group("/nodes")
	{
		nodes.POST("/register", nodeHandler.Register)
		nodes.POST("/heartbeat", middleware.NodeAuth(tokens), nodeHandler.Heartbeat)
		nodes.POST("/report", middleware.NodeAuth(tokens), nodeHandler.Report)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Graceful shutdown: stop the HTTP surface first, then the ledger stream,
	// then drain the dispatcher so in-flight attempts finish cleanly.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server forced to shutdown", "error", err)
		}

		ingestor.Stop()
		dispatcher.Stop()
		cancel()
	}()

	log.Info("engine listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("engine exited")
}
