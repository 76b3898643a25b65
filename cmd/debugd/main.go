// Package main is the entry point for debugd, the debug adapter engine.
// The server exposes the debug session API over WebSocket plus a small
// HTTP surface for health checks and adapter discovery.
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
	"go.uber.org/zap"

	"github.com/kandev/debugd/internal/common/config"
	"github.com/kandev/debugd/internal/common/httpmw"
	"github.com/kandev/debugd/internal/common/logger"
	"github.com/kandev/debugd/internal/debug/adapters"
	"github.com/kandev/debugd/internal/debug/session"
	"github.com/kandev/debugd/internal/debug/wshandlers"
	"github.com/kandev/debugd/internal/events"
	gateways "github.com/kandev/debugd/internal/gateway/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting debugd...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	eventBus := provided.Bus
	if provided.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 5. Adapter registry (built-ins plus optional custom adapters file)
	registry := adapters.NewRegistry(log, adapters.WithDetectTimeout(cfg.Debug.DetectTimeoutDuration()))
	if cfg.Debug.AdaptersFile != "" {
		if err := registry.LoadCustomFile(cfg.Debug.AdaptersFile); err != nil {
			log.Warn("Failed to load custom adapters file", zap.Error(err))
		}
		if cfg.Debug.WatchAdaptersFile {
			if err := registry.WatchCustomFile(ctx, cfg.Debug.AdaptersFile); err != nil {
				log.Warn("Failed to watch custom adapters file", zap.Error(err))
			}
		}
	}
	log.Info("Adapter registry initialized", zap.Strings("languages", registry.SupportedLanguages()))

	// 6. Session manager
	manager := session.NewManager(registry, eventBus, log,
		session.WithRequestTimeout(cfg.Debug.RequestTimeoutDuration()),
		session.WithInitializeTimeout(cfg.Debug.InitializeTimeoutDuration()),
	)

	// 7. WebSocket gateway
	gateway := gateways.NewGateway(log)

	debugHandlers := wshandlers.NewHandlers(manager, registry, log)
	debugHandlers.RegisterHandlers(gateway.Dispatcher)
	log.Info("Registered debug WebSocket handlers")

	go gateway.Hub.Run(ctx)
	gateways.RegisterDebugStreamNotifications(ctx, eventBus, gateway.Hub, log)

	// 8. HTTP server (WebSocket + HTTP endpoints)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "debugd"))

	gateway.SetupRoutes(router)
	registerAdapterRoutes(router, registry)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "debugd",
			"mode":    "websocket+http",
		})
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8085
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
	)

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down debugd...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop every debug session before tearing down the transport so
	// adapters get a clean disconnect.
	manager.StopAll(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("debugd stopped")
}

// corsMiddleware returns a CORS middleware for HTTP and WebSocket connections
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
