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
	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/internal/api/handlers"
	"github.com/squadforge/squad-optimizer/internal/optimizer"
	"github.com/squadforge/squad-optimizer/internal/transfer"
	"github.com/squadforge/squad-optimizer/internal/websocket"
	"github.com/squadforge/squad-optimizer/pkg/cache"
	"github.com/squadforge/squad-optimizer/pkg/config"
	"github.com/squadforge/squad-optimizer/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logger with service context
	structuredLogger := logger.InitLogger("info", cfg.IsDevelopment())
	logger.WithService("squad-optimizer").WithFields(logrus.Fields{
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting Squad Optimizer Service")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to Redis for result caching
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithService("squad-optimizer").Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opt)
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithService("squad-optimizer").Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	resultCache := cache.NewResultCache(redisClient, structuredLogger)

	// WebSocket hub for transfer search progress updates
	wsHub := websocket.NewHub(structuredLogger)
	go wsHub.Run()

	// Core engine: the optimizer owns a default branch-and-bound solver, the
	// transfer search delegates every candidate to the optimizer.
	opt2 := optimizer.New(nil, structuredLogger)
	search := transfer.NewSearch(opt2, structuredLogger)

	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	optimizationHandler := handlers.NewOptimizationHandler(opt2, resultCache, cfg, structuredLogger)
	transferHandler := handlers.NewTransferHandler(search, resultCache, wsHub, cfg, structuredLogger)
	healthHandler := handlers.NewHealthHandler(redisClient, wsHub, structuredLogger)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/optimize", optimizationHandler.Optimize)
		apiV1.POST("/optimize/validate", optimizationHandler.Validate)
		apiV1.POST("/transfers", transferHandler.Recommend)
	}

	// WebSocket endpoint for transfer search progress
	router.GET("/ws/search-progress/:client_id", wsHub.HandleWebSocket)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.WithService("squad-optimizer").WithField("port", cfg.Port).Info("Squad optimizer started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithService("squad-optimizer").Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.WithService("squad-optimizer").Info("Shutting down squad optimizer...")

	// Tell connected progress listeners the service is going away.
	wsHub.BroadcastToAll(gin.H{"type": "service_shutdown"})

	// The server has 5 seconds to finish the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithService("squad-optimizer").Fatalf("Squad optimizer forced to shutdown: %v", err)
	}

	logger.WithService("squad-optimizer").Info("Squad optimizer exited")
}

// requestLogger logs one structured line per handled request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithHTTPContext(c.Request.Method, c.Request.URL.Path).WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Info("Request handled")
	}
}
