package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/api/handlers"
	"github.com/case-review/backend/internal/app"
	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/internal/middleware/ratelimit"
	"github.com/case-review/backend/internal/middleware/security"
	"github.com/case-review/backend/internal/middleware/validation"
	"github.com/case-review/backend/pkg/config"
	appLogger "github.com/case-review/backend/pkg/logger"
)

// batchCost is what a batch submission charges against the rate limit,
// relative to a single-case call.
const batchCost = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.SetDevMode(cfg.App.DevMode)

	appLogger.Info("Starting case review API server")

	metrics.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pipeline, err := app.New(ctx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to build review pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMin,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{
		DashboardOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:    cfg.App.DevMode,
	}))

	validationCfg := validation.Config{Logger: appLogger.Named("validation")}
	fiberApp.Use(validation.Middleware(validationCfg))

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	caseHandler := handlers.NewCaseHandler(pipeline.Service)
	batchHandler := handlers.NewBatchHandler(pipeline.Service)
	aggregationHandler := handlers.NewAggregationHandler(pipeline.Service)
	vocabularyHandler := handlers.NewVocabularyHandler(pipeline.Vocabulary)
	wsHandler := handlers.NewWebSocketHandler(pipeline.Service.Registry())

	api := fiberApp.Group("/api/v1")

	caseGuards := []fiber.Handler{validation.CaseNumberParam(validationCfg), limiter.Middleware(1)}
	api.Post("/cases/:caseNumber/analyze", append(caseGuards, caseHandler.Analyze)...)
	api.Post("/cases/:caseNumber/bucketise", append(caseGuards, caseHandler.Bucketise)...)
	api.Post("/cases/:caseNumber/relevance/kb", append(caseGuards, caseHandler.KBRelevance)...)
	api.Post("/cases/:caseNumber/relevance/jira", append(caseGuards, caseHandler.JIRARelevance)...)

	api.Post("/batches", limiter.Middleware(batchCost), validation.BatchBody(validationCfg), batchHandler.Submit)
	api.Get("/batches/:id", batchHandler.Get)

	api.Get("/aggregation", aggregationHandler.Aggregate)

	api.Get("/vocabulary", vocabularyHandler.Get)
	api.Post("/vocabulary/reload", vocabularyHandler.Reload)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		count, err := pipeline.Cases.CountCases(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":     "ready",
			"cases":      count,
			"vocabulary": pipeline.Vocabulary.Current().Len(),
		})
	})

	fiberApp.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	fiberApp.Get("/ws/batches/:id", websocket.New(wsHandler.HandleProgress))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	fiberApp.Shutdown()
	appLogger.Info("Server stopped")
}
