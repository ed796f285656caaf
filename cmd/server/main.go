package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sourcemind/internal/adapter/ollama"
	"sourcemind/internal/adapter/pipeline_http"
	"sourcemind/internal/adapter/repository"
	"sourcemind/internal/adapter/vectorstore"
	"sourcemind/internal/adapter/websearch"
	"sourcemind/internal/domain"
	"sourcemind/internal/infra"
	"sourcemind/internal/infra/config"
	"sourcemind/internal/infra/logger"
	"sourcemind/internal/infra/telemetry"
	"sourcemind/internal/pipeline"
	"sourcemind/internal/worker"
)

func main() {
	cfg := config.Load()

	// Telemetry first so the logger can attach to the global providers.
	otelCfg := telemetry.ConfigFromEnv()
	shutdownTelemetry, err := telemetry.InitProvider(context.Background(), otelCfg)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	log := logger.NewWithOTel(otelCfg.Enabled)
	slog.SetDefault(log)

	dbPool, err := infra.NewPostgresDB(context.Background(), cfg.DSN())
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Adapters
	embedder := ollama.NewEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbedTimeout)
	generator := ollama.NewGenerator(cfg.OllamaURL, cfg.GenerationModel, 0.7, cfg.GenTimeout)
	docStore := vectorstore.NewPgvectorStore(dbPool, embedder)
	convRepo := repository.NewConversationRepository(dbPool)
	txManager := repository.NewPostgresTransactionManager(dbPool)

	var webSearcher domain.WebSearcher
	if cfg.WebSearchOn {
		webSearcher = websearch.NewSearxNGClient(cfg.SearxNGURL, cfg.SearchTimeout, cfg.WebSearchRPS)
	}

	// Pipeline
	resolver := pipeline.New(
		docStore,
		webSearcher,
		embedder,
		generator,
		convRepo,
		txManager,
		pipeline.Config{
			SearchTimeout:   time.Duration(cfg.SearchTimeout) * time.Second,
			EmbedTimeout:    time.Duration(cfg.EmbedTimeout) * time.Second,
			GenerateTimeout: time.Duration(cfg.GenTimeout) * time.Second,
		},
		log,
	)

	// Background title generation
	titleWorker := worker.NewTitleWorker(
		convRepo,
		generator,
		time.Duration(cfg.TitleWorkerInterval)*time.Second,
		log,
	)
	titleWorker.Start()
	defer func() {
		log.Info("Stopping worker...")
		titleWorker.Stop()
	}()

	// HTTP server
	e := echo.New()
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/healthz"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			rctx := c.Request().Context()
			if v.Error == nil {
				slog.InfoContext(rctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				slog.ErrorContext(rctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler := pipeline_http.NewHandler(resolver, docStore, docStore, convRepo)
	handler.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := dbPool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Info("Starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
