package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Jonas1mposter/project-resonance/internal/api"
	"github.com/Jonas1mposter/project-resonance/internal/config"
	"github.com/Jonas1mposter/project-resonance/internal/metrics"
	"github.com/Jonas1mposter/project-resonance/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("loading configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("building logger", zap.Error(err))
	}
	defer logger.Sync()

	if !cfg.Upstream.HasCredentials() {
		logger.Warn("upstream credentials not configured, relay sessions will be rejected")
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	registry := metrics.New(nil)
	asrRelay := relay.New(cfg, registry, logger)

	// Initialize API routes
	api.InitRoutes(e, asrRelay, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(cfg.Server.ListenAddress()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay server started",
		zap.String("address", cfg.Server.ListenAddress()),
		zap.String("upstream", cfg.Upstream.Endpoint))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
