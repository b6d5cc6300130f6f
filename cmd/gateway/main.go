package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/internal/config"
	"github.com/opsdesk/tradesim/internal/gateway"
	"github.com/opsdesk/tradesim/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.LoadGateway()
	zapLogger, err := logger.ForService(gateway.Name, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	svc, err := gateway.NewService(zapLogger, gateway.Upstreams{
		Executor:   cfg.ExecutorBase,
		Backtester: cfg.BacktesterBase,
		Ingestor:   cfg.IngestorBase,
		AI:         cfg.AIBase,
		Alerts:     cfg.AlertsBase,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create gateway service", zap.Error(err))
	}
	if err := svc.Start(); err != nil {
		zapLogger.Fatal("Failed to start gateway service", zap.Error(err))
	}

	server := &http.Server{Addr: cfg.Addr, Handler: svc.Router()}
	go func() {
		zapLogger.Info("Starting gateway API", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := svc.Stop(); err != nil {
		zapLogger.Error("Failed to stop gateway service", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
