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
	"github.com/opsdesk/tradesim/internal/radar"
	"github.com/opsdesk/tradesim/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.LoadRadar()
	zapLogger, err := logger.ForService(radar.Name, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	svc := radar.NewService(zapLogger, cfg.Symbols, cfg.IngestorURL, cfg.DataDir)
	if err := svc.Start(); err != nil {
		zapLogger.Fatal("Failed to start radar service", zap.Error(err))
	}

	server := &http.Server{Addr: cfg.Addr, Handler: svc.Router()}
	go func() {
		zapLogger.Info("Starting radar API", zap.String("addr", cfg.Addr), zap.String("ingestor", cfg.IngestorURL))
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
		zapLogger.Error("Failed to stop radar service", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
