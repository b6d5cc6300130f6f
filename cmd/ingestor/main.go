package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/internal/config"
	"github.com/opsdesk/tradesim/internal/ingestor"
	"github.com/opsdesk/tradesim/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.LoadIngestor()
	zapLogger, err := logger.ForService("ingestor", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	svc := ingestor.NewService(zapLogger, cfg.Symbols, cfg.WSBase, cfg.DemoFeed)
	if err := svc.Start(); err != nil {
		zapLogger.Fatal("Failed to start ingestor service", zap.Error(err))
	}

	server := &http.Server{Addr: cfg.Addr, Handler: svc.Router()}
	go func() {
		zapLogger.Info("Starting ingestor API",
			zap.String("addr", cfg.Addr),
			zap.String("symbols", strings.Join(cfg.Symbols, ",")),
			zap.Bool("demo_feed", cfg.DemoFeed))
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
		zapLogger.Error("Failed to stop ingestor service", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
