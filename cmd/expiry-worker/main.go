package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yugalbansal1/eticket1/internal/di"
	"github.com/yugalbansal1/eticket1/internal/worker"
	"github.com/yugalbansal1/eticket1/pkg/config"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"go.uber.org/zap"
)

// The standalone sweeper releases expired holds for API instances that run
// with SETTLEMENT_SWEEP_ENABLED=false. It needs a shared ledger backend.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "expiry-worker",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting expiry worker...")

	if cfg.Settlement.LedgerBackend == di.LedgerMemory {
		appLog.Fatal("Expiry worker needs a shared ledger; set SETTLEMENT_LEDGER_BACKEND to postgres or redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	// Attempts live in the API process; this one only sweeps the ledger
	expiryWorker := worker.NewExpiryWorker(container.LedgerRepo, nil, container.EventPublisher, &worker.ExpiryWorkerConfig{
		ScanInterval: cfg.Settlement.SweepInterval,
		BatchSize:    cfg.Settlement.SweepBatchSize,
	})
	if err := expiryWorker.Start(ctx); err != nil {
		appLog.Fatal("Worker error", zap.Error(err))
	}

	appLog.Info("Expiry worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	expiryWorker.Stop()
	cancel()

	stats := expiryWorker.GetStats()
	appLog.Info("Worker exited gracefully", zap.Int64("total_released", stats.TotalReleased))
}
