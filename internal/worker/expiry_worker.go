package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/metrics"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"go.uber.org/zap"
)

// ExpiredReleaser is the part of the ledger the sweeper needs
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
}

// AttemptPruner drops settled purchase attempts from memory
type AttemptPruner interface {
	PruneAttempts(now time.Time) int
}

// ReleasePublisher announces released reservations
type ReleasePublisher interface {
	PublishReservationReleased(ctx context.Context, res *domain.Reservation) error
}

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize caps the reservations released in one ledger call
	BatchSize int
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

// ExpiryWorker releases HELD reservations past their expiry. Holds are also
// released lazily by the next Reserve on their tier; the sweep keeps idle
// tiers and read paths accurate.
type ExpiryWorker struct {
	ledger    ExpiredReleaser
	attempts  AttemptPruner
	publisher ReleasePublisher
	config    *ExpiryWorkerConfig
	log       *logger.Logger
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	// Stats
	totalReleased     int64
	totalPruned       int64
	lastScanTime      time.Time
	lastReleasedCount int
}

// NewExpiryWorker creates a new expiry worker. attempts and publisher may be nil.
func NewExpiryWorker(
	ledger ExpiredReleaser,
	attempts AttemptPruner,
	publisher ReleasePublisher,
	config *ExpiryWorkerConfig,
) *ExpiryWorker {
	def := DefaultExpiryWorkerConfig()
	if config == nil {
		config = def
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = def.ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}

	return &ExpiryWorker{
		ledger:    ledger,
		attempts:  attempts,
		publisher: publisher,
		config:    config,
		log:       logger.Get(),
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry worker",
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the expiry worker and waits for the running sweep
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry worker stopped")
}

func (w *ExpiryWorker) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.log.Error("Expiry sweep failed", zap.Error(err))
	}
}

// RunOnce releases expired holds batch by batch until a short batch, then prunes
// settled attempts. It returns the number of reservations released.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	released := 0

	var err error
	for {
		var batch []*domain.Reservation
		batch, err = w.ledger.ReleaseExpired(ctx, now, w.config.BatchSize)
		if err != nil {
			break
		}
		released += len(batch)
		for _, res := range batch {
			w.publish(ctx, res)
		}
		if len(batch) < w.config.BatchSize || ctx.Err() != nil {
			break
		}
	}

	metrics.SweepRun(err)
	if released > 0 {
		metrics.ReservationReleased(string(domain.ReleaseExpired), released)
		w.log.Info("Released expired reservations", zap.Int("count", released))
	}

	pruned := 0
	if w.attempts != nil {
		pruned = w.attempts.PruneAttempts(now)
	}

	w.mu.Lock()
	w.lastScanTime = now
	w.lastReleasedCount = released
	w.totalReleased += int64(released)
	w.totalPruned += int64(pruned)
	w.mu.Unlock()

	if err != nil {
		return released, fmt.Errorf("failed to release expired reservations: %w", err)
	}
	return released, nil
}

func (w *ExpiryWorker) publish(ctx context.Context, res *domain.Reservation) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishReservationReleased(ctx, res); err != nil {
		w.log.Warn("Failed to publish reservation released event",
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:         w.running,
		TotalReleased:     w.totalReleased,
		TotalPruned:       w.totalPruned,
		LastScanTime:      w.lastScanTime,
		LastReleasedCount: w.lastReleasedCount,
	}
}

// ExpiryWorkerStats contains worker statistics
type ExpiryWorkerStats struct {
	IsRunning         bool      `json:"is_running"`
	TotalReleased     int64     `json:"total_released"`
	TotalPruned       int64     `json:"total_pruned"`
	LastScanTime      time.Time `json:"last_scan_time"`
	LastReleasedCount int       `json:"last_released_count"`
}
