package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/models"
	"github.com/hallhub/backend/pkg/queue"
)

// StaleLister lists pending payments created before a cutoff, oldest first.
type StaleLister interface {
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
}

// Enqueuer queues one reconciliation job and reports whether it was new.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, payload queue.ReconcilePayload) (bool, error)
}

// SweeperConfig controls how often and how far back the sweeper looks.
type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper queues reconciliation for payments whose webhook never arrived.
type Sweeper struct {
	lister StaleLister
	queue  Enqueuer
	cfg    SweeperConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper. Defaults: every minute, payments older than 10 minutes,
// 100 per sweep.
func NewSweeper(lister StaleLister, q Enqueuer, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{lister: lister, queue: q, cfg: cfg, logger: logger, now: time.Now}
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce queues one batch of stale payments and returns how many jobs were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.lister.StalePending(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, p := range stale {
		ok, err := s.queue.EnqueueReconcile(ctx, queue.ReconcilePayload{PaymentID: p.ID, Reason: "stale pending"})
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	if len(stale) > 0 {
		s.logger.Info("sweep queued stale payments", zap.Int("found", len(stale)), zap.Int("queued", queued))
	}
	return queued, nil
}
