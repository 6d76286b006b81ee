// AngelaMos | 2026
// scheduler.go

package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

// TokenPurger removes expired verification ledger rows.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

type Status struct {
	Running      bool          `json:"running"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	TotalDeleted int           `json:"total_deleted"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastDeleted  int           `json:"last_deleted"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	LastPurgeAt  *time.Time    `json:"last_purge_at,omitempty"`
	LastPurged   int64         `json:"last_purged"`
}

type Scheduler struct {
	sweeper *Sweeper
	purger  TokenPurger
	cfg     config.CleanupConfig
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewScheduler wires the periodic driver. purger may be nil, in which case
// only the user sweep runs.
func NewScheduler(
	sweeper *Sweeper,
	purger TokenPurger,
	cfg config.CleanupConfig,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		sweeper: sweeper,
		purger:  purger,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run sweeps once immediately and then on every interval tick until ctx is
// cancelled. Failures are recorded and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("cleanup scheduler started",
		"interval", s.cfg.Interval,
		"retention", s.cfg.Retention,
		"token_purge_interval", s.cfg.TokenPurgeInterval,
	)

	sweepTicker := time.NewTicker(s.cfg.Interval)
	defer sweepTicker.Stop()

	var purgeC <-chan time.Time
	if s.purger != nil && s.cfg.TokenPurgeInterval > 0 {
		purgeTicker := time.NewTicker(s.cfg.TokenPurgeInterval)
		defer purgeTicker.Stop()
		purgeC = purgeTicker.C
	}

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup scheduler stopped")
			return
		case <-sweepTicker.C:
			s.RunOnce(ctx)
		case <-purgeC:
			s.PurgeOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded sweep and records the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if s.cfg.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SweepTimeout)
		defer cancel()
	}

	started := s.now()
	deleted, err := s.sweeper.Sweep(ctx, s.cfg.Retention)
	elapsed := s.now().Sub(started)

	s.mu.Lock()
	s.status.Runs++
	s.status.TotalDeleted += deleted
	s.status.LastRunAt = &started
	s.status.LastDeleted = deleted
	s.status.LastDuration = elapsed
	s.status.LastError = ""
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	return deleted, err
}

func (s *Scheduler) PurgeOnce(ctx context.Context) (int64, error) {
	if s.purger == nil {
		return 0, nil
	}

	purged, err := s.purger.PurgeExpiredTokens(ctx)
	if err != nil {
		s.logger.Error("verification token purge failed", "error", err)
		return 0, err
	}

	at := s.now()
	s.mu.Lock()
	s.status.LastPurgeAt = &at
	s.status.LastPurged = purged
	s.mu.Unlock()

	s.logger.Info("verification tokens purged", "count", purged)
	return purged, nil
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.status.Running = running
	s.mu.Unlock()
}
