// AngelaMos | 2026
// sweeper.go

package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/events"
)

const (
	defaultBatchSize  = 100
	defaultMaxBatches = 50
)

// UserStore deletes unverified accounts. Implementations must make the
// delete conditional on the row still being unverified so a verification
// that commits first wins.
type UserStore interface {
	DeleteUnverifiedBefore(
		ctx context.Context,
		cutoff time.Time,
		limit int,
	) ([]string, error)
}

type SweeperDeps struct {
	Store      UserStore
	Publisher  events.Publisher
	Metrics    *core.Metrics
	Logger     *slog.Logger
	BatchSize  int
	MaxBatches int
	Clock      func() time.Time
}

// Sweeper removes accounts that stayed unverified past the retention
// window. It holds no timer; the Scheduler or the sweep command drives it.
type Sweeper struct {
	store      UserStore
	publisher  events.Publisher
	metrics    *core.Metrics
	logger     *slog.Logger
	batchSize  int
	maxBatches int
	now        func() time.Time
}

func NewSweeper(deps SweeperDeps) *Sweeper {
	s := &Sweeper{
		store:      deps.Store,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		batchSize:  deps.BatchSize,
		maxBatches: deps.MaxBatches,
		now:        deps.Clock,
	}

	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxBatches <= 0 {
		s.maxBatches = defaultMaxBatches
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Sweep deletes unverified users created before now minus retention, in
// batches, and reports how many were removed. A failed batch stops the
// sweep; rows already deleted stay deleted and are counted.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("sweep: retention must be positive: %w", core.ErrInvalidInput)
	}

	cutoff := s.now().Add(-retention)

	ctx, span := core.StartSpan(ctx, "cleanup.sweep",
		attribute.String("cleanup.cutoff", cutoff.Format(time.RFC3339)),
	)
	defer span.End()

	start := time.Now()
	total, batches, err := s.sweepBatches(ctx, cutoff)
	elapsed := time.Since(start)

	s.metrics.ObserveSweep(total, elapsed, err)
	span.SetAttributes(
		attribute.Int("cleanup.deleted", total),
		attribute.Int("cleanup.batches", batches),
	)

	if err != nil {
		core.SetSpanError(span, err)
		s.logger.Error("cleanup sweep failed",
			"deleted", total,
			"batches", batches,
			"duration", elapsed,
			"error", err,
		)
		return total, err
	}

	s.logger.Info("cleanup sweep finished",
		"deleted", total,
		"batches", batches,
		"cutoff", cutoff,
		"duration", elapsed,
	)

	return total, nil
}

func (s *Sweeper) sweepBatches(ctx context.Context, cutoff time.Time) (int, int, error) {
	total := 0

	for batch := 0; batch < s.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, batch, fmt.Errorf("sweep: %w", err)
		}

		ids, err := s.store.DeleteUnverifiedBefore(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, batch, fmt.Errorf("sweep batch %d: %w", batch, err)
		}

		total += len(ids)
		s.publishSwept(ctx, ids)

		if len(ids) < s.batchSize {
			return total, batch + 1, nil
		}
	}

	s.logger.Warn("cleanup sweep stopped at batch cap",
		"max_batches", s.maxBatches,
		"batch_size", s.batchSize,
	)

	return total, s.maxBatches, nil
}

func (s *Sweeper) publishSwept(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	at := s.now()
	evs := make([]events.Event, 0, len(ids))
	for _, id := range ids {
		evs = append(evs, events.Event{
			Type:   events.UserSwept,
			UserID: id,
			At:     at,
		})
	}

	if err := s.publisher.Publish(ctx, evs...); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.Inc()
		}
		s.logger.Warn("swept user events not published",
			"count", len(ids),
			"error", err,
		)
	}
}
