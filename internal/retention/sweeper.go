// Package retention deletes task records past their retention window.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"imagebot/internal/metrics"
)

const (
	DefaultRetention = 7 * 24 * time.Hour
	DefaultInterval  = time.Hour
)

// Purger removes records created before cutoff.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	Tasks     Purger
	Retention time.Duration
	Interval  time.Duration
	Clock     clock.WithTicker
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

type Sweeper struct {
	tasks     Purger
	retention time.Duration
	interval  time.Duration
	clock     clock.WithTicker
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewSweeper(opts Options) (*Sweeper, error) {
	if opts.Tasks == nil {
		return nil, errors.New("retention: task repository is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Sweeper{
		tasks:     opts.Tasks,
		retention: opts.Retention,
		interval:  opts.Interval,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// SweepOnce deletes every record older than the retention window.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.tasks.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordPurged(n)
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("retention: sweep done")
	return n, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
// Failed sweeps are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("retention: sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}
