package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

// Leaser hands out due dispatch rows. store.Jobs satisfies it.
type Leaser interface {
	Lease(ctx context.Context, limit int, leaseFor time.Duration) ([]model.CaptureRef, error)
}

// Dispatcher resubmits the work behind a leased row.
type Dispatcher func(ctx context.Context, ref model.CaptureRef) error

// SweepConfig controls batch size and polling cadence.
type SweepConfig struct {
	BatchSize int           `envconfig:"BATCH_SIZE" default:"100"`
	Interval  time.Duration `envconfig:"INTERVAL"   default:"5s"`
	// Lease is how long a delivered row stays hidden from the next sweep.
	// It should exceed the longest expected processing time.
	Lease time.Duration `envconfig:"LEASE" default:"5m"`
}

// Sweep periodically leases due dispatch rows and resubmits them. It picks
// up captures parked in queued_for_retry and jobs lost from the in-process
// queue (full queue at submit time, restart).
type Sweep struct {
	leaser   Leaser
	dispatch Dispatcher
	cfg      SweepConfig
	log      zerolog.Logger
}

// NewSweep constructs a Sweep from dependencies.
func NewSweep(leaser Leaser, dispatch Dispatcher, cfg SweepConfig, log zerolog.Logger) *Sweep {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	return &Sweep{leaser: leaser, dispatch: dispatch, cfg: cfg, log: log.With().Str("component", "sweep").Logger()}
}

// Run starts the polling loop until ctx is canceled.
func (s *Sweep) Run(ctx context.Context) error {
	s.log.Info().Int("batch", s.cfg.BatchSize).Dur("interval", s.cfg.Interval).Msg("retry sweep starting")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("retry sweep stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ProcessOnce(ctx); err != nil {
				// The lease pushes rows forward, so a failing dispatch cannot hot-loop.
				s.log.Error().Err(err).Msg("sweep processOnce")
			}
		}
	}
}

// ProcessOnce leases one batch and dispatches it, returning how many rows
// were dispatched. Rows whose dispatch fails stay leased and come back
// after the lease expires.
func (s *Sweep) ProcessOnce(ctx context.Context) (int, error) {
	refs, err := s.leaser.Lease(ctx, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range refs {
		if err := s.dispatch(ctx, ref); err != nil {
			s.log.Warn().Err(err).Str("capture_id", ref.CaptureID).Msg("sweep dispatch failed")
			continue
		}
		n++
	}
	sweptTotal.Add(float64(n))
	return n, nil
}
