package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/health"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// NewStoreHealthChecker probes st through its HealthPing when it has one,
// otherwise through a scoped read of a capture that cannot exist.
func NewStoreHealthChecker(st Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	p, ok := st.(health.HealthPinger)
	if !ok {
		p = scopedProbe{st: st}
	}
	return health.NewPingChecker("store", p, log, probeTimeout)
}

type scopedProbe struct{ st Store }

// HealthPing opens a unit of work for a throwaway profile. ErrNotFound means
// the store answered.
func (p scopedProbe) HealthPing(ctx context.Context) error {
	scope, err := tenant.NewScope(uuid.NewString())
	if err != nil {
		return err
	}
	err = p.st.InScope(ctx, scope, func(ctx context.Context, tx Tx) error {
		_, err := tx.Captures().Get(ctx, "__health_check__")
		return err
	})
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return err
}
