package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/store/memstore"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// bareStore hides memstore's HealthPing so the scoped fallback runs.
type bareStore struct{ store.Store }

type brokenStore struct{ store.Store }

func (brokenStore) InScope(context.Context, tenant.Scope, func(context.Context, store.Tx) error) error {
	return errors.New("connection reset")
}

func TestStoreHealthChecker_UsesPinger(t *testing.T) {
	hc := store.NewStoreHealthChecker(memstore.New(), zerolog.Nop(), time.Second)
	require.Equal(t, "store", hc.Name())
	require.True(t, hc.Probe(context.Background()))
}

func TestStoreHealthChecker_ScopedFallback(t *testing.T) {
	hc := store.NewStoreHealthChecker(bareStore{memstore.New()}, zerolog.Nop(), time.Second)
	require.True(t, hc.Probe(context.Background()))

	hc = store.NewStoreHealthChecker(brokenStore{memstore.New()}, zerolog.Nop(), time.Second)
	require.False(t, hc.Probe(context.Background()))
	require.False(t, hc.IsHealthy())
}
