package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

type fakeLeaser struct {
	mu      sync.Mutex
	due     []model.CaptureRef
	leaseFor time.Duration
	err     error
}

func (f *fakeLeaser) Lease(_ context.Context, limit int, leaseFor time.Duration) ([]model.CaptureRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.leaseFor = leaseFor
	n := min(limit, len(f.due))
	out := f.due[:n]
	f.due = f.due[n:]
	return out, nil
}

func TestSweep_ProcessOnceDispatchesBatch(t *testing.T) {
	l := &fakeLeaser{due: []model.CaptureRef{{CaptureID: "c1", ProfileID: "p"}, {CaptureID: "c2", ProfileID: "p"}, {CaptureID: "c3", ProfileID: "p"}}}
	var got []string
	s := NewSweep(l, func(_ context.Context, ref model.CaptureRef) error {
		if ref.CaptureID == "c2" {
			return errors.New("queue full")
		}
		got = append(got, ref.CaptureID)
		return nil
	}, SweepConfig{BatchSize: 10, Lease: time.Minute}, zerolog.Nop())

	n, err := s.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"c1", "c3"}, got)
	assert.Equal(t, time.Minute, l.leaseFor)
}

func TestSweep_RespectsBatchSize(t *testing.T) {
	l := &fakeLeaser{due: []model.CaptureRef{{CaptureID: "c1"}, {CaptureID: "c2"}, {CaptureID: "c3"}}}
	s := NewSweep(l, func(context.Context, model.CaptureRef) error { return nil }, SweepConfig{BatchSize: 2}, zerolog.Nop())
	n, err := s.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweep_LeaseError(t *testing.T) {
	l := &fakeLeaser{err: errors.New("db down")}
	s := NewSweep(l, func(context.Context, model.CaptureRef) error { return nil }, SweepConfig{}, zerolog.Nop())
	_, err := s.ProcessOnce(context.Background())
	assert.Error(t, err)
}

func TestSweep_RunStopsOnCancel(t *testing.T) {
	l := &fakeLeaser{due: []model.CaptureRef{{CaptureID: "c1"}}}
	dispatched := make(chan struct{}, 1)
	s := NewSweep(l, func(context.Context, model.CaptureRef) error {
		dispatched <- struct{}{}
		return nil
	}, SweepConfig{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not dispatch")
	}
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop")
	}
}
