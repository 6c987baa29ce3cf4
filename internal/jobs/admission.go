package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

// Admission decides whether new work for key may be accepted. Refusals wrap
// model.ErrAdmissionDenied.
type Admission interface {
	Admit(ctx context.Context, key string) error
}

// AdmitAll accepts every submission.
type AdmitAll struct{}

func (AdmitAll) Admit(context.Context, string) error { return nil }

// WindowLimiter admits at most Limit submissions per key in any sliding
// Window. Counts live in process memory.
type WindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastPrune time.Time
}

// NewWindowLimiter returns a limiter. A non-positive limit admits everything.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window, now: time.Now, hits: map[string][]time.Time{}}
}

func (l *WindowLimiter) Admit(_ context.Context, key string) error {
	if l.limit <= 0 {
		return nil
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastPrune) >= l.window {
		l.prune(cutoff)
		l.lastPrune = now
	}
	kept := recent(l.hits[key], cutoff)
	if len(kept) >= l.limit {
		l.hits[key] = kept
		return fmt.Errorf("%w: %d submissions in the last %s", model.ErrAdmissionDenied, len(kept), l.window)
	}
	l.hits[key] = append(kept, now)
	return nil
}

// Len reports how many keys are tracked.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// prune drops keys with no hit after cutoff. Callers hold mu.
func (l *WindowLimiter) prune(cutoff time.Time) {
	for key, ts := range l.hits {
		if kept := recent(ts, cutoff); len(kept) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = kept
		}
	}
}

// recent filters ts in place to the entries after cutoff.
func recent(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
