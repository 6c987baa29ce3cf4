package store

import (
	"context"
	"time"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite;
// memstore is the test double).
//
// Capture and memory rows are reachable only through InScope: the
// repositories handed to fn are bound to the scope's profile, and the
// driver additionally enforces the same profile at the storage level for
// the duration of the unit of work.
type Store interface {
	// InScope runs fn in one transaction bound to scope. The binding is
	// released when fn returns, whether it commits or rolls back.
	// A zero scope fails with tenant.ErrNoScope before any I/O.
	InScope(ctx context.Context, scope tenant.Scope, fn func(ctx context.Context, tx Tx) error) error

	// Jobs is the dispatch table of pending capture work. It only holds
	// capture/profile references and is used by the retry sweep.
	Jobs() Jobs
}

// Tx is a unit of work bound to one profile.
type Tx interface {
	Scope() tenant.Scope
	Captures() Captures
	Memories() Memories
}

type Captures interface {
	// Create inserts c in queued state together with its dispatch row.
	// notBefore is when the sweep may first deliver the job.
	Create(ctx context.Context, c *model.Capture, notBefore time.Time) (*model.Capture, error)
	Get(ctx context.Context, captureID string) (*model.Capture, error)
	// Transition applies a status change. Entering a terminal status
	// completes the dispatch row; entering queued_for_retry reschedules it
	// with exponential backoff.
	Transition(ctx context.Context, captureID string, t model.Transition) error
}

type Memories interface {
	// FindByHash returns the non-deleted memory with the given content hash
	// or model.ErrNotFound.
	FindByHash(ctx context.Context, contentHash string) (*model.Memory, error)
	// Insert returns model.ErrConflict when (profile, content_hash) is taken.
	Insert(ctx context.Context, m *model.Memory) (*model.Memory, error)
	// Merge raises importance and replaces emotional significance.
	Merge(ctx context.Context, memoryID string, importance int, emotionalSignificance *string) error
	CountByCapture(ctx context.Context, captureID string) (int, error)
	List(ctx context.Context, req model.ListMemoriesRequest) ([]*model.Memory, error)
}

// Jobs leases capture dispatch rows for the retry sweep.
type Jobs interface {
	// Lease returns up to limit due jobs and pushes their next attempt
	// leaseFor into the future so concurrent sweepers skip them.
	Lease(ctx context.Context, limit int, leaseFor time.Duration) ([]model.CaptureRef, error)
	// Complete marks the dispatch row for captureID done.
	Complete(ctx context.Context, captureID string) error
}
