package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

func strPtr(s string) *string { return &s }

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("CaptureLifecycle", func(t *testing.T) { captureLifecycle(t, makeStore(t)) })
	t.Run("MemoryDedupPrimitives", func(t *testing.T) { memoryDedupPrimitives(t, makeStore(t)) })
	t.Run("TenantBoundary", func(t *testing.T) { tenantBoundary(t, makeStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { rollbackOnError(t, makeStore(t)) })
	t.Run("MissingScope", func(t *testing.T) { missingScope(t, makeStore(t)) })
}

func newScope(t *testing.T) tenant.Scope {
	t.Helper()
	s, err := tenant.NewScope(uuid.New().String())
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	return s
}

func createCapture(t *testing.T, s store.Store, scope tenant.Scope, text string) *model.Capture {
	t.Helper()
	var out *model.Capture
	err := s.InScope(context.Background(), scope, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Captures().Create(ctx, &model.Capture{InputMethod: model.InputPaste, RawText: strPtr(text)}, time.Now().Add(-time.Second))
		return err
	})
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	return out
}

func leased(t *testing.T, s store.Store, captureID string) bool {
	t.Helper()
	refs, err := s.Jobs().Lease(context.Background(), 1000, time.Minute)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	for _, r := range refs {
		if r.CaptureID == captureID {
			return true
		}
	}
	return false
}

func captureLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := newScope(t)
	c := createCapture(t, s, scope, "we talked about the move to Lisbon")
	if c.CaptureID == "" || c.Status != model.StatusQueued || c.ProfileID != scope.ProfileID() {
		t.Fatalf("CreateCapture: unexpected %+v", c)
	}

	// The dispatch row is due, and a lease hides it from the next lease.
	if !leased(t, s, c.CaptureID) {
		t.Fatalf("Lease: capture %s not leased", c.CaptureID)
	}
	if leased(t, s, c.CaptureID) {
		t.Fatalf("Lease: capture %s leased twice", c.CaptureID)
	}

	err := s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Captures().Transition(ctx, c.CaptureID, model.Transition{Status: model.StatusProcessing, CountAttempt: true}); err != nil {
			return err
		}
		return tx.Captures().Transition(ctx, c.CaptureID, model.Transition{
			Status: model.StatusCompleted,
			Result: &model.ResultSummary{Saved: 2, SkippedDuplicates: 1},
		})
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}

	err = s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.Captures().Get(ctx, c.CaptureID)
		if err != nil {
			return err
		}
		if got.Status != model.StatusCompleted || got.AttemptCount != 1 || got.Result == nil || got.Result.Saved != 2 || got.Result.SkippedDuplicates != 1 {
			t.Fatalf("GetCapture: unexpected %+v", got)
		}
		if got.RawText == nil || *got.RawText != "we talked about the move to Lisbon" {
			t.Fatalf("GetCapture: raw text lost: %v", got.RawText)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GetCapture: %v", err)
	}

	if err := s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		return tx.Captures().Transition(ctx, uuid.New().String(), model.Transition{Status: model.StatusFailed})
	}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Transition unknown capture: want ErrNotFound, got %v", err)
	}

	// Screenshots round-trip their references.
	var shot *model.Capture
	err = s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		var err error
		shot, err = tx.Captures().Create(ctx, &model.Capture{
			InputMethod: model.InputScreenshot,
			Images:      []model.ImageRef{{URL: "https://img.example/1.png", ContentType: "image/png", SizeBytes: 2048}},
		}, time.Now().Add(time.Hour))
		if err != nil {
			return err
		}
		got, err := tx.Captures().Get(ctx, shot.CaptureID)
		if err != nil {
			return err
		}
		if got.RawText != nil || len(got.Images) != 1 || got.Images[0].SizeBytes != 2048 {
			t.Fatalf("GetCapture screenshot: unexpected %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CreateCapture screenshot: %v", err)
	}
	if leased(t, s, shot.CaptureID) {
		t.Fatalf("Lease: capture scheduled for later was leased early")
	}
}

func memoryDedupPrimitives(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := newScope(t)
	c := createCapture(t, s, scope, "hash test")
	hash := "0123456789abcdef"

	err := s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Memories().FindByHash(ctx, hash); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("FindByHash empty: want ErrNotFound, got %v", err)
		}
		m, err := tx.Memories().Insert(ctx, &model.Memory{
			CaptureID:      &c.CaptureID,
			Category:       model.CategoryHobbies,
			FactualContent: "Loves hiking",
			VerbatimText:   "I love hiking",
			PreferVerbatim: true,
			Importance:     2,
			VerbatimTokens: 4,
			ContentHash:    strPtr(hash),
		})
		if err != nil {
			return err
		}
		got, err := tx.Memories().FindByHash(ctx, hash)
		if err != nil {
			return err
		}
		if got.MemoryID != m.MemoryID || got.Importance != 2 || got.ProfileID != scope.ProfileID() {
			t.Fatalf("FindByHash: unexpected %+v", got)
		}
		if err := tx.Memories().Merge(ctx, m.MemoryID, 4, strPtr("joy")); err != nil {
			return err
		}
		got, err = tx.Memories().FindByHash(ctx, hash)
		if err != nil {
			return err
		}
		if got.Importance != 4 || got.EmotionalSignificance == nil || *got.EmotionalSignificance != "joy" {
			t.Fatalf("Merge: unexpected %+v", got)
		}
		n, err := tx.Memories().CountByCapture(ctx, c.CaptureID)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("CountByCapture: want 1, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("memories: %v", err)
	}

	// A duplicate hash reports ErrConflict and leaves the unit of work
	// usable: later writes in it still commit.
	err = s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Memories().Insert(ctx, &model.Memory{
			Category: model.CategoryHobbies, FactualContent: "loves hiking", VerbatimText: "hiking!",
			Importance: 5, ContentHash: strPtr(hash),
		})
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("Insert duplicate hash: want ErrConflict, got %v", err)
		}
		_, err = tx.Memories().Insert(ctx, &model.Memory{
			Category: model.CategoryWork, FactualContent: "Bakes bread for work", VerbatimText: "I'm a baker",
			Importance: 3, ContentHash: strPtr("fedcba9876543210"),
		})
		return err
	})
	if err != nil {
		t.Fatalf("commit after duplicate hash: %v", err)
	}

	err = s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.Memories().List(ctx, model.ListMemoriesRequest{})
		if err != nil {
			return err
		}
		if len(all) != 2 || all[0].Importance != 4 || all[1].Importance != 3 {
			t.Fatalf("List: unexpected order or size: %d", len(all))
		}
		work := model.CategoryWork
		only, err := tx.Memories().List(ctx, model.ListMemoriesRequest{Category: &work, Limit: 10})
		if err != nil {
			return err
		}
		if len(only) != 1 || only[0].Category != model.CategoryWork {
			t.Fatalf("List by category: unexpected %d", len(only))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
}

func tenantBoundary(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := newScope(t), newScope(t)
	hash := "aaaaaaaaaaaaaaaa"
	capA := createCapture(t, s, a, "profile A capture")

	insert := func(scope tenant.Scope, content string) string {
		var id string
		err := s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
			m, err := tx.Memories().Insert(ctx, &model.Memory{
				Category: model.CategoryEmotional, FactualContent: content, VerbatimText: content,
				Importance: 3, ContentHash: strPtr(hash),
			})
			if err != nil {
				return err
			}
			id = m.MemoryID
			return nil
		})
		if err != nil {
			t.Fatalf("Insert for %s: %v", scope, err)
		}
		return id
	}
	idA := insert(a, "same content")
	idB := insert(b, "same content")

	err := s.InScope(ctx, a, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.Memories().FindByHash(ctx, hash)
		if err != nil {
			return err
		}
		if got.MemoryID != idA {
			t.Fatalf("FindByHash under A observed %s, want %s", got.MemoryID, idA)
		}
		all, err := tx.Memories().List(ctx, model.ListMemoriesRequest{})
		if err != nil {
			return err
		}
		for _, m := range all {
			if m.MemoryID == idB {
				t.Fatalf("List under A observed B's memory")
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope A: %v", err)
	}

	err = s.InScope(ctx, b, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Captures().Get(ctx, capA.CaptureID); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("Get A's capture under B: want ErrNotFound, got %v", err)
		}
		if err := tx.Memories().Merge(ctx, idA, 5, nil); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("Merge A's memory under B: want ErrNotFound, got %v", err)
		}
		if err := tx.Captures().Transition(ctx, capA.CaptureID, model.Transition{Status: model.StatusFailed}); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("Transition A's capture under B: want ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope B: %v", err)
	}

	// A write carrying another profile's id is refused by the storage layer.
	err = s.InScope(ctx, b, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Memories().Insert(ctx, &model.Memory{
			ProfileID: a.ProfileID(), Category: model.CategoryWork, FactualContent: "smuggled",
			VerbatimText: "smuggled", Importance: 1, ContentHash: strPtr("bbbbbbbbbbbbbbbb"),
		})
		return err
	})
	if !errors.Is(err, model.ErrTenantViolation) {
		t.Fatalf("cross-tenant insert: want ErrTenantViolation, got %v", err)
	}
}

func rollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := newScope(t)
	boom := errors.New("boom")
	var id string
	err := s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.Captures().Create(ctx, &model.Capture{InputMethod: model.InputAPI, RawText: strPtr("discard me")}, time.Now())
		if err != nil {
			return err
		}
		id = c.CaptureID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InScope: want boom, got %v", err)
	}
	err = s.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Captures().Get(ctx, id)
		return err
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("rolled back capture visible: %v", err)
	}
}

func missingScope(t *testing.T, s store.Store) {
	called := false
	err := s.InScope(context.Background(), tenant.Scope{}, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, tenant.ErrNoScope) || called {
		t.Fatalf("zero scope: want ErrNoScope without running fn, got %v (called=%v)", err, called)
	}
}

// SeedCapture creates one queued capture under a fresh profile and returns
// its scope and id.
func SeedCapture(t *testing.T, s store.Store) (tenant.Scope, string) {
	t.Helper()
	scope := newScope(t)
	c := createCapture(t, s, scope, "seed")
	return scope, c.CaptureID
}
