// Package memstore is an in-process store.Store test double. It is not a
// selectable driver; the local build target uses the sqlite store. It mirrors the Postgres driver's two tenant layers:
// repositories filter on their bound profile, and every row access goes
// through a guard that hides and refuses rows owned by other profiles.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

type memoryRow struct {
	model.Memory
	deleted bool
}

type jobRow struct {
	ref           model.CaptureRef
	done          bool
	attemptCount  int
	nextAttemptAt time.Time
}

type tables struct {
	captures map[string]model.Capture
	memories map[string]memoryRow
	jobs     map[string]jobRow
}

func (t tables) clone() tables {
	out := tables{
		captures: make(map[string]model.Capture, len(t.captures)),
		memories: make(map[string]memoryRow, len(t.memories)),
		jobs:     make(map[string]jobRow, len(t.jobs)),
	}
	for k, v := range t.captures {
		v.Images = append([]model.ImageRef(nil), v.Images...)
		out.captures[k] = v
	}
	for k, v := range t.memories {
		out.memories[k] = v
	}
	for k, v := range t.jobs {
		out.jobs[k] = v
	}
	return out
}

// Store is a transactional in-memory store. Transactions are serialized and
// applied atomically on success.
type Store struct {
	mu   sync.Mutex
	data tables
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		data: tables{
			captures: map[string]model.Capture{},
			memories: map[string]memoryRow{},
			jobs:     map[string]jobRow{},
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(context.Context) error { return nil }

func (s *Store) InScope(ctx context.Context, scope tenant.Scope, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	tx := &memTx{
		scope: scope,
		g:     guard{principal: scope.ProfileID()},
		t:     &work,
		now:   s.now,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Jobs() store.Jobs { return &jobs{s: s} }

// guard is the storage-level filter: it knows nothing about repository
// predicates and only compares row ownership with the bound principal.
type guard struct{ principal string }

func (g guard) visible(profileID string) bool {
	return g.principal != "" && profileID == g.principal
}

func (g guard) checkWrite(profileID string) error {
	if !g.visible(profileID) {
		return fmt.Errorf("%w: row for profile %s written under %s", model.ErrTenantViolation, profileID, g.principal)
	}
	return nil
}

type memTx struct {
	scope tenant.Scope
	g     guard
	t     *tables
	now   func() time.Time
}

func (tx *memTx) Scope() tenant.Scope { return tx.scope }
func (tx *memTx) Captures() store.Captures {
	return &captures{tx: tx, profileID: tx.scope.ProfileID()}
}
func (tx *memTx) Memories() store.Memories {
	return &memories{tx: tx, profileID: tx.scope.ProfileID()}
}

// --- Captures ---
type captures struct {
	tx        *memTx
	profileID string
}

func (c *captures) Create(_ context.Context, in *model.Capture, notBefore time.Time) (*model.Capture, error) {
	out := *in
	if out.CaptureID == "" {
		out.CaptureID = uuid.New().String()
	}
	if out.ProfileID == "" {
		out.ProfileID = c.profileID
	}
	if err := c.tx.g.checkWrite(out.ProfileID); err != nil {
		return nil, err
	}
	if _, exists := c.tx.t.captures[out.CaptureID]; exists {
		return nil, fmt.Errorf("%w: capture %s", model.ErrConflict, out.CaptureID)
	}
	if (out.RawText == nil) == (len(out.Images) == 0) {
		return nil, fmt.Errorf("%w: exactly one of raw text or images required", model.ErrValidation)
	}
	now := c.tx.now()
	out.Status = model.StatusQueued
	out.CreationTime = now
	out.UpdateTime = now
	out.Images = append([]model.ImageRef(nil), out.Images...)
	c.tx.t.captures[out.CaptureID] = out
	c.tx.t.jobs[out.CaptureID] = jobRow{
		ref:           model.CaptureRef{CaptureID: out.CaptureID, ProfileID: out.ProfileID},
		nextAttemptAt: notBefore,
	}
	ret := out
	return &ret, nil
}

func (c *captures) Get(_ context.Context, captureID string) (*model.Capture, error) {
	row, ok := c.tx.t.captures[captureID]
	if !ok || !c.tx.g.visible(row.ProfileID) || row.ProfileID != c.profileID {
		return nil, model.ErrNotFound
	}
	row.Images = append([]model.ImageRef(nil), row.Images...)
	return &row, nil
}

func (c *captures) Transition(_ context.Context, captureID string, t model.Transition) error {
	row, ok := c.tx.t.captures[captureID]
	if !ok || !c.tx.g.visible(row.ProfileID) || row.ProfileID != c.profileID {
		return model.ErrNotFound
	}
	row.Status = t.Status
	row.ErrorMessage = t.ErrorMessage
	row.Result = nil
	if t.Result != nil {
		r := *t.Result
		row.Result = &r
	}
	if t.CountAttempt {
		row.AttemptCount++
	}
	now := c.tx.now()
	row.UpdateTime = now
	c.tx.t.captures[captureID] = row

	if j, ok := c.tx.t.jobs[captureID]; ok {
		switch {
		case t.Status.Terminal():
			j.done = true
		case t.Status == model.StatusQueuedForRetry:
			secs := 300
			if j.attemptCount < 8 {
				secs = min(1<<(j.attemptCount+1), 300)
			}
			j.attemptCount++
			j.done = false
			j.nextAttemptAt = now.Add(time.Duration(secs) * time.Second)
		}
		c.tx.t.jobs[captureID] = j
	}
	return nil
}

// --- Memories ---
type memories struct {
	tx        *memTx
	profileID string
}

func (m *memories) rows() []memoryRow {
	var out []memoryRow
	for _, r := range m.tx.t.memories {
		if r.deleted || !m.tx.g.visible(r.ProfileID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (m *memories) FindByHash(_ context.Context, contentHash string) (*model.Memory, error) {
	for _, r := range m.rows() {
		if r.ProfileID == m.profileID && r.ContentHash != nil && *r.ContentHash == contentHash {
			out := r.Memory
			return &out, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *memories) Insert(_ context.Context, in *model.Memory) (*model.Memory, error) {
	out := *in
	if out.MemoryID == "" {
		out.MemoryID = uuid.New().String()
	}
	if out.ProfileID == "" {
		out.ProfileID = m.profileID
	}
	if err := m.tx.g.checkWrite(out.ProfileID); err != nil {
		return nil, err
	}
	if !out.Category.Valid() {
		return nil, fmt.Errorf("%w: category %q", model.ErrValidation, out.Category)
	}
	if out.Importance < model.MinImportance || out.Importance > model.MaxImportance {
		return nil, fmt.Errorf("%w: importance %d", model.ErrValidation, out.Importance)
	}
	// Unique (profile_id, content_hash) among non-deleted rows, checked
	// across all rows like the database index.
	if out.ContentHash != nil {
		for _, r := range m.tx.t.memories {
			if !r.deleted && r.ProfileID == out.ProfileID && r.ContentHash != nil && *r.ContentHash == *out.ContentHash {
				return nil, fmt.Errorf("%w: memories_profile_hash_uq", model.ErrConflict)
			}
		}
	}
	now := m.tx.now()
	out.CreationTime = now
	out.UpdateTime = now
	m.tx.t.memories[out.MemoryID] = memoryRow{Memory: out}
	ret := out
	return &ret, nil
}

func (m *memories) Merge(_ context.Context, memoryID string, importance int, emotionalSignificance *string) error {
	r, ok := m.tx.t.memories[memoryID]
	if !ok || r.deleted || !m.tx.g.visible(r.ProfileID) || r.ProfileID != m.profileID {
		return model.ErrNotFound
	}
	if importance < model.MinImportance || importance > model.MaxImportance {
		return fmt.Errorf("%w: importance %d", model.ErrValidation, importance)
	}
	r.Importance = importance
	r.EmotionalSignificance = emotionalSignificance
	r.UpdateTime = m.tx.now()
	m.tx.t.memories[memoryID] = r
	return nil
}

func (m *memories) CountByCapture(_ context.Context, captureID string) (int, error) {
	n := 0
	for _, r := range m.rows() {
		if r.ProfileID == m.profileID && r.CaptureID != nil && *r.CaptureID == captureID {
			n++
		}
	}
	return n, nil
}

func (m *memories) List(_ context.Context, req model.ListMemoriesRequest) ([]*model.Memory, error) {
	var out []*model.Memory
	for _, r := range m.rows() {
		if r.ProfileID != m.profileID {
			continue
		}
		if req.Category != nil && r.Category != *req.Category {
			continue
		}
		mm := r.Memory
		out = append(out, &mm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreationTime.After(out[j].CreationTime)
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// SoftDeleteMemory marks a memory deleted. Deletion belongs to the
// surrounding application; tests use it to exercise the partial index.
func (s *Store) SoftDeleteMemory(scope tenant.Scope, memoryID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.memories[memoryID]
	if !ok || r.ProfileID != scope.ProfileID() {
		return model.ErrNotFound
	}
	r.deleted = true
	s.data.memories[memoryID] = r
	return nil
}

// --- Jobs ---
type jobs struct{ s *Store }

func (j *jobs) Lease(ctx context.Context, limit int, leaseFor time.Duration) ([]model.CaptureRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	now := j.s.now()
	var due []jobRow
	for _, r := range j.s.data.jobs {
		if !r.done && !r.nextAttemptAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].nextAttemptAt.Before(due[b].nextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]model.CaptureRef, 0, len(due))
	for _, r := range due {
		r.nextAttemptAt = now.Add(leaseFor)
		j.s.data.jobs[r.ref.CaptureID] = r
		out = append(out, r.ref)
	}
	return out, nil
}

func (j *jobs) Complete(_ context.Context, captureID string) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	if r, ok := j.s.data.jobs[captureID]; ok {
		r.done = true
		j.s.data.jobs[captureID] = r
	}
	return nil
}
