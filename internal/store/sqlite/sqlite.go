// Package sqlite is the single-file store behind the local build target.
//
// It mirrors the Postgres store: repositories filter by profile, and the
// database itself only exposes the bound profile through the scoped views
// and refuses foreign writes through triggers (see schema.sql).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

//go:embed schema.sql
var schemaSQL string

// Open opens (or creates) the database file at path. Every transaction
// takes the write lock up front so scope bindings never interleave.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema. It is safe to call repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Option configures a Store.
type Option func(*sqliteStore)

// WithClock overrides the time source used for timestamps and job scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *sqliteStore) { s.now = now }
}

// NewWithDB wires a store onto an opened and migrated database.
func NewWithDB(db *sql.DB, opts ...Option) store.Store {
	s := &sqliteStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Jobs() store.Jobs { return &jobs{db: s.db, now: s.now} }

func (s *sqliteStore) InScope(ctx context.Context, scope tenant.Scope, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_scope`); err != nil {
		return fmt.Errorf("reset tenant scope: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO active_scope (profile_id) VALUES (?)`, scope.ProfileID()); err != nil {
		return fmt.Errorf("bind tenant scope: %w", err)
	}

	if err := fn(ctx, &sqliteTx{tx: tx, scope: scope, now: s.now}); err != nil {
		return err
	}
	// The binding never outlives the transaction that set it.
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_scope`); err != nil {
		return fmt.Errorf("release tenant scope: %w", err)
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx    *sql.Tx
	scope tenant.Scope
	now   func() time.Time
}

func (t *sqliteTx) Scope() tenant.Scope { return t.scope }
func (t *sqliteTx) Captures() store.Captures {
	return &captures{tx: t.tx, profileID: t.scope.ProfileID(), now: t.now}
}
func (t *sqliteTx) Memories() store.Memories {
	return &memories{tx: t.tx, profileID: t.scope.ProfileID(), now: t.now}
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// --- Captures ---
type captures struct {
	tx        *sql.Tx
	profileID string
	now       func() time.Time
}

func (c *captures) Create(ctx context.Context, in *model.Capture, notBefore time.Time) (*model.Capture, error) {
	id := in.CaptureID
	if id == "" {
		id = uuid.New().String()
	}
	var images interface{}
	if len(in.Images) > 0 {
		b, err := json.Marshal(in.Images)
		if err != nil {
			return nil, err
		}
		images = string(b)
	}
	now := c.now()
	if _, err := c.tx.ExecContext(ctx, `
        INSERT INTO captures (capture_id, profile_id, input_method, status, raw_text, image_refs, creation_time, update_time)
        VALUES (?,?,?,'queued',?,?,?,?)
    `, id, c.profileID, string(in.InputMethod), in.RawText, images, nanos(now), nanos(now)); err != nil {
		return nil, mapError(err)
	}
	if _, err := c.tx.ExecContext(ctx, `
        INSERT INTO capture_jobs (capture_id, profile_id, next_attempt_at, creation_time, update_time)
        VALUES (?,?,?,?,?)
    `, id, c.profileID, nanos(notBefore), nanos(now), nanos(now)); err != nil {
		return nil, mapError(err)
	}
	out := *in
	out.CaptureID = id
	out.ProfileID = c.profileID
	out.Status = model.StatusQueued
	out.CreationTime = fromNanos(nanos(now))
	out.UpdateTime = out.CreationTime
	return &out, nil
}

func (c *captures) Get(ctx context.Context, captureID string) (*model.Capture, error) {
	var out model.Capture
	var method, status string
	var images sql.NullString
	var saved, skipped, merged sql.NullInt64
	var created, updated int64
	row := c.tx.QueryRowContext(ctx, `
        SELECT capture_id, profile_id, input_method, status, raw_text, image_refs, error_message,
               saved_count, skipped_count, merged_count, attempt_count, creation_time, update_time
        FROM scoped_captures WHERE profile_id=? AND capture_id=? AND deleted_at IS NULL
    `, c.profileID, captureID)
	if err := row.Scan(&out.CaptureID, &out.ProfileID, &method, &status, &out.RawText, &images, &out.ErrorMessage,
		&saved, &skipped, &merged, &out.AttemptCount, &created, &updated); err != nil {
		return nil, mapError(err)
	}
	out.InputMethod = model.InputMethod(method)
	out.Status = model.CaptureStatus(status)
	out.CreationTime = fromNanos(created)
	out.UpdateTime = fromNanos(updated)
	if images.Valid && images.String != "" {
		if err := json.Unmarshal([]byte(images.String), &out.Images); err != nil {
			return nil, fmt.Errorf("decode image refs: %w", err)
		}
	}
	if saved.Valid {
		out.Result = &model.ResultSummary{
			Saved:             int(saved.Int64),
			SkippedDuplicates: int(skipped.Int64),
			Merged:            int(merged.Int64),
		}
	}
	return &out, nil
}

const (
	completeJobSQL = `UPDATE capture_jobs SET status='done', update_time=? WHERE capture_id=?`

	// Exponential backoff: 2^(attempt+1) seconds, capped at 5 minutes.
	rescheduleJobSQL = `
UPDATE capture_jobs
SET attempt_count = attempt_count + 1,
    next_attempt_at = ? + (CASE WHEN attempt_count >= 8 THEN 300 ELSE MIN(1 << (attempt_count + 1), 300) END) * 1000000000,
    status = 'pending',
    update_time = ?
WHERE capture_id=?`
)

func (c *captures) Transition(ctx context.Context, captureID string, t model.Transition) error {
	var saved, skipped, merged interface{}
	if t.Result != nil {
		saved, skipped, merged = t.Result.Saved, t.Result.SkippedDuplicates, t.Result.Merged
	}
	attempt := 0
	if t.CountAttempt {
		attempt = 1
	}
	now := nanos(c.now())
	res, err := c.tx.ExecContext(ctx, `
        UPDATE captures
        SET status=?, error_message=?, saved_count=?, skipped_count=?, merged_count=?,
            attempt_count = attempt_count + ?, update_time=?
        WHERE profile_id=? AND capture_id=? AND deleted_at IS NULL
          AND capture_id IN (SELECT capture_id FROM scoped_captures)
    `, string(t.Status), t.ErrorMessage, saved, skipped, merged, attempt, now, c.profileID, captureID)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}

	switch {
	case t.Status.Terminal():
		_, err = c.tx.ExecContext(ctx, completeJobSQL, now, captureID)
	case t.Status == model.StatusQueuedForRetry:
		_, err = c.tx.ExecContext(ctx, rescheduleJobSQL, now, now, captureID)
	}
	return mapError(err)
}

// --- Memories ---
type memories struct {
	tx        *sql.Tx
	profileID string
	now       func() time.Time
}

const memoryColumns = `memory_id, profile_id, capture_id, category, factual_content, emotional_significance,
       verbatim_text, summary, prefer_verbatim, importance, verbatim_tokens, summary_tokens,
       content_hash, speaker_confidence, creation_time, update_time`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(r rowScanner) (*model.Memory, error) {
	var m model.Memory
	var category string
	var confidence sql.NullFloat64
	var created, updated int64
	if err := r.Scan(&m.MemoryID, &m.ProfileID, &m.CaptureID, &category, &m.FactualContent, &m.EmotionalSignificance,
		&m.VerbatimText, &m.Summary, &m.PreferVerbatim, &m.Importance, &m.VerbatimTokens, &m.SummaryTokens,
		&m.ContentHash, &confidence, &created, &updated); err != nil {
		return nil, err
	}
	m.Category = model.Category(category)
	if confidence.Valid {
		v := confidence.Float64
		m.SpeakerConfidence = &v
	}
	m.CreationTime = fromNanos(created)
	m.UpdateTime = fromNanos(updated)
	return &m, nil
}

func (m *memories) FindByHash(ctx context.Context, contentHash string) (*model.Memory, error) {
	row := m.tx.QueryRowContext(ctx, `
        SELECT `+memoryColumns+`
        FROM scoped_memories WHERE profile_id=? AND content_hash=? AND deleted_at IS NULL
    `, m.profileID, contentHash)
	out, err := scanMemory(row)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (m *memories) Insert(ctx context.Context, in *model.Memory) (*model.Memory, error) {
	id := in.MemoryID
	if id == "" {
		id = uuid.New().String()
	}
	// A mismatched ProfileID is written as given and stopped by the trigger.
	profileID := in.ProfileID
	if profileID == "" {
		profileID = m.profileID
	}
	now := m.now()
	res, err := m.tx.ExecContext(ctx, `
        INSERT INTO memories (memory_id, profile_id, capture_id, category, factual_content, emotional_significance,
                              verbatim_text, summary, prefer_verbatim, importance, verbatim_tokens, summary_tokens,
                              content_hash, speaker_confidence, creation_time, update_time)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT (profile_id, content_hash) WHERE deleted_at IS NULL AND content_hash IS NOT NULL DO NOTHING
    `, id, profileID, in.CaptureID, string(in.Category), in.FactualContent, in.EmotionalSignificance,
		in.VerbatimText, in.Summary, in.PreferVerbatim, in.Importance, in.VerbatimTokens, in.SummaryTokens,
		in.ContentHash, in.SpeakerConfidence, nanos(now), nanos(now))
	if err != nil {
		return nil, mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: memories_profile_hash_uq", model.ErrConflict)
	}
	out := *in
	out.MemoryID = id
	out.ProfileID = profileID
	out.CreationTime = fromNanos(nanos(now))
	out.UpdateTime = out.CreationTime
	return &out, nil
}

func (m *memories) Merge(ctx context.Context, memoryID string, importance int, emotionalSignificance *string) error {
	res, err := m.tx.ExecContext(ctx, `
        UPDATE memories SET importance=?, emotional_significance=?, update_time=?
        WHERE profile_id=? AND memory_id=? AND deleted_at IS NULL
          AND memory_id IN (SELECT memory_id FROM scoped_memories)
    `, importance, emotionalSignificance, nanos(m.now()), m.profileID, memoryID)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (m *memories) CountByCapture(ctx context.Context, captureID string) (int, error) {
	var n int
	err := m.tx.QueryRowContext(ctx, `
        SELECT count(*) FROM scoped_memories WHERE profile_id=? AND capture_id=? AND deleted_at IS NULL
    `, m.profileID, captureID).Scan(&n)
	return n, mapError(err)
}

func (m *memories) List(ctx context.Context, req model.ListMemoriesRequest) ([]*model.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM scoped_memories WHERE profile_id=? AND deleted_at IS NULL`
	args := []interface{}{m.profileID}
	if req.Category != nil {
		query += " AND category=?"
		args = append(args, string(*req.Category))
	}
	query += " ORDER BY importance DESC, creation_time DESC"
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	rows, err := m.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Memory
	for rows.Next() {
		mm, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, rows.Err()
}

// --- Jobs ---
type jobs struct {
	db  *sql.DB
	now func() time.Time
}

const leaseDueJobsSQL = `
UPDATE capture_jobs
SET next_attempt_at = ?, update_time = ?
WHERE id IN (
    SELECT id FROM capture_jobs
    WHERE status = 'pending' AND next_attempt_at <= ?
    ORDER BY next_attempt_at ASC
    LIMIT ?
)
RETURNING capture_id, profile_id`

func (j *jobs) Lease(ctx context.Context, limit int, leaseFor time.Duration) ([]model.CaptureRef, error) {
	now := j.now()
	rows, err := j.db.QueryContext(ctx, leaseDueJobsSQL, nanos(now.Add(leaseFor)), nanos(now), nanos(now), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.CaptureRef
	for rows.Next() {
		var ref model.CaptureRef
		if err := rows.Scan(&ref.CaptureID, &ref.ProfileID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (j *jobs) Complete(ctx context.Context, captureID string) error {
	_, err := j.db.ExecContext(ctx, completeJobSQL, nanos(j.now()), captureID)
	return err
}

// mapError translates driver errors into model sentinels. The driver only
// exposes constraint failures through their message text.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "tenant violation"):
		return fmt.Errorf("%w: %s", model.ErrTenantViolation, msg)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", model.ErrConflict, msg)
	}
	return err
}
