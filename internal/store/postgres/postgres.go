package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

//go:embed schema.sql
var schemaSQL string

// profileSetting is the transaction-local setting the RLS policies read.
const profileSetting = "app.profile_id"

const (
	sqlstateUniqueViolation       = "23505"
	sqlstateInsufficientPrivilege = "42501"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
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
	// No arguments: pgx sends this over the simple protocol, which accepts
	// multiple statements and the DO block.
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Options tune the Postgres store.
type Options struct {
	// AppRole is assumed with SET LOCAL ROLE inside every scoped
	// transaction so row-level security applies even when the pool
	// connects as the table owner. Empty disables the switch.
	AppRole string
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB, opts Options) store.Store { return &pgStore{db: db, opts: opts} }

type pgStore struct {
	db   *sql.DB
	opts Options
}

// HealthPing implements health.HealthPinger for Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *pgStore) Jobs() store.Jobs { return &jobs{db: s.db} }

func (s *pgStore) InScope(ctx context.Context, scope tenant.Scope, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	// Rollback after Commit is a no-op; SET LOCAL and set_config(..., true)
	// both end with the transaction, so the pooled connection is clean.
	defer func() { _ = tx.Rollback() }()

	if s.opts.AppRole != "" {
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+pgx.Identifier{s.opts.AppRole}.Sanitize()); err != nil {
			return fmt.Errorf("assume app role: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, profileSetting, scope.ProfileID()); err != nil {
		return fmt.Errorf("bind tenant scope: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx, scope: scope}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx    *sql.Tx
	scope tenant.Scope
}

func (t *pgTx) Scope() tenant.Scope      { return t.scope }
func (t *pgTx) Captures() store.Captures { return &captures{tx: t.tx, profileID: t.scope.ProfileID()} }
func (t *pgTx) Memories() store.Memories { return &memories{tx: t.tx, profileID: t.scope.ProfileID()} }

// --- Captures ---
type captures struct {
	tx        *sql.Tx
	profileID string
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
		images = b
	}
	var created time.Time
	row := c.tx.QueryRowContext(ctx, `
        INSERT INTO captures (capture_id, profile_id, input_method, status, raw_text, image_refs)
        VALUES ($1,$2,$3,'queued',$4,$5)
        RETURNING creation_time
    `, id, c.profileID, string(in.InputMethod), in.RawText, images)
	if err := row.Scan(&created); err != nil {
		return nil, mapError(err)
	}
	if _, err := c.tx.ExecContext(ctx, `
        INSERT INTO capture_jobs (capture_id, profile_id, next_attempt_at)
        VALUES ($1,$2,$3)
    `, id, c.profileID, notBefore); err != nil {
		return nil, mapError(err)
	}
	out := *in
	out.CaptureID = id
	out.ProfileID = c.profileID
	out.Status = model.StatusQueued
	out.CreationTime = created
	out.UpdateTime = created
	return &out, nil
}

func (c *captures) Get(ctx context.Context, captureID string) (*model.Capture, error) {
	var out model.Capture
	var method, status string
	var images []byte
	var saved, skipped, merged sql.NullInt64
	row := c.tx.QueryRowContext(ctx, `
        SELECT capture_id, profile_id, input_method, status, raw_text, image_refs, error_message,
               saved_count, skipped_count, merged_count, attempt_count, creation_time, update_time
        FROM captures WHERE profile_id=$1 AND capture_id=$2 AND deleted_at IS NULL
    `, c.profileID, captureID)
	if err := row.Scan(&out.CaptureID, &out.ProfileID, &method, &status, &out.RawText, &images, &out.ErrorMessage,
		&saved, &skipped, &merged, &out.AttemptCount, &out.CreationTime, &out.UpdateTime); err != nil {
		return nil, mapError(err)
	}
	out.InputMethod = model.InputMethod(method)
	out.Status = model.CaptureStatus(status)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &out.Images); err != nil {
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
	completeJobSQL = `UPDATE capture_jobs SET status='done', update_time=now() WHERE capture_id=$1`

	// Exponential backoff: 2^(attempt+1) seconds, capped at 5 minutes.
	rescheduleJobSQL = `
UPDATE capture_jobs
SET attempt_count = attempt_count + 1,
    next_attempt_at = now() + make_interval(secs => LEAST(POWER(2, attempt_count+1), 300)),
    status = 'pending',
    update_time = now()
WHERE capture_id=$1`
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
	res, err := c.tx.ExecContext(ctx, `
        UPDATE captures
        SET status=$3, error_message=$4, saved_count=$5, skipped_count=$6, merged_count=$7,
            attempt_count = attempt_count + $8, update_time=now()
        WHERE profile_id=$1 AND capture_id=$2 AND deleted_at IS NULL
    `, c.profileID, captureID, string(t.Status), t.ErrorMessage, saved, skipped, merged, attempt)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}

	switch {
	case t.Status.Terminal():
		_, err = c.tx.ExecContext(ctx, completeJobSQL, captureID)
	case t.Status == model.StatusQueuedForRetry:
		_, err = c.tx.ExecContext(ctx, rescheduleJobSQL, captureID)
	}
	return mapError(err)
}

// --- Memories ---
type memories struct {
	tx        *sql.Tx
	profileID string
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
	if err := r.Scan(&m.MemoryID, &m.ProfileID, &m.CaptureID, &category, &m.FactualContent, &m.EmotionalSignificance,
		&m.VerbatimText, &m.Summary, &m.PreferVerbatim, &m.Importance, &m.VerbatimTokens, &m.SummaryTokens,
		&m.ContentHash, &confidence, &m.CreationTime, &m.UpdateTime); err != nil {
		return nil, err
	}
	m.Category = model.Category(category)
	if confidence.Valid {
		v := confidence.Float64
		m.SpeakerConfidence = &v
	}
	return &m, nil
}

func (m *memories) FindByHash(ctx context.Context, contentHash string) (*model.Memory, error) {
	row := m.tx.QueryRowContext(ctx, `
        SELECT `+memoryColumns+`
        FROM memories WHERE profile_id=$1 AND content_hash=$2 AND deleted_at IS NULL
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
	// The caller's ProfileID is written as given so a mismatch reaches the
	// RLS check instead of being silently rewritten.
	profileID := in.ProfileID
	if profileID == "" {
		profileID = m.profileID
	}
	var created time.Time
	row := m.tx.QueryRowContext(ctx, `
        INSERT INTO memories (memory_id, profile_id, capture_id, category, factual_content, emotional_significance,
                              verbatim_text, summary, prefer_verbatim, importance, verbatim_tokens, summary_tokens,
                              content_hash, speaker_confidence)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (profile_id, content_hash) WHERE deleted_at IS NULL AND content_hash IS NOT NULL DO NOTHING
        RETURNING creation_time
    `, id, profileID, in.CaptureID, string(in.Category), in.FactualContent, in.EmotionalSignificance,
		in.VerbatimText, in.Summary, in.PreferVerbatim, in.Importance, in.VerbatimTokens, in.SummaryTokens,
		in.ContentHash, in.SpeakerConfidence)
	// A hash collision inserts nothing and leaves the transaction committable.
	if err := row.Scan(&created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: memories_profile_hash_uq", model.ErrConflict)
		}
		return nil, mapError(err)
	}
	out := *in
	out.MemoryID = id
	out.ProfileID = profileID
	out.CreationTime = created
	out.UpdateTime = created
	return &out, nil
}

func (m *memories) Merge(ctx context.Context, memoryID string, importance int, emotionalSignificance *string) error {
	res, err := m.tx.ExecContext(ctx, `
        UPDATE memories SET importance=$3, emotional_significance=$4, update_time=now()
        WHERE profile_id=$1 AND memory_id=$2 AND deleted_at IS NULL
    `, m.profileID, memoryID, importance, emotionalSignificance)
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
        SELECT count(*) FROM memories WHERE profile_id=$1 AND capture_id=$2 AND deleted_at IS NULL
    `, m.profileID, captureID).Scan(&n)
	return n, mapError(err)
}

func (m *memories) List(ctx context.Context, req model.ListMemoriesRequest) ([]*model.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE profile_id=$1 AND deleted_at IS NULL`
	args := []interface{}{m.profileID}
	if req.Category != nil {
		query += " AND category=$2"
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
type jobs struct{ db *sql.DB }

const leaseDueJobsSQL = `
UPDATE capture_jobs
SET next_attempt_at = now() + make_interval(secs => $2), update_time = now()
WHERE id IN (
    SELECT id FROM capture_jobs
    WHERE status = 'pending' AND next_attempt_at <= now()
    ORDER BY next_attempt_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $1
)
RETURNING capture_id, profile_id`

func (j *jobs) Lease(ctx context.Context, limit int, leaseFor time.Duration) ([]model.CaptureRef, error) {
	rows, err := j.db.QueryContext(ctx, leaseDueJobsSQL, limit, leaseFor.Seconds())
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
	_, err := j.db.ExecContext(ctx, completeJobSQL, captureID)
	return err
}

// mapError translates driver errors into model sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateUniqueViolation:
			return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.ConstraintName)
		case sqlstateInsufficientPrivilege:
			return fmt.Errorf("%w: %s", model.ErrTenantViolation, pgErr.Message)
		}
	}
	return err
}
