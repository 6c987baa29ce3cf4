// Package capture implements the capture lifecycle:
//
//	queued -> processing -> completed | failed | queued_for_retry
//	queued_for_retry -> processing (via the retry sweep)
//
// Submit records a capture and hands it to the job runner; Advance is the
// job body; Park is the runner's exhaustion callback.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/dedup"
	"github.com/Dannytownkins/Ember-sub000/internal/extraction"
	"github.com/Dannytownkins/Ember-sub000/internal/failure"
	"github.com/Dannytownkins/Ember-sub000/internal/jobs"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// MaxErrorMessage is the rune limit of a stored failure message.
const MaxErrorMessage = 500

// ErrNoMemories fails a capture whose extraction found nothing.
var ErrNoMemories = errors.New("no memories found in capture")

// Runner is the slice of jobs.Runner the service uses.
type Runner interface {
	Admit(ctx context.Context, key string) error
	Submit(ctx context.Context, key string, job jobs.Job) error
}

// Config tunes the service.
type Config struct {
	Limits Limits
	// DispatchGrace delays the first sweep delivery of a new capture so the
	// in-process job normally wins.
	DispatchGrace time.Duration
}

// Service orchestrates capture use cases.
type Service struct {
	store     store.Store
	extractor extraction.Extractor
	dedup     *dedup.Engine
	runner    Runner
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(st store.Store, ex extraction.Extractor, dd *dedup.Engine, runner Runner, cfg Config, log zerolog.Logger) *Service {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits
	}
	if cfg.DispatchGrace <= 0 {
		cfg.DispatchGrace = 5 * time.Minute
	}
	return &Service{
		store:     st,
		extractor: ex,
		dedup:     dd,
		runner:    runner,
		cfg:       cfg,
		log:       log.With().Str("component", "capture").Logger(),
		now:       time.Now,
	}
}

// Submit validates and records a capture, then enqueues its processing.
// It returns as soon as the capture is persisted.
func (s *Service) Submit(ctx context.Context, scope tenant.Scope, in Input) (*model.Capture, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := s.cfg.Limits.Validate(in); err != nil {
		return nil, err
	}
	if err := s.runner.Admit(ctx, scope.ProfileID()); err != nil {
		return nil, err
	}

	c := &model.Capture{InputMethod: in.InputMethod}
	if text := strings.TrimSpace(in.Text); text != "" {
		c.RawText = &text
	} else {
		c.Images = in.Images
	}

	var created *model.Capture
	err := s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.Captures().Create(ctx, c, s.now().Add(s.cfg.DispatchGrace))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	submittedTotal.WithLabelValues(string(in.InputMethod)).Inc()

	ref := model.CaptureRef{CaptureID: created.CaptureID, ProfileID: created.ProfileID}
	// The job outlives the request that submitted it.
	if err := s.Dispatch(context.WithoutCancel(ctx), ref); err != nil {
		s.log.Warn().Err(err).Str("capture_id", ref.CaptureID).Msg("enqueue failed, leaving capture to the sweep")
	}
	return created, nil
}

// Dispatch enqueues processing of ref on the runner, keyed by capture id
// so duplicate deliveries of one capture run one after another.
func (s *Service) Dispatch(ctx context.Context, ref model.CaptureRef) error {
	return s.runner.Submit(ctx, ref.CaptureID, &advanceJob{svc: s, ref: ref})
}

// Advance processes one capture. It is safe to call repeatedly: a capture
// already in a terminal state is left alone.
//
// Recoverable failures are returned unchanged for the runner to retry.
// Irrecoverable ones mark the capture failed and come back classified as
// irrecoverable.
func (s *Service) Advance(ctx context.Context, ref model.CaptureRef) error {
	log := s.log.With().Str("capture_id", ref.CaptureID).Str("profile_id", ref.ProfileID).Logger()

	scope, err := tenant.NewScope(ref.ProfileID)
	if err != nil {
		s.completeDispatch(ctx, ref)
		return failure.Permanent(err)
	}

	var payload extraction.Payload
	var skip bool
	err = s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.Captures().Get(ctx, ref.CaptureID)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			skip = true
			return nil
		}
		if c.RawText != nil {
			payload.Text = *c.RawText
		}
		payload.Images = c.Images
		return tx.Captures().Transition(ctx, ref.CaptureID, model.Transition{Status: model.StatusProcessing, CountAttempt: true})
	})
	switch {
	case errors.Is(err, model.ErrNotFound):
		log.Warn().Msg("capture not found, dropping job")
		s.completeDispatch(ctx, ref)
		return failure.Permanent(fmt.Errorf("capture %s: %w", ref.CaptureID, err))
	case err != nil:
		return fmt.Errorf("start processing: %w", err)
	case skip:
		log.Debug().Msg("capture already terminal, skipping")
		s.completeDispatch(ctx, ref)
		return nil
	}

	candidates, err := s.extractor.Extract(ctx, payload)
	if err != nil {
		if failure.IsIrrecoverable(err) {
			return s.fail(ctx, scope, ref, err)
		}
		log.Warn().Err(err).Msg("extraction failed, will retry")
		return err
	}
	if len(candidates) == 0 {
		return s.fail(ctx, scope, ref, ErrNoMemories)
	}

	var tally dedup.Tally
	for i, cand := range candidates {
		var res dedup.Result
		// One unit of work per candidate.
		err := s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = s.dedup.Save(ctx, tx.Memories(), ref.CaptureID, cand)
			return err
		})
		if errors.Is(err, model.ErrTenantViolation) {
			log.Error().Err(err).Int("candidate", i).Msg("tenant violation while saving memory")
			return s.fail(ctx, scope, ref, err)
		}
		if err != nil {
			return fmt.Errorf("save candidate %d: %w", i, err)
		}
		tally.Add(res.Outcome)
		memoriesTotal.WithLabelValues(res.Outcome.String()).Inc()
	}

	summary := tally.Summary()
	err = s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		return tx.Captures().Transition(ctx, ref.CaptureID, model.Transition{Status: model.StatusCompleted, Result: &summary})
	})
	if err != nil {
		return fmt.Errorf("complete capture: %w", err)
	}
	finishedTotal.WithLabelValues(string(model.StatusCompleted)).Inc()
	log.Info().
		Int("saved", summary.Saved).
		Int("skipped_duplicates", summary.SkippedDuplicates).
		Int("merged", summary.Merged).
		Msg("capture processed")
	return nil
}

// Park moves a capture whose retry budget ran out to queued_for_retry and
// reschedules its dispatch row with backoff. Terminal captures are left alone.
func (s *Service) Park(ctx context.Context, ref model.CaptureRef, cause error) error {
	scope, err := tenant.NewScope(ref.ProfileID)
	if err != nil {
		return err
	}
	msg := truncateMessage(cause)
	err = s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.Captures().Get(ctx, ref.CaptureID)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			return nil
		}
		return tx.Captures().Transition(ctx, ref.CaptureID, model.Transition{Status: model.StatusQueuedForRetry, ErrorMessage: msg})
	})
	if err != nil {
		return fmt.Errorf("park capture: %w", err)
	}
	finishedTotal.WithLabelValues(string(model.StatusQueuedForRetry)).Inc()
	s.log.Warn().Err(cause).Str("capture_id", ref.CaptureID).Msg("capture parked for retry")
	return nil
}

// Status returns the polling view of a capture owned by scope. memoryCount
// is only filled in once the capture completed.
func (s *Service) Status(ctx context.Context, scope tenant.Scope, captureID string) (*model.CaptureStatusView, error) {
	var view *model.CaptureStatusView
	err := s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.Captures().Get(ctx, captureID)
		if err != nil {
			return err
		}
		view = &model.CaptureStatusView{
			CaptureID:    c.CaptureID,
			Status:       c.Status,
			ErrorMessage: c.ErrorMessage,
			Result:       c.Result,
			CreationTime: c.CreationTime,
		}
		if c.Status == model.StatusCompleted {
			n, err := tx.Memories().CountByCapture(ctx, c.CaptureID)
			if err != nil {
				return err
			}
			view.MemoryCount = &n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// fail records cause on the capture and returns it classified as
// irrecoverable so the runner does not retry.
func (s *Service) fail(ctx context.Context, scope tenant.Scope, ref model.CaptureRef, cause error) error {
	err := s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		return tx.Captures().Transition(ctx, ref.CaptureID, model.Transition{Status: model.StatusFailed, ErrorMessage: truncateMessage(cause)})
	})
	if err != nil {
		// The capture stays in processing; a transient error lets the runner
		// or the sweep try again.
		return fmt.Errorf("mark capture failed (%v): %w", cause, err)
	}
	finishedTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	s.log.Warn().Err(cause).Str("capture_id", ref.CaptureID).Msg("capture failed")
	return failure.Permanent(cause)
}

func (s *Service) completeDispatch(ctx context.Context, ref model.CaptureRef) {
	if err := s.store.Jobs().Complete(ctx, ref.CaptureID); err != nil {
		s.log.Error().Err(err).Str("capture_id", ref.CaptureID).Msg("complete dispatch row")
	}
}

func truncateMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var classified *failure.ClassifiedError
	if errors.As(err, &classified) && classified.Underlying != nil {
		msg = classified.Underlying.Error()
	}
	if utf8.RuneCountInString(msg) > MaxErrorMessage {
		msg = string([]rune(msg)[:MaxErrorMessage])
	}
	return &msg
}
