package capture

import (
	"context"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

// advanceJob runs Advance for one capture and parks it when the runner
// exhausts its retries.
type advanceJob struct {
	svc *Service
	ref model.CaptureRef
}

func (j *advanceJob) Run(ctx context.Context) error { return j.svc.Advance(ctx, j.ref) }

func (j *advanceJob) Exhausted(ctx context.Context, err error) {
	if perr := j.svc.Park(ctx, j.ref, err); perr != nil {
		j.svc.log.Error().Err(perr).Str("capture_id", j.ref.CaptureID).Msg("park after exhausted retries")
	}
}
