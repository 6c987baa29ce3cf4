package jobs

import "context"

// Job is a unit of work executed by a Runner.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

// Run implements Job for JobFunc.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Exhaustible is implemented by jobs that need to react when the runner
// gives up on them after MaxAttempts recoverable failures.
type Exhaustible interface {
	Job
	Exhausted(ctx context.Context, err error)
}
