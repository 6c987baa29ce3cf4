// Package jobs runs capture processing in the background.
//
// Runner is a sharded work queue: jobs with the same key run in FIFO order
// on one shard, jobs with different keys run in parallel, and the number of
// shards caps concurrency. Recoverable failures are retried with exponential
// backoff; irrecoverable ones are not.
//
// Callers must not invoke Submit concurrently for the same key if they rely
// on FIFO order.
package jobs

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/failure"
)

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// Runner executes Jobs on worker goroutines partitioned by a stable hash of
// the key.
type Runner struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queuedJob

	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// NewRunner constructs the runner and starts its shard workers.
func NewRunner(cfg Config) *Runner {
	cfg.applyDefaults()
	r := &Runner{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "jobs").Logger(),
		queues: make([]chan queuedJob, cfg.Workers),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		r.queues[i] = ch
		r.wg.Add(1)
		go r.runWorker(i, ch)
	}
	return r
}

// Admit consults the configured admission check for key.
func (r *Runner) Admit(ctx context.Context, key string) error {
	if r.cfg.Admission == nil {
		return nil
	}
	if err := r.cfg.Admission.Admit(ctx, key); err != nil {
		admissionDeniedTotal.Inc()
		return err
	}
	return nil
}

// Submit enqueues job on the shard derived from key.
//
//   - Returns nil on success.
//   - Returns ErrRunnerClosed if the runner is stopped.
//   - Returns ErrQueueFull (wrapped in *QueueFullError) if the shard is full
//     after EnqueueTimeout elapses.
//   - Returns ctx.Err() if ctx is cancelled first.
//
// ctx is also the context the job runs with.
func (r *Runner) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&r.closed) == 1 {
		return ErrRunnerClosed
	}
	select {
	case <-r.done:
		return ErrRunnerClosed
	default:
	}

	shard := r.shardFor(key)
	ch := r.queues[shard]

	timer := time.NewTimer(r.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-r.done:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier enqueues a no-op on the shard for key and waits until it runs,
// so every job submitted earlier for key has finished.
func (r *Runner) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := r.Submit(ctx, key, JobFunc(func(context.Context) error {
		close(done)
		return nil
	})); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop lets every worker finish its queue, waits for them and returns.
// Jobs still queued run once without retries. Stop is idempotent.
func (r *Runner) Stop() {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return
	}
	r.log.Info().Int("workers", r.cfg.Workers).Msg("stopping job runner, draining queues")
	close(r.done)
	r.wg.Wait()
	r.log.Info().Msg("job runner stopped")
}

// Close lets Runner satisfy io.Closer.
func (r *Runner) Close() error {
	r.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (r *Runner) runWorker(idx int, ch <-chan queuedJob) {
	defer r.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job == nil {
				continue
			}
			if !r.execute(label, qj) {
				r.drain(idx, label, ch)
				return
			}
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-r.done:
			r.drain(idx, label, ch)
			return
		}
	}
}

// drain runs every job left in ch once, without retries.
func (r *Runner) drain(idx int, label string, ch <-chan queuedJob) {
	drained := 0
	for {
		select {
		case qj := <-ch:
			if qj.job != nil {
				if err := r.attempt(label, qj); err != nil {
					r.safeHandleError(qj.key, err)
				}
				drained++
			}
		default:
			if drained > 0 {
				r.log.Info().Int("worker", idx).Int("jobs", drained).Msg("drained queue")
			}
			queueDepth.WithLabelValues(label).Set(0)
			return
		}
	}
}

// execute runs qj with retries. It returns false when the runner stopped
// during a backoff wait; the job then counts as exhausted.
func (r *Runner) execute(label string, qj queuedJob) bool {
	select {
	case <-qj.ctx.Done():
		outcomesTotal.WithLabelValues("canceled").Inc()
		r.safeHandleError(qj.key, qj.ctx.Err())
		return true
	default:
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = r.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempts := 1; ; attempts++ {
		err := r.attempt(label, qj)
		if err == nil {
			outcomesTotal.WithLabelValues("succeeded").Inc()
			return true
		}
		if failure.IsIrrecoverable(err) {
			outcomesTotal.WithLabelValues("irrecoverable").Inc()
			r.safeHandleError(qj.key, err)
			return true
		}
		if attempts >= r.cfg.MaxAttempts {
			outcomesTotal.WithLabelValues("exhausted").Inc()
			r.log.Warn().Err(err).Str("key", qj.key).Int("attempts", attempts).Msg("retry budget exhausted")
			r.safeHandleError(qj.key, err)
			r.exhausted(qj, err)
			return true
		}

		wait := exp.NextBackOff()
		retriesTotal.Inc()
		r.log.Debug().Err(err).Str("key", qj.key).Int("attempt", attempts).Dur("wait", wait).Msg("retrying job")
		select {
		case <-time.After(wait):
		case <-r.done:
			outcomesTotal.WithLabelValues("exhausted").Inc()
			r.safeHandleError(qj.key, err)
			r.exhausted(qj, err)
			return false
		case <-qj.ctx.Done():
			outcomesTotal.WithLabelValues("canceled").Inc()
			r.safeHandleError(qj.key, qj.ctx.Err())
			return true
		}
	}
}

// attempt runs the job once, converting a panic into an irrecoverable error
// so a bad job cannot take its shard down.
func (r *Runner) attempt(label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			r.log.Error().Str("key", qj.key).Interface("panic", p).Msg("job panicked")
			err = failure.Permanent(&PanicError{Value: p})
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (r *Runner) exhausted(qj queuedJob, err error) {
	ctx := context.WithoutCancel(qj.ctx)
	r.guard("exhausted hook", func() {
		if ex, ok := qj.job.(Exhaustible); ok {
			ex.Exhausted(ctx, err)
		}
	})
	if r.cfg.OnExhausted != nil {
		r.guard("OnExhausted", func() { r.cfg.OnExhausted(ctx, qj.key, err) })
	}
}

func (r *Runner) safeHandleError(key string, err error) {
	if err == nil || r.cfg.ErrorHandler == nil {
		return
	}
	r.guard("error handler", func() { r.cfg.ErrorHandler(key, err) })
}

// guard runs fn and recovers a panic from caller-supplied callbacks.
func (r *Runner) guard(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Msgf("%s panicked", what)
		}
	}()
	fn()
}

func (r *Runner) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(r.queues)))
}
