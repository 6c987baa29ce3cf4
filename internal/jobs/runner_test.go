package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dannytownkins/Ember-sub000/internal/failure"
)

func fastConfig() Config {
	return Config{Workers: 1, QueueSize: 8, MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestRunner_RetriesRecoverableErrors(t *testing.T) {
	r := NewRunner(fastConfig())
	defer r.Stop()

	var attempts int32
	done := make(chan struct{})
	job := JobFunc(func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return failure.Transient(errors.New("llm unavailable"))
		}
		close(done)
		return nil
	})
	if err := r.Submit(context.Background(), "k1", job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, done, "third attempt")
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRunner_IrrecoverableNotRetried(t *testing.T) {
	cfg := fastConfig()
	var handled int32
	cfg.ErrorHandler = func(key string, err error) { atomic.AddInt32(&handled, 1) }
	cfg.OnExhausted = func(context.Context, string, error) { t.Error("OnExhausted must not fire for irrecoverable errors") }
	r := NewRunner(cfg)
	defer r.Stop()

	var attempts int32
	if err := r.Submit(context.Background(), "k", JobFunc(func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return failure.Permanent(errors.New("schema mismatch"))
	})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.Barrier(context.Background(), "k"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&handled); got != 1 {
		t.Fatalf("error handler calls = %d, want 1", got)
	}
}

type exhaustibleJob struct {
	attempts  int32
	exhausted chan error
}

func (j *exhaustibleJob) Run(context.Context) error {
	atomic.AddInt32(&j.attempts, 1)
	return errors.New("timeout")
}

func (j *exhaustibleJob) Exhausted(ctx context.Context, err error) { j.exhausted <- err }

func TestRunner_ExhaustionCallsHooks(t *testing.T) {
	cfg := fastConfig()
	var mu sync.Mutex
	var exhaustedKeys []string
	cfg.OnExhausted = func(_ context.Context, key string, _ error) {
		mu.Lock()
		exhaustedKeys = append(exhaustedKeys, key)
		mu.Unlock()
	}
	r := NewRunner(cfg)
	defer r.Stop()

	job := &exhaustibleJob{exhausted: make(chan error, 1)}
	if err := r.Submit(context.Background(), "cap-1", job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-job.exhausted:
		if err == nil || err.Error() != "timeout" {
			t.Fatalf("exhausted with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exhausted hook not called")
	}
	if err := r.Barrier(context.Background(), "cap-1"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if got := atomic.LoadInt32(&job.attempts); got != 3 {
		t.Fatalf("attempts = %d, want MaxAttempts=3", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(exhaustedKeys) != 1 || exhaustedKeys[0] != "cap-1" {
		t.Fatalf("OnExhausted keys = %v", exhaustedKeys)
	}
}

func TestRunner_ExhaustedContextSurvivesCancel(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	r := NewRunner(cfg)
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	job := &ctxExhaustJob{cancel: cancel, got: got}
	if err := r.Submit(ctx, "k", job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("exhausted ctx already done: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exhausted hook not called")
	}
}

type ctxExhaustJob struct {
	cancel context.CancelFunc
	got    chan error
}

func (j *ctxExhaustJob) Run(context.Context) error {
	j.cancel()
	return errors.New("transient")
}

func (j *ctxExhaustJob) Exhausted(ctx context.Context, _ error) { j.got <- ctx.Err() }

func TestRunner_FIFOPerKey(t *testing.T) {
	r := NewRunner(Config{Workers: 4, QueueSize: 64})
	defer r.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := r.Submit(context.Background(), "same", JobFunc(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := r.Barrier(context.Background(), "same"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestRunner_ConcurrencyBoundedByWorkers(t *testing.T) {
	r := NewRunner(Config{Workers: 2, QueueSize: 16})
	defer r.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		if err := r.Submit(context.Background(), key, JobFunc(func(context.Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("peak concurrency %d exceeds workers", p)
	}
}

func TestRunner_PanicIsIrrecoverableAndWorkerSurvives(t *testing.T) {
	cfg := fastConfig()
	errs := make(chan error, 1)
	cfg.ErrorHandler = func(_ string, err error) { errs <- err }
	r := NewRunner(cfg)
	defer r.Stop()

	if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { panic("job panic") })); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-errs:
		var pe *PanicError
		if !errors.As(err, &pe) || !failure.IsIrrecoverable(err) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}

	ran := make(chan struct{})
	if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { close(ran); return nil })); err != nil {
		t.Fatalf("submit follow-up: %v", err)
	}
	waitFor(t, ran, "job after panic")
}

func TestRunner_ErrorHandlerPanicRecovered(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.ErrorHandler = func(string, error) { panic("handler panic") }
	r := NewRunner(cfg)
	defer r.Stop()

	_ = r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return errors.New("boom") }))
	ran := make(chan struct{})
	if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { close(ran); return nil })); err != nil {
		t.Fatalf("submit follow-up: %v", err)
	}
	waitFor(t, ran, "job after handler panic")
}

func TestRunner_QueueFull(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	defer r.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	_ = r.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	_ = r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))

	err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	var qf *QueueFullError
	if !errors.As(err, &qf) || qf.Capacity != 1 {
		t.Fatalf("expected *QueueFullError with capacity 1, got %v", err)
	}
	close(block)
}

func TestRunner_SkipsCanceledJob(t *testing.T) {
	cfg := fastConfig()
	var handled int32
	cfg.ErrorHandler = func(_ string, err error) {
		if errors.Is(err, context.Canceled) {
			atomic.AddInt32(&handled, 1)
		}
	}
	r := NewRunner(cfg)
	defer r.Stop()

	unblock := make(chan struct{})
	started := make(chan struct{})
	_ = r.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		close(started)
		<-unblock
		return nil
	}))
	<-started

	var ran int32
	jobCtx, cancel := context.WithCancel(context.Background())
	if err := r.Submit(jobCtx, "k", JobFunc(func(context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	close(unblock)

	if err := r.Barrier(context.Background(), "k"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("canceled job ran")
	}
	if atomic.LoadInt32(&handled) != 1 {
		t.Fatalf("error handler saw %d cancellations, want 1", handled)
	}
}

func TestRunner_StopDrainsAndRejects(t *testing.T) {
	r := NewRunner(Config{Workers: 1, QueueSize: 8})

	block := make(chan struct{})
	started := make(chan struct{})
	_ = r.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	var drained int32
	for i := 0; i < 3; i++ {
		if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
			atomic.AddInt32(&drained, 1)
			return nil
		})); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	close(block)
	waitFor(t, stopped, "Stop")

	if got := atomic.LoadInt32(&drained); got != 3 {
		t.Fatalf("drained %d jobs, want 3", got)
	}
	if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil })); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
	r.Stop() // idempotent
}

func TestRunner_Admit(t *testing.T) {
	r := NewRunner(Config{Workers: 1, Admission: NewWindowLimiter(1, time.Hour)})
	defer r.Stop()
	if err := r.Admit(context.Background(), "p"); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := r.Admit(context.Background(), "p"); err == nil {
		t.Fatal("second admit should be denied")
	}

	open := NewRunner(Config{Workers: 1})
	defer open.Stop()
	if err := open.Admit(context.Background(), "p"); err != nil {
		t.Fatalf("nil admission should admit: %v", err)
	}
}

func TestRunner_StopDuringBackoffStillDrains(t *testing.T) {
	cfg := Config{Workers: 1, QueueSize: 8, MaxAttempts: 5, BaseBackoff: time.Hour, MaxInterval: time.Hour}
	exhaustedCh := make(chan string, 1)
	cfg.OnExhausted = func(_ context.Context, key string, _ error) { exhaustedCh <- key }
	r := NewRunner(cfg)

	failed := make(chan struct{})
	var once sync.Once
	if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		once.Do(func() { close(failed) })
		return errors.New("timeout")
	})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, failed, "first attempt")

	var drained int32
	for i := 0; i < 2; i++ {
		if err := r.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
			atomic.AddInt32(&drained, 1)
			return nil
		})); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	waitFor(t, stopped, "Stop")

	if got := atomic.LoadInt32(&drained); got != 2 {
		t.Fatalf("drained %d jobs, want 2", got)
	}
	select {
	case key := <-exhaustedCh:
		if key != "k" {
			t.Fatalf("exhausted key = %q", key)
		}
	default:
		t.Fatal("job interrupted in backoff was not reported exhausted")
	}
}
