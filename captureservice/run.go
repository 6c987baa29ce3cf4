// Package captureservice assembles and runs the capture HTTP service.
package captureservice

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/api"
	"github.com/Dannytownkins/Ember-sub000/internal/capture"
	"github.com/Dannytownkins/Ember-sub000/internal/config"
	"github.com/Dannytownkins/Ember-sub000/internal/dedup"
	"github.com/Dannytownkins/Ember-sub000/internal/extraction"
	"github.com/Dannytownkins/Ember-sub000/internal/factory"
	"github.com/Dannytownkins/Ember-sub000/internal/health"
	"github.com/Dannytownkins/Ember-sub000/internal/jobs"
	"github.com/Dannytownkins/Ember-sub000/internal/logger"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tokens"
	"github.com/Dannytownkins/Ember-sub000/internal/wake"
)

// Run starts the capture service and blocks until shutdown or error.
func Run() error {
	log := logger.New("capture-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := newServerContext()
	defer stop()

	deps, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = deps.closer.Close() }()

	p := newPipeline(cfg, deps, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, deps.store)
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		p.runner.Stop()
		return err
	}

	router := buildRouter(p, deps, svcHealth, log)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = p.sweep.Run(sweepCtx)
	}()

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
	case runErr = <-errCh:
		log.Error().Stack().Err(runErr).Msg("HTTP server failed")
	}

	// Stop intake first, then the sweep, then drain queued captures.
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error().Stack().Err(err).Msg("Server forced to shutdown")
		if runErr == nil {
			runErr = err
		}
	}
	stopSweep()
	<-sweepDone
	p.runner.Stop()
	log.Info().Msg("Server exited")
	return runErr
}

type dependencies struct {
	store     store.Store
	closer    io.Closer
	extractor extraction.Extractor
	tokens    tokens.Counter
}

// initDependencies constructs required components and enforces fail-fast on missing deps.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*dependencies, error) {
	st, closer, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}
	ex, err := factory.NewExtractor(cfg, log)
	if err != nil {
		_ = closer.Close()
		log.Error().Stack().Err(err).Msg("Extraction adapter unavailable")
		return nil, err
	}
	return &dependencies{
		store:     st,
		closer:    closer,
		extractor: ex,
		tokens:    factory.NewTokenCounter(cfg, log),
	}, nil
}

type pipeline struct {
	runner  *jobs.Runner
	sweep   *jobs.Sweep
	capture *capture.Service
}

// newPipeline wires the job runner, the capture service and the retry sweep.
func newPipeline(cfg *config.Config, deps *dependencies, log zerolog.Logger) *pipeline {
	jc := cfg.Jobs
	jc.Logger = log
	if cfg.AdmissionLimit > 0 {
		jc.Admission = jobs.NewWindowLimiter(cfg.AdmissionLimit, cfg.AdmissionWindow)
	}
	jc.ErrorHandler = func(key string, err error) {
		log.Debug().Err(err).Str("capture_id", key).Msg("capture job finished with error")
	}
	runner := jobs.NewRunner(jc)

	svc := capture.NewService(deps.store, deps.extractor, dedup.New(deps.tokens, log), runner, capture.Config{
		Limits: capture.Limits{
			MinChars:      cfg.MinChars,
			MaxChars:      cfg.MaxChars,
			MaxImages:     cfg.MaxImages,
			MaxImageBytes: cfg.MaxImageBytes,
		},
		DispatchGrace: cfg.DispatchGrace,
	}, log)

	sweep := jobs.NewSweep(deps.store.Jobs(), svc.Dispatch, cfg.Sweep, log)
	return &pipeline{runner: runner, sweep: sweep, capture: svc}
}

// buildRouter wires HTTP routes to handlers.
func buildRouter(p *pipeline, deps *dependencies, svcHealth api.ServiceHealth, log zerolog.Logger) *mux.Router {
	return api.NewRouter(api.Handlers{
		Captures: api.NewCaptureHandler(p.capture, log),
		Memories: api.NewMemoryHandler(wake.NewService(deps.store, deps.tokens), log),
		Health:   api.NewHealthHandler(svcHealth),
	})
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store) *health.ServiceHealthChecker {
	storeChecker := store.NewStoreHealthChecker(st, log, cfg.HealthProbeTimeout)
	go storeChecker.Start(ctx, cfg.HealthInterval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker)
	go svcHealth.Start(ctx, cfg.HealthInterval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeout := cfg.StartupTimeout
	if floor := 2 * cfg.HealthInterval; timeout < floor {
		timeout = floor
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
