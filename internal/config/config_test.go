package config

import (
	"testing"
	"time"
)

func TestConfigLoad_Defaults(t *testing.T) {
	t.Setenv("EMBER_BUILD_TARGET", "local")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.DispatchGrace != 5*time.Minute || cfg.TokenEncoding != "cl100k_base" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.MaxAttempts != 4 || cfg.Jobs.BaseBackoff != time.Second {
		t.Fatalf("unexpected runner defaults: %+v", cfg.Jobs)
	}
	if cfg.Sweep.BatchSize != 100 || cfg.Sweep.Lease != 5*time.Minute {
		t.Fatalf("unexpected sweep defaults: %+v", cfg.Sweep)
	}
}

func TestConfigLoad_NestedEnvOverride(t *testing.T) {
	t.Setenv("EMBER_BUILD_TARGET", "local")
	t.Setenv("EMBER_JOBS_WORKERS", "9")
	t.Setenv("EMBER_SWEEP_INTERVAL", "2s")
	t.Setenv("EMBER_HTTP_PORT", "9999")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.Jobs.Workers != 9 {
		t.Fatalf("jobs override failed, got %d", cfg.Jobs.Workers)
	}
	if cfg.Sweep.Interval != 2*time.Second {
		t.Fatalf("sweep override failed, got %s", cfg.Sweep.Interval)
	}
	if cfg.GetHTTPAddr() != ":9999" {
		t.Fatalf("unexpected addr %s", cfg.GetHTTPAddr())
	}
}

func TestConfigLoad_BadDuration(t *testing.T) {
	t.Setenv("EMBER_BUILD_TARGET", "local")
	t.Setenv("EMBER_DISPATCH_GRACE", "soon")

	if _, err := New(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	if !cfg.IsTesting() || cfg.IsProduction() {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %s", cfg.DBDriver)
	}
}
