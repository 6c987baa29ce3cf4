package captureservice

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/capture"
	"github.com/Dannytownkins/Ember-sub000/internal/health"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

func mustScope(t *testing.T, profileID string) tenant.Scope {
	t.Helper()
	s, err := tenant.NewScope(profileID)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return s
}

func oneCapture() capture.Input {
	return capture.Input{
		InputMethod: model.InputPaste,
		Text:        "We talked for an hour about how I play cello every weekend with friends.",
	}
}

// newUnstartedHealth returns an aggregator whose Start never ran, so it
// stays unhealthy.
func newUnstartedHealth() *health.ServiceHealthChecker {
	return health.NewServiceHealthChecker(zerolog.Nop())
}
