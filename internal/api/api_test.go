package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dannytownkins/Ember-sub000/internal/capture"
	"github.com/Dannytownkins/Ember-sub000/internal/dedup"
	"github.com/Dannytownkins/Ember-sub000/internal/extraction"
	"github.com/Dannytownkins/Ember-sub000/internal/jobs"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store/memstore"
	"github.com/Dannytownkins/Ember-sub000/internal/tokens"
	"github.com/Dannytownkins/Ember-sub000/internal/wake"
)

const sampleText = "I finally told my sister about the new job offer in Denver and she cried a little."

type stubExtractor struct{ out []model.CandidateMemory }

func (s stubExtractor) Extract(context.Context, extraction.Payload) ([]model.CandidateMemory, error) {
	return s.out, nil
}

type staticHealth bool

func (h staticHealth) IsHealthy() bool              { return bool(h) }
func (h staticHealth) Components() map[string]bool { return map[string]bool{"store": bool(h)} }

type testServer struct {
	*httptest.Server
	runner *jobs.Runner
}

func newTestServer(t *testing.T, admission jobs.Admission) *testServer {
	t.Helper()
	st := memstore.New()
	emo := "relief"
	ex := stubExtractor{out: []model.CandidateMemory{
		{FactualContent: "Took a job offer in Denver", Category: model.CategoryWork, Importance: 4, VerbatimText: "the new job offer in Denver"},
		{FactualContent: "Sister is supportive", Category: model.CategoryRelationships, Importance: 3, VerbatimText: "she cried a little", EmotionalSignificance: &emo},
	}}
	runner := jobs.NewRunner(jobs.Config{Workers: 2, MaxAttempts: 2, BaseBackoff: time.Millisecond, Admission: admission, Logger: zerolog.Nop()})
	t.Cleanup(runner.Stop)

	svc := capture.NewService(st, ex, dedup.New(tokens.EstimateCounter{}, zerolog.Nop()), runner, capture.Config{}, zerolog.Nop())
	router := NewRouter(Handlers{
		Captures: NewCaptureHandler(svc, zerolog.Nop()),
		Memories: NewMemoryHandler(wake.NewService(st, tokens.EstimateCounter{}), zerolog.Nop()),
		Health:   NewHealthHandler(staticHealth(true)),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, runner: runner}
}

func (s *testServer) do(t *testing.T, method, path, profile string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if profile != "" {
		req.Header.Set(ProfileHeader, profile)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) submit(t *testing.T, profile string) SubmitResponse {
	t.Helper()
	resp := s.do(t, "POST", "/api/captures", profile, capture.Input{InputMethod: model.InputPaste, Text: sampleText})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decode[SubmitResponse](t, resp)
	require.NoError(t, s.runner.Barrier(context.Background(), out.CaptureID))
	return out
}

func TestSubmitAndPoll(t *testing.T) {
	srv := newTestServer(t, nil)
	profile := uuid.NewString()

	sub := srv.submit(t, profile)
	assert.Equal(t, model.StatusQueued, sub.Status)
	assert.NotEmpty(t, sub.CaptureID)

	resp := srv.do(t, "GET", "/api/captures/"+sub.CaptureID, profile, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[model.CaptureStatusView](t, resp)
	assert.Equal(t, model.StatusCompleted, view.Status)
	require.NotNil(t, view.MemoryCount)
	assert.Equal(t, 2, *view.MemoryCount)
	require.NotNil(t, view.Result)
	assert.Equal(t, 2, view.Result.Saved)
}

func TestCaptureIsInvisibleToOtherProfiles(t *testing.T) {
	srv := newTestServer(t, nil)
	sub := srv.submit(t, uuid.NewString())

	resp := srv.do(t, "GET", "/api/captures/"+sub.CaptureID, uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, "GET", "/api/memories", uuid.NewString(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[ListMemoriesResponse](t, resp).Count)
}

func TestProfileHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.do(t, "GET", "/api/memories", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, "GET", "/api/memories", "not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	profile := uuid.NewString()

	resp := srv.do(t, "POST", "/api/captures", profile, capture.Input{InputMethod: model.InputPaste, Text: "too short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, "POST", "/api/captures", profile, map[string]any{"inputMethod": "paste", "text": sampleText, "extra": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, "POST", "/api/captures", profile, capture.Input{
		InputMethod: model.InputScreenshot,
		Images:      []model.ImageRef{{URL: "ftp://example.com/a.png", ContentType: "image/png", SizeBytes: 10}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitAdmissionDenied(t *testing.T) {
	srv := newTestServer(t, jobs.NewWindowLimiter(1, time.Minute))
	profile := uuid.NewString()

	srv.submit(t, profile)
	resp := srv.do(t, "POST", "/api/captures", profile, capture.Input{InputMethod: model.InputPaste, Text: sampleText})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Limits are per profile.
	srv.submit(t, uuid.NewString())
}

func TestListMemories(t *testing.T) {
	srv := newTestServer(t, nil)
	profile := uuid.NewString()
	srv.submit(t, profile)

	resp := srv.do(t, "GET", "/api/memories", profile, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[ListMemoriesResponse](t, resp)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, 4, all.Memories[0].Importance, "most important first")

	resp = srv.do(t, "GET", "/api/memories?category=relationships", profile, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rel := decode[ListMemoriesResponse](t, resp)
	require.Equal(t, 1, rel.Count)
	assert.Equal(t, model.CategoryRelationships, rel.Memories[0].Category)

	resp = srv.do(t, "GET", "/api/memories?category=gossip", profile, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, "GET", "/api/memories?limit=0", profile, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWakePrompt(t *testing.T) {
	srv := newTestServer(t, nil)
	profile := uuid.NewString()
	srv.submit(t, profile)

	resp := srv.do(t, "GET", "/api/wake-prompt?budget=500", profile, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[wake.Prompt](t, resp)
	assert.Equal(t, 2, p.Included)
	assert.True(t, strings.Contains(p.Text, "the new job offer in Denver"))

	resp = srv.do(t, "GET", "/api/wake-prompt?budget=nope", profile, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.do(t, "GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])

	resp = srv.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
