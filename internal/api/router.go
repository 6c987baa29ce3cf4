package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dannytownkins/Ember-sub000/internal/api/recovery"
)

// Handlers groups the transport handlers registered by NewRouter.
type Handlers struct {
	Captures *CaptureHandler
	Memories *MemoryHandler
	Health   *HealthHandler
}

// NewRouter wires HTTP routes to handlers. Every /api route except health
// runs under RequireScope.
func NewRouter(h Handlers) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	root.HandleFunc("/api/health", h.Health.CheckHealth).Methods("GET")
	root.Handle("/metrics", promhttp.Handler()).Methods("GET")

	scoped := root.PathPrefix("/api").Subrouter()
	scoped.Use(RequireScope)

	scoped.HandleFunc("/captures", h.Captures.SubmitCapture).Methods("POST")
	scoped.HandleFunc("/captures/{captureId}", h.Captures.GetCapture).Methods("GET")
	scoped.HandleFunc("/memories", h.Memories.ListMemories).Methods("GET")
	scoped.HandleFunc("/wake-prompt", h.Memories.WakePrompt).Methods("GET")
	return root
}
