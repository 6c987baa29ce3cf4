package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/api/respond"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
	"github.com/Dannytownkins/Ember-sub000/internal/wake"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxWakeBudget    = 32000
)

// MemoryHandler serves the read side: memory listing and wake prompts.
type MemoryHandler struct {
	svc *wake.Service
	log zerolog.Logger
}

func NewMemoryHandler(svc *wake.Service, log zerolog.Logger) *MemoryHandler {
	return &MemoryHandler{svc: svc, log: log}
}

// ListMemoriesResponse is the body of ListMemories.
type ListMemoriesResponse struct {
	Memories []*model.Memory `json:"memories"`
	Count    int             `json:"count"`
}

// ListMemories handles GET /api/memories?category=&limit=
func (h *MemoryHandler) ListMemories(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		respond.WriteUnauthorized(w, err.Error())
		return
	}

	req := model.ListMemoriesRequest{Limit: defaultListLimit}
	q := r.URL.Query()
	if v := q.Get("category"); v != "" {
		c := model.Category(v)
		req.Category = &c
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			respond.WriteBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		req.Limit = n
	}

	mems, err := h.svc.Memories(r.Context(), scope, req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if mems == nil {
		mems = []*model.Memory{}
	}
	respond.WriteJSON(w, http.StatusOK, ListMemoriesResponse{Memories: mems, Count: len(mems)})
}

// WakePrompt handles GET /api/wake-prompt?budget=
func (h *MemoryHandler) WakePrompt(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		respond.WriteUnauthorized(w, err.Error())
		return
	}

	budget := wake.DefaultBudget
	if v := r.URL.Query().Get("budget"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxWakeBudget {
			respond.WriteBadRequest(w, "budget must be between 1 and "+strconv.Itoa(maxWakeBudget))
			return
		}
		budget = n
	}

	p, err := h.svc.Build(r.Context(), scope, budget)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}
