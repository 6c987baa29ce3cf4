package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/api/respond"
	"github.com/Dannytownkins/Ember-sub000/internal/capture"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// maxCaptureBody bounds the JSON request body of a submission.
const maxCaptureBody = 2 << 20

// CaptureHandler is the thin transport layer over capture.Service.
type CaptureHandler struct {
	svc *capture.Service
	log zerolog.Logger
}

func NewCaptureHandler(svc *capture.Service, log zerolog.Logger) *CaptureHandler {
	return &CaptureHandler{svc: svc, log: log}
}

// SubmitResponse is the body of a 202 from SubmitCapture.
type SubmitResponse struct {
	CaptureID string              `json:"captureId"`
	Status    model.CaptureStatus `json:"status"`
}

// SubmitCapture handles POST /api/captures
func (h *CaptureHandler) SubmitCapture(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		respond.WriteUnauthorized(w, err.Error())
		return
	}

	var in capture.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCaptureBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	c, err := h.svc.Submit(r.Context(), scope, in)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, SubmitResponse{CaptureID: c.CaptureID, Status: c.Status})
}

// GetCapture handles GET /api/captures/{captureId}
func (h *CaptureHandler) GetCapture(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		respond.WriteUnauthorized(w, err.Error())
		return
	}
	view, err := h.svc.Status(r.Context(), scope, mux.Vars(r)["captureId"])
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, view)
}
