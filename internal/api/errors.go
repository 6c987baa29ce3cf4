package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/api/respond"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognized is logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, tenant.ErrInvalidProfileID):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, tenant.ErrNoScope):
		respond.WriteUnauthorized(w, err.Error())
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, "not found")
	case errors.Is(err, model.ErrAdmissionDenied):
		respond.WriteTooManyRequests(w, err.Error())
	case errors.Is(err, model.ErrConflict):
		respond.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Stack().Err(err).Msg("request failed")
		respond.WriteInternalError(w, "internal error")
	}
}
