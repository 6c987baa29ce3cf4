package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrTenantViolation is returned when the storage layer rejects a row
	// outside the acting profile. It always indicates a programming error.
	ErrTenantViolation = errors.New("tenant violation")

	// ErrAdmissionDenied is returned when the job runner refuses new work
	// for a profile.
	ErrAdmissionDenied = errors.New("admission denied")
)
