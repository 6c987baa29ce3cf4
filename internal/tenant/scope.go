// Package tenant defines the acting principal every data access is bound to.
//
// A Scope can only be obtained through NewScope, so a store method that takes
// a Scope cannot be called with a raw, unchecked profile id. The zero Scope is
// rejected at runtime by Validate, which every store entry point calls first.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNoScope is returned when a data access is attempted without a principal.
	ErrNoScope = errors.New("tenant scope missing")

	// ErrInvalidProfileID is returned when a profile id is not a UUID.
	ErrInvalidProfileID = errors.New("invalid profile identifier")
)

// Scope binds a unit of work to exactly one profile.
type Scope struct {
	profileID string
}

// NewScope validates profileID and returns a scope for it.
func NewScope(profileID string) (Scope, error) {
	id, err := uuid.Parse(profileID)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidProfileID, profileID)
	}
	return Scope{profileID: id.String()}, nil
}

// MustScope is NewScope for tests and constants; it panics on bad input.
func MustScope(profileID string) Scope {
	s, err := NewScope(profileID)
	if err != nil {
		panic(err)
	}
	return s
}

// ProfileID returns the canonical profile id of the scope.
func (s Scope) ProfileID() string { return s.profileID }

// Validate returns ErrNoScope for the zero Scope.
func (s Scope) Validate() error {
	if s.profileID == "" {
		return ErrNoScope
	}
	return nil
}

// Owns reports whether a row owned by profileID is visible to the scope.
func (s Scope) Owns(profileID string) bool {
	return s.profileID != "" && s.profileID == profileID
}

func (s Scope) String() string {
	if s.profileID == "" {
		return "scope(<none>)"
	}
	return "scope(" + s.profileID + ")"
}

type ctxKey struct{}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the scope stored in ctx, or ErrNoScope.
func FromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	if !ok {
		return Scope{}, ErrNoScope
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}
