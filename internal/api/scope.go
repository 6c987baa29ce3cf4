package api

import (
	"net/http"
	"strings"

	"github.com/Dannytownkins/Ember-sub000/internal/api/respond"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// ProfileHeader carries the acting profile id, set by the upstream
// authentication proxy.
const ProfileHeader = "X-Profile-ID"

// RequireScope binds the request to the profile named in ProfileHeader.
// A missing header is 401, a malformed one 400.
func RequireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ProfileHeader))
		if raw == "" {
			respond.WriteUnauthorized(w, ProfileHeader+" header is required")
			return
		}
		scope, err := tenant.NewScope(raw)
		if err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithScope(r.Context(), scope)))
	})
}
