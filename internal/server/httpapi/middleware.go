package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/webchat/internal/server/models"
)

type contextKey int

const principalKey contextKey = iota

// principalFrom returns the authenticated user attached by the session
// middleware, or nil for anonymous requests.
func principalFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(principalKey).(*models.User)
	return user
}

// session resolves the request identity from the session cookies, rotating
// the pair transparently when the access token has gone stale:
//
//  1. no access cookie: continue anonymous
//  2. valid access token: attach the identity
//  3. invalid access token, no refresh cookie: clear cookies, 401
//  4. refresh cookie present: rotate, set the fresh pair on the response,
//     attach the identity
//  5. rotation fails for any reason: clear cookies, 401
//
// Presented-but-unusable credentials never fall through to anonymous. The
// fresh cookies ride on this same response, so the client replaces its pair
// without ever observing the rotation.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, err := r.Cookie(accessCookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.users.VerifyAccess(r.Context(), access.Value)
		if err == nil {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, user)))
			return
		}

		refresh, err := r.Cookie(refreshCookieName)
		if err != nil {
			s.clearAuthCookies(w)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, pair, err := s.users.Rotate(r.Context(), refresh.Value)
		if err != nil {
			s.clearAuthCookies(w)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		s.setAuthCookies(w, pair)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, user)))
	})
}

// requireAuth guards handlers that need an authenticated principal.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if principalFrom(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}
