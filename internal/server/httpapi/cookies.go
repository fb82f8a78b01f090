package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/webchat/internal/server/services"
)

const (
	accessCookieName  = "access"
	refreshCookieName = "refresh"
)

// setAuthCookies attaches both session cookies. HttpOnly keeps them away from
// page scripts; Secure is dropped only in dev mode so plain-HTTP local setups
// still work. The access cookie outlives its token on purpose: the browser
// must keep presenting the expired JWT so the session middleware can see the
// refresh cookie alongside it and rotate the pair.
func (s *Server) setAuthCookies(w http.ResponseWriter, pair *services.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(s.refreshTokenValidity / time.Second),
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(s.refreshTokenValidity / time.Second),
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   !s.devMode,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
