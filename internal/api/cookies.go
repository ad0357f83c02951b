package api

import (
	"net/http"
	"time"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
	csrfCookieName    = "csrf_token"

	accessCookieTTL  = 24 * time.Hour
	refreshCookieTTL = 30 * 24 * time.Hour
)

// setSessionCookies writes the three cookies spec.md §6's cookie table
// describes. access_token is Secure only in production (local HTTP
// development would otherwise never see it); refresh_token and
// csrf_token are always Secure since they either carry the long-lived
// credential or gate mutation and have no reason to tolerate plaintext
// transport.
func (s *Server) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken, csrfToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(accessCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.Config.Production,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/auth/refresh",
		MaxAge:   int(refreshCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   int(accessCookieTTL.Seconds()),
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookies expires all three cookies on logout or a failed
// refresh, forcing the client back through the login flow.
func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct {
		name, path string
	}{
		{accessCookieName, "/"},
		{refreshCookieName, "/auth/refresh"},
		{csrfCookieName, "/"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: c.name != csrfCookieName,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
