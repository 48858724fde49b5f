package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

const (
	csrfCookie = "gatewarden_csrf"
	csrfHeader = "X-CSRF-Token"

	csrfTokenBytes = 32
)

// generateCSRFToken creates a cryptographically random token.
func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// csrfProtect guards state-mutating endpoints with two independent
// checks. An Origin header, when the browser sends one, must match
// the site URL the request resolved to; an opaque "null" origin
// (sandboxed iframes, some cross-origin redirects) is a mismatch like
// any other. And the double-submit token from the csrf-token endpoint
// must arrive both as the cookie and as a header, byte for byte
// equal, compared in constant time.
func (s *server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			normalized, err := urlpath.ValidateSiteURL(origin)
			if err != nil || normalized != siteURLFromContext(r.Context()) {
				writeJSON(w, http.StatusForbidden,
					errorResponse{"cross-origin request rejected"})

				return
			}
		}

		cookie, err := r.Cookie(csrfCookie)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"CSRF token missing"})

			return
		}

		header := r.Header.Get(csrfHeader)
		if subtle.ConstantTimeCompare(
			[]byte(cookie.Value), []byte(header),
		) != 1 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"CSRF token mismatch"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleCSRFToken issues the double-submit token: the same value goes
// into a cookie and into the response body, and mutating requests
// must echo it back in the X-CSRF-Token header.
func (s *server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	value, err := generateCSRFToken()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate CSRF token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    value,
		Path:     "/",
		Secure:   urlpath.IsHTTPS(siteURLFromContext(r.Context())),
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": value})
}
