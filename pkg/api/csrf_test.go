package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFToken(t *testing.T) {
	_, router := newTestServer(t)

	w := serveRequest(router,
		siteRequest(http.MethodPost, "/auth/api/csrf-token/"))
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, csrfCookie, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)

	// The body token matches the cookie, so a page script can echo
	// it back in the header.
	assert.Contains(t, w.Body.String(), cookies[0].Value)
}

func TestCSRFProtect(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name   string
		mutate func(r *http.Request)
		status int
	}{
		{
			name:   "no token at all",
			mutate: func(*http.Request) {},
			status: http.StatusBadRequest,
		},
		{
			name: "cookie without header",
			mutate: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: csrfCookie, Value: "abc"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "header without cookie",
			mutate: func(r *http.Request) {
				r.Header.Set(csrfHeader, "abc")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "mismatched pair",
			mutate: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: csrfCookie, Value: "abc"})
				r.Header.Set(csrfHeader, "xyz")
			},
			status: http.StatusBadRequest,
		},
		{
			name: "foreign origin",
			mutate: func(r *http.Request) {
				withCSRF(r)
				r.Header.Set("Origin", "https://evil.example.org")
			},
			status: http.StatusForbidden,
		},
		{
			name: "opaque null origin",
			mutate: func(r *http.Request) {
				withCSRF(r)
				r.Header.Set("Origin", "null")
			},
			status: http.StatusForbidden,
		},
		{
			name: "own origin with matching pair",
			mutate: func(r *http.Request) {
				withCSRF(r)
				r.Header.Set("Origin", testSiteURL)
			},
			status: http.StatusNoContent,
		},
		{
			name:   "matching pair without origin",
			mutate: withCSRF,
			status: http.StatusNoContent,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := siteRequest(http.MethodPost, "/auth/api/logout/")
			test.mutate(r)

			w := serveRequest(router, r)
			assert.Equal(t, test.status, w.Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, router := newTestServer(t)

	w := serveRequest(router, siteRequest(http.MethodGet, "/healthz"))

	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestNoCacheOnAuthEndpoints(t *testing.T) {
	_, router := newTestServer(t)

	w := serveRequest(router,
		siteRequest(http.MethodGet, "/auth/api/whoami/"))

	assert.Equal(t, "no-cache, no-store, must-revalidate, max-age=0",
		w.Header().Get("Cache-Control"))
}
