package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gatewarden/gatewarden/pkg/site"
	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

type contextKey string

const (
	siteContextKey    contextKey = "site"
	siteURLContextKey contextKey = "siteURL"
)

// siteURLHeader identifies the scheme+host the end-user is visiting.
// Front-end servers set it on every subrequest.
const siteURLHeader = "Site-Url"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// securityHeaders sets clickjacking and sniffing protections on every
// response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// noCache forbids caching of responses. Authorization verdicts and
// session state must never be replayed from an intermediary cache.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(
			"Cache-Control", "no-cache, no-store, must-revalidate, max-age=0",
		)
		next.ServeHTTP(w, r)
	})
}

// resolveSite validates the Site-Url header, resolves it to a site
// snapshot through the cache and injects the snapshot into the
// request context. Requests for unknown or malformed site URLs are
// rejected before any handler runs.
func (s *server) resolveSite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(siteURLHeader)
		if raw == "" {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"Site-Url header missing"})

			return
		}

		siteURL, err := urlpath.ValidateSiteURL(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"Site-Url header invalid"})

			return
		}

		snapshot, err := s.cache.GetByAlias(r.Context(), siteURL)
		if err != nil {
			if errors.Is(err, site.ErrSiteNotFound) {
				writeJSON(w, http.StatusBadRequest,
					errorResponse{"Site-Url not recognized"})

				return
			}

			s.log.WithError(err).Error("Failed to resolve site")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		ctx := context.WithValue(r.Context(), siteContextKey, snapshot)
		ctx = context.WithValue(ctx, siteURLContextKey, siteURL)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// siteFromContext extracts the resolved site snapshot.
func siteFromContext(ctx context.Context) *site.Snapshot {
	snapshot, _ := ctx.Value(siteContextKey).(*site.Snapshot)

	return snapshot
}

// siteURLFromContext extracts the validated Site-Url value.
func siteURLFromContext(ctx context.Context) string {
	siteURL, _ := ctx.Value(siteURLContextKey).(string)

	return siteURL
}
