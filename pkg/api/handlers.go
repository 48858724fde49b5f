package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatewarden/gatewarden/pkg/site"
	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

// userHeader carries the resolved identity back to the front-end
// server. It is set by this service only; a client supplying it is
// trying to forge an identity.
const userHeader = "User"

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rawQueryParam returns a query parameter without percent-decoding
// it. The Go URL parser would decode the value, but the path
// parameter must reach the canonicalizer in its raw encoded form so
// that decoding happens exactly once.
func rawQueryParam(r *http.Request, key string) (string, bool) {
	for _, pair := range strings.Split(r.URL.RawQuery, "&") {
		if value, found := strings.CutPrefix(pair, key+"="); found {
			return value, true
		}
	}

	return "", false
}

// acceptsHTML reports whether the caller prefers a rendered HTML page
// over a JSON payload.
func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// handleIsAuthorized answers the front-end server's subrequest: may
// the caller, identified by its session cookie, access the given
// path on the resolved site?
//
// Path validation runs before any identity or location lookup, so a
// malformed request learns nothing about what locations exist.
func (s *server) handleIsAuthorized(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	rawPath, ok := rawQueryParam(r, "path")
	if !ok {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"path parameter missing"})

		return
	}

	canonicalPath, err := urlpath.Canonicalize(rawPath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	// The User header is this service's output. A request arriving
	// with one preset is a forgery attempt.
	if r.Header.Get(userHeader) != "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"User header must not be set by the client"})

		return
	}

	user := s.currentUser(r, snapshot)
	location := snapshot.FindLocation(canonicalPath)

	if location != nil && location.CanAccess(user) {
		s.metrics.authDecisions.WithLabelValues("allow").Inc()

		if user != nil {
			w.Header().Set(userHeader, user.Email)
		}

		w.WriteHeader(http.StatusOK)

		return
	}

	if user == nil {
		s.metrics.authDecisions.WithLabelValues("login_required").Inc()
		s.log.WithField("site", snapshot.SiteID).
			WithField("path", canonicalPath).
			Debug("Authentication required")

		w.Header().Set("WWW-Authenticate", "VerifiedEmail")
		s.writeDenied(w, r, snapshot, http.StatusUnauthorized, "")

		return
	}

	s.metrics.authDecisions.WithLabelValues("deny").Inc()
	s.log.WithField("site", snapshot.SiteID).
		WithField("path", canonicalPath).
		WithField("user", user.Email).
		Debug("Access denied")

	w.Header().Set(userHeader, user.Email)
	s.writeDenied(w, r, snapshot, http.StatusForbidden, user.Email)
}

// handleLogin redeems an emailed login token and establishes a
// session, then redirects to the sanitized next path.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"token parameter missing"})

		return
	}

	email, err := s.logins.Verify(snapshot.SiteID, siteURL, raw)
	if err != nil {
		s.metrics.loginAttempts.WithLabelValues("invalid_token").Inc()
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"login token invalid or expired"})

		return
	}

	user := snapshot.UserByEmail(email)
	if user == nil {
		member, err := s.loginUnknownUser(r, snapshot.SiteID, email)
		if err != nil {
			s.writeStoreError(w, err)

			return
		}

		if member == nil {
			s.metrics.loginAttempts.WithLabelValues("no_access").Inc()
			writeJSON(w, http.StatusForbidden,
				errorResponse{"no access granted to this site"})

			return
		}

		user = member
	}

	if err := s.setSessionCookie(
		w, siteURL, snapshot.SiteID, user.UUID,
	); err != nil {
		s.log.WithError(err).Error("Failed to establish session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	s.metrics.loginAttempts.WithLabelValues("success").Inc()

	http.Redirect(w, r, sanitizeNext(r.URL.Query().Get("next")),
		http.StatusFound)
}

// loginUnknownUser handles a valid token for an email with no user
// record. When the site has an open-with-login location the user is
// created on the fly; otherwise nil is returned and login fails.
func (s *server) loginUnknownUser(
	r *http.Request, siteID, email string,
) (*site.User, error) {
	snapshot := siteFromContext(r.Context())
	if !snapshot.HasOpenLocationWithLogin() {
		return nil, nil
	}

	created, err := s.store.CreateUser(r.Context(), siteID, email)
	if err != nil {
		// Lost a race with a concurrent first login; the user exists.
		if errors.Is(err, store.ErrAlreadyExists) {
			created, err = s.store.GetUserByEmail(r.Context(), siteID, email)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	return &site.User{UUID: created.UUID, Email: created.Email}, nil
}

// sanitizeNext bounds the post-login redirect to a canonical local
// path. Absolute URLs, protocol-relative tricks and malformed paths
// all collapse to the site root.
func sanitizeNext(next string) string {
	if next == "" {
		return "/"
	}

	// A protocol-relative //host/ would survive slash collapse as an
	// innocuous-looking local path, so reject it before canonicalizing.
	if strings.HasPrefix(next, "//") {
		return "/"
	}

	canonical, err := urlpath.Canonicalize(next)
	if err != nil {
		return "/"
	}

	return canonical
}

type sendTokenRequest struct {
	Email string `json:"email"`
	Path  string `json:"path"`
}

// handleSendToken emails a login link for the resolved site. The
// response does not reveal whether the address belongs to a member.
func (s *server) handleSendToken(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	var req sendTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"malformed request body"})

		return
	}

	email, ok := store.NormalizeEmail(req.Email)
	if !ok {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid email address"})

		return
	}

	signed, err := s.logins.Issue(snapshot.SiteID, siteURL, email)
	if err != nil {
		s.log.WithError(err).Error("Failed to issue login token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	next := sanitizeNext(req.Path)
	loginURL := siteURL + "/auth/api/login/?token=" +
		url.QueryEscape(signed) + "&next=" + url.QueryEscape(next)

	if err := s.sender.SendLoginLink(
		r.Context(), email, siteURL, loginURL,
	); err != nil {
		s.log.WithError(err).Error("Failed to send login link")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLogout clears the caller's session.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, siteURLFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// handleWhoAmI reports the caller's resolved identity.
func (s *server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	user := s.currentUser(r, snapshot)
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"authentication required"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email})
}

// writeStoreError maps store sentinels to HTTP statuses.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	case errors.Is(err, store.ErrAlreadyExists):
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"resource already exists"})
	case errors.Is(err, store.ErrLimitExceeded):
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"site resource limit exceeded"})
	default:
		s.log.WithError(err).Error("Store operation failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}
