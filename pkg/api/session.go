package api

import (
	"net/http"

	"github.com/gatewarden/gatewarden/pkg/site"
	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

const sessionCookie = "gatewarden_session"

// currentUser resolves the request's session cookie to a member of
// the resolved site. Returns nil for anonymous callers, for expired
// or tampered cookies, and for sessions established on a different
// site. A session of another site must degrade to anonymous, never
// match a user of this one.
func (s *server) currentUser(
	r *http.Request, snapshot *site.Snapshot,
) *site.User {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	session, err := s.sessions.Verify(snapshot.SiteID, cookie.Value)
	if err != nil {
		return nil
	}

	return snapshot.UserByUUID(session.UserUUID)
}

// setSessionCookie establishes a session for a site member.
func (s *server) setSessionCookie(
	w http.ResponseWriter, siteURL, siteID, userUUID string,
) error {
	value, err := s.sessions.Issue(siteID, userUUID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   urlpath.IsHTTPS(siteURL),
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// clearSessionCookie logs the caller out.
func clearSessionCookie(w http.ResponseWriter, siteURL string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   urlpath.IsHTTPS(siteURL),
		SameSite: http.SameSiteLaxMode,
	})
}
