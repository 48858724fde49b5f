// Package site holds the per-site cache and the immutable site
// snapshots that authorization decisions are evaluated against.
package site

import (
	"strings"

	"github.com/gatewarden/gatewarden/pkg/store"
)

// User is a cached site member identity.
type User struct {
	UUID  string
	Email string
}

// Location is a cached access control rule: a canonical path prefix,
// an open access mode and the set of user UUIDs granted access.
type Location struct {
	UUID       string
	Path       string
	OpenAccess string

	allowed map[string]struct{}
}

// Skin is the branding used on rendered 401/403 pages.
type Skin struct {
	Title   string
	Header  string
	Message string
}

// Snapshot is a read-only materialization of one site: aliases,
// locations, users and permissions captured at a single modification
// counter value. Snapshots are never mutated after construction; the
// cache swaps whole snapshot pointers, so concurrent readers see
// either the pre-mutation or the post-mutation state in full.
type Snapshot struct {
	SiteID string
	ModID  int64
	Skin   Skin

	aliases      map[string]struct{}
	locations    []*Location
	usersByUUID  map[string]*User
	usersByEmail map[string]*User

	openLocationWithLogin bool
}

// NewSnapshot materializes a snapshot from loaded store data.
func NewSnapshot(data *store.SiteData) *Snapshot {
	snap := &Snapshot{
		SiteID: data.Site.SiteID,
		ModID:  data.Site.ModID,
		Skin: Skin{
			Title:   data.Site.SkinTitle,
			Header:  data.Site.SkinHeader,
			Message: data.Site.SkinMessage,
		},
		aliases:      make(map[string]struct{}, len(data.Aliases)),
		locations:    make([]*Location, 0, len(data.Locations)),
		usersByUUID:  make(map[string]*User, len(data.Users)),
		usersByEmail: make(map[string]*User, len(data.Users)),
	}

	for _, alias := range data.Aliases {
		snap.aliases[alias.URL] = struct{}{}
	}

	usersByID := make(map[uint]*User, len(data.Users))

	for i := range data.Users {
		user := &User{
			UUID:  data.Users[i].UUID,
			Email: data.Users[i].Email,
		}
		usersByID[data.Users[i].ID] = user
		snap.usersByUUID[user.UUID] = user
		snap.usersByEmail[user.Email] = user
	}

	locationsByID := make(map[uint]*Location, len(data.Locations))

	for i := range data.Locations {
		location := &Location{
			UUID:       data.Locations[i].UUID,
			Path:       data.Locations[i].Path,
			OpenAccess: data.Locations[i].OpenAccess,
			allowed:    make(map[string]struct{}),
		}
		locationsByID[data.Locations[i].ID] = location
		snap.locations = append(snap.locations, location)

		if location.OpenAccess == store.OpenAccessWithLogin {
			snap.openLocationWithLogin = true
		}
	}

	for _, permission := range data.Permissions {
		location := locationsByID[permission.LocationID]
		user := usersByID[permission.UserID]

		if location != nil && user != nil {
			location.allowed[user.UUID] = struct{}{}
		}
	}

	return snap
}

// HasAlias reports whether the site is served under the given
// scheme://host[:port] URL.
func (s *Snapshot) HasAlias(url string) bool {
	_, ok := s.aliases[url]

	return ok
}

// UserByUUID returns the site member with the given UUID, or nil.
// A UUID belonging to a user of a different site never matches.
func (s *Snapshot) UserByUUID(userUUID string) *User {
	return s.usersByUUID[userUUID]
}

// UserByEmail returns the site member with the given normalized
// email, or nil.
func (s *Snapshot) UserByEmail(email string) *User {
	return s.usersByEmail[email]
}

// HasOpenLocationWithLogin reports whether any location of the site
// is open to everyone who authenticates. When true, an unknown user
// redeeming a valid login token gets a user record created on the fly.
func (s *Snapshot) HasOpenLocationWithLogin() bool {
	return s.openLocationWithLogin
}

// FindLocation returns the most specific location matching a
// canonical path, or nil when no location covers it.
//
// A location covers a path when the path starts with the location's
// path and the boundary falls on a '/' (or the paths are equal). The
// longest covering path wins; ties can not occur because paths are
// unique within a site. The scan is linear: sites have few locations
// and snapshots are cached, so a prefix trie would not buy anything
// observable.
func (s *Snapshot) FindLocation(canonicalPath string) *Location {
	var (
		longest    *Location
		longestLen = -1
	)

	for _, location := range s.locations {
		probed := location.Path
		if len(probed) <= longestLen || !strings.HasPrefix(canonicalPath, probed) {
			continue
		}

		// The prefix boundary must fall on a path separator: either
		// the paths are equal, the location path carries its own
		// trailing '/', or the next byte of the request path is '/'.
		boundary := len(probed)
		if probed[len(probed)-1] == '/' {
			boundary = len(probed) - 1
		}

		if len(probed) == len(canonicalPath) || canonicalPath[boundary] == '/' {
			longest = location
			longestLen = len(probed)
		}
	}

	return longest
}

// CanAccess decides whether an identity may access the location.
// user is nil for anonymous callers. The decision is pure: open
// no-login locations admit everyone, any other mode requires an
// identity, and open-with-login admits every identity of the site
// while disabled mode requires an explicit grant.
func (l *Location) CanAccess(user *User) bool {
	if l.OpenAccess == store.OpenAccessNoLogin {
		return true
	}

	if user == nil {
		return false
	}

	if l.OpenAccess == store.OpenAccessWithLogin {
		return true
	}

	_, granted := l.allowed[user.UUID]

	return granted
}

// OpenAccessGranted reports whether the location admits callers
// without an explicit grant.
func (l *Location) OpenAccessGranted() bool {
	return l.OpenAccess == store.OpenAccessNoLogin ||
		l.OpenAccess == store.OpenAccessWithLogin
}

// OpenAccessRequiresLogin reports whether open access still requires
// an authenticated identity.
func (l *Location) OpenAccessRequiresLogin() bool {
	return l.OpenAccess == store.OpenAccessWithLogin
}
