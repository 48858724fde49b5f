package store

import (
	"regexp"
	"strings"
	"time"
)

// Open access modes of a location.
const (
	// OpenAccessDisabled: only explicitly allowed users can access.
	OpenAccessDisabled = "disabled"
	// OpenAccessNoLogin: everyone can access, no login required.
	OpenAccessNoLogin = "open"
	// OpenAccessWithLogin: everyone can access, but login is required.
	OpenAccessWithLogin = "open-with-login"
)

// Site is a tenant to which access is protected. A site has aliases,
// locations, users and permissions; sites are fully isolated from one
// another.
//
// ModID is bumped, within the same transaction, by every mutation of
// the site or its dependent rows. Cached site snapshots are valid
// exactly as long as their captured ModID equals the live one.
type Site struct {
	SiteID string `gorm:"primaryKey" json:"site_id"`
	ModID  int64  `gorm:"not null;default:0" json:"-"`

	// Branding for rendered 401/403 pages.
	SkinTitle   string `json:"skin_title"`
	SkinHeader  string `json:"skin_header"`
	SkinMessage string `json:"skin_message"`

	// Per-site resource ceilings; 0 means the configured default.
	UsersLimit     int `gorm:"not null;default:0" json:"-"`
	LocationsLimit int `gorm:"not null;default:0" json:"-"`
	AliasesLimit   int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alias is a scheme://host[:port] URL under which a site is served.
// A request's Site-Url header must resolve to an alias of a known
// site. An alias URL maps to at most one site.
type Alias struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SiteID    string    `gorm:"index;not null" json:"-"`
	URL       string    `gorm:"uniqueIndex;not null" json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is an access control rule scoped to a canonical path
// prefix. Rules defined for a location apply to all its sub-paths,
// unless a more specific location exists.
type Location struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	UUID       string `gorm:"uniqueIndex;not null" json:"uuid"`
	SiteID     string `gorm:"not null;uniqueIndex:idx_locations_site_path" json:"-"`
	Path       string `gorm:"not null;uniqueIndex:idx_locations_site_path" json:"path"`
	OpenAccess string `gorm:"not null;default:disabled" json:"open_access"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenAccessGranted reports whether everyone can access the location.
func (l *Location) OpenAccessGranted() bool {
	return l.OpenAccess == OpenAccessNoLogin ||
		l.OpenAccess == OpenAccessWithLogin
}

// OpenAccessRequiresLogin reports whether open access still requires
// an authenticated identity.
func (l *Location) OpenAccessRequiresLogin() bool {
	return l.OpenAccess == OpenAccessWithLogin
}

// User is an identity scoped to a single site. Emails are stored
// lower-cased and are unique per site; the same email may exist
// independently in a different site. UUIDs never collide across the
// whole table, so a session bound to a user UUID can be re-scoped to
// the right site without ambiguity.
type User struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UUID   string `gorm:"uniqueIndex;not null" json:"uuid"`
	SiteID string `gorm:"not null;uniqueIndex:idx_users_site_email" json:"-"`
	Email  string `gorm:"not null;uniqueIndex:idx_users_site_email" json:"email"`

	CreatedAt time.Time `json:"created_at"`
}

// Permission is a grant edge between one location and one user, both
// belonging to the same site. At most one permission exists per
// (location, user) pair.
type Permission struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	SiteID     string `gorm:"index;not null" json:"-"`
	LocationID uint   `gorm:"not null;uniqueIndex:idx_permissions_location_user" json:"-"`
	UserID     uint   `gorm:"not null;uniqueIndex:idx_permissions_location_user" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// Email validation regexp used by BrowserID:
// browserid/static/dialog/resources/validation.js
var emailRe = regexp.MustCompile(
	`^[\w.!#$%&'*+\-/=?^` + "`" + `{|}~]+@[a-z0-9-]+(\.[a-z0-9-]+)+$`)

// NormalizeEmail lower-cases and validates an email address. Emails
// are lower-cased so users do not need to sign in with the exact
// capitalization they were added with. Returns the normalized email
// and whether it is valid.
func NormalizeEmail(email string) (string, bool) {
	normalized := strings.ToLower(email)

	return normalized, emailRe.MatchString(normalized)
}
