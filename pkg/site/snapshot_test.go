package site

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/store"
)

func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()

	return NewSnapshot(&store.SiteData{
		Site: store.Site{
			SiteID:     "site-1",
			ModID:      3,
			SkinTitle:  "Intranet",
			SkinHeader: "Restricted",
		},
		Aliases: []store.Alias{
			{ID: 1, SiteID: "site-1", URL: "https://example.org"},
			{ID: 2, SiteID: "site-1", URL: "http://example.org:8080"},
		},
		Locations: []store.Location{
			{
				ID:         1,
				UUID:       "loc-root",
				SiteID:     "site-1",
				Path:       "/",
				OpenAccess: store.OpenAccessDisabled,
			},
			{
				ID:         2,
				UUID:       "loc-foo-bar",
				SiteID:     "site-1",
				Path:       "/foo/bar",
				OpenAccess: store.OpenAccessDisabled,
			},
			{
				ID:         3,
				UUID:       "loc-foo-bar-baz",
				SiteID:     "site-1",
				Path:       "/foo/bar/baz",
				OpenAccess: store.OpenAccessDisabled,
			},
			{
				ID:         4,
				UUID:       "loc-pub",
				SiteID:     "site-1",
				Path:       "/pub/",
				OpenAccess: store.OpenAccessNoLogin,
			},
			{
				ID:         5,
				UUID:       "loc-wiki",
				SiteID:     "site-1",
				Path:       "/wiki",
				OpenAccess: store.OpenAccessWithLogin,
			},
		},
		Users: []store.User{
			{ID: 1, UUID: "user-alice", SiteID: "site-1", Email: "alice@example.org"},
			{ID: 2, UUID: "user-bob", SiteID: "site-1", Email: "bob@example.org"},
		},
		Permissions: []store.Permission{
			{ID: 1, SiteID: "site-1", LocationID: 2, UserID: 1},
			{ID: 2, SiteID: "site-1", LocationID: 3, UserID: 2},
		},
	})
}

func TestFindLocation(t *testing.T) {
	snap := testSnapshot(t)

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "root exact", path: "/", expected: "loc-root"},
		{name: "root covers top level", path: "/about", expected: "loc-root"},
		{name: "exact match wins", path: "/foo/bar", expected: "loc-foo-bar"},
		{
			name:     "nested longest prefix wins",
			path:     "/foo/bar/baz",
			expected: "loc-foo-bar-baz",
		},
		{
			name:     "below nested location",
			path:     "/foo/bar/baz/file.txt",
			expected: "loc-foo-bar-baz",
		},
		{
			name:     "sibling of nested falls back",
			path:     "/foo/bar/qux",
			expected: "loc-foo-bar",
		},
		{
			// '/foo/barr' shares bytes with '/foo/bar' but the
			// boundary is not a path separator.
			name:     "prefix without separator does not match",
			path:     "/foo/barr",
			expected: "loc-root",
		},
		{name: "trailing slash location exact", path: "/pub/", expected: "loc-pub"},
		{
			// '/pub' is not under '/pub/'; the root location covers it.
			name:     "trailing slash location without slash",
			path:     "/pub",
			expected: "loc-root",
		},
		{name: "under trailing slash location", path: "/pub/a/b", expected: "loc-pub"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			location := snap.FindLocation(test.path)
			require.NotNil(t, location)
			assert.Equal(t, test.expected, location.UUID)
		})
	}
}

func TestFindLocation_NoMatch(t *testing.T) {
	snap := NewSnapshot(&store.SiteData{
		Site: store.Site{SiteID: "site-1", ModID: 1},
		Locations: []store.Location{
			{ID: 1, UUID: "loc-foo", SiteID: "site-1", Path: "/foo"},
		},
	})

	assert.Nil(t, snap.FindLocation("/"))
	assert.Nil(t, snap.FindLocation("/bar"))
	assert.Nil(t, snap.FindLocation("/fooo"))
	assert.NotNil(t, snap.FindLocation("/foo/sub"))
}

func TestCanAccess(t *testing.T) {
	snap := testSnapshot(t)

	alice := snap.UserByEmail("alice@example.org")
	require.NotNil(t, alice)

	bob := snap.UserByUUID("user-bob")
	require.NotNil(t, bob)

	stranger := &User{UUID: "user-stranger", Email: "stranger@example.org"}

	tests := []struct {
		name    string
		path    string
		user    *User
		allowed bool
	}{
		{name: "granted user", path: "/foo/bar", user: alice, allowed: true},
		{name: "ungranted user", path: "/foo/bar", user: bob, allowed: false},
		{name: "anonymous", path: "/foo/bar", user: nil, allowed: false},
		{
			name:    "grant does not leak to nested location",
			path:    "/foo/bar/baz",
			user:    alice,
			allowed: false,
		},
		{name: "nested grant", path: "/foo/bar/baz", user: bob, allowed: true},
		{name: "open no login anonymous", path: "/pub/x", user: nil, allowed: true},
		{name: "open no login stranger", path: "/pub/x", user: stranger, allowed: true},
		{name: "open with login anonymous", path: "/wiki", user: nil, allowed: false},
		{name: "open with login member", path: "/wiki/page", user: bob, allowed: true},
		{
			name:    "open with login any identity",
			path:    "/wiki",
			user:    stranger,
			allowed: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			location := snap.FindLocation(test.path)
			require.NotNil(t, location)
			assert.Equal(t, test.allowed, location.CanAccess(test.user))
		})
	}
}

func TestSnapshotLookups(t *testing.T) {
	snap := testSnapshot(t)

	assert.True(t, snap.HasAlias("https://example.org"))
	assert.True(t, snap.HasAlias("http://example.org:8080"))
	assert.False(t, snap.HasAlias("https://other.org"))

	assert.Nil(t, snap.UserByEmail("nobody@example.org"))
	assert.Nil(t, snap.UserByUUID("user-nobody"))

	assert.True(t, snap.HasOpenLocationWithLogin())
	assert.Equal(t, "Intranet", snap.Skin.Title)
	assert.Equal(t, int64(3), snap.ModID)
}

func TestHasOpenLocationWithLogin_False(t *testing.T) {
	snap := NewSnapshot(&store.SiteData{
		Site: store.Site{SiteID: "site-1", ModID: 1},
		Locations: []store.Location{
			{ID: 1, UUID: "loc-pub", SiteID: "site-1", Path: "/", OpenAccess: store.OpenAccessNoLogin},
		},
	})

	assert.False(t, snap.HasOpenLocationWithLogin())
}

func TestOpenAccessModes(t *testing.T) {
	disabled := &Location{OpenAccess: store.OpenAccessDisabled}
	open := &Location{OpenAccess: store.OpenAccessNoLogin}
	withLogin := &Location{OpenAccess: store.OpenAccessWithLogin}

	assert.False(t, disabled.OpenAccessGranted())
	assert.True(t, open.OpenAccessGranted())
	assert.True(t, withLogin.OpenAccessGranted())

	assert.False(t, open.OpenAccessRequiresLogin())
	assert.True(t, withLogin.OpenAccessRequiresLogin())
}
