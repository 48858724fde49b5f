package site

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/store"
)

func newTestCache(t *testing.T) (*Cache, store.Store) {
	t.Helper()

	st := store.NewStore(
		logrus.New(),
		&config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "test.db"),
			},
		},
		config.LimitsConfig{
			UsersPerSite:     10,
			LocationsPerSite: 10,
			AliasesPerSite:   5,
		},
	)

	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	return NewCache(logrus.New(), st, time.Hour), st
}

func TestCacheGet(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))

	snap, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, "site-1", snap.SiteID)

	// Unchanged site, the cached snapshot is reused.
	again, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.Same(t, snap, again)
}

func TestCacheGet_NotFound(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestCacheGet_ReloadsAfterMutation(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))

	snap, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.Nil(t, snap.FindLocation("/docs"))

	_, err = st.CreateLocation(ctx, "site-1", "/docs")
	require.NoError(t, err)

	fresh, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.NotSame(t, snap, fresh)
	assert.Greater(t, fresh.ModID, snap.ModID)
	assert.NotNil(t, fresh.FindLocation("/docs"))

	// The old snapshot stays frozen at its counter value.
	assert.Nil(t, snap.FindLocation("/docs"))
}

func TestCacheGet_GrantVisibleAfterReload(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))

	location, err := st.CreateLocation(ctx, "site-1", "/docs")
	require.NoError(t, err)

	user, err := st.CreateUser(ctx, "site-1", "alice@example.org")
	require.NoError(t, err)

	snap, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.False(
		t, snap.FindLocation("/docs").CanAccess(snap.UserByUUID(user.UUID)),
	)

	_, _, err = st.GrantPermission(ctx, "site-1", location.UUID, user.UUID)
	require.NoError(t, err)

	snap, err = cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.True(
		t, snap.FindLocation("/docs").CanAccess(snap.UserByUUID(user.UUID)),
	)

	require.NoError(
		t, st.RevokePermission(ctx, "site-1", location.UUID, user.UUID),
	)

	snap, err = cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.False(
		t, snap.FindLocation("/docs").CanAccess(snap.UserByUUID(user.UUID)),
	)
}

func TestCacheGetByAlias(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))
	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-2"}))

	_, err := st.CreateAlias(ctx, "site-1", "https://one.example.org")
	require.NoError(t, err)

	_, err = st.CreateAlias(ctx, "site-2", "https://two.example.org")
	require.NoError(t, err)

	snap, err := cache.GetByAlias(ctx, "https://one.example.org")
	require.NoError(t, err)
	assert.Equal(t, "site-1", snap.SiteID)

	// Second resolution hits the in-memory alias index.
	snap, err = cache.GetByAlias(ctx, "https://one.example.org")
	require.NoError(t, err)
	assert.Equal(t, "site-1", snap.SiteID)

	snap, err = cache.GetByAlias(ctx, "https://two.example.org")
	require.NoError(t, err)
	assert.Equal(t, "site-2", snap.SiteID)

	_, err = cache.GetByAlias(ctx, "https://nowhere.example.org")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestCacheGetByAlias_StaleMapping(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))
	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-2"}))

	alias, err := st.CreateAlias(ctx, "site-1", "https://moved.example.org")
	require.NoError(t, err)

	snap, err := cache.GetByAlias(ctx, "https://moved.example.org")
	require.NoError(t, err)
	assert.Equal(t, "site-1", snap.SiteID)

	// Move the alias to the other site behind the cache's back.
	require.NoError(t, st.DeleteAlias(ctx, "site-1", alias.ID))

	_, err = st.CreateAlias(ctx, "site-2", "https://moved.example.org")
	require.NoError(t, err)

	snap, err = cache.GetByAlias(ctx, "https://moved.example.org")
	require.NoError(t, err)
	assert.Equal(t, "site-2", snap.SiteID)
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))

	snap, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)

	cache.Invalidate("site-1")

	fresh, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.NotSame(t, snap, fresh)
	assert.Equal(t, snap.ModID, fresh.ModID)
}

func TestCacheGet_DeletedSite(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))

	_, err := st.CreateAlias(ctx, "site-1", "https://gone.example.org")
	require.NoError(t, err)

	_, err = cache.Get(ctx, "site-1")
	require.NoError(t, err)

	require.NoError(t, st.DeleteSite(ctx, "site-1"))

	_, err = cache.Get(ctx, "site-1")
	assert.ErrorIs(t, err, ErrSiteNotFound)

	_, err = cache.GetByAlias(ctx, "https://gone.example.org")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestCachePrune(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	require.NoError(t, st.CreateSite(ctx, &store.Site{SiteID: "site-1"}))

	_, err := st.CreateAlias(ctx, "site-1", "https://idle.example.org")
	require.NoError(t, err)

	snap, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)

	cache.prune(time.Now().Add(2 * time.Hour))

	cache.mu.RLock()
	_, cached := cache.items["site-1"]
	_, indexed := cache.byAlias["https://idle.example.org"]
	cache.mu.RUnlock()

	assert.False(t, cached)
	assert.False(t, indexed)

	// A pruned site is simply reloaded on demand.
	fresh, err := cache.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.NotSame(t, snap, fresh)
}
