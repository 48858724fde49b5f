package site

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gatewarden/gatewarden/pkg/store"
)

const (
	pruneInterval = 5 * time.Minute

	// DefaultMaxIdle is how long an unused snapshot stays cached.
	DefaultMaxIdle = 30 * time.Minute
)

// ErrSiteNotFound indicates no site matches the requested id or alias.
var ErrSiteNotFound = errors.New("site: not found")

type entry struct {
	snap     *Snapshot
	lastUsed time.Time
}

// Cache keeps one immutable snapshot per recently used site.
//
// Authorization runs on the hot path of every request to every
// protected site, while grants and revocations are rare
// administrative actions. A cache hit therefore costs a single
// lightweight version query; only a counter mismatch (or a cold
// site) pays for a full reload. Readers never block each other and a
// reload publishes a complete snapshot atomically under the write
// lock, so a reader sees the old state or the new state, never a mix.
type Cache struct {
	log     logrus.FieldLogger
	store   store.Store
	maxIdle time.Duration

	mu      sync.RWMutex
	items   map[string]*entry
	byAlias map[string]string
}

// NewCache creates a snapshot cache over the given store. maxIdle
// bounds how long an unused snapshot survives before the pruner
// drops it; zero means DefaultMaxIdle.
func NewCache(
	log logrus.FieldLogger, st store.Store, maxIdle time.Duration,
) *Cache {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}

	return &Cache{
		log:     log.WithField("component", "sitecache"),
		store:   st,
		maxIdle: maxIdle,
		items:   make(map[string]*entry),
		byAlias: make(map[string]string),
	}
}

// Get returns a fresh snapshot for a site. A cached snapshot is
// returned unchanged when its captured modification counter still
// equals the live one; otherwise the site is reloaded. Returns
// ErrSiteNotFound when the site does not exist (anymore).
func (c *Cache) Get(ctx context.Context, siteID string) (*Snapshot, error) {
	c.mu.RLock()
	cached, ok := c.items[siteID]
	c.mu.RUnlock()

	if ok {
		version, err := c.store.GetSiteVersion(ctx, siteID)

		switch {
		case errors.Is(err, store.ErrNotFound):
			c.evict(siteID)

			return nil, ErrSiteNotFound
		case err != nil:
			return nil, fmt.Errorf("checking site version: %w", err)
		case version == cached.snap.ModID:
			c.touch(siteID)

			return cached.snap, nil
		}

		c.log.WithField("site", siteID).Debug("Snapshot obsolete, reloading")
	}

	return c.load(ctx, siteID)
}

// GetByAlias resolves a scheme://host[:port] URL to a site snapshot.
func (c *Cache) GetByAlias(ctx context.Context, url string) (*Snapshot, error) {
	c.mu.RLock()
	siteID, ok := c.byAlias[url]
	c.mu.RUnlock()

	if ok {
		snap, err := c.Get(ctx, siteID)
		// The alias mapping may be stale: confirm against the fresh
		// snapshot and fall through to a store lookup when it moved.
		if err == nil && snap.HasAlias(url) {
			return snap, nil
		}
	}

	siteID, err := c.store.FindSiteByAlias(ctx, url)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSiteNotFound
		}

		return nil, fmt.Errorf("resolving alias: %w", err)
	}

	return c.Get(ctx, siteID)
}

// Invalidate drops a cached snapshot, forcing the next Get to reload.
func (c *Cache) Invalidate(siteID string) {
	c.evict(siteID)
}

// Run prunes idle snapshots until the context is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.prune(time.Now())
		}
	}
}

func (c *Cache) load(ctx context.Context, siteID string) (*Snapshot, error) {
	data, err := c.store.GetSiteData(ctx, siteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.evict(siteID)

			return nil, ErrSiteNotFound
		}

		return nil, fmt.Errorf("loading site: %w", err)
	}

	snap := NewSnapshot(data)

	c.mu.Lock()

	if old, ok := c.items[siteID]; ok {
		for url := range old.snap.aliases {
			delete(c.byAlias, url)
		}
	}

	c.items[siteID] = &entry{snap: snap, lastUsed: time.Now()}

	for url := range snap.aliases {
		c.byAlias[url] = siteID
	}

	c.mu.Unlock()

	c.log.WithField("site", siteID).
		WithField("version", snap.ModID).
		Debug("Site snapshot loaded")

	return snap, nil
}

func (c *Cache) evict(siteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.items[siteID]
	if !ok {
		return
	}

	for url := range cached.snap.aliases {
		delete(c.byAlias, url)
	}

	delete(c.items, siteID)
}

func (c *Cache) touch(siteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.items[siteID]; ok {
		cached.lastUsed = time.Now()
	}
}

func (c *Cache) prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for siteID, cached := range c.items {
		if now.Sub(cached.lastUsed) <= c.maxIdle {
			continue
		}

		for url := range cached.snap.aliases {
			delete(c.byAlias, url)
		}

		delete(c.items, siteID)

		c.log.WithField("site", siteID).Debug("Pruned idle snapshot")
	}
}
