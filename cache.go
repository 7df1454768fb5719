package fragments

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// FragmentCacher stores the raw markup of fragments that have already been
// fetched, keyed by their source, so each source only needs to be fetched
// once.
type FragmentCacher interface {
	// GetCachedFragment returns the markup cached for source. It should
	// return nil if the fragment hasn't been cached yet.
	GetCachedFragment(ctx context.Context, source string) *string

	// SetCachedFragment stores markup under source, for later retrieval
	// with GetCachedFragment.
	//
	// Any errors encountered should be logged, but as this is a
	// best-effort operation, will not be surfaced outside the function.
	SetCachedFragment(ctx context.Context, source, markup string)
}

var _ FragmentCacher = &MemoryCache{}
var _ FragmentCacher = &ExpiringCache{}

// MemoryCache is an unbounded, append-only FragmentCacher. Entries are never
// evicted, so it should live as long as a single page view: the Loader
// creates a fresh one unless told otherwise. A MemoryCache must be
// instantiated through NewMemoryCache, its empty value is not usable.
type MemoryCache struct {
	fragments   map[string]string
	fragmentsMu sync.RWMutex
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		fragments: map[string]string{},
	}
}

// GetCachedFragment returns the markup cached for source, or nil.
//
// It can safely be used by multiple goroutines.
func (c *MemoryCache) GetCachedFragment(_ context.Context, source string) *string {
	c.fragmentsMu.RLock()
	defer c.fragmentsMu.RUnlock()
	markup, ok := c.fragments[source]
	if !ok {
		return nil
	}
	return &markup
}

// SetCachedFragment caches markup for source. The last write for a source
// wins.
//
// It can safely be used by multiple goroutines.
func (c *MemoryCache) SetCachedFragment(_ context.Context, source, markup string) {
	c.fragmentsMu.Lock()
	defer c.fragmentsMu.Unlock()
	c.fragments[source] = markup
}

// Len returns the number of cached fragments.
func (c *MemoryCache) Len() int {
	c.fragmentsMu.RLock()
	defer c.fragmentsMu.RUnlock()
	return len(c.fragments)
}

// ExpiringCache is a FragmentCacher whose entries expire after a TTL. It's
// meant to be shared by Loaders in long-lived processes that assemble many
// page views, where MemoryCache would never notice a fragment changing.
type ExpiringCache struct {
	store *cache.Cache
}

// NewExpiringCache returns an ExpiringCache whose entries live for ttl. A
// ttl of zero or less means entries never expire.
func NewExpiringCache(ttl time.Duration) *ExpiringCache {
	if ttl <= 0 {
		return &ExpiringCache{store: cache.New(cache.NoExpiration, 0)}
	}
	return &ExpiringCache{store: cache.New(ttl, 2*ttl)}
}

// GetCachedFragment returns the markup cached for source, or nil if it was
// never cached or has expired.
func (c *ExpiringCache) GetCachedFragment(_ context.Context, source string) *string {
	val, ok := c.store.Get(source)
	if !ok {
		return nil
	}
	markup, ok := val.(string)
	if !ok {
		return nil
	}
	return &markup
}

// SetCachedFragment caches markup for source with the cache's TTL.
func (c *ExpiringCache) SetCachedFragment(_ context.Context, source, markup string) {
	c.store.SetDefault(source, markup)
}

// Flush drops every cached fragment.
func (c *ExpiringCache) Flush() {
	c.store.Flush()
}
