package usecase

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"tg-filestream/internal/domain"
)

// LocatorCache is a bounded per-identity LRU of message id to file locator,
// with a short negative cache for references known to be gone so repeated
// requests for a deleted file do not hammer the platform.
type LocatorCache struct {
	entries  *lru.Cache[int64, *domain.FileLocator]
	negative *expirable.LRU[int64, struct{}]
}

// NewLocatorCache creates a cache holding up to size locators. Negative
// entries expire after negTTL.
func NewLocatorCache(size int, negTTL time.Duration) *LocatorCache {
	if size <= 0 {
		size = 1000
	}
	entries, err := lru.New[int64, *domain.FileLocator](size)
	if err != nil {
		// lru.New only fails on non-positive size.
		panic(err)
	}
	return &LocatorCache{
		entries:  entries,
		negative: expirable.NewLRU[int64, struct{}](size, nil, negTTL),
	}
}

// Lookup returns the locator for msgID, resolving through gw on a miss and
// caching the result. A resolution that reports the reference gone is
// negatively cached for the configured TTL.
func (c *LocatorCache) Lookup(ctx context.Context, gw domain.MediaGateway, msgID int64) (*domain.FileLocator, error) {
	if loc, ok := c.entries.Get(msgID); ok {
		locatorCacheHits.Inc()
		return loc, nil
	}
	locatorCacheMisses.Inc()

	if _, gone := c.negative.Get(msgID); gone {
		return nil, domain.ErrReferenceNotFound
	}

	loc, err := gw.ResolveLocator(ctx, msgID)
	if err != nil {
		if errors.Is(err, domain.ErrReferenceNotFound) {
			c.negative.Add(msgID, struct{}{})
		}
		return nil, err
	}

	c.entries.Add(msgID, loc)
	return loc, nil
}

// Invalidate drops the locator for msgID, forcing re-resolution.
func (c *LocatorCache) Invalidate(msgID int64) {
	c.entries.Remove(msgID)
}

// Len returns the number of positive entries held.
func (c *LocatorCache) Len() int { return c.entries.Len() }
