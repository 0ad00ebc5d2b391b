package cache

import (
	"time"

	"aircal/internal/store"
)

const (
	CoverStoreKey   = "cover-cache"
	DefaultCoverTTL = 7 * 24 * time.Hour
)

// CoverEntry is the cached cover for one event type.
type CoverEntry struct {
	Keywords  []string  `json:"keywords"`
	ImageURL  string    `json:"imageUrl"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// CoverCache holds cover entries that expire TTL after FetchedAt. Expired
// entries stay in place until overwritten.
type CoverCache struct {
	m   *Map[CoverEntry]
	ttl time.Duration
	now func() time.Time
}

// LoadCover builds a CoverCache. ttl <= 0 selects DefaultCoverTTL; a nil
// now uses time.Now.
func LoadCover(s store.Store, ttl time.Duration, now func() time.Time) *CoverCache {
	if ttl <= 0 {
		ttl = DefaultCoverTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CoverCache{
		m:   Load[CoverEntry](s, CoverStoreKey),
		ttl: ttl,
		now: now,
	}
}

// Get returns the entry for key if it exists and is still fresh.
func (c *CoverCache) Get(key string) (CoverEntry, bool) {
	e, ok := c.m.Get(key)
	if !ok {
		return CoverEntry{}, false
	}
	if c.now().Sub(e.FetchedAt) >= c.ttl {
		return CoverEntry{}, false
	}
	return e, true
}

func (c *CoverCache) Put(key string, e CoverEntry) {
	c.m.Set(key, e)
}

func (c *CoverCache) Now() time.Time {
	return c.now()
}

func (c *CoverCache) Len() int {
	return c.m.Len()
}
