package resilience

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cacheEntry[T any] struct {
	value    T
	storedAt time.Time
}

// StaleCache is a stale-while-revalidate cache: entries are served for the
// whole staleTime window but flagged stale once past half of it, so callers
// can show degraded-but-present data while a refresh is in flight.
type StaleCache[T any] struct {
	staleTime time.Duration
	entries   *expirable.LRU[string, cacheEntry[T]]
	now       func() time.Time
}

func NewStaleCache[T any](size int, staleTime time.Duration) *StaleCache[T] {
	if size <= 0 {
		size = 128
	}
	return &StaleCache[T]{
		staleTime: staleTime,
		entries:   expirable.NewLRU[string, cacheEntry[T]](size, nil, staleTime),
		now:       time.Now,
	}
}

func (c *StaleCache[T]) Put(key string, value T) {
	c.entries.Add(key, cacheEntry[T]{value: value, storedAt: c.now()})
}

// Get returns the cached value, whether it is stale, and whether it exists.
func (c *StaleCache[T]) Get(key string) (T, bool, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		var zero T
		return zero, false, false
	}
	stale := c.now().Sub(entry.storedAt) > c.staleTime/2
	return entry.value, stale, true
}
