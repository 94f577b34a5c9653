package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader implements the get-or-compute pattern over a Cache. Concurrent
// misses of the same key are collapsed into a single downstream fetch.
type Loader struct {
	cache Cache
	group singleflight.Group
}

// NewLoader creates a read-through loader over c.
func NewLoader(c Cache) *Loader {
	return &Loader{cache: c}
}

// GetOrCompute returns the cached entry for key, fetching and populating it
// on a miss. The returned StoredAt comes from the cache whenever possible,
// so repeated reads of the same entry before expiry report the same
// "data as of" time.
//
// When the cache is unreachable the fetch still runs and its result is
// returned uncached; the caller's request succeeds at the cost of a
// downstream round trip.
func (l *Loader) GetOrCompute(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc) (Entry, error) {
	entry, err := l.cache.Get(ctx, key)
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, ErrUnavailable) {
		return l.fetchDirect(ctx, fetch)
	}
	if !errors.Is(err, ErrMiss) {
		return Entry{}, fmt.Errorf("cache get %s: %w", key, err)
	}

	result, err, _ := l.group.Do(key.String(), func() (any, error) {
		// Another flight may have populated the key while we waited.
		if entry, err := l.cache.Get(ctx, key); err == nil {
			return entry, nil
		}

		payload, err := fetch(ctx)
		if err != nil {
			return Entry{}, err
		}

		if err := l.cache.Set(ctx, key, payload, ttl); err != nil {
			// Soft failure: serve the fresh payload uncached.
			return Entry{Payload: payload, StoredAt: time.Now()}, nil
		}

		// Read back so StoredAt reflects what later reads will see.
		if entry, err := l.cache.Get(ctx, key); err == nil {
			return entry, nil
		}
		return Entry{Payload: payload, StoredAt: time.Now()}, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return result.(Entry), nil
}

func (l *Loader) fetchDirect(ctx context.Context, fetch FetchFunc) (Entry, error) {
	payload, err := fetch(ctx)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Payload: payload, StoredAt: time.Now()}, nil
}
