// Package cache provides the TTL-keyed payload cache used for downstream
// portal reads. It defines the Cache interface, the composite key scheme,
// and a read-through helper; implementations live here (memory) and in the
// redis subpackage.
//
// The cache is a generic namespaced TTL store: it knows nothing about
// accounts. Keys carry an owner component so one owner's entries can be
// cleared in bulk when their active account changes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMiss indicates the key is absent or expired. The two cases are
// indistinguishable to callers.
var ErrMiss = errors.New("cache miss")

// ErrUnavailable indicates the cache backend is unreachable. Callers treat
// this as a soft failure: fetch directly from the downstream collaborator
// and skip caching for that call.
var ErrUnavailable = errors.New("cache unavailable")

// Key is a composite cache key. Kind names the resource (e.g. "schedule",
// "grades"), Owner scopes the entry to one chat user, and Qualifier
// disambiguates sub-resources such as a specific class section.
type Key struct {
	Kind      string
	Owner     int64
	Qualifier string
}

// String renders the key as "owner:kind" or "owner:kind:qualifier". The
// owner leads so a backend can clear one owner's namespace by prefix
// without a qualifier ever masquerading as an owner component.
func (k Key) String() string {
	s := strconv.FormatInt(k.Owner, 10) + ":" + k.Kind
	if k.Qualifier != "" {
		s += ":" + k.Qualifier
	}
	return s
}

// Entry is a cached payload together with the time it was stored. StoredAt
// is surfaced to end users as a "data as of" marker, so it always comes
// back from the cache rather than being recomputed at render time.
type Entry struct {
	Payload  []byte
	StoredAt time.Time
}

// Cache defines the interface for TTL payload caching.
type Cache interface {
	// Get returns the entry for key, or ErrMiss when absent or expired.
	Get(ctx context.Context, key Key) (Entry, error)

	// Set stores payload under key for ttl. Re-setting an existing key
	// overwrites it; same-key races resolve last-write-wins.
	Set(ctx context.Context, key Key, payload []byte, ttl time.Duration) error

	// ClearOwner deletes every entry whose key's owner component matches.
	ClearOwner(ctx context.Context, owner int64) error

	// Close releases cache resources.
	Close() error
}

// FetchFunc produces a fresh payload on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

func validateKey(key Key) error {
	if key.Kind == "" {
		return fmt.Errorf("cache key has empty kind")
	}
	return nil
}
