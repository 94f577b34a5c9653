package account

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory maps. It is used by tests
// and single-process deployments that do not need durability.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]map[string]*Account
	payloads map[int64]map[string]json.RawMessage
	prefs    map[int64]string
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]map[string]*Account),
		payloads: make(map[int64]map[string]json.RawMessage),
		prefs:    make(map[int64]string),
	}
}

// Add upserts the account, deactivates siblings, and stores the payload.
func (s *MemoryStore) Add(_ context.Context, acct Account, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.accounts[acct.Owner]
	if owned == nil {
		owned = make(map[string]*Account)
		s.accounts[acct.Owner] = owned
		s.payloads[acct.Owner] = make(map[string]json.RawMessage)
	}

	for _, sibling := range owned {
		sibling.Active = false
	}

	now := time.Now()
	stored := acct
	stored.Active = true
	stored.UpdatedAt = now
	if existing, ok := owned[acct.Username]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.Preference = existing.Preference
	} else {
		stored.CreatedAt = now
		stored.Preference = s.prefs[acct.Owner]
	}
	owned[acct.Username] = &stored
	s.payloads[acct.Owner][acct.Username] = append(json.RawMessage(nil), payload...)
	return nil
}

// SetActive activates the named account and deactivates the rest.
func (s *MemoryStore) SetActive(_ context.Context, owner int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.accounts[owner]
	target, ok := owned[username]
	if !ok {
		// Previous active account stays untouched.
		return ErrNotFound
	}

	for _, sibling := range owned {
		sibling.Active = false
	}
	target.Active = true
	target.UpdatedAt = time.Now()
	return nil
}

// GetActive returns the owner's active account.
func (s *MemoryStore) GetActive(_ context.Context, owner int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Account
	for _, acct := range s.accounts[owner] {
		if !acct.Active {
			continue
		}
		if best == nil || acct.UpdatedAt.After(best.UpdatedAt) {
			best = acct
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// List returns the owner's accounts in the requested order.
func (s *MemoryStore) List(_ context.Context, owner int64, order Order) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Account, 0, len(s.accounts[owner]))
	for _, acct := range s.accounts[owner] {
		result = append(result, *acct)
	}

	switch order {
	case OrderRecentActivity:
		sort.Slice(result, func(i, j int) bool {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		})
	default:
		sort.Slice(result, func(i, j int) bool {
			if result[i].Active != result[j].Active {
				return result[i].Active
			}
			return result[i].CreatedAt.After(result[j].CreatedAt)
		})
	}
	return result, nil
}

// SessionPayload returns the stored login response for the named account.
func (s *MemoryStore) SessionPayload(_ context.Context, owner int64, username string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.payloads[owner][username]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), payload...), nil
}

// Remove deletes the named account and its session record.
func (s *MemoryStore) Remove(_ context.Context, owner int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.accounts[owner]
	if _, ok := owned[username]; !ok {
		return ErrNotFound
	}
	delete(owned, username)
	delete(s.payloads[owner], username)
	return nil
}

// RemoveAll deletes every account for the owner.
func (s *MemoryStore) RemoveAll(_ context.Context, owner int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, owner)
	delete(s.payloads, owner)
	delete(s.prefs, owner)
	return nil
}

// HasAny reports whether the owner holds at least one account.
func (s *MemoryStore) HasAny(_ context.Context, owner int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.accounts[owner]) > 0, nil
}

// Owners returns the distinct owners holding at least one account.
func (s *MemoryStore) Owners(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]int64, 0, len(s.accounts))
	for owner, owned := range s.accounts {
		if len(owned) > 0 {
			owners = append(owners, owner)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// SetPreference stores the owner-level preference value.
func (s *MemoryStore) SetPreference(_ context.Context, owner int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		delete(s.prefs, owner)
	} else {
		s.prefs[owner] = value
	}
	for _, acct := range s.accounts[owner] {
		acct.Preference = value
	}
	return nil
}

// Preference returns the owner's preference value, or "" when unset.
func (s *MemoryStore) Preference(_ context.Context, owner int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.prefs[owner], nil
}

// Close releases store resources.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
