package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/campuskit/portal-core/pkg/account"
	"github.com/campuskit/portal-core/pkg/cache"
	"github.com/campuskit/portal-core/pkg/secrets"
	"github.com/campuskit/portal-core/pkg/token"
)

// Manager is the account-facing surface of the portal. It composes the
// store, the cache and the credential cipher, and keeps the cache honest:
// every account mutation clears the owner's cache namespace after the
// store commit, so no later read serves data fetched under a previous
// account.
type Manager struct {
	store  account.Store
	cache  cache.Cache
	cipher secrets.Cipher
	logger *slog.Logger
}

// NewManager creates a manager. cache may be nil when no caching is in
// play; cipher may be nil to store credentials as-is.
func NewManager(store account.Store, c cache.Cache, cipher secrets.Cipher, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("portal: account store is required")
	}
	if cipher == nil {
		cipher = secrets.NopCipher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, cache: c, cipher: cipher, logger: logger}, nil
}

// AddAccountParams carries one login's worth of data into AddAccount.
type AddAccountParams struct {
	Owner      int64
	Username   string
	Credential string

	// DeviceID is the device identifier presented to the portal. A fresh
	// UUID is generated when empty; each login stores the identifier it
	// was made with.
	DeviceID string

	// DisplayName overrides the name extracted from Payload.
	DisplayName string

	// Payload is the raw login response from the downstream portal.
	Payload json.RawMessage

	// Preference optionally sets the owner preference alongside the
	// account.
	Preference string
}

// AddAccount stores a freshly authenticated account, makes it the owner's
// active one, and clears the owner's cache namespace.
func (m *Manager) AddAccount(ctx context.Context, params AddAccountParams) error {
	if params.Owner == 0 {
		return errors.New("portal: owner is required")
	}
	if params.Username == "" {
		return errors.New("portal: username is required")
	}
	if params.Credential == "" {
		return errors.New("portal: credential is required")
	}

	deviceID := params.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	displayName := params.DisplayName
	if displayName == "" {
		displayName = token.DisplayName(params.Payload)
	}

	sealed, err := m.cipher.Encrypt(params.Credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	acct := account.Account{
		Owner:       params.Owner,
		Username:    params.Username,
		Credential:  sealed,
		DeviceID:    deviceID,
		DisplayName: displayName,
	}
	if err := m.store.Add(ctx, acct, params.Payload); err != nil {
		return fmt.Errorf("storing account: %w", err)
	}

	if params.Preference != "" {
		if err := m.store.SetPreference(ctx, params.Owner, params.Preference); err != nil {
			return fmt.Errorf("storing preference: %w", err)
		}
	}

	m.clearOwner(ctx, params.Owner, "add account")
	m.logger.Info("account added", "owner", params.Owner, "username", params.Username)
	return nil
}

// SetActiveAccount switches the owner's active account and clears the
// owner's cache namespace.
func (m *Manager) SetActiveAccount(ctx context.Context, owner int64, username string) error {
	if err := m.store.SetActive(ctx, owner, username); err != nil {
		return err
	}

	m.clearOwner(ctx, owner, "switch account")
	m.logger.Info("active account switched", "owner", owner, "username", username)
	return nil
}

// GetActiveAccount returns the owner's active account, or
// account.ErrNotFound when none is active.
func (m *Manager) GetActiveAccount(ctx context.Context, owner int64) (*account.Account, error) {
	return m.store.GetActive(ctx, owner)
}

// ListAccounts returns the owner's accounts, active first.
func (m *Manager) ListAccounts(ctx context.Context, owner int64) ([]account.Account, error) {
	return m.store.List(ctx, owner, account.OrderActiveFirst)
}

// IsAnyAccountPresent reports whether the owner holds at least one
// account.
func (m *Manager) IsAnyAccountPresent(ctx context.Context, owner int64) (bool, error) {
	return m.store.HasAny(ctx, owner)
}

// Credential returns the named account's plaintext credential for replay
// against the downstream portal.
func (m *Manager) Credential(ctx context.Context, owner int64, username string) (string, error) {
	accounts, err := m.store.List(ctx, owner, account.OrderActiveFirst)
	if err != nil {
		return "", err
	}
	for _, acct := range accounts {
		if acct.Username == username {
			plaintext, err := m.cipher.Decrypt(acct.Credential)
			if err != nil {
				return "", fmt.Errorf("unsealing credential for %s: %w", username, err)
			}
			return plaintext, nil
		}
	}
	return "", account.ErrNotFound
}

// ResolveToken extracts the requested token generation from the active
// account's stored session payload. Returns account.ErrNotFound when the
// owner has no active account and token.ErrCredentialUnresolved when the
// payload holds no usable token.
func (m *Manager) ResolveToken(ctx context.Context, owner int64, gen token.Generation) (string, error) {
	active, err := m.store.GetActive(ctx, owner)
	if err != nil {
		return "", err
	}

	payload, err := m.store.SessionPayload(ctx, owner, active.Username)
	if err != nil {
		return "", err
	}

	return token.Resolve(payload, gen)
}

// SessionPayload returns the named account's stored login response with
// token material redacted, for diagnostics and display.
func (m *Manager) SessionPayload(ctx context.Context, owner int64, username string) (json.RawMessage, error) {
	payload, err := m.store.SessionPayload(ctx, owner, username)
	if err != nil {
		return nil, err
	}
	return token.Redact(payload), nil
}

// RemoveAccount deletes the named account and clears the owner's cache
// namespace. When promote is true and the removed account was the active
// one, the most recently created survivor is activated.
func (m *Manager) RemoveAccount(ctx context.Context, owner int64, username string, promote bool) error {
	wasActive := false
	if active, err := m.store.GetActive(ctx, owner); err == nil {
		wasActive = active.Username == username
	} else if !errors.Is(err, account.ErrNotFound) {
		return err
	}

	if err := m.store.Remove(ctx, owner, username); err != nil {
		return err
	}

	if promote && wasActive {
		if err := m.promoteSurvivor(ctx, owner); err != nil {
			m.logger.Warn("promoting survivor failed", "owner", owner, "error", err)
		}
	}

	m.clearOwner(ctx, owner, "remove account")
	m.logger.Info("account removed", "owner", owner, "username", username)
	return nil
}

// promoteSurvivor activates the owner's most recently created remaining
// account, if any.
func (m *Manager) promoteSurvivor(ctx context.Context, owner int64) error {
	survivors, err := m.store.List(ctx, owner, account.OrderActiveFirst)
	if err != nil {
		return err
	}
	if len(survivors) == 0 {
		return nil
	}

	pick := survivors[0]
	for _, acct := range survivors[1:] {
		if acct.CreatedAt.After(pick.CreatedAt) {
			pick = acct
		}
	}
	return m.store.SetActive(ctx, owner, pick.Username)
}

// RemoveAllAccounts deletes every account of the owner and clears the
// owner's cache namespace. An owner without accounts is a no-op.
func (m *Manager) RemoveAllAccounts(ctx context.Context, owner int64) error {
	if err := m.store.RemoveAll(ctx, owner); err != nil {
		return err
	}

	m.clearOwner(ctx, owner, "remove all accounts")
	m.logger.Info("all accounts removed", "owner", owner)
	return nil
}

// SetPreference stores the owner preference. An empty value clears it.
func (m *Manager) SetPreference(ctx context.Context, owner int64, value string) error {
	if err := m.store.SetPreference(ctx, owner, value); err != nil {
		return err
	}

	m.clearOwner(ctx, owner, "set preference")
	return nil
}

// Preference returns the owner preference, or "" when unset.
func (m *Manager) Preference(ctx context.Context, owner int64) (string, error) {
	return m.store.Preference(ctx, owner)
}

// clearOwner drops the owner's cache namespace. The store mutation has
// already committed, so a failing clear is logged rather than returned;
// stale entries age out on TTL and the background sweep.
func (m *Manager) clearOwner(ctx context.Context, owner int64, reason string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.ClearOwner(ctx, owner); err != nil {
		m.logger.Warn("clearing owner cache failed",
			"owner", owner, "reason", reason, "error", err)
	}
}
