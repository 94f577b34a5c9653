// Package account provides multi-account storage for chat users of the
// campus portal. It defines the Store interface for account persistence and
// the Account and SessionRecord types shared by the in-memory and
// PostgreSQL implementations.
//
// An owner (one chat user) may hold any number of accounts against the
// downstream portal, but at most one is active at a time. Activating an
// account deactivates its siblings atomically; readers never observe two
// active accounts for the same owner.
package account

import (
	"context"
	"encoding/json"
	"time"
)

// Account is one set of downstream portal credentials belonging to an owner.
type Account struct {
	// Owner identifies the chat user holding this account.
	Owner int64

	// Username is the downstream portal login name. (Owner, Username) is
	// unique.
	Username string

	// Credential is the stored secret used to re-authenticate against the
	// portal. Callers typically store it encrypted; the store treats it as
	// opaque text.
	Credential string

	// DeviceID is the device identifier presented to the portal at login.
	DeviceID string

	// DisplayName is the human name extracted from the login response, if
	// any. Populated on reads that join the session record.
	DisplayName string

	// Active reports whether this is the owner's currently selected account.
	Active bool

	// Preference is an owner-level setting (e.g. a default attendance
	// location) carried on the account rows.
	Preference string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionRecord is the opaque login response captured when an account was
// last authenticated, one-to-one with an Account.
type SessionRecord struct {
	Owner       int64
	Username    string
	Payload     json.RawMessage
	DisplayName string
	CreatedAt   time.Time
}

// Order selects the row ordering for List.
type Order int

const (
	// OrderActiveFirst returns the active account first, then the rest by
	// creation time descending. Used by account listings shown to the user.
	OrderActiveFirst Order = iota

	// OrderRecentActivity returns accounts by last update descending.
	// Used by bulk dispatch so the most recently touched account runs first.
	OrderRecentActivity
)

// Store defines the interface for account persistence.
//
// Implementations must serialize mutations (Add, SetActive, Remove,
// RemoveAll) per owner so the deactivate-all/activate-one sequence cannot
// interleave and leave zero or two active accounts. Mutations for different
// owners carry no ordering guarantee.
type Store interface {
	// Add upserts the account keyed by (Owner, Username), deactivates the
	// owner's other accounts, marks this one active, and writes the session
	// payload, all atomically. A failure leaves the previously active
	// account intact.
	Add(ctx context.Context, acct Account, payload json.RawMessage) error

	// SetActive deactivates all of the owner's accounts and activates the
	// named one. Returns ErrNotFound, leaving the previous active account in
	// place, if the named account does not exist.
	SetActive(ctx context.Context, owner int64, username string) error

	// GetActive returns the owner's active account, or ErrNotFound when the
	// owner has no active account. If store integrity is violated (more
	// than one active row) the most recently updated one is returned.
	GetActive(ctx context.Context, owner int64) (*Account, error)

	// List returns all of the owner's accounts in the requested order.
	List(ctx context.Context, owner int64, order Order) ([]Account, error)

	// SessionPayload returns the stored login response for the named
	// account, or ErrNotFound.
	SessionPayload(ctx context.Context, owner int64, username string) (json.RawMessage, error)

	// Remove deletes the named account and its session record. Returns
	// ErrNotFound if it does not exist. Removing the active account leaves
	// the owner with no active account; promotion is the caller's policy.
	Remove(ctx context.Context, owner int64, username string) error

	// RemoveAll deletes every account and session record for the owner.
	// Removing zero rows is success.
	RemoveAll(ctx context.Context, owner int64) error

	// HasAny reports whether the owner holds at least one account.
	HasAny(ctx context.Context, owner int64) (bool, error)

	// Owners returns the distinct owners holding at least one account,
	// without hydrating account rows.
	Owners(ctx context.Context) ([]int64, error)

	// SetPreference stores an owner-level preference value on the owner's
	// account rows. An empty value clears it.
	SetPreference(ctx context.Context, owner int64, value string) error

	// Preference returns the owner's preference value, or "" when unset.
	Preference(ctx context.Context, owner int64) (string, error)

	// Close releases store resources.
	Close() error
}
