// Package postgres provides PostgreSQL storage for accounts.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/campuskit/portal-core/pkg/account"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// accountColumns lists columns returned by account SELECT queries. The
// display name lives on the session record and is joined in.
var accountColumns = []string{
	"a.owner_id", "a.username", "a.credential", "a.device_id",
	"COALESCE(sr.display_name, '')", "a.is_active",
	"COALESCE(a.preference, '')", "a.created_at", "a.updated_at",
}

// Store implements account.Store using PostgreSQL.
//
// Mutations for one owner are serialized by running the
// deactivate-all/activate-one sequence inside a single transaction; the
// owner's rows are updated under row locks, so a concurrent mutation for the
// same owner waits rather than interleaving.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL account store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add upserts the account, deactivates the owner's other accounts, and
// writes the session record, all in one transaction.
func (s *Store) Add(ctx context.Context, acct account.Account, payload json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning add transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET is_active = FALSE, updated_at = NOW() WHERE owner_id = $1 AND is_active`,
		acct.Owner,
	)
	if err != nil {
		return storeErr("deactivating accounts", err)
	}

	// The new row inherits the owner-level preference from an existing row
	// so adding an account never loses it; on conflict the row keeps its
	// own preference.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (owner_id, username, credential, device_id, is_active, preference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE,
			(SELECT preference FROM accounts WHERE owner_id = $1 AND preference IS NOT NULL LIMIT 1),
			NOW(), NOW())
		ON CONFLICT (owner_id, username) DO UPDATE SET
			credential = EXCLUDED.credential,
			device_id = EXCLUDED.device_id,
			is_active = TRUE,
			updated_at = NOW()
	`, acct.Owner, acct.Username, acct.Credential, acct.DeviceID)
	if err != nil {
		return storeErr("upserting account", err)
	}

	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_records (owner_id, username, payload, display_name, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (owner_id, username) DO UPDATE SET
			payload = EXCLUDED.payload,
			display_name = EXCLUDED.display_name,
			created_at = NOW()
	`, acct.Owner, acct.Username, []byte(payload), acct.DisplayName)
	if err != nil {
		return storeErr("upserting session record", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing add", err)
	}
	return nil
}

// SetActive deactivates all of the owner's accounts, then activates the
// named one. An unknown username rolls the whole transaction back, leaving
// the previous active account in place.
func (s *Store) SetActive(ctx context.Context, owner int64, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning activate transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET is_active = FALSE, updated_at = NOW() WHERE owner_id = $1 AND is_active`,
		owner,
	)
	if err != nil {
		return storeErr("deactivating accounts", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_active = TRUE, updated_at = NOW() WHERE owner_id = $1 AND username = $2`,
		owner, username,
	)
	if err != nil {
		return storeErr("activating account", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("checking activation", err)
	}
	if rows == 0 {
		return account.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing activation", err)
	}
	return nil
}

// GetActive returns the owner's active account. Under an integrity
// violation (more than one active row) the most recently updated row wins;
// detecting and logging the anomaly is the caller's job via List.
func (s *Store) GetActive(ctx context.Context, owner int64) (*account.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts a
		LEFT JOIN session_records sr ON sr.owner_id = a.owner_id AND sr.username = a.username
		WHERE a.owner_id = $1 AND a.is_active
		ORDER BY a.updated_at DESC
		LIMIT 1
	`, strings.Join(accountColumns, ", "))

	row := s.db.QueryRowContext(ctx, query, owner)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("getting active account", err)
	}
	return acct, nil
}

// List returns all of the owner's accounts in the requested order.
func (s *Store) List(ctx context.Context, owner int64, order account.Order) ([]account.Account, error) {
	qb := psq.Select(accountColumns...).
		From("accounts a").
		LeftJoin("session_records sr ON sr.owner_id = a.owner_id AND sr.username = a.username").
		Where(sq.Eq{"a.owner_id": owner})

	switch order {
	case account.OrderRecentActivity:
		qb = qb.OrderBy("a.updated_at DESC")
	default:
		qb = qb.OrderBy("a.is_active DESC", "a.created_at DESC")
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, storeErr("building list query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("listing accounts", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []account.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, storeErr("scanning account row", err)
		}
		accounts = append(accounts, *acct)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating account rows", err)
	}
	return accounts, nil
}

// SessionPayload returns the stored login response for the named account.
func (s *Store) SessionPayload(ctx context.Context, owner int64, username string) (json.RawMessage, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM session_records WHERE owner_id = $1 AND username = $2`,
		owner, username,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("getting session payload", err)
	}
	return payload, nil
}

// Remove deletes the named account; its session record cascades.
func (s *Store) Remove(ctx context.Context, owner int64, username string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE owner_id = $1 AND username = $2`,
		owner, username,
	)
	if err != nil {
		return storeErr("removing account", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("checking removal", err)
	}
	if rows == 0 {
		return account.ErrNotFound
	}
	return nil
}

// RemoveAll deletes every account and session record for the owner.
func (s *Store) RemoveAll(ctx context.Context, owner int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE owner_id = $1`, owner)
	if err != nil {
		return storeErr("removing all accounts", err)
	}
	return nil
}

// HasAny reports whether the owner holds at least one account.
func (s *Store) HasAny(ctx context.Context, owner int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE owner_id = $1)`,
		owner,
	).Scan(&exists)
	if err != nil {
		return false, storeErr("checking accounts", err)
	}
	return exists, nil
}

// Owners returns distinct owners holding at least one account. No account
// rows are hydrated; the background sweep calls this on every tick.
func (s *Store) Owners(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM accounts ORDER BY owner_id`)
	if err != nil {
		return nil, storeErr("listing owners", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []int64
	for rows.Next() {
		var owner int64
		if err := rows.Scan(&owner); err != nil {
			return nil, storeErr("scanning owner", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating owners", err)
	}
	return owners, nil
}

// SetPreference stores the owner-level preference on the owner's rows.
func (s *Store) SetPreference(ctx context.Context, owner int64, value string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET preference = NULLIF($2, '') WHERE owner_id = $1`,
		owner, value,
	)
	if err != nil {
		return storeErr("setting preference", err)
	}
	return nil
}

// Preference returns the owner's preference value, or "" when unset.
func (s *Store) Preference(ctx context.Context, owner int64) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(preference, '')
		FROM accounts
		WHERE owner_id = $1
		ORDER BY is_active DESC, updated_at DESC
		LIMIT 1
	`, owner).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("getting preference", err)
	}
	return value, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*account.Account, error) {
	var acct account.Account
	err := row.Scan(
		&acct.Owner, &acct.Username, &acct.Credential, &acct.DeviceID,
		&acct.DisplayName, &acct.Active, &acct.Preference,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// storeErr wraps a driver error in an account.StoreError with a kind the
// caller can branch on.
func storeErr(op string, err error) error {
	return &account.StoreError{Kind: classify(err), Op: op, Err: err}
}

// classify maps driver errors onto the store error taxonomy. Class 23
// covers integrity constraint violations; classes 08, 53, and 57 cover
// connection, resource, and operator-intervention failures.
func classify(err error) account.StoreErrorKind {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			return account.KindConstraint
		case "08", "53", "57":
			return account.KindConnectivity
		}
		return account.KindOther
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return account.KindConnectivity
	}
	return account.KindOther
}

// Verify interface compliance.
var _ account.Store = (*Store)(nil)
