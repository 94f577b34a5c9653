// Package fanout runs an operation against every account of an owner in
// parallel. One account failing, hanging, or panicking never affects the
// others, and results come back in the same order the accounts were
// listed.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campuskit/portal-core/pkg/account"
)

// ErrNoAccounts is returned by Run when the owner has no stored accounts.
var ErrNoAccounts = errors.New("fanout: owner has no accounts")

// Op is the per-account operation. It receives a context bounded by the
// dispatcher's timeout and must honor its cancellation.
type Op func(ctx context.Context, acct account.Account) ([]byte, error)

// Result pairs one account with the outcome of the operation against it.
type Result struct {
	Account account.Account
	Payload []byte
	Err     error
}

// OK reports whether the operation succeeded for this account.
func (r Result) OK() bool {
	return r.Err == nil
}

// Dispatcher fans an operation out across an owner's accounts.
type Dispatcher struct {
	store   account.Store
	timeout time.Duration
}

// New creates a dispatcher. The timeout bounds every individual account
// operation and must be positive; a run without a deadline could hang the
// whole batch on one stuck account.
func New(store account.Store, timeout time.Duration) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("fanout: store is required")
	}
	if timeout <= 0 {
		return nil, errors.New("fanout: per-account timeout must be positive")
	}
	return &Dispatcher{store: store, timeout: timeout}, nil
}

// Run lists the owner's accounts once and applies op to each of them
// concurrently. The returned slice has one Result per account, in listing
// order. Run itself fails only when the listing fails or the owner has no
// accounts; per-account failures land in the matching Result.
func (d *Dispatcher) Run(ctx context.Context, owner int64, order account.Order, op Op) ([]Result, error) {
	accounts, err := d.store.List(ctx, owner, order)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for owner %d: %w", owner, err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	results := make([]Result, len(accounts))

	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct account.Account) {
			defer wg.Done()
			results[i] = d.runOne(ctx, acct, op)
		}(i, acct)
	}
	wg.Wait()

	return results, nil
}

// runOne applies op to a single account under the dispatcher timeout,
// converting a panic in op into an error on that account's Result.
func (d *Dispatcher) runOne(ctx context.Context, acct account.Account, op Op) (res Result) {
	res.Account = acct

	defer func() {
		if r := recover(); r != nil {
			res.Payload = nil
			res.Err = fmt.Errorf("account %s: operation panicked: %v", acct.Username, r)
		}
	}()

	opCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res.Payload, res.Err = op(opCtx, acct)
	return res
}
