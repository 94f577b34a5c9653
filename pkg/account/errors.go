package account

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the referenced account or owner does not exist.
// Callers render this as "please log in", not as a system error.
var ErrNotFound = errors.New("account not found")

// StoreErrorKind classifies store failures.
type StoreErrorKind string

const (
	// KindConnectivity covers connection, timeout, and availability errors.
	KindConnectivity StoreErrorKind = "connectivity"

	// KindConstraint covers unique, foreign-key, and check violations.
	KindConstraint StoreErrorKind = "constraint"

	// KindOther covers everything else the driver reports.
	KindOther StoreErrorKind = "other"
)

// StoreError wraps a durable-store failure. It is always surfaced to the
// caller; a store failure is never reported as "no account".
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("account store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is (or wraps) a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
