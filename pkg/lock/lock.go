// Package lock provides per-key mutual exclusion for transaction-scoped critical sections.
//
// A Locker never blocks: TryLock either acquires the key or fails with
// ErrLockContention. Guard layers a bounded exponential backoff on top so callers
// see contention only after a few retries.
package lock

import (
	"context"
	"errors"
)

// ErrLockContention means the key is held by another caller. It is transient.
var ErrLockContention = errors.New("lock contention")

// Unlock releases a held key. It is safe to call more than once.
type Unlock func()

type Locker interface {
	TryLock(ctx context.Context, key string) (Unlock, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// TransactionKey is the lock key guarding a transaction and everything hanging off it.
func TransactionKey(transactionID string) string {
	return "billing:txn:" + transactionID
}
