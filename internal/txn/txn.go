// Package txn identifies transactions. A TransactionID is a process-lifetime
// handle; the registry tracks which ones are currently live so other
// subsystems (lock manager, buffer pool) can assert against stale ids.
package txn

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TransactionID is a stable, comparable handle for a transaction. It wraps
// a uuid.UUID rather than a bare counter so ids stay unique across process
// restarts and are safe to log without a central allocator.
type TransactionID struct {
	id uuid.UUID
}

func (t TransactionID) String() string { return t.id.String() }

// IsZero reports whether this is the unset TransactionID.
func (t TransactionID) IsZero() bool { return t.id == uuid.Nil }

// ParseTransactionID parses a TransactionID previously produced by String.
func ParseTransactionID(s string) (TransactionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, fmt.Errorf("txn: parse transaction id %q: %w", s, err)
	}
	return TransactionID{id: u}, nil
}

// Registry tracks the set of live transactions for the process lifetime of
// the Database. Transactions are added by Begin and removed by Complete.
type Registry struct {
	mu     sync.RWMutex
	active map[TransactionID]struct{}
}

// NewRegistry constructs an empty transaction registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[TransactionID]struct{})}
}

// Begin allocates a fresh TransactionID and registers it as active.
func (r *Registry) Begin() TransactionID {
	tid := TransactionID{id: uuid.New()}
	r.mu.Lock()
	r.active[tid] = struct{}{}
	r.mu.Unlock()
	return tid
}

// Complete removes a transaction from the active set. Safe to call once
// per transaction, after transactionComplete on the buffer pool.
func (r *Registry) Complete(tid TransactionID) {
	r.mu.Lock()
	delete(r.active, tid)
	r.mu.Unlock()
}

// IsActive reports whether tid is currently a live transaction.
func (r *Registry) IsActive(tid TransactionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[tid]
	return ok
}

// Count returns the number of currently active transactions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
