// Package dberrors defines the engine's sentinel error kinds. Every
// subsystem wraps one of these with fmt.Errorf("...: %w", ...) rather than
// inventing ad hoc error types, so callers can classify failures with
// errors.Is regardless of which layer raised them.
package dberrors

import "errors"

var (
	// ErrDBException marks a recoverable error: table mismatch, no
	// evictable page, an invalid tuple. The query layer may retry or
	// surface it to the caller.
	ErrDBException = errors.New("db-exception")

	// ErrTransactionAborted is raised only by the lock manager when it
	// selects the calling transaction as a deadlock victim. It propagates
	// through every operator above it; the caller must call
	// TransactionComplete(tid, false).
	ErrTransactionAborted = errors.New("transaction-aborted")

	// ErrIOError marks an underlying storage failure, fatal to the
	// current transaction.
	ErrIOError = errors.New("io-error")

	// ErrNoSuchElement marks a catalog lookup miss or an iterator pulled
	// past its end.
	ErrNoSuchElement = errors.New("no-such-element")
)
