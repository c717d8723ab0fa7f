// Package lock implements page-granularity two-phase locking with
// waits-for cycle detection, grounded on the retrieval pack's GoDB buffer
// pool (per-transaction dependency sets walked by a DFS "hasCycle") and
// namyohDB's LockManager/WaitForGraph shape (two edge-set maps keyed by
// transaction id). This implementation chooses the abort-the-waiter
// deadlock-resolution policy described in the spec.
package lock

import (
	"fmt"
	"sync"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/dblog"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// Mode is a lock's strength: shared (read) or exclusive (write).
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "X"
	}
	return "S"
}

// pageLock is the per-page lock state: current mode, holder set, and a
// condition variable blocked waiters sleep on.
type pageLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	mode    Mode
	holders map[txn.TransactionID]bool
}

func newPageLock() *pageLock {
	pl := &pageLock{holders: make(map[txn.TransactionID]bool)}
	pl.cond = sync.NewCond(&pl.mu)
	return pl
}

// grantable reports whether tid can be granted mode given the current
// holder set, without mutating state. Caller holds pl.mu.
func (pl *pageLock) grantable(tid txn.TransactionID, mode Mode) bool {
	if len(pl.holders) == 0 {
		return true
	}
	if pl.holders[tid] {
		// Idempotent re-acquire at an already-sufficient mode.
		if pl.mode == Exclusive || mode == Shared {
			return true
		}
		// tid holds S, wants X: upgrade only if sole holder.
		return len(pl.holders) == 1
	}
	// tid is not yet a holder: only shared-joins-shared is grantable.
	return pl.mode == Shared && mode == Shared
}

// grant records tid as a holder at mode. Caller holds pl.mu.
func (pl *pageLock) grant(tid txn.TransactionID, mode Mode) {
	if len(pl.holders) == 0 {
		pl.mode = mode
	} else if pl.holders[tid] && mode == Exclusive {
		pl.mode = Exclusive // in-place S -> X upgrade, sole holder
	}
	pl.holders[tid] = true
}

// otherHolders returns the holder set excluding tid. Caller holds pl.mu.
func (pl *pageLock) otherHolders(tid txn.TransactionID) []txn.TransactionID {
	out := make([]txn.TransactionID, 0, len(pl.holders))
	for h := range pl.holders {
		if h != tid {
			out = append(out, h)
		}
	}
	return out
}

// Manager is the engine's page-level lock table plus its waits-for graph.
type Manager struct {
	tableMu sync.Mutex
	pages   map[types.PageID]*pageLock

	graphMu  sync.Mutex
	waitsFor map[txn.TransactionID]map[txn.TransactionID]bool

	heldMu sync.Mutex
	held   map[txn.TransactionID]map[types.PageID]Mode

	log *dblog.Logger
}

// NewManager constructs an empty lock manager.
func NewManager(log *dblog.Logger) *Manager {
	return &Manager{
		pages:    make(map[types.PageID]*pageLock),
		waitsFor: make(map[txn.TransactionID]map[txn.TransactionID]bool),
		held:     make(map[txn.TransactionID]map[types.PageID]Mode),
		log:      log,
	}
}

func (m *Manager) pageLockFor(pid types.PageID) *pageLock {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	pl, ok := m.pages[pid]
	if !ok {
		pl = newPageLock()
		m.pages[pid] = pl
	}
	return pl
}

// Acquire blocks until tid holds the page at >= mode, or returns
// ErrTransactionAborted if granting the request would complete a cycle in
// the waits-for graph (tid is chosen as the victim).
func (m *Manager) Acquire(tid txn.TransactionID, pid types.PageID, mode Mode) error {
	pl := m.pageLockFor(pid)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for !pl.grantable(tid, mode) {
		others := pl.otherHolders(tid)
		if err := m.recordWaitAndCheckDeadlock(tid, others); err != nil {
			m.log.Infof("txn %s aborted acquiring %s (%s): deadlock", tid, pid, mode)
			return err
		}
		m.log.Debugf("txn %s waiting for %s (%s)", tid, pid, mode)
		pl.cond.Wait()
	}

	pl.grant(tid, mode)
	m.clearWaits(tid)
	m.recordHeld(tid, pid, pl.mode)
	return nil
}

// Release removes tid from the page's holder set. It is a contract
// violation — and panics, matching the spec's "infallible but assumes a
// valid precondition" framing — to release a page tid does not hold.
func (m *Manager) Release(tid txn.TransactionID, pid types.PageID) {
	pl := m.pageLockFor(pid)
	pl.mu.Lock()
	if !pl.holders[tid] {
		pl.mu.Unlock()
		panic(fmt.Sprintf("lock: txn %s released %s it does not hold", tid, pid))
	}
	delete(pl.holders, tid)
	if len(pl.holders) == 0 {
		pl.mode = Shared
	}
	pl.cond.Broadcast()
	pl.mu.Unlock()

	m.heldMu.Lock()
	delete(m.held[tid], pid)
	if len(m.held[tid]) == 0 {
		delete(m.held, tid)
	}
	m.heldMu.Unlock()
}

// ReleaseAll releases every page tid currently holds, used by
// transactionComplete.
func (m *Manager) ReleaseAll(tid txn.TransactionID) {
	for _, lp := range m.LockedPages(tid) {
		m.Release(tid, lp.PageID)
	}
}

// HoldsLock reports whether tid is a holder of pid at >= mode.
func (m *Manager) HoldsLock(tid txn.TransactionID, pid types.PageID, mode Mode) bool {
	pl := m.pageLockFor(pid)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if !pl.holders[tid] {
		return false
	}
	return pl.mode == Exclusive || mode == Shared
}

// LockedPage pairs a page id with the mode tid holds it at.
type LockedPage struct {
	PageID types.PageID
	Mode   Mode
}

// LockedPages returns every page tid currently holds, with its mode.
// Needed by TransactionComplete to decide flush-vs-no-op per page.
func (m *Manager) LockedPages(tid txn.TransactionID) []LockedPage {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	pages := m.held[tid]
	out := make([]LockedPage, 0, len(pages))
	for pid, mode := range pages {
		out = append(out, LockedPage{PageID: pid, Mode: mode})
	}
	return out
}

func (m *Manager) recordHeld(tid txn.TransactionID, pid types.PageID, mode Mode) {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	if m.held[tid] == nil {
		m.held[tid] = make(map[types.PageID]Mode)
	}
	m.held[tid][pid] = mode
}

// recordWaitAndCheckDeadlock records fresh waits-for edges from tid to
// every current holder, then runs cycle detection reachable from tid.
// Edges are rewritten (not accumulated) on every call so stale edges from
// an earlier, already-granted wait never linger.
func (m *Manager) recordWaitAndCheckDeadlock(tid txn.TransactionID, holders []txn.TransactionID) error {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()

	edges := make(map[txn.TransactionID]bool, len(holders))
	for _, h := range holders {
		edges[h] = true
	}
	m.waitsFor[tid] = edges

	if m.hasCycleFromLocked(tid) {
		delete(m.waitsFor, tid)
		return fmt.Errorf("lock: %w", dberrors.ErrTransactionAborted)
	}
	return nil
}

// hasCycleFromLocked reports whether start is reachable from itself by
// following waits-for edges. Caller holds graphMu.
func (m *Manager) hasCycleFromLocked(start txn.TransactionID) bool {
	visited := make(map[txn.TransactionID]bool)
	var visit func(node txn.TransactionID) bool
	visit = func(node txn.TransactionID) bool {
		for next := range m.waitsFor[node] {
			if next == start {
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if visit(next) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

// clearWaits removes tid's outgoing waits-for edges once it becomes a
// holder rather than a waiter.
func (m *Manager) clearWaits(tid txn.TransactionID) {
	m.graphMu.Lock()
	delete(m.waitsFor, tid)
	m.graphMu.Unlock()
}
