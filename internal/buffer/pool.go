// Package buffer implements the bounded page cache described in spec.md
// §4.2: a map from page identity to (page, last-access stamp), LRU
// approximated by stamp order, NO-STEAL eviction (only clean pages are
// ever evicted), and effectively-FORCE commit (dirty pages a transaction
// owns are flushed at commit). Grounded on the teacher's
// pager.PageBufferPool (single pool mutex, map-backed LRU) generalized
// from pin-counted eviction to stamp-based LRU with lock-manager
// integration, in the retry/acquire-then-install shape used by the
// retrieval pack's GoDB BufferPool.GetPage.
package buffer

import (
	"fmt"
	"math"
	"sync"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/dblog"
	"github.com/gosimpledb/simpledb/internal/lock"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

type frame struct {
	page  storage.Page
	stamp uint64
}

// Pool is the engine's single bounded page cache. All mutation (insert,
// evict, flush, discard) serializes under mu; GetPage only holds mu
// around the cache hit/miss/installation steps, not the underlying file
// read, matching spec.md §4.2's concurrency note.
type Pool struct {
	mu       sync.Mutex
	numPages int
	stamp    uint64
	frames   map[types.PageID]*frame

	filesMu sync.RWMutex
	files   map[uint64]storage.DbFile

	locks *lock.Manager
	log   *dblog.Logger
}

// NewPool constructs an empty pool of the given capacity.
func NewPool(numPages int, locks *lock.Manager, log *dblog.Logger) *Pool {
	return &Pool{
		numPages: numPages,
		frames:   make(map[types.PageID]*frame),
		files:    make(map[uint64]storage.DbFile),
		locks:    locks,
		log:      log,
	}
}

// RegisterFile makes a DbFile reachable by table id for InsertTuple,
// DeleteTuple, and page fetches routed by table id.
func (p *Pool) RegisterFile(f storage.DbFile) {
	p.filesMu.Lock()
	p.files[f.ID()] = f
	p.filesMu.Unlock()
}

func (p *Pool) fileFor(tableID uint64) (storage.DbFile, error) {
	p.filesMu.RLock()
	f, ok := p.files[tableID]
	p.filesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("buffer: no file registered for table %d: %w", tableID, dberrors.ErrDBException)
	}
	return f, nil
}

func (p *Pool) toLockMode(mode storage.LockMode) lock.Mode {
	if mode == storage.WriteLock {
		return lock.Exclusive
	}
	return lock.Shared
}

// nextStamp bumps the monotonic access counter, resetting every cached
// frame's stamp to a dense 1..n ordering on overflow so LRU order is
// preserved across the wraparound.
func (p *Pool) nextStamp() uint64 {
	if p.stamp == math.MaxUint64 {
		type kv struct {
			pid   types.PageID
			stamp uint64
		}
		ordered := make([]kv, 0, len(p.frames))
		for pid, fr := range p.frames {
			ordered = append(ordered, kv{pid, fr.stamp})
		}
		for i := range ordered {
			for j := i + 1; j < len(ordered); j++ {
				if ordered[j].stamp < ordered[i].stamp {
					ordered[i], ordered[j] = ordered[j], ordered[i]
				}
			}
		}
		for i, e := range ordered {
			p.frames[e.pid].stamp = uint64(i + 1)
		}
		p.stamp = uint64(len(ordered) + 1)
		return p.stamp
	}
	p.stamp++
	return p.stamp
}

// GetPage is the universal page accessor described in spec.md §4.2.
func (p *Pool) GetPage(tid txn.TransactionID, pid types.PageID, mode storage.LockMode) (storage.Page, error) {
	if err := p.locks.Acquire(tid, pid, p.toLockMode(mode)); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if fr, ok := p.frames[pid]; ok {
		fr.stamp = p.nextStamp()
		pg := fr.page
		p.mu.Unlock()
		return pg, nil
	}
	needEvict := len(p.frames) >= p.numPages
	p.mu.Unlock()

	if needEvict {
		if err := p.evictOneClean(); err != nil {
			return nil, err
		}
	}

	file, err := p.fileFor(pid.TableID)
	if err != nil {
		return nil, err
	}
	pg, err := file.ReadPage(pid)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if fr, ok := p.frames[pid]; ok {
		// Another goroutine installed it while we were reading; prefer
		// the already-cached copy so there is exactly one live instance.
		fr.stamp = p.nextStamp()
		pg = fr.page
	} else {
		p.frames[pid] = &frame{page: pg, stamp: p.nextStamp()}
	}
	p.mu.Unlock()
	return pg, nil
}

// evictOneClean removes the clean frame with the minimum stamp. Dirty
// pages are never eviction candidates (NO-STEAL); if every cached frame
// is dirty, eviction fails with db-exception ("db-full" in spec.md's
// terms) rather than violating the no-steal invariant.
func (p *Pool) evictOneClean() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) < p.numPages {
		return nil // raced with a concurrent evict; room freed up
	}
	var victim types.PageID
	var victimStamp uint64 = math.MaxUint64
	found := false
	for pid, fr := range p.frames {
		if fr.page.IsDirty() {
			continue
		}
		if !found || fr.stamp < victimStamp {
			victim = pid
			victimStamp = fr.stamp
			found = true
		}
	}
	if !found {
		return fmt.Errorf("buffer: pool full and no clean page to evict: %w", dberrors.ErrDBException)
	}
	delete(p.frames, victim)
	p.log.Debugf("evicted clean page %s", victim)
	return nil
}

// InsertTuple delegates to the tuple's destination file, which recursively
// calls back into GetPage with exclusive mode.
func (p *Pool) InsertTuple(tid txn.TransactionID, tableID uint64, t *types.Tuple) error {
	file, err := p.fileFor(tableID)
	if err != nil {
		return err
	}
	return file.InsertTuple(tid, t)
}

// DeleteTuple delegates to the file owning the tuple's current page.
func (p *Pool) DeleteTuple(tid txn.TransactionID, t *types.Tuple) error {
	rid, ok := t.RecordID()
	if !ok {
		return fmt.Errorf("buffer: delete requires a tuple with a record identity: %w", dberrors.ErrDBException)
	}
	file, err := p.fileFor(rid.PID.TableID)
	if err != nil {
		return err
	}
	return file.DeleteTuple(tid, t)
}

// TransactionComplete snapshots the pages tid holds exclusively, flushes
// (commit) or discards (abort) each that is cached, then releases every
// lock tid holds. The snapshot must be taken before releasing locks,
// since releasing mutates the lock table out from under a live iteration.
func (p *Pool) TransactionComplete(tid txn.TransactionID, commit bool) error {
	locked := p.locks.LockedPages(tid)

	p.mu.Lock()
	for _, lp := range locked {
		if lp.Mode != lock.Exclusive {
			continue
		}
		fr, ok := p.frames[lp.PageID]
		if !ok {
			continue
		}
		if commit {
			if fr.page.IsDirty() {
				if err := p.flushLocked(fr); err != nil {
					p.mu.Unlock()
					return err
				}
			}
		} else {
			delete(p.frames, lp.PageID)
		}
	}
	p.mu.Unlock()

	p.locks.ReleaseAll(tid)
	return nil
}

// flushLocked writes a dirty frame's page through its owning file and
// clears the dirty marker. Caller holds p.mu.
func (p *Pool) flushLocked(fr *frame) error {
	file, err := p.fileFor(fr.page.ID().TableID)
	if err != nil {
		return err
	}
	if err := file.WritePage(fr.page); err != nil {
		return err
	}
	fr.page.MarkClean()
	return nil
}

// Drop evicts pid from the cache unconditionally, without flushing.
// Used when a B+ tree file recycles a freed page number for a brand-new
// node: the stale cached frame, if any, must not be handed back out
// under the reused identity.
func (p *Pool) Drop(pid types.PageID) {
	p.mu.Lock()
	delete(p.frames, pid)
	p.mu.Unlock()
}

// FlushPage flushes a single page if dirty. Flushing a page the calling
// transaction does not own is valid — no concurrent writer can exist
// while any transaction still holds its X-lock.
func (p *Pool) FlushPage(pid types.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.frames[pid]
	if !ok || !fr.page.IsDirty() {
		return nil
	}
	return p.flushLocked(fr)
}

// FlushAllPages flushes every dirty cached page. Test-only: calling it
// during normal operation defeats STEAL-avoidance bookkeeping, since it
// flushes pages transactions still hold exclusively and have not
// committed.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fr := range p.frames {
		if fr.page.IsDirty() {
			if err := p.flushLocked(fr); err != nil {
				return err
			}
		}
	}
	return nil
}

// Size reports the current number of cached frames, for tests asserting
// invariant 2 (pool size never exceeds numPages).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Contains reports whether pid is currently cached, for eviction tests.
func (p *Pool) Contains(pid types.PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.frames[pid]
	return ok
}
