package storage

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// TableIDFromPath derives a stable table id from an absolute, cleaned file
// path via 64-bit FNV-1a, per spec.md §3 ("Table id is stable for the
// file's lifetime and is derived from the absolute file path (hash)").
func TableIDFromPath(path string) (uint64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("storage: resolve path %q: %w", path, err)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(filepath.Clean(abs)))
	return h.Sum64(), nil
}

// HeapFile is a single OS file of concatenated, fixed-size heap pages,
// grounded in I/O style on the teacher's pager.Pager.readPageRaw /
// writePageRaw (os.File + ReadAt/WriteAt at page-number * page-size
// offsets), generalized from the teacher's WAL-backed writes to plain
// synchronous positioned I/O (this engine has no WAL, per the spec's
// Non-goals).
type HeapFile struct {
	mu       sync.Mutex
	id       uint64
	schema   *types.Schema
	path     string
	file     *os.File
	pageSize int
	pool     PageGetter
}

// OpenHeapFile opens (creating if absent) the backing file at path.
func OpenHeapFile(path string, schema *types.Schema, pageSize int) (*HeapFile, error) {
	id, err := TableIDFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open heap file %q: %w", path, err)
	}
	return &HeapFile{id: id, schema: schema, path: path, file: f, pageSize: pageSize}, nil
}

// SetPool wires the buffer pool this file routes page accesses through.
// Called once, by the code that registers the file with a pool.
func (hf *HeapFile) SetPool(pool PageGetter) { hf.pool = pool }

func (hf *HeapFile) ID() uint64            { return hf.id }
func (hf *HeapFile) Schema() *types.Schema { return hf.schema }
func (hf *HeapFile) Path() string          { return hf.path }

// NumPages reports the file's page count from its current length. File
// length MUST be an exact multiple of page size, per spec.md §6.
func (hf *HeapFile) NumPages() int {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	fi, err := hf.file.Stat()
	if err != nil {
		return 0
	}
	return int(fi.Size()) / hf.pageSize
}

// ReadPage performs a positioned read of exactly one page's worth of
// bytes and wraps it as a HeapPage. An out-of-range read (page not yet
// written) yields a page of zero bytes, per spec.md §4.3 — it is the
// caller's responsibility to avoid reading pages beyond NumPages.
func (hf *HeapFile) ReadPage(pid types.PageID) (Page, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	buf := make([]byte, hf.pageSize)
	off := int64(pid.PageNo) * int64(hf.pageSize)
	if _, err := hf.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("storage: read page %s: %w", pid, dberrors.ErrIOError)
	}
	return WrapHeapPage(pid, hf.schema, buf), nil
}

// WritePage performs a positioned write at page number * page size. Heap
// pages carry no header or checksum (spec.md §6), so the bytes go
// straight to disk.
func (hf *HeapFile) WritePage(p Page) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	buf := p.Bytes()
	off := int64(p.ID().PageNo) * int64(hf.pageSize)
	if _, err := hf.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("storage: write page %s: %w", p.ID(), dberrors.ErrIOError)
	}
	return nil
}

// InsertTuple scans existing pages for an empty slot, taking each through
// the buffer pool with an exclusive lock; if none has room, it extends the
// file by writing a fresh, empty page directly, then takes that page
// through the pool with an exclusive lock and inserts there, so an abort
// discards the insert like any other.
func (hf *HeapFile) InsertTuple(tid txn.TransactionID, t *types.Tuple) error {
	n := hf.NumPages()
	for i := 0; i < n; i++ {
		pid := types.PageID{TableID: hf.id, PageNo: i}
		pg, err := hf.pool.GetPage(tid, pid, WriteLock)
		if err != nil {
			return err
		}
		hp := pg.(*HeapPage)
		if hp.firstEmptySlot() == -1 {
			continue
		}
		return hp.InsertTuple(tid, t)
	}
	pid := types.PageID{TableID: hf.id, PageNo: n}
	if err := hf.WritePage(NewHeapPage(pid, hf.schema, hf.pageSize)); err != nil {
		return err
	}
	pg, err := hf.pool.GetPage(tid, pid, WriteLock)
	if err != nil {
		return err
	}
	return pg.(*HeapPage).InsertTuple(tid, t)
}

// DeleteTuple locates the tuple's page via its record identity, takes it
// exclusively, and clears the slot.
func (hf *HeapFile) DeleteTuple(tid txn.TransactionID, t *types.Tuple) error {
	rid, ok := t.RecordID()
	if !ok {
		return fmt.Errorf("storage: delete requires a tuple with a record identity: %w", dberrors.ErrDBException)
	}
	if rid.PID.TableID != hf.id {
		return fmt.Errorf("storage: tuple belongs to table %d, not %d: %w", rid.PID.TableID, hf.id, dberrors.ErrDBException)
	}
	pg, err := hf.pool.GetPage(tid, rid.PID, WriteLock)
	if err != nil {
		return err
	}
	hp := pg.(*HeapPage)
	return hp.DeleteTuple(tid, rid.Slot)
}

// Iterator yields every occupied tuple in page-number order.
func (hf *HeapFile) Iterator(tid txn.TransactionID) TupleIterator {
	return &heapFileIterator{hf: hf, tid: tid, pageNo: -1}
}

type heapFileIterator struct {
	hf      *HeapFile
	tid     txn.TransactionID
	pageNo  int
	slot    int
	page    *HeapPage
	opened  bool
}

func (it *heapFileIterator) Open() error {
	it.opened = true
	return it.Rewind()
}

func (it *heapFileIterator) Rewind() error {
	it.pageNo = 0
	it.slot = 0
	it.page = nil
	return nil
}

// loadPage loads the page at it.pageNo through the pool, with S-mode, if
// not already loaded.
func (it *heapFileIterator) loadPage() error {
	if it.page != nil {
		return nil
	}
	pid := types.PageID{TableID: it.hf.id, PageNo: it.pageNo}
	pg, err := it.hf.pool.GetPage(it.tid, pid, ReadLock)
	if err != nil {
		return err
	}
	it.page = pg.(*HeapPage)
	return nil
}

func (it *heapFileIterator) HasNext() (bool, error) {
	if !it.opened {
		return false, fmt.Errorf("storage: iterator not open: %w", dberrors.ErrDBException)
	}
	n := it.hf.NumPages()
	for it.pageNo < n {
		if err := it.loadPage(); err != nil {
			return false, err
		}
		for it.slot < it.page.NumSlots() {
			if it.page.SlotOccupied(it.slot) {
				return true, nil
			}
			it.slot++
		}
		it.pageNo++
		it.slot = 0
		it.page = nil
	}
	return false, nil
}

func (it *heapFileIterator) Next() (*types.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("storage: heap file iterator exhausted: %w", dberrors.ErrNoSuchElement)
	}
	t := it.page.TupleAt(it.slot)
	it.slot++
	return t, nil
}

func (it *heapFileIterator) Close() error {
	it.opened = false
	it.page = nil
	return nil
}
