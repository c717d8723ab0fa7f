package btree

import (
	"fmt"
	"os"
	"sync"

	"github.com/gosimpledb/simpledb/internal/buffer"
	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// Op is an index predicate operator, per spec.md §4.4.
type Op int

const (
	Equals Op = iota
	GreaterThan
	GreaterThanOrEq
	LessThan
	LessThanOrEq
)

// IndexPredicate pairs an operator with the literal to compare the key
// field against.
type IndexPredicate struct {
	Op    Op
	Value types.Field
}

// meta page (page 0) layout, after the shared header:
//
//	[0:4]  RootPageNo  (int32 LE)
//	[4:8]  FreeListHead (int32 LE, -1 = empty)
//	[8:12] NextPageNo   (int32 LE) — next never-allocated page number
const (
	metaRootOff = storage.PageHeaderSize
	metaFreeOff = storage.PageHeaderSize + 4
	metaNextOff = storage.PageHeaderSize + 8
)

// File is the B+ tree's DbFile implementation: ordered leaves linked by
// sibling pointers, parent separator key = max key of the left child, a
// free list recycling deleted pages. Node reads and in-place node updates
// go through the shared buffer pool for two-phase-locked concurrent
// access; newly allocated pages, freed pages and the meta page are
// written to the file directly.
type File struct {
	id       uint64
	schema   *types.Schema
	keyIdx   int
	path     string
	pageSize int
	file     *os.File
	pool     *buffer.Pool

	metaMu       sync.Mutex
	rootPageNo   int
	freeListHead int
	nextPageNo   int
}

// Open opens (creating if absent) a B+ tree file keyed on the field at
// keyIdx in schema.
func Open(path string, schema *types.Schema, keyIdx int, pageSize int, pool *buffer.Pool) (*File, error) {
	id, err := storage.TableIDFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("btree: open %q: %w", path, err)
	}
	bt := &File{id: id, schema: schema, keyIdx: keyIdx, path: path, pageSize: pageSize, file: f, pool: pool}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		if err := bt.initEmpty(); err != nil {
			return nil, err
		}
	} else {
		if err := bt.loadMeta(); err != nil {
			return nil, err
		}
	}
	return bt, nil
}

func (bt *File) initEmpty() error {
	bt.rootPageNo = 1
	bt.freeListHead = InvalidPageNo
	bt.nextPageNo = 2
	if err := bt.writeMetaLocked(); err != nil {
		return err
	}
	root := newNode(types.PageID{TableID: bt.id, PageNo: 1}, bt.pageSize, true, bt.schema, bt.keyIdx)
	return bt.writeRaw(root)
}

func (bt *File) loadMeta() error {
	buf := make([]byte, bt.pageSize)
	if _, err := bt.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("btree: read meta page: %w", dberrors.ErrIOError)
	}
	bt.rootPageNo = getPageNo(buf, metaRootOff)
	bt.freeListHead = getPageNo(buf, metaFreeOff)
	bt.nextPageNo = getPageNo(buf, metaNextOff)
	return nil
}

// writeMetaLocked persists the in-memory meta fields. Caller holds metaMu.
func (bt *File) writeMetaLocked() error {
	buf := make([]byte, bt.pageSize)
	storage.WriteHeader(buf, storage.PageTypeBTreeMeta, 0)
	putPageNo(buf, metaRootOff, bt.rootPageNo)
	putPageNo(buf, metaFreeOff, bt.freeListHead)
	putPageNo(buf, metaNextOff, bt.nextPageNo)
	storage.StampCRC(buf)
	if _, err := bt.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("btree: write meta page: %w", dberrors.ErrIOError)
	}
	return nil
}

func (bt *File) writeRaw(n *node) error {
	storage.StampCRC(n.buf)
	off := int64(n.pid.PageNo) * int64(bt.pageSize)
	if _, err := bt.file.WriteAt(n.buf, off); err != nil {
		return fmt.Errorf("btree: write page %s: %w", n.pid, dberrors.ErrIOError)
	}
	return nil
}

// allocPage pops a page number off the free list, or extends the file,
// and hands back a freshly-initialized node at that number. It also
// drops any stale cached frame for the recycled page identity.
func (bt *File) allocPage(isLeaf bool) (*node, error) {
	bt.metaMu.Lock()
	var pno int
	if bt.freeListHead != InvalidPageNo {
		pno = bt.freeListHead
		buf := make([]byte, bt.pageSize)
		off := int64(pno) * int64(bt.pageSize)
		if _, err := bt.file.ReadAt(buf, off); err != nil {
			bt.metaMu.Unlock()
			return nil, fmt.Errorf("btree: read free page %d: %w", pno, dberrors.ErrIOError)
		}
		bt.freeListHead = getPageNo(buf, freeNextOff)
	} else {
		pno = bt.nextPageNo
		bt.nextPageNo++
	}
	err := bt.writeMetaLocked()
	bt.metaMu.Unlock()
	if err != nil {
		return nil, err
	}
	pid := types.PageID{TableID: bt.id, PageNo: pno}
	bt.pool.Drop(pid)
	return newNode(pid, bt.pageSize, isLeaf, bt.schema, bt.keyIdx), nil
}

// freePage returns pno to the free list for reuse, satisfying the stress
// test's requirement that file page count not grow unboundedly under
// concurrent insert/delete churn.
func (bt *File) freePage(pno int) error {
	bt.metaMu.Lock()
	defer bt.metaMu.Unlock()
	buf := make([]byte, bt.pageSize)
	putPageNo(buf, freeNextOff, bt.freeListHead)
	off := int64(pno) * int64(bt.pageSize)
	if _, err := bt.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("btree: free page %d: %w", pno, dberrors.ErrIOError)
	}
	bt.freeListHead = pno
	bt.pool.Drop(types.PageID{TableID: bt.id, PageNo: pno})
	return bt.writeMetaLocked()
}

func (bt *File) rootPID() types.PageID {
	bt.metaMu.Lock()
	defer bt.metaMu.Unlock()
	return types.PageID{TableID: bt.id, PageNo: bt.rootPageNo}
}

func (bt *File) setRoot(pno int) error {
	bt.metaMu.Lock()
	defer bt.metaMu.Unlock()
	bt.rootPageNo = pno
	return bt.writeMetaLocked()
}

// ── storage.DbFile ───────────────────────────────────────────────────────

func (bt *File) ID() uint64            { return bt.id }
func (bt *File) Schema() *types.Schema { return bt.schema }

func (bt *File) NumPages() int {
	fi, err := bt.file.Stat()
	if err != nil {
		return 0
	}
	return int(fi.Size()) / bt.pageSize
}

func (bt *File) ReadPage(pid types.PageID) (storage.Page, error) {
	buf := make([]byte, bt.pageSize)
	off := int64(pid.PageNo) * int64(bt.pageSize)
	if _, err := bt.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("btree: read page %s: %w", pid, dberrors.ErrIOError)
	}
	return wrapNode(pid, buf, bt.schema, bt.keyIdx), nil
}

func (bt *File) WritePage(p storage.Page) error {
	n := p.(*node)
	return bt.writeRaw(n)
}

func (bt *File) getNode(tid txn.TransactionID, pno int, mode storage.LockMode) (*node, error) {
	pid := types.PageID{TableID: bt.id, PageNo: pno}
	pg, err := bt.pool.GetPage(tid, pid, mode)
	if err != nil {
		return nil, err
	}
	return pg.(*node), nil
}

// findLeaf descends from the root to the leaf that would contain key,
// taking each internal node with a shared lock and the leaf with mode.
func (bt *File) findLeaf(tid txn.TransactionID, key types.Field, mode storage.LockMode) (*node, error) {
	pno := bt.rootPID().PageNo
	for {
		n, err := bt.getNode(tid, pno, storage.ReadLock)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			if mode == storage.WriteLock {
				return bt.getNode(tid, pno, storage.WriteLock)
			}
			return n, nil
		}
		pno = n.findChild(key)
	}
}

// InsertTuple inserts t, keyed by its key field, maintaining ordered
// leaves; splits propagate upward, creating a new root when the existing
// root splits.
func (bt *File) InsertTuple(tid txn.TransactionID, t *types.Tuple) error {
	key := t.Field(bt.keyIdx)
	path, err := bt.pathToLeaf(tid, key)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	pos := leaf.searchLeaf(key)
	if leaf.keyCount() >= leaf.leafCapacity(bt.pageSize) {
		return bt.splitLeafAndInsert(tid, path, pos, t)
	}
	leaf.insertLeafAt(pos, t)
	leaf.MarkDirty(tid)
	return nil
}

// pathToLeaf returns the root-to-leaf node chain for key, all taken with
// an exclusive lock since an insert may need to mutate any of them on a
// split.
func (bt *File) pathToLeaf(tid txn.TransactionID, key types.Field) ([]*node, error) {
	var path []*node
	pno := bt.rootPID().PageNo
	for {
		n, err := bt.getNode(tid, pno, storage.WriteLock)
		if err != nil {
			return nil, err
		}
		path = append(path, n)
		if n.isLeaf {
			return path, nil
		}
		pno = n.findChild(key)
	}
}

func (bt *File) splitLeafAndInsert(tid txn.TransactionID, path []*node, pos int, t *types.Tuple) error {
	leaf := path[len(path)-1]
	cap := leaf.leafCapacity(bt.pageSize)

	// Build the full, sorted tuple list including the new one, then split
	// it evenly between the existing leaf and a freshly allocated sibling.
	all := make([]*types.Tuple, 0, cap+1)
	for i := 0; i < pos; i++ {
		all = append(all, leaf.leafTuple(i))
	}
	all = append(all, t)
	for i := pos; i < leaf.keyCount(); i++ {
		all = append(all, leaf.leafTuple(i))
	}

	mid := len(all) / 2
	sibling, err := bt.allocPage(true)
	if err != nil {
		return err
	}

	leaf.setKeyCount(0)
	for i, tup := range all[:mid] {
		leaf.insertLeafAt(i, tup)
	}
	for i, tup := range all[mid:] {
		sibling.insertLeafAt(i, tup)
	}

	sibling.setNextLeaf(leaf.nextLeaf())
	sibling.setPrevLeaf(leaf.pid.PageNo)
	if leaf.nextLeaf() != InvalidPageNo {
		if next, err := bt.getNode(tid, leaf.nextLeaf(), storage.WriteLock); err == nil {
			next.setPrevLeaf(sibling.pid.PageNo)
			next.MarkDirty(tid)
		}
	}
	leaf.setNextLeaf(sibling.pid.PageNo)

	leaf.MarkDirty(tid)
	sibling.MarkDirty(tid)
	if err := bt.writeRaw(sibling); err != nil {
		return err
	}

	// The separator promoted to the parent is the max key of the left
	// (original) leaf, per the parent-key-is-max-of-left-child contract.
	sepKey := leaf.leafKey(leaf.keyCount() - 1)
	return bt.insertIntoParent(tid, path[:len(path)-1], leaf.pid.PageNo, sepKey, sibling.pid.PageNo)
}

// childrenAndKeys unpacks an internal node into its kc+1 children and kc
// separator keys: children[i] and children[i+1] are separated by keys[i].
func (bt *File) childrenAndKeys(n *node) ([]int, []types.Field) {
	kc := n.keyCount()
	children := make([]int, kc+1)
	keys := make([]types.Field, kc)
	for i := 0; i < kc; i++ {
		children[i] = n.internalChild(i)
		keys[i] = n.internalKey(i)
	}
	children[kc] = n.rightChild()
	return children, keys
}

// rewriteInternal overwrites n's entries with the given children/keys,
// leaving any previous contents beyond the new key count ignored (it is
// masked by the key count, not zeroed).
func (bt *File) rewriteInternal(n *node, children []int, keys []types.Field) {
	n.setKeyCount(len(keys))
	for i, k := range keys {
		n.setInternalEntry(i, children[i], k)
	}
	n.setRightChild(children[len(children)-1])
}

func indexOfChild(children []int, target int) int {
	for i, c := range children {
		if c == target {
			return i
		}
	}
	return len(children) - 1
}

// insertIntoParent inserts (sepKey -> rightChild) into the parent of the
// node that just split — sepKey separates leftChild (already a child of
// parent) from rightChild, which must be inserted immediately after it —
// splitting the parent in turn (and creating a new root) as needed.
func (bt *File) insertIntoParent(tid txn.TransactionID, ancestors []*node, leftChild int, sepKey types.Field, rightChild int) error {
	if len(ancestors) == 0 {
		return bt.createNewRoot(tid, leftChild, sepKey, rightChild)
	}
	parent := ancestors[len(ancestors)-1]
	children, keys := bt.childrenAndKeys(parent)
	p := indexOfChild(children, leftChild)

	newChildren := make([]int, 0, len(children)+1)
	newChildren = append(newChildren, children[:p+1]...)
	newChildren = append(newChildren, rightChild)
	newChildren = append(newChildren, children[p+1:]...)

	newKeys := make([]types.Field, 0, len(keys)+1)
	newKeys = append(newKeys, keys[:p]...)
	newKeys = append(newKeys, sepKey)
	newKeys = append(newKeys, keys[p:]...)

	if len(newKeys) <= parent.internalCapacity(bt.pageSize) {
		bt.rewriteInternal(parent, newChildren, newKeys)
		parent.MarkDirty(tid)
		return nil
	}
	return bt.splitInternalWith(tid, ancestors, newChildren, newKeys)
}

// splitInternalWith splits an internal node's post-insertion children/keys
// across the original page and a freshly allocated sibling, promoting the
// middle key to the grandparent.
func (bt *File) splitInternalWith(tid txn.TransactionID, ancestors []*node, children []int, keys []types.Field) error {
	parent := ancestors[len(ancestors)-1]
	mid := len(keys) / 2
	promoted := keys[mid]

	sibling, err := bt.allocPage(false)
	if err != nil {
		return err
	}

	bt.rewriteInternal(parent, children[:mid+1], keys[:mid])
	bt.rewriteInternal(sibling, children[mid+1:], keys[mid+1:])

	parent.MarkDirty(tid)
	sibling.MarkDirty(tid)
	if err := bt.writeRaw(sibling); err != nil {
		return err
	}

	return bt.insertIntoParent(tid, ancestors[:len(ancestors)-1], parent.pid.PageNo, promoted, sibling.pid.PageNo)
}

func (bt *File) createNewRoot(tid txn.TransactionID, leftChild int, sepKey types.Field, rightChild int) error {
	root, err := bt.allocPage(false)
	if err != nil {
		return err
	}
	root.setInternalEntry(0, leftChild, sepKey)
	root.setKeyCount(1)
	root.setRightChild(rightChild)
	root.MarkDirty(tid)
	if err := bt.writeRaw(root); err != nil {
		return err
	}
	return bt.setRoot(root.pid.PageNo)
}

// DeleteTuple removes t's entry from its leaf. Underflow is not
// rebalanced against siblings — the spec fixes only the external
// contract (ordered scan, recall, bounded growth via free-list reuse),
// not an internal merge policy — but an emptied non-root leaf is freed
// and unlinked so deleted pages are always reused, satisfying the stress
// test's page-count bound.
func (bt *File) DeleteTuple(tid txn.TransactionID, t *types.Tuple) error {
	rid, ok := t.RecordID()
	if !ok {
		return fmt.Errorf("btree: delete requires a tuple with a record identity: %w", dberrors.ErrDBException)
	}
	if rid.PID.TableID != bt.id {
		return fmt.Errorf("btree: tuple belongs to table %d, not %d: %w", rid.PID.TableID, bt.id, dberrors.ErrDBException)
	}
	key := t.Field(bt.keyIdx)
	leaf, err := bt.getNode(tid, rid.PID.PageNo, storage.WriteLock)
	if err != nil {
		return err
	}
	pos, found := bt.findExact(leaf, key, t)
	if !found {
		return fmt.Errorf("btree: tuple not found for delete: %w", dberrors.ErrDBException)
	}
	leaf.deleteLeafAt(pos)
	leaf.MarkDirty(tid)

	if leaf.keyCount() == 0 && leaf.pid.PageNo != bt.rootPID().PageNo {
		bt.unlinkAndFreeLeaf(tid, leaf)
	}
	return nil
}

func (bt *File) findExact(leaf *node, key types.Field, t *types.Tuple) (int, bool) {
	pos := leaf.searchLeaf(key)
	for i := pos; i < leaf.keyCount(); i++ {
		if !leaf.leafKey(i).Equals(key) {
			break
		}
		if tuplesEqual(leaf.leafTuple(i), t) {
			return i, true
		}
	}
	return -1, false
}

func tuplesEqual(a, b *types.Tuple) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !a.Fields[i].Equals(b.Fields[i]) {
			return false
		}
	}
	return true
}

func (bt *File) unlinkAndFreeLeaf(tid txn.TransactionID, leaf *node) {
	prev, next := leaf.prevLeaf(), leaf.nextLeaf()
	if prev != InvalidPageNo {
		if p, err := bt.getNode(tid, prev, storage.WriteLock); err == nil {
			p.setNextLeaf(next)
			p.MarkDirty(tid)
		}
	}
	if next != InvalidPageNo {
		if nx, err := bt.getNode(tid, next, storage.WriteLock); err == nil {
			nx.setPrevLeaf(prev)
			nx.MarkDirty(tid)
		}
	}
	_ = bt.freePage(leaf.pid.PageNo)
}

// Get performs a point lookup, returning every tuple whose key field
// equals key (duplicates are possible; callers needing a single row pick
// the first).
func (bt *File) Get(tid txn.TransactionID, key types.Field) ([]*types.Tuple, error) {
	leaf, err := bt.findLeaf(tid, key, storage.ReadLock)
	if err != nil {
		return nil, err
	}
	var out []*types.Tuple
	pos := leaf.searchLeaf(key)
	cur := leaf
	i := pos
	for {
		for ; i < cur.keyCount(); i++ {
			if !cur.leafKey(i).Equals(key) {
				return out, nil
			}
			out = append(out, cur.leafTuple(i))
		}
		if cur.nextLeaf() == InvalidPageNo {
			return out, nil
		}
		cur, err = bt.getNode(tid, cur.nextLeaf(), storage.ReadLock)
		if err != nil {
			return nil, err
		}
		i = 0
	}
}

// Iterator yields every tuple in ascending key order, per spec.md §4.4's
// iterator(txn).
func (bt *File) Iterator(tid txn.TransactionID) storage.TupleIterator {
	return bt.IndexIterator(tid, nil)
}

// IndexIterator yields tuples matching pred in ascending key order; a nil
// predicate yields every tuple.
func (bt *File) IndexIterator(tid txn.TransactionID, pred *IndexPredicate) storage.TupleIterator {
	return &indexIter{bt: bt, tid: tid, pred: pred}
}

type indexIter struct {
	bt     *File
	tid    txn.TransactionID
	pred   *IndexPredicate
	opened bool
	leaf   *node
	idx    int
	done   bool
}

func (it *indexIter) Open() error {
	it.opened = true
	return it.Rewind()
}

func (it *indexIter) Rewind() error {
	it.done = false
	var startKey types.Field
	descend := false
	if it.pred != nil {
		switch it.pred.Op {
		case Equals, GreaterThanOrEq, GreaterThan:
			startKey = it.pred.Value
			descend = true
		}
	}
	var leaf *node
	var err error
	if descend {
		leaf, err = it.bt.findLeaf(it.tid, startKey, storage.ReadLock)
	} else {
		leaf, err = it.firstLeaf()
	}
	if err != nil {
		return err
	}
	it.leaf = leaf
	if descend {
		it.idx = leaf.searchLeaf(startKey)
		if it.pred.Op == GreaterThan {
			for it.idx < leaf.keyCount() && leaf.leafKey(it.idx).Equals(startKey) {
				it.idx++
			}
		}
	} else {
		it.idx = 0
	}
	return nil
}

func (it *indexIter) firstLeaf() (*node, error) {
	pno := it.bt.rootPID().PageNo
	for {
		n, err := it.bt.getNode(it.tid, pno, storage.ReadLock)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			return n, nil
		}
		if n.keyCount() > 0 {
			pno = n.internalChild(0)
		} else {
			pno = n.rightChild()
		}
	}
}

func (it *indexIter) matches(t *types.Tuple) bool {
	if it.pred == nil {
		return true
	}
	k := t.Field(it.bt.keyIdx)
	c := k.Compare(it.pred.Value)
	switch it.pred.Op {
	case Equals:
		return c == 0
	case GreaterThan:
		return c > 0
	case GreaterThanOrEq:
		return c >= 0
	case LessThan:
		return c < 0
	case LessThanOrEq:
		return c <= 0
	default:
		return false
	}
}

func (it *indexIter) pastUpperBound(t *types.Tuple) bool {
	if it.pred == nil {
		return false
	}
	k := t.Field(it.bt.keyIdx)
	switch it.pred.Op {
	case Equals:
		return k.Compare(it.pred.Value) > 0
	case LessThan:
		return k.Compare(it.pred.Value) >= 0
	case LessThanOrEq:
		return k.Compare(it.pred.Value) > 0
	default:
		return false
	}
}

func (it *indexIter) HasNext() (bool, error) {
	if !it.opened {
		return false, fmt.Errorf("btree: iterator not open: %w", dberrors.ErrDBException)
	}
	if it.done {
		return false, nil
	}
	for {
		if it.leaf == nil {
			return false, nil
		}
		if it.idx >= it.leaf.keyCount() {
			next := it.leaf.nextLeaf()
			if next == InvalidPageNo {
				it.leaf = nil
				return false, nil
			}
			n, err := it.bt.getNode(it.tid, next, storage.ReadLock)
			if err != nil {
				return false, err
			}
			it.leaf = n
			it.idx = 0
			continue
		}
		t := it.leaf.leafTuple(it.idx)
		if it.pastUpperBound(t) {
			it.done = true
			return false, nil
		}
		if it.matches(t) {
			return true, nil
		}
		it.idx++
	}
}

func (it *indexIter) Next() (*types.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("btree: iterator exhausted: %w", dberrors.ErrNoSuchElement)
	}
	t := it.leaf.leafTuple(it.idx)
	it.idx++
	return t, nil
}

func (it *indexIter) Close() error {
	it.opened = false
	it.leaf = nil
	return nil
}
