// Package btree implements the B+ tree file: the spec's "external
// contract only" component (ordered leaves, point and range iteration,
// insert/delete). Its page layout, split/allocate/free-list machinery is
// adapted from the teacher's internal/storage/pager package (btree.go,
// btree_page.go, freelist.go, superblock.go) with the WAL stripped out
// (spec.md's Non-goals exclude write-ahead-log recovery) and the raw
// []byte key/value codec replaced by this engine's Tuple/Field encoding.
// Entries are fixed-width (as in the heap page, not slotted as in the
// teacher's btree_page.go) because every tuple under a schema already has
// a fixed encoded size — there is no variable-length payload to manage.
package btree

import (
	"encoding/binary"

	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// Node header, immediately after the shared storage.PageHeaderSize bytes:
//
//	[0]     IsLeaf     (1 byte)
//	[1:3]   KeyCount   (uint16 LE)
//	[3:7]   Right      (uint32 LE) — internal: rightmost child; leaf: next-leaf sibling
//	[7:11]  PrevLeaf   (uint32 LE) — leaf only
//	[11:15] FreeNext    (uint32 LE) — reused as free-list link when the page is on the free list
const (
	metaOff     = storage.PageHeaderSize
	isLeafOff   = metaOff
	keyCountOff = metaOff + 1
	rightOff    = metaOff + 3
	prevLeafOff = metaOff + 7
	freeNextOff = metaOff + 11
	entriesOff  = metaOff + 15
)

// InvalidPageNo marks a null child/sibling/free-list pointer.
const InvalidPageNo = -1

// node wraps a raw page buffer as a B+ tree internal or leaf node.
type node struct {
	pid     types.PageID
	buf     []byte
	isLeaf  bool
	keyType types.FieldType
	keyIdx  int
	schema  *types.Schema

	dirty   bool
	dirtyBy txn.TransactionID
}

func (n *node) ID() types.PageID { return n.pid }
func (n *node) Bytes() []byte    { return n.buf }
func (n *node) IsDirty() bool    { return n.dirty }
func (n *node) Dirtier() (txn.TransactionID, bool) { return n.dirtyBy, n.dirty }
func (n *node) MarkDirty(tid txn.TransactionID)    { n.dirty = true; n.dirtyBy = tid }
func (n *node) MarkClean()                         { n.dirty = false; n.dirtyBy = txn.TransactionID{} }

func putPageNo(buf []byte, off int, v int) {
	binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
}
func getPageNo(buf []byte, off int) int {
	return int(int32(binary.LittleEndian.Uint32(buf[off:])))
}

func newNode(pid types.PageID, pageSize int, isLeaf bool, schema *types.Schema, keyIdx int) *node {
	buf := make([]byte, pageSize)
	pt := storage.PageTypeBTreeInternal
	if isLeaf {
		pt = storage.PageTypeBTreeLeaf
	}
	storage.WriteHeader(buf, pt, pid.PageNo)
	if isLeaf {
		buf[isLeafOff] = 1
	}
	putPageNo(buf, rightOff, InvalidPageNo)
	putPageNo(buf, prevLeafOff, InvalidPageNo)
	putPageNo(buf, freeNextOff, InvalidPageNo)
	return &node{pid: pid, buf: buf, isLeaf: isLeaf, schema: schema, keyIdx: keyIdx, keyType: schema.FieldType(keyIdx)}
}

func wrapNode(pid types.PageID, buf []byte, schema *types.Schema, keyIdx int) *node {
	return &node{
		pid:     pid,
		buf:     buf,
		isLeaf:  buf[isLeafOff] == 1,
		schema:  schema,
		keyIdx:  keyIdx,
		keyType: schema.FieldType(keyIdx),
	}
}

func (n *node) keyCount() int {
	return int(binary.LittleEndian.Uint16(n.buf[keyCountOff:]))
}
func (n *node) setKeyCount(c int) {
	binary.LittleEndian.PutUint16(n.buf[keyCountOff:], uint16(c))
}

func (n *node) rightChild() int    { return getPageNo(n.buf, rightOff) }
func (n *node) setRightChild(p int) { putPageNo(n.buf, rightOff, p) }
func (n *node) nextLeaf() int      { return getPageNo(n.buf, rightOff) }
func (n *node) setNextLeaf(p int)  { putPageNo(n.buf, rightOff, p) }
func (n *node) prevLeaf() int      { return getPageNo(n.buf, prevLeafOff) }
func (n *node) setPrevLeaf(p int)  { putPageNo(n.buf, prevLeafOff, p) }
func (n *node) freeNext() int      { return getPageNo(n.buf, freeNextOff) }
func (n *node) setFreeNext(p int)  { putPageNo(n.buf, freeNextOff, p) }

func (n *node) keyWidth() int { return n.keyType.Width() }

// internal entry width: child page number (4 bytes) + key.
func (n *node) internalEntryWidth() int { return 4 + n.keyWidth() }

// leaf entry width: the full encoded tuple.
func (n *node) leafEntryWidth() int { return n.schema.TupleSize() }

func (n *node) internalCapacity(pageSize int) int {
	return (pageSize - entriesOff) / n.internalEntryWidth()
}
func (n *node) leafCapacity(pageSize int) int {
	return (pageSize - entriesOff) / n.leafEntryWidth()
}

// ── Internal node entries: (childPageNo, separatorKey) ──────────────────

func (n *node) internalOffset(i int) int { return entriesOff + i*n.internalEntryWidth() }

func (n *node) internalChild(i int) int {
	return getPageNo(n.buf, n.internalOffset(i))
}

func (n *node) internalKey(i int) types.Field {
	off := n.internalOffset(i) + 4
	return types.DecodeField(n.keyType, n.buf[off:off+n.keyWidth()])
}

func (n *node) setInternalEntry(i int, child int, key types.Field) {
	off := n.internalOffset(i)
	putPageNo(n.buf, off, child)
	key.Encode(n.buf[off+4 : off+4+n.keyWidth()])
}

// insertInternalAt shifts entries [i..keyCount) right by one and writes
// the new entry at i.
func (n *node) insertInternalAt(i int, child int, key types.Field) {
	kc := n.keyCount()
	for j := kc; j > i; j-- {
		n.copyInternalEntry(j-1, j)
	}
	n.setInternalEntry(i, child, key)
	n.setKeyCount(kc + 1)
}

func (n *node) copyInternalEntry(from, to int) {
	src := n.internalOffset(from)
	dst := n.internalOffset(to)
	copy(n.buf[dst:dst+n.internalEntryWidth()], n.buf[src:src+n.internalEntryWidth()])
}

// findChild returns the child page number to descend into for key. Each
// separator is the max key of the child on its left, so: key <=
// entry[0].key -> entry[0].child; entry[i-1].key < key <= entry[i].key ->
// entry[i].child; key > entry[last].key -> rightChild.
func (n *node) findChild(key types.Field) int {
	kc := n.keyCount()
	for i := 0; i < kc; i++ {
		if key.Compare(n.internalKey(i)) <= 0 {
			return n.internalChild(i)
		}
	}
	return n.rightChild()
}

// ── Leaf node entries: full tuples, sorted by the key field ─────────────

func (n *node) leafOffset(i int) int { return entriesOff + i*n.leafEntryWidth() }

func (n *node) leafTuple(i int) *types.Tuple {
	off := n.leafOffset(i)
	t := types.DecodeTuple(n.schema, n.buf[off:off+n.leafEntryWidth()])
	t.SetRecordID(types.RecordID{PID: n.pid, Slot: i})
	return t
}

func (n *node) leafKey(i int) types.Field { return n.leafTuple(i).Field(n.keyIdx) }

func (n *node) setLeafEntry(i int, t *types.Tuple) {
	off := n.leafOffset(i)
	t.Encode(n.buf[off : off+n.leafEntryWidth()])
}

// searchLeaf returns the insertion position for key (first index whose
// key is >= the search key).
func (n *node) searchLeaf(key types.Field) int {
	lo, hi := 0, n.keyCount()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.leafKey(mid).Compare(key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (n *node) insertLeafAt(i int, t *types.Tuple) {
	kc := n.keyCount()
	for j := kc; j > i; j-- {
		n.copyLeafEntry(j-1, j)
	}
	n.setLeafEntry(i, t)
	n.setKeyCount(kc + 1)
}

func (n *node) copyLeafEntry(from, to int) {
	src := n.leafOffset(from)
	dst := n.leafOffset(to)
	copy(n.buf[dst:dst+n.leafEntryWidth()], n.buf[src:src+n.leafEntryWidth()])
}

func (n *node) deleteLeafAt(i int) {
	kc := n.keyCount()
	for j := i; j < kc-1; j++ {
		n.copyLeafEntry(j+1, j)
	}
	n.setKeyCount(kc - 1)
}
