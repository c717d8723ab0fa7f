// Package storage implements the on-disk page formats: heap pages (and
// the heap file that serves them, both following spec.md §6's byte-exact
// external format with no header of any kind), the B+ tree's own page
// header/CRC machinery (internal to that package, with no spec-mandated
// external format to honor), and the narrow interfaces the buffer pool
// and B+ tree depend on without importing each other.
package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// PageType tags what a B+ tree page's bytes contain, mirroring the
// teacher pager's PageType byte but trimmed to the kinds this engine's
// tree has: internal, leaf, and meta pages. Heap pages carry no such tag
// — spec.md §6 gives them no header to put one in.
type PageType uint8

const (
	PageTypeBTreeInternal PageType = iota + 1
	PageTypeBTreeLeaf
	PageTypeBTreeMeta
)

// PageHeaderSize is the size in bytes of the B+ tree's own page header,
// adapted from the teacher's 32-byte pager.PageHeader layout (type,
// flags, reserved, page number, CRC, padding) with the LSN field dropped
// — this engine has no write-ahead log to assign one. It applies only to
// the B+ tree's internal/leaf/meta pages; heap pages have no header, per
// spec.md §6.
const PageHeaderSize = 16

// header layout within the first PageHeaderSize bytes of every B+ tree
// page:
//
//	[0]    Type      (1 byte)
//	[1:4]  reserved  (3 bytes)
//	[4:8]  PageNo    (uint32 LE)
//	[8:12] CRC32     (uint32 LE, Castagnoli, computed over bytes [16:])
//	[12:16] reserved (4 bytes)
const (
	offType   = 0
	offPageNo = 4
	offCRC    = 8
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// WriteHeader stamps a fresh header into buf (type + page number) for a
// B+ tree page. The CRC is computed separately, after the page's body is
// filled in, by StampCRC.
func WriteHeader(buf []byte, t PageType, pageNo int) {
	buf[offType] = byte(t)
	binary.LittleEndian.PutUint32(buf[offPageNo:], uint32(pageNo))
}

// HeaderType reads the page type from a raw buffer.
func HeaderType(buf []byte) PageType { return PageType(buf[offType]) }

// HeaderPageNo reads the page number from a raw buffer.
func HeaderPageNo(buf []byte) int { return int(binary.LittleEndian.Uint32(buf[offPageNo:])) }

// StampCRC computes and writes the CRC32-Castagnoli checksum over
// everything after the header into the header's CRC field.
func StampCRC(buf []byte) {
	sum := crc32.Checksum(buf[PageHeaderSize:], crcTable)
	binary.LittleEndian.PutUint32(buf[offCRC:], sum)
}

// VerifyCRC reports whether the stored CRC matches the page body.
func VerifyCRC(buf []byte) bool {
	want := binary.LittleEndian.Uint32(buf[offCRC:])
	got := crc32.Checksum(buf[PageHeaderSize:], crcTable)
	return want == got
}

// Page is the capability set the buffer pool needs from any concrete page
// kind (heap or B+ tree): identity, raw bytes for I/O, and dirty tracking.
// The buffer pool is agnostic to which kind it is holding.
type Page interface {
	ID() types.PageID
	Bytes() []byte
	IsDirty() bool
	Dirtier() (txn.TransactionID, bool)
	MarkDirty(tid txn.TransactionID)
	MarkClean()
}

// PageGetter is the narrow view of the buffer pool that a DbFile needs in
// order to fetch pages through the lock manager: declared here, in the
// package that consumes it, rather than in package buffer, so storage
// need not import buffer (which itself imports storage) — this is the
// usual Go way to break an otherwise-circular dependency.
type PageGetter interface {
	GetPage(tid txn.TransactionID, pid types.PageID, mode LockMode) (Page, error)
}

// LockMode mirrors lock.Mode without storage importing the lock package's
// Manager type — DbFile implementations only need the two constants.
type LockMode int

const (
	ReadLock LockMode = iota
	WriteLock
)

// DbFile is the common interface heap files and B+ tree files satisfy:
// the contract spec.md §4.3/§4.4 describes. Both concrete kinds register
// themselves with the buffer pool under their table id.
type DbFile interface {
	ID() uint64
	Schema() *types.Schema
	NumPages() int
	ReadPage(pid types.PageID) (Page, error)
	WritePage(p Page) error
	InsertTuple(tid txn.TransactionID, tuple *types.Tuple) error
	DeleteTuple(tid txn.TransactionID, tuple *types.Tuple) error
	Iterator(tid txn.TransactionID) TupleIterator
}

// TupleIterator is the pull-based iteration contract used by the file
// layer and, with the same shape, by every execution operator.
type TupleIterator interface {
	Open() error
	HasNext() (bool, error)
	Next() (*types.Tuple, error)
	Rewind() error
	Close() error
}
