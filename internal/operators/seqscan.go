package operators

import (
	"fmt"

	"github.com/gosimpledb/simpledb/internal/dberrors"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

// SeqScan wraps a table's underlying file iterator, per spec.md §4.5.
// Its output schema renames every field of the underlying file's schema
// to "alias.fieldName".
type SeqScan struct {
	noChildren
	tid    txn.TransactionID
	file   storage.DbFile
	alias  string
	desc   *types.Schema
	it     storage.TupleIterator
	opened bool
}

// NewSeqScan builds a full-table scan of file under alias.
func NewSeqScan(tid txn.TransactionID, file storage.DbFile, alias string) *SeqScan {
	return &SeqScan{
		tid:   tid,
		file:  file,
		alias: alias,
		desc:  file.Schema().Rename(alias),
	}
}

func (s *SeqScan) TupleDesc() *types.Schema { return s.desc }

func (s *SeqScan) Open() error {
	s.it = s.file.Iterator(s.tid)
	if err := s.it.Open(); err != nil {
		return err
	}
	s.opened = true
	return nil
}

func (s *SeqScan) Rewind() error {
	if !s.opened {
		return fmt.Errorf("operators: seqscan rewind before open: %w", dberrors.ErrDBException)
	}
	return s.it.Rewind()
}

func (s *SeqScan) HasNext() (bool, error) {
	if !s.opened {
		return false, fmt.Errorf("operators: seqscan hasNext before open: %w", dberrors.ErrDBException)
	}
	return s.it.HasNext()
}

func (s *SeqScan) Next() (*types.Tuple, error) {
	t, err := s.it.Next()
	if err != nil {
		return nil, err
	}
	// Re-tag the tuple under the renamed schema; the underlying fields and
	// record identity are unchanged, only the descriptor differs.
	out := &types.Tuple{Schema: s.desc, Fields: t.Fields}
	if rid, ok := t.RecordID(); ok {
		out.SetRecordID(rid)
	}
	return out, nil
}

func (s *SeqScan) Close() error {
	if s.it == nil {
		return nil
	}
	s.opened = false
	return s.it.Close()
}
