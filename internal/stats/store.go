package stats

import (
	"sync"

	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
)

// Store is the process-wide map from table id to its most recently
// computed TableStats, per SPEC_FULL.md §2's "Stats refresher" addition.
// Reads and the swap-in of a freshly computed set are both guarded by a
// single mutex; recomputation itself (NewTableStats's two table scans)
// happens outside the lock so a slow refresh never blocks readers.
type Store struct {
	mu      sync.RWMutex
	buckets int
	byTable map[uint64]*TableStats
}

// NewStore builds an empty stats store using the given histogram bucket
// count for every table it computes statistics for.
func NewStore(buckets int) *Store {
	return &Store{buckets: buckets, byTable: make(map[uint64]*TableStats)}
}

// Get returns the most recently computed stats for tableID, if any.
func (s *Store) Get(tableID uint64) (*TableStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.byTable[tableID]
	return ts, ok
}

// Refresh recomputes and installs stats for a single file under a
// scratch transaction, without holding the store's lock during the scan.
func (s *Store) Refresh(file storage.DbFile, tid txn.TransactionID) error {
	ts, err := NewTableStats(file, tid, s.buckets)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byTable[file.ID()] = ts
	s.mu.Unlock()
	return nil
}
