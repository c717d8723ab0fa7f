package stats_test

import (
	"path/filepath"
	"testing"

	"github.com/gosimpledb/simpledb/internal/buffer"
	"github.com/gosimpledb/simpledb/internal/dblog"
	"github.com/gosimpledb/simpledb/internal/lock"
	"github.com/gosimpledb/simpledb/internal/operators"
	"github.com/gosimpledb/simpledb/internal/stats"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

func valueSchema() *types.Schema {
	return types.NewSchema([]types.FieldDesc{{Type: types.IntType, Name: "v"}})
}

func TestNewTableStatsCardinalityAndCost(t *testing.T) {
	quiet := dblog.New("test", dblog.LevelOff)
	pool := buffer.NewPool(50, lock.NewManager(quiet), quiet)
	hf, err := storage.OpenHeapFile(filepath.Join(t.TempDir(), "v.dat"), valueSchema(), 4096)
	if err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	hf.SetPool(pool)
	pool.RegisterFile(hf)

	reg := txn.NewRegistry()
	tid := reg.Begin()
	const n = 500
	for i := 0; i < n; i++ {
		tup := types.NewTuple(valueSchema())
		tup.SetField(0, types.NewIntField(int32(i)))
		if err := hf.InsertTuple(tid, tup); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := pool.TransactionComplete(tid, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	reg.Complete(tid)

	statTid := reg.Begin()
	ts, err := stats.NewTableStats(hf, statTid, 100)
	if err != nil {
		t.Fatalf("new table stats: %v", err)
	}
	if ts.NumTuples() != n {
		t.Fatalf("NumTuples() = %d, want %d", ts.NumTuples(), n)
	}
	if ts.EstimateScanCost() != float64(hf.NumPages())*stats.IOCostPerPage {
		t.Fatalf("scan cost mismatch: got %v", ts.EstimateScanCost())
	}

	card := ts.EstimateTableCardinality(0.5)
	if card < 200 || card > 300 {
		t.Fatalf("cardinality at selectivity 0.5 = %d, want roughly 250", card)
	}
}

func TestTableStatsEmptyTableNeutralSelectivity(t *testing.T) {
	quiet := dblog.New("test", dblog.LevelOff)
	pool := buffer.NewPool(10, lock.NewManager(quiet), quiet)
	hf, err := storage.OpenHeapFile(filepath.Join(t.TempDir(), "empty.dat"), valueSchema(), 4096)
	if err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	hf.SetPool(pool)
	pool.RegisterFile(hf)

	reg := txn.NewRegistry()
	tid := reg.Begin()
	ts, err := stats.NewTableStats(hf, tid, 100)
	if err != nil {
		t.Fatalf("new table stats on empty table: %v", err)
	}
	if ts.NumTuples() != 0 {
		t.Fatalf("expected zero tuples, got %d", ts.NumTuples())
	}
	if got := ts.EstimateSelectivity(0, operators.Equals, 5); got != 1 {
		t.Fatalf("empty-table selectivity = %v, want neutral 1", got)
	}
}
