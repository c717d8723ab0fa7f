package operators_test

import (
	"path/filepath"
	"testing"

	"github.com/gosimpledb/simpledb/internal/buffer"
	"github.com/gosimpledb/simpledb/internal/dblog"
	"github.com/gosimpledb/simpledb/internal/lock"
	"github.com/gosimpledb/simpledb/internal/operators"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

func quiet() *dblog.Logger { return dblog.New("test", dblog.LevelOff) }

func kvSchema() *types.Schema {
	return types.NewSchema([]types.FieldDesc{
		{Type: types.IntType, Name: "k"},
		{Type: types.IntType, Name: "v"},
	})
}

func newPopulatedFile(t *testing.T, pool *buffer.Pool, reg *txn.Registry, n int) *storage.HeapFile {
	t.Helper()
	hf, err := storage.OpenHeapFile(filepath.Join(t.TempDir(), "t.dat"), kvSchema(), 4096)
	if err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	hf.SetPool(pool)
	pool.RegisterFile(hf)

	tid := reg.Begin()
	for i := 0; i < n; i++ {
		tup := types.NewTuple(kvSchema())
		tup.SetField(0, types.NewIntField(int32(i)))
		tup.SetField(1, types.NewIntField(int32(i % 3)))
		if err := hf.InsertTuple(tid, tup); err != nil {
			t.Fatalf("seed insert %d: %v", i, err)
		}
	}
	if err := pool.TransactionComplete(tid, true); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	reg.Complete(tid)
	return hf
}

func drain(t *testing.T, op operators.Operator) []*types.Tuple {
	t.Helper()
	if err := op.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer op.Close()
	var out []*types.Tuple
	for {
		ok, err := op.HasNext()
		if err != nil {
			t.Fatalf("hasNext: %v", err)
		}
		if !ok {
			break
		}
		tup, err := op.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, tup)
	}
	return out
}

func TestSeqScanRenamesSchema(t *testing.T) {
	pool := buffer.NewPool(50, lock.NewManager(quiet()), quiet())
	reg := txn.NewRegistry()
	hf := newPopulatedFile(t, pool, reg, 10)

	scan := operators.NewSeqScan(reg.Begin(), hf, "t")
	if got := scan.TupleDesc().FieldName(0); got != "t.k" {
		t.Fatalf("renamed field = %q, want t.k", got)
	}
	rows := drain(t, scan)
	if len(rows) != 10 {
		t.Fatalf("scanned %d rows, want 10", len(rows))
	}
}

func TestFilterYieldsOnlyMatching(t *testing.T) {
	pool := buffer.NewPool(50, lock.NewManager(quiet()), quiet())
	reg := txn.NewRegistry()
	hf := newPopulatedFile(t, pool, reg, 30)

	scan := operators.NewSeqScan(reg.Begin(), hf, "t")
	f := operators.NewFilter(operators.Predicate{FieldIndex: 1, Op: operators.Equals, Literal: types.NewIntField(0)}, scan)
	rows := drain(t, f)
	if len(rows) != 10 {
		t.Fatalf("filtered rows = %d, want 10", len(rows))
	}
	for _, r := range rows {
		if r.Field(1).IntVal != 0 {
			t.Fatalf("unexpected row with v=%d", r.Field(1).IntVal)
		}
	}
}

func TestJoinNestedLoopsProducesCrossMatches(t *testing.T) {
	pool := buffer.NewPool(50, lock.NewManager(quiet()), quiet())
	reg := txn.NewRegistry()
	left := newPopulatedFile(t, pool, reg, 9)
	right := newPopulatedFile(t, pool, reg, 9)

	tid := reg.Begin()
	l := operators.NewSeqScan(tid, left, "l")
	r := operators.NewSeqScan(tid, right, "r")
	j := operators.NewJoin(operators.JoinPredicate{LeftField: 1, Op: operators.Equals, RightField: 1}, l, r)

	rows := drain(t, j)
	// v cycles 0,1,2 over 9 rows -> 3 rows per value on each side -> 3*3*3 = 27 matches.
	if len(rows) != 27 {
		t.Fatalf("join rows = %d, want 27", len(rows))
	}
	for _, row := range rows {
		if row.Field(1).IntVal != row.Field(3).IntVal {
			t.Fatalf("joined row violates predicate: %+v", row)
		}
	}
}

// S6: grouped AVG with truncating integer division.
func TestAggregateGroupedAvgTruncates(t *testing.T) {
	pool := buffer.NewPool(50, lock.NewManager(quiet()), quiet())
	reg := txn.NewRegistry()
	hf := newPopulatedFile(t, pool, reg, 10) // k=0..9, v = k%3: groups 0,1,2 have sizes 4,3,3

	tid := reg.Begin()
	scan := operators.NewSeqScan(tid, hf, "t")
	agg := operators.NewIntAggregator(0, 1, operators.Avg)
	aggOp := operators.NewAggregate(scan, agg, 0, 1)

	rows := drain(t, aggOp)
	if len(rows) != 3 {
		t.Fatalf("groups = %d, want 3", len(rows))
	}
	byGroup := map[int32]int32{}
	for _, row := range rows {
		byGroup[row.Field(0).IntVal] = row.Field(1).IntVal
	}
	// group 0: k in {0,3,6,9} -> avg = 18/4 = 4 (truncated)
	if byGroup[0] != 4 {
		t.Fatalf("avg for group 0 = %d, want 4", byGroup[0])
	}
	// group 1: k in {1,4,7} -> avg = 12/3 = 4
	if byGroup[1] != 4 {
		t.Fatalf("avg for group 1 = %d, want 4", byGroup[1])
	}
	// group 2: k in {2,5,8} -> avg = 15/3 = 5
	if byGroup[2] != 5 {
		t.Fatalf("avg for group 2 = %d, want 5", byGroup[2])
	}
}

func TestAggregateUngroupedCount(t *testing.T) {
	pool := buffer.NewPool(50, lock.NewManager(quiet()), quiet())
	reg := txn.NewRegistry()
	hf := newPopulatedFile(t, pool, reg, 42)

	tid := reg.Begin()
	scan := operators.NewSeqScan(tid, hf, "t")
	agg := operators.NewIntAggregator(0, operators.NoGrouping, operators.Count)
	aggOp := operators.NewAggregate(scan, agg, 0, operators.NoGrouping)

	rows := drain(t, aggOp)
	if len(rows) != 1 {
		t.Fatalf("ungrouped aggregate produced %d rows, want 1", len(rows))
	}
	if rows[0].Field(0).IntVal != 42 {
		t.Fatalf("count = %d, want 42", rows[0].Field(0).IntVal)
	}
}

func TestInsertAndDeleteReportCounts(t *testing.T) {
	pool := buffer.NewPool(50, lock.NewManager(quiet()), quiet())
	reg := txn.NewRegistry()
	src := newPopulatedFile(t, pool, reg, 20)

	dst, err := storage.OpenHeapFile(filepath.Join(t.TempDir(), "dst.dat"), kvSchema(), 4096)
	if err != nil {
		t.Fatalf("open dst: %v", err)
	}
	dst.SetPool(pool)
	pool.RegisterFile(dst)

	tid := reg.Begin()
	scan := operators.NewSeqScan(tid, src, "s")
	ins := operators.NewInsert(tid, scan, dst.ID(), pool)
	rows := drain(t, ins)
	if len(rows) != 1 || rows[0].Field(0).IntVal != 20 {
		t.Fatalf("insert count = %+v, want [20]", rows)
	}
	if err := pool.TransactionComplete(tid, true); err != nil {
		t.Fatalf("commit insert: %v", err)
	}
	reg.Complete(tid)

	delTid := reg.Begin()
	dstScan := operators.NewSeqScan(delTid, dst, "d")
	filtered := operators.NewFilter(operators.Predicate{FieldIndex: 1, Op: operators.Equals, Literal: types.NewIntField(0)}, dstScan)
	del := operators.NewDelete(delTid, filtered, pool)
	delRows := drain(t, del)
	if len(delRows) != 1 {
		t.Fatalf("delete produced %d result rows, want 1", len(delRows))
	}
	if delRows[0].Field(0).IntVal != 7 {
		t.Fatalf("delete count = %d, want 7 (k in {0,3,6,9,12,15,18})", delRows[0].Field(0).IntVal)
	}
}
