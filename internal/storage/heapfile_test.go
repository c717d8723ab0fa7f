package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/gosimpledb/simpledb/internal/buffer"
	"github.com/gosimpledb/simpledb/internal/dblog"
	"github.com/gosimpledb/simpledb/internal/lock"
	"github.com/gosimpledb/simpledb/internal/storage"
	"github.com/gosimpledb/simpledb/internal/txn"
	"github.com/gosimpledb/simpledb/internal/types"
)

func newTestPool(t *testing.T, numPages int) *buffer.Pool {
	t.Helper()
	quiet := dblog.New("test", dblog.LevelOff)
	return buffer.NewPool(numPages, lock.NewManager(quiet), quiet)
}

func abSchema() *types.Schema {
	return types.NewSchema([]types.FieldDesc{
		{Type: types.IntType, Name: "a"},
		{Type: types.IntType, Name: "b"},
	})
}

func openTestHeapFile(t *testing.T, pool *buffer.Pool) *storage.HeapFile {
	t.Helper()
	dir := t.TempDir()
	hf, err := storage.OpenHeapFile(filepath.Join(dir, "t.dat"), abSchema(), 4096)
	if err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	hf.SetPool(pool)
	pool.RegisterFile(hf)
	return hf
}

// S1: insert-scan roundtrip.
func TestHeapFileInsertScanRoundTrip(t *testing.T) {
	pool := newTestPool(t, 50)
	hf := openTestHeapFile(t, pool)
	registry := txn.NewRegistry()

	t1 := registry.Begin()
	const n = 1000
	for i := 0; i < n; i++ {
		tup := types.NewTuple(hf.Schema())
		tup.SetField(0, types.NewIntField(int32(i)))
		tup.SetField(1, types.NewIntField(int32(i)))
		if err := hf.InsertTuple(t1, tup); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := pool.TransactionComplete(t1, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	registry.Complete(t1)

	t2 := registry.Begin()
	it := hf.Iterator(t2)
	if err := it.Open(); err != nil {
		t.Fatalf("open iterator: %v", err)
	}
	seen := map[int32]bool{}
	count := 0
	for {
		ok, err := it.HasNext()
		if err != nil {
			t.Fatalf("hasNext: %v", err)
		}
		if !ok {
			break
		}
		tup, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		a, b := tup.Field(0).IntVal, tup.Field(1).IntVal
		if a != b {
			t.Fatalf("expected matching fields, got a=%d b=%d", a, b)
		}
		seen[a] = true
		count++
	}
	if count != n {
		t.Fatalf("scanned %d tuples, want %d", count, n)
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct values, want %d", len(seen), n)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pool.TransactionComplete(t2, true); err != nil {
		t.Fatalf("commit t2: %v", err)
	}
	registry.Complete(t2)
}

// S3: abort discards writes.
func TestHeapFileAbortDiscardsInserts(t *testing.T) {
	pool := newTestPool(t, 50)
	hf := openTestHeapFile(t, pool)
	registry := txn.NewRegistry()

	t1 := registry.Begin()
	for i := 0; i < 10; i++ {
		tup := types.NewTuple(hf.Schema())
		tup.SetField(0, types.NewIntField(int32(i)))
		tup.SetField(1, types.NewIntField(int32(i)))
		if err := hf.InsertTuple(t1, tup); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := pool.TransactionComplete(t1, false); err != nil {
		t.Fatalf("abort: %v", err)
	}
	registry.Complete(t1)

	t2 := registry.Begin()
	it := hf.Iterator(t2)
	if err := it.Open(); err != nil {
		t.Fatalf("open iterator: %v", err)
	}
	ok, err := it.HasNext()
	if err != nil {
		t.Fatalf("hasNext: %v", err)
	}
	if ok {
		t.Fatalf("expected zero tuples after abort, found at least one")
	}
}

func TestHeapFileDeleteWrongTableRejected(t *testing.T) {
	pool := newTestPool(t, 10)
	hf1 := openTestHeapFile(t, pool)
	hf2 := openTestHeapFile(t, pool)
	registry := txn.NewRegistry()

	t1 := registry.Begin()
	tup := types.NewTuple(hf1.Schema())
	tup.SetField(0, types.NewIntField(1))
	tup.SetField(1, types.NewIntField(1))
	if err := hf1.InsertTuple(t1, tup); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := hf2.DeleteTuple(t1, tup); err == nil {
		t.Fatalf("expected db-exception deleting a tuple through the wrong file")
	}
}
