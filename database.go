// Package simpledb is a single-node, disk-resident relational storage and
// execution engine: tables stored as fixed-size pages on disk, served
// through a bounded in-memory buffer pool with page-level two-phase
// locking, executed through a pull-based iterator pipeline of relational
// operators over either an unordered heap file or a clustered B+ tree
// index.
//
// # Basic usage
//
//	cfg := config.DefaultConfig()
//	db := simpledb.Open(cfg)
//	tid := db.Begin()
//	seq := operators.NewSeqScan(tid, table.File, "t")
//	ins := operators.NewInsert(tid, seq, table.ID, db.Pool)
//	// ... drive the operator tree, then:
//	db.Complete(tid, true)
package simpledb

import (
	"github.com/gosimpledb/simpledb/internal/buffer"
	"github.com/gosimpledb/simpledb/internal/catalog"
	"github.com/gosimpledb/simpledb/internal/config"
	"github.com/gosimpledb/simpledb/internal/dblog"
	"github.com/gosimpledb/simpledb/internal/lock"
	"github.com/gosimpledb/simpledb/internal/scheduler"
	"github.com/gosimpledb/simpledb/internal/stats"
	"github.com/gosimpledb/simpledb/internal/txn"
)

// Database is the process-wide collection of engine state: the catalog,
// the buffer pool, the lock manager, the transaction registry, and the
// stats store, per spec.md §6's "Process state" note. Unlike the
// original design's bare global singleton, it is an explicit value
// callers construct and pass around — spec.md §9 calls exactly this out
// as the preferred target-implementation shape ("pass an explicit
// context to operators rather than rely on global access — the interface
// is identical but testability improves").
type Database struct {
	Config  *config.Config
	Catalog *catalog.Catalog
	Pool    *buffer.Pool
	Locks   *lock.Manager
	Txns    *txn.Registry
	Stats   *stats.Store
	Log     *dblog.Logger

	sched *scheduler.Scheduler
}

// Open constructs a Database from cfg with an empty catalog. Call
// LoadCatalog to populate it from a catalog text file.
func Open(cfg *config.Config) *Database {
	log := dblog.New("database", dblog.ParseLevel(cfg.LogLevel))
	locks := lock.NewManager(dblog.New("lockmgr", dblog.ParseLevel(cfg.LogLevel)))
	pool := buffer.NewPool(cfg.BufferPoolPages, locks, dblog.New("bufferpool", dblog.ParseLevel(cfg.LogLevel)))
	return &Database{
		Config:  cfg,
		Catalog: catalog.New(),
		Pool:    pool,
		Locks:   locks,
		Txns:    txn.NewRegistry(),
		Stats:   stats.NewStore(cfg.HistogramBuckets),
		Log:     log,
	}
}

// LoadCatalog replaces db.Catalog with the tables described by the
// catalog text file at path, wiring each table's heap file into db.Pool.
func (db *Database) LoadCatalog(path string) error {
	cat, err := catalog.LoadFile(path, db.Config.PageSize, db.Pool)
	if err != nil {
		return err
	}
	db.Catalog = cat
	return nil
}

// Begin starts a new transaction.
func (db *Database) Begin() txn.TransactionID {
	return db.Txns.Begin()
}

// Complete ends tid: the buffer pool flushes (commit) or discards (abort)
// its dirty pages and releases its locks, then the registry forgets it.
func (db *Database) Complete(tid txn.TransactionID, commit bool) error {
	err := db.Pool.TransactionComplete(tid, commit)
	db.Txns.Complete(tid)
	return err
}

// StartStatsScheduler wires a cron-driven TableStats refresher (per
// SPEC_FULL.md §2) running on the given cron spec (standard 6-field,
// seconds-first — e.g. "0 */5 * * * *" refreshes every five minutes) and
// starts it.
func (db *Database) StartStatsScheduler(cronSpec string) error {
	db.sched = scheduler.New(&scheduler.StatsRefresher{
		Catalog:  db.Catalog,
		Pool:     db.Pool,
		Registry: db.Txns,
		Store:    db.Stats,
	}, dblog.New("scheduler", dblog.ParseLevel(db.Config.LogLevel)))
	return db.sched.Start(cronSpec)
}

// StopStatsScheduler halts a previously-started stats scheduler; a no-op
// if none was started.
func (db *Database) StopStatsScheduler() {
	if db.sched != nil {
		db.sched.Stop()
	}
}

// Reset rebuilds the catalog, buffer pool, lock manager, transaction
// registry, and stats store from scratch, discarding all in-memory
// state. Test-only, per spec.md §6.
func (db *Database) Reset() {
	db.StopStatsScheduler()
	*db = *Open(db.Config)
}
