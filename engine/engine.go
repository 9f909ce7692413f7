// Package engine assembles the storage stack and owns its startup and shutdown order.
package engine

import (
	"os"
	"path/filepath"
	"sync"

	"crashdb/buffer"
	"crashdb/config"
	"crashdb/executor"
	"crashdb/file"
	"crashdb/log"
	"crashdb/logger"
	"crashdb/table"
	"crashdb/tx"
	"crashdb/tx/concurrency"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogFile is the name of the write-ahead log inside the database directory.
const LogFile = "wal.log"

// DB is an open database. Open recovers it before returning; Close or Crash ends it.
type DB struct {
	cfg           config.Config
	fileManager   *file.Manager
	logManager    *log.Manager
	bufferManager *buffer.Manager
	txManager     *tx.Manager
	catalog       *table.Catalog
	executor      *executor.Executor
	recovery      *tx.RecoveryStats
	logger        *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// Open starts the stack bottom up, runs restart recovery, and takes a checkpoint so the next restart
// starts from a clean point.
func Open(cfg config.Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := buffer.StrategyByName(cfg.Replacement)
	if err != nil {
		return nil, err
	}
	fm, err := file.NewManager(cfg.Dir, cfg.BlockSize)
	if err != nil {
		return nil, err
	}
	if err := checkLayout(fm); err != nil {
		_ = fm.Close()
		return nil, err
	}
	lm, err := log.NewManager(fm, LogFile)
	if err != nil {
		_ = fm.Close()
		return nil, err
	}
	bm := buffer.NewManagerWithReplacementStrategy(fm, lm, cfg.PoolSize, strategy)
	bm.SetPinTimeout(cfg.PinTimeout)
	lt := concurrency.NewLockTable()
	lt.SetMaxWaitTime(cfg.LockTimeout)

	catalog := table.NewCatalog()
	db := &DB{
		cfg:           cfg,
		fileManager:   fm,
		logManager:    lm,
		bufferManager: bm,
		txManager:     tx.NewManager(fm, lm, bm, lt),
		catalog:       catalog,
		executor:      executor.New(catalog),
		logger:        logger.For("engine"),
	}

	db.logger.WithFields(logrus.Fields{
		"dir":     cfg.Dir,
		"new":     fm.IsNew(),
		"wal":     humanize.Bytes(uint64(fileSize(filepath.Join(cfg.Dir, LogFile)))),
		"block":   humanize.Bytes(uint64(cfg.BlockSize)),
		"pool":    humanize.Bytes(uint64(cfg.BlockSize * cfg.PoolSize)),
		"replace": cfg.Replacement,
	}).Info("opening database")

	stats, err := db.txManager.Recover()
	if err != nil {
		db.abandon()
		return nil, err
	}
	db.recovery = stats
	if _, err := db.txManager.Checkpoint(); err != nil {
		db.abandon()
		return nil, errors.Wrap(err, "checkpoint after recovery")
	}
	db.logger.WithFields(logrus.Fields{
		"records": humanize.Comma(int64(stats.Records)),
		"redone":  stats.Redone,
		"losers":  len(stats.Losers),
	}).Info("database ready")
	return db, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Begin starts a transaction.
func (db *DB) Begin() *tx.Transaction {
	return db.txManager.Begin()
}

// Execute runs one SQL statement inside txn.
func (db *DB) Execute(txn *tx.Transaction, sql string) (*executor.Result, error) {
	return db.executor.Execute(txn, sql)
}

// Checkpoint writes every dirty page and a checkpoint record. It is what FLUSH does.
func (db *DB) Checkpoint() (int64, error) {
	return db.txManager.Checkpoint()
}

// RecoveryStats reports what the restart in Open did.
func (db *DB) RecoveryStats() *tx.RecoveryStats {
	return db.recovery
}

// Transactions exposes the transaction manager.
func (db *DB) Transactions() *tx.Manager {
	return db.txManager
}

// LogPosition returns the durable and the latest LSN of the log.
func (db *DB) LogPosition() (flushed, latest int64) {
	return db.logManager.FlushedLSN(), db.logManager.LatestLSN()
}

// FailLogWrites makes every log flush fail with err until it is called again with nil, the way a full
// disk would. Commits in the meantime are rolled back.
func (db *DB) FailLogWrites(err error) {
	db.logManager.FailWrites(err)
}

func (db *DB) Config() config.Config {
	return db.cfg
}

// Close shuts down cleanly: a final checkpoint, then the log, then the table files.
// Transactions still open are left to the next restart to roll back.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	_, err := db.txManager.Checkpoint()
	if lerr := db.logManager.Close(); err == nil {
		err = lerr
	}
	if ferr := db.fileManager.Close(); err == nil {
		err = ferr
	}
	db.logger.WithFields(logrus.Fields{
		"blocksRead":    db.fileManager.GetBlocksRead(),
		"blocksWritten": db.fileManager.GetBlocksWritten(),
	}).Info("database closed")
	return err
}

// Crash stops the database the way a killed process would: the log tail and every dirty buffer are
// dropped, and file handles are closed without writing anything.
func (db *DB) Crash() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return
	}
	db.closed = true
	db.logger.WithFields(logrus.Fields{
		"dirtyPages": db.bufferManager.DirtyCount(),
		"flushedLSN": db.logManager.FlushedLSN(),
		"latestLSN":  db.logManager.LatestLSN(),
	}).Warn("simulated crash")
	db.abandon()
}

func (db *DB) abandon() {
	db.logManager.Abandon()
	_ = db.fileManager.Close()
}
