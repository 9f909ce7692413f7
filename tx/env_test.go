package tx_test

import (
	"testing"
	"time"

	"crashdb/buffer"
	"crashdb/file"
	"crashdb/log"
	"crashdb/tx"
	"crashdb/tx/concurrency"

	"github.com/stretchr/testify/require"
)

const (
	testBlockSize = 400
	testFile      = "testfile"
)

// testDB wires the storage stack the way the engine does, over a directory that outlives crashes.
type testDB struct {
	dir string
	fm  *file.Manager
	lm  *log.Manager
	bm  *buffer.Manager
	lt  *concurrency.LockTable
	txm *tx.Manager
}

func openTestDB(t *testing.T, dir string) *testDB {
	t.Helper()
	fm, err := file.NewManager(dir, testBlockSize)
	require.NoError(t, err)
	lm, err := log.NewManager(fm, "crashdb.log")
	require.NoError(t, err)
	bm := buffer.NewManager(fm, lm, 8)
	lt := concurrency.NewLockTable()
	lt.SetMaxWaitTime(200 * time.Millisecond)
	return &testDB{dir: dir, fm: fm, lm: lm, bm: bm, lt: lt, txm: tx.NewManager(fm, lm, bm, lt)}
}

// crash drops the log tail and the buffer pool without writing anything.
func (db *testDB) crash(t *testing.T) {
	t.Helper()
	db.lm.Abandon()
	require.NoError(t, db.fm.Close())
}

func (db *testDB) close(t *testing.T) {
	t.Helper()
	require.NoError(t, db.bm.FlushAll())
	require.NoError(t, db.lm.Close())
	require.NoError(t, db.fm.Close())
}

func (db *testDB) reopen(t *testing.T) (*testDB, *tx.RecoveryStats) {
	t.Helper()
	next := openTestDB(t, db.dir)
	stats, err := next.txm.Recover()
	require.NoError(t, err)
	return next, stats
}

func (db *testDB) appendBlock(t *testing.T) *file.BlockId {
	t.Helper()
	txn := db.txm.Begin()
	block, err := txn.Append(testFile)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return block
}

func (db *testDB) readInt(t *testing.T, block *file.BlockId, offset int) int {
	t.Helper()
	txn := db.txm.Begin()
	require.NoError(t, txn.Pin(block))
	v, err := txn.GetInt(block, offset)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return v
}

func (db *testDB) writeInt(t *testing.T, txn *tx.Transaction, block *file.BlockId, offset, val int) {
	t.Helper()
	require.NoError(t, txn.Pin(block))
	require.NoError(t, txn.SetInt(block, offset, val))
}

// records decodes the whole log.
func (db *testDB) records(t *testing.T) []tx.LogRecord {
	t.Helper()
	it, err := db.lm.ReadFrom(1)
	require.NoError(t, err)
	var records []tx.LogRecord
	for it.HasNext() {
		_, bytes, err := it.Next()
		require.NoError(t, err)
		record, err := tx.CreateLogRecord(bytes)
		require.NoError(t, err)
		records = append(records, record)
	}
	return records
}

func opsOf(records []tx.LogRecord) []tx.LogRecordType {
	ops := make([]tx.LogRecordType, len(records))
	for i, r := range records {
		ops[i] = r.Op()
	}
	return ops
}
