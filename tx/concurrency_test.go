package tx_test

import (
	"fmt"
	"sync"
	"testing"

	"crashdb/file"
	"crashdb/tx/concurrency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterBlocksConflictingWriter(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.close(t)
	block := db.appendBlock(t)

	txA := db.txm.Begin()
	db.writeInt(t, txA, block, 8, 1)

	txB := db.txm.Begin()
	require.NoError(t, txB.Pin(block))
	err := txB.SetInt(block, 8, 2)
	assert.ErrorIs(t, err, concurrency.ErrLockAbort)
	require.NoError(t, txB.Rollback())

	require.NoError(t, txA.Commit())
	assert.Equal(t, 1, db.readInt(t, block, 8))
}

func TestReadersShareBlock(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.close(t)
	block := db.appendBlock(t)

	txA := db.txm.Begin()
	txB := db.txm.Begin()
	for _, txn := range []interface {
		Pin(*file.BlockId) error
		GetInt(*file.BlockId, int) (int, error)
	}{txA, txB} {
		require.NoError(t, txn.Pin(block))
		_, err := txn.GetInt(block, 8)
		require.NoError(t, err)
	}

	// A writer must wait for both readers.
	err := txA.SetInt(block, 8, 3)
	assert.ErrorIs(t, err, concurrency.ErrLockAbort)
	require.NoError(t, txA.Rollback())
	require.NoError(t, txB.Commit())
}

func TestDeadlockResolvedByTimeout(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.close(t)
	blk1 := db.appendBlock(t)
	blk2 := db.appendBlock(t)

	txA := db.txm.Begin()
	txB := db.txm.Begin()
	db.writeInt(t, txA, blk1, 8, 1)
	db.writeInt(t, txB, blk2, 8, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if errs[0] = txA.Pin(blk2); errs[0] == nil {
			errs[0] = txA.SetInt(blk2, 8, 1)
		}
	}()
	go func() {
		defer wg.Done()
		if errs[1] = txB.Pin(blk1); errs[1] == nil {
			errs[1] = txB.SetInt(blk1, 8, 2)
		}
	}()
	wg.Wait()

	// Each waits on the other, so at least one gives up.
	aborted := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, concurrency.ErrLockAbort)
			aborted++
		}
	}
	assert.Positive(t, aborted)
	require.NoError(t, txA.Rollback())
	require.NoError(t, txB.Rollback())

	assert.Equal(t, 0, db.readInt(t, blk1, 8))
	assert.Equal(t, 0, db.readInt(t, blk2, 8))
}

func TestConcurrentCommitters(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.close(t)
	const workers = 4
	blocks := make([]*file.BlockId, workers)
	for i := range blocks {
		blocks[i] = db.appendBlock(t)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn := db.txm.Begin()
			if err := txn.Pin(blocks[i]); err != nil {
				errs <- err
				return
			}
			for n := 1; n <= 10; n++ {
				if err := txn.SetInt(blocks[i], 8, n*(i+1)); err != nil {
					errs <- fmt.Errorf("worker %d: %w", i, err)
					return
				}
			}
			errs <- txn.Commit()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i, block := range blocks {
		assert.Equal(t, 10*(i+1), db.readInt(t, block, 8))
	}
	assert.Equal(t, db.lm.LatestLSN(), db.lm.FlushedLSN())
}
