package buffer

import (
	"sync"
	"testing"
	"time"

	"crashdb/file"
	"crashdb/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	fm *file.Manager
	lm *log.Manager
	bm *Manager
}

// setupTest creates a new test environment with the specified number of buffers
func setupTest(t *testing.T, numBuffers int, strategy ReplacementStrategy) *testEnv {
	t.Helper()
	fm, err := file.NewManager(t.TempDir(), 400)
	require.NoError(t, err)

	lm, err := log.NewManager(fm, "testlog")
	require.NoError(t, err)

	bm := NewManagerWithReplacementStrategy(fm, lm, numBuffers, strategy)
	bm.SetPinTimeout(500 * time.Millisecond)
	return &testEnv{fm: fm, lm: lm, bm: bm}
}

// createBlock is a helper to create a block ID
func createBlock(fileName string, blockNum int) file.BlockId {
	return file.BlockId{File: fileName, BlockNumber: blockNum}
}

// dirty logs a fake record, writes val into the pinned buffer, and marks it modified with the new lsn.
func (env *testEnv) dirty(t *testing.T, buff *Buffer, val int) int64 {
	t.Helper()
	lsn, err := env.lm.Append([]byte("update"))
	require.NoError(t, err)
	buff.Contents().SetInt(file.PageLSNSize, val)
	buff.SetModified(lsn)
	return lsn
}

func readFromDisk(t *testing.T, fm *file.Manager, blk file.BlockId) *file.Page {
	t.Helper()
	page := file.NewPage(fm.BlockSize())
	require.NoError(t, fm.Read(&blk, page))
	return page
}

func TestBufferManager(t *testing.T) {
	t.Run("basic buffer operations", func(t *testing.T) {
		env := setupTest(t, 3, NewLRUStrategy())

		blk := createBlock("testfile", 1)
		buff, err := env.bm.Pin(&blk)
		require.NoError(t, err)

		assert.Equal(t, &blk, buff.Block(), "buffer should be assigned to correct block")
		assert.Equal(t, 2, env.bm.Available())

		env.bm.Unpin(buff)
		assert.Equal(t, 3, env.bm.Available(), "buffer should be available after unpinning")

		// A second unpin is ignored instead of corrupting the counters.
		env.bm.Unpin(buff)
		assert.Equal(t, 3, env.bm.Available())
	})

	t.Run("repinning a cached block returns the same buffer", func(t *testing.T) {
		env := setupTest(t, 3, NewLRUStrategy())

		blk := createBlock("testfile", 1)
		first, err := env.bm.Pin(&blk)
		require.NoError(t, err)
		second, err := env.bm.Pin(&blk)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 2, env.bm.Available(), "pinning twice uses one frame")
	})

	t.Run("buffer allocation until full", func(t *testing.T) {
		env := setupTest(t, 3, NewLRUStrategy())

		blocks := make([]*Buffer, 3)
		for i := 0; i < 3; i++ {
			blk := createBlock("testfile", i+1)
			buff, err := env.bm.Pin(&blk)
			require.NoError(t, err)
			blocks[i] = buff
		}
		assert.Equal(t, 0, env.bm.Available(), "no buffers should be available")

		for _, buff := range blocks {
			env.bm.Unpin(buff)
		}
	})

	t.Run("naive buffer reuse after unpin", func(t *testing.T) {
		env := setupTest(t, 2, NewNaiveStrategy())

		blk1 := createBlock("testfile", 1)
		buff1, err := env.bm.Pin(&blk1)
		require.NoError(t, err)

		blk2 := createBlock("testfile", 2)
		_, err = env.bm.Pin(&blk2)
		require.NoError(t, err)

		env.bm.Unpin(buff1)

		blk3 := createBlock("testfile", 3)
		buff3, err := env.bm.Pin(&blk3)
		require.NoError(t, err)
		assert.Equal(t, buff1, buff3, "should reuse unpinned buffer")
	})
}

func TestLRUEvictsLeastRecentlyUnpinned(t *testing.T) {
	env := setupTest(t, 3, NewLRUStrategy())

	var buffers []*Buffer
	for i := 1; i <= 3; i++ {
		blk := createBlock("testfile", i)
		buff, err := env.bm.Pin(&blk)
		require.NoError(t, err)
		buffers = append(buffers, buff)
	}
	// Unpin in the order 2, 3, 1: block 2 becomes the oldest eligible frame.
	env.bm.Unpin(buffers[1])
	env.bm.Unpin(buffers[2])
	env.bm.Unpin(buffers[0])

	blk4 := createBlock("testfile", 4)
	buff4, err := env.bm.Pin(&blk4)
	require.NoError(t, err)
	assert.Same(t, buffers[1], buff4, "block 2 was unpinned first and is evicted")

	env.bm.Unpin(buff4)
	blk5 := createBlock("testfile", 5)
	buff5, err := env.bm.Pin(&blk5)
	require.NoError(t, err)
	assert.Same(t, buffers[2], buff5, "block 3 is next in line")
}

func TestStrategyByName(t *testing.T) {
	s, err := StrategyByName("")
	require.NoError(t, err)
	assert.IsType(t, &LRUStrategy{}, s)

	s, err = StrategyByName("naive")
	require.NoError(t, err)
	assert.IsType(t, &NaiveStrategy{}, s)

	_, err = StrategyByName("clock")
	assert.Error(t, err)
}

func TestDirtyEvictionFollowsWriteAheadRule(t *testing.T) {
	env := setupTest(t, 1, NewLRUStrategy())

	blk1 := createBlock("testfile", 0)
	buff, err := env.bm.Pin(&blk1)
	require.NoError(t, err)
	lsn := env.dirty(t, buff, 99)
	assert.Equal(t, int64(0), env.lm.FlushedLSN(), "dirtying a page does not force the log")
	assert.Equal(t, 1, env.bm.DirtyCount())
	env.bm.Unpin(buff)

	blk2 := createBlock("testfile", 1)
	other, err := env.bm.Pin(&blk2)
	require.NoError(t, err)
	defer env.bm.Unpin(other)

	assert.GreaterOrEqual(t, env.lm.FlushedLSN(), lsn, "the log reaches disk before the page")
	page := readFromDisk(t, env.fm, blk1)
	assert.Equal(t, 99, page.GetInt(file.PageLSNSize))
	assert.Equal(t, lsn, page.PageLSN())
	assert.LessOrEqual(t, page.PageLSN(), env.lm.FlushedLSN())
	assert.Equal(t, 0, env.bm.DirtyCount())
}

func TestFlushAllAndFlushPage(t *testing.T) {
	env := setupTest(t, 3, NewLRUStrategy())

	blkA := createBlock("testfile", 0)
	blkB := createBlock("testfile", 1)
	a, err := env.bm.Pin(&blkA)
	require.NoError(t, err)
	b, err := env.bm.Pin(&blkB)
	require.NoError(t, err)
	env.dirty(t, a, 1)
	lsnB := env.dirty(t, b, 2)
	_, err = env.lm.Append([]byte("trailing record"))
	require.NoError(t, err)

	require.NoError(t, env.bm.FlushPage(&blkA))
	assert.Equal(t, 1, readFromDisk(t, env.fm, blkA).GetInt(file.PageLSNSize))
	assert.Equal(t, 1, env.bm.DirtyCount())

	require.NoError(t, env.bm.FlushAll())
	assert.Equal(t, 0, env.bm.DirtyCount())
	assert.Equal(t, env.lm.LatestLSN(), env.lm.FlushedLSN(), "FlushAll forces the whole log tail")
	page := readFromDisk(t, env.fm, blkB)
	assert.Equal(t, 2, page.GetInt(file.PageLSNSize))
	assert.Equal(t, lsnB, page.PageLSN())

	// Flushing a block that is not cached is a no-op.
	missing := createBlock("testfile", 9)
	assert.NoError(t, env.bm.FlushPage(&missing))

	env.bm.Unpin(a)
	env.bm.Unpin(b)
}

func TestBufferTimeout(t *testing.T) {
	env := setupTest(t, 1, NewLRUStrategy())

	blk1 := createBlock("testfile", 1)
	buff1, err := env.bm.Pin(&blk1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		blk2 := createBlock("testfile", 2)
		_, err := env.bm.Pin(&blk2)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBufferAbort)
		assert.ErrorContains(t, err, "context deadline exceeded")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Pin to return error")
	}

	env.bm.Unpin(buff1)

	blk2 := createBlock("testfile", 2)
	buff2, err := env.bm.Pin(&blk2)
	require.NoError(t, err, "should successfully pin block after buffer becomes available")
	assert.Equal(t, &blk2, buff2.Block())
	env.bm.Unpin(buff2)
}

func TestConcurrentBufferAccess(t *testing.T) {
	env := setupTest(t, 2, NewLRUStrategy())
	env.bm.SetPinTimeout(5 * time.Second)

	var wg sync.WaitGroup
	workDuration := 300 * time.Millisecond
	pinned := make(chan struct{}, 2)

	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			blk := createBlock("testfile", n)
			buff, err := env.bm.Pin(&blk)
			if !assert.NoError(t, err) {
				pinned <- struct{}{}
				return
			}
			pinned <- struct{}{}
			time.Sleep(workDuration) // Simulate work
			env.bm.Unpin(buff)
		}(i)
	}
	<-pinned
	<-pinned

	// Every frame is pinned, so this waits for one of the workers to finish.
	start := time.Now()
	blk3 := createBlock("testfile", 3)
	buff3, err := env.bm.Pin(&blk3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), workDuration/2)

	env.bm.Unpin(buff3)
	wg.Wait()

	assert.Equal(t, 2, env.bm.Available(), "all buffers should be available after completion")
}
