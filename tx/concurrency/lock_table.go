package concurrency

import (
	"context"
	"sync"
	"time"

	"crashdb/file"

	"github.com/pkg/errors"
)

const defaultMaxWaitTime = 10 * time.Second

// ErrLockAbort is returned when a lock cannot be granted within the wait time.
var ErrLockAbort = errors.New("lock abort exception")

// LockTable provides methods to lock and unlock blocks on behalf of transactions.
// If a transaction requests a lock that conflicts with an existing lock, it waits on a single wait list
// shared by all blocks. When the last lock on a block is released every waiter wakes up and rechecks;
// those still blocked go back to waiting.
// A positive value in locks counts shared holders; -1 marks an exclusive holder.
type LockTable struct {
	locks       map[file.BlockId]int
	maxWaitTime time.Duration
	mu          sync.Mutex
	cond        *sync.Cond
}

func NewLockTable() *LockTable {
	lt := &LockTable{locks: make(map[file.BlockId]int), maxWaitTime: defaultMaxWaitTime}
	lt.cond = sync.NewCond(&lt.mu)
	return lt
}

// SetMaxWaitTime changes how long a lock request waits before giving up.
func (lt *LockTable) SetMaxWaitTime(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.maxWaitTime = d
}

// SLock grants a shared lock on block, waiting while another transaction holds it exclusively.
func (lt *LockTable) SLock(block *file.BlockId) error {
	return lt.wait(block, "shared", lt.hasXLock, func() {
		lt.locks[*block] = lt.getLockVal(block) + 1
	})
}

// XLock grants an exclusive lock on the specified block.
// Assumes that the calling transaction already has a shared lock on the block, so it waits while anyone
// else holds a shared lock too.
func (lt *LockTable) XLock(block *file.BlockId) error {
	return lt.wait(block, "exclusive", lt.hasOtherSLocks, func() {
		lt.locks[*block] = -1
	})
}

func (lt *LockTable) wait(block *file.BlockId, kind string, blocked func(*file.BlockId) bool, grant func()) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), lt.maxWaitTime)
	defer cancel()

	// This function will run after the context expires.
	stop := context.AfterFunc(ctx, func() {
		lt.cond.L.Lock()
		lt.cond.Broadcast()
		lt.cond.L.Unlock()
	})
	defer stop()

	for {
		if !blocked(block) {
			grant()
			return nil
		}
		lt.cond.Wait()

		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrapf(ErrLockAbort, "could not acquire %s lock on block %s: %v", kind, block, ctx.Err())
			}
			return ctx.Err()
		}
	}
}

// Unlock releases the lock on the specified block.
// If this lock is the last lock on that block,
// then the waiting transactions are notified.
func (lt *LockTable) Unlock(block *file.BlockId) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	val := lt.getLockVal(block)
	if val > 1 {
		lt.locks[*block] = val - 1
	} else {
		delete(lt.locks, *block)
		lt.cond.Broadcast()
	}
}

// hasXLock returns true if there is an exclusive lock on the block.
func (lt *LockTable) hasXLock(block *file.BlockId) bool {
	return lt.getLockVal(block) < 0
}

// hasOtherSLocks returns true if there is more than one shared lock on the block.
func (lt *LockTable) hasOtherSLocks(block *file.BlockId) bool {
	return lt.getLockVal(block) > 1
}

func (lt *LockTable) getLockVal(block *file.BlockId) int {
	return lt.locks[*block]
}
