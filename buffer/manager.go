package buffer

import (
	"context"
	"sync"
	"time"

	"crashdb/file"
	"crashdb/log"
	"crashdb/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxWaitTime = 10 * time.Second
)

// ErrBufferAbort is returned when no frame frees up within the pin timeout. The caller should abort the
// transaction it is running and retry.
var ErrBufferAbort = errors.New("buffer abort exception")

// Manager manages the pinning and unpinning of buffers to blocks. It also handles the flushing of dirty buffers.
// It maintains a pool of buffers and uses a replacement strategy to choose which buffer to replace when a new block
// needs to be pinned.
type Manager struct {
	bufferPool   []*Buffer
	numAvailable int
	logManager   *log.Manager
	mu           sync.Mutex
	cond         *sync.Cond
	strategy     ReplacementStrategy
	maxWaitTime  time.Duration
	logger       *logrus.Entry
}

// NewManager depends on a file.Manager and log.Manager instance. It evicts the least recently unpinned buffer.
func NewManager(fileManager *file.Manager, logManager *log.Manager, numBuffers int) *Manager {
	return NewManagerWithReplacementStrategy(fileManager, logManager, numBuffers, NewLRUStrategy())
}

func NewManagerWithReplacementStrategy(fileManager *file.Manager, logManager *log.Manager, numBuffers int, strategy ReplacementStrategy) *Manager {
	bm := &Manager{
		bufferPool:   make([]*Buffer, numBuffers),
		numAvailable: numBuffers,
		logManager:   logManager,
		strategy:     strategy,
		maxWaitTime:  defaultMaxWaitTime,
		logger:       logger.For("buffer"),
	}
	bm.cond = sync.NewCond(&bm.mu)
	for i := 0; i < numBuffers; i++ {
		bm.bufferPool[i] = NewBuffer(fileManager, logManager)
	}
	// initialize the strategy with the buffer pool
	strategy.initialize(bm.bufferPool)
	return bm
}

// SetPinTimeout changes how long Pin waits for a free buffer.
func (m *Manager) SetPinTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxWaitTime = d
}

// Available returns the number of available (i.e., unpinned) buffers
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.numAvailable
}

// DirtyCount returns the number of buffers holding unwritten changes.
func (m *Manager) DirtyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, buff := range m.bufferPool {
		if buff.IsDirty() {
			count++
		}
	}
	return count
}

// FlushAll forces the whole log and then writes every dirty buffer to disk. Afterwards nothing logged so far
// needs to be redone.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.logManager.Flush(m.logManager.LatestLSN()); err != nil {
		return errors.Wrap(err, "failed to force log before flushing buffers")
	}
	written := 0
	for _, buff := range m.bufferPool {
		if !buff.IsDirty() {
			continue
		}
		if err := buff.flush(); err != nil {
			return err
		}
		written++
	}
	m.logger.WithField("pages", written).Debug("flushed all dirty buffers")
	return nil
}

// FlushPage writes the buffer holding block to disk if it is cached and dirty.
func (m *Manager) FlushPage(block *file.BlockId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if buff := m.findExistingBuffer(block); buff != nil {
		return buff.flush()
	}
	return nil
}

// Unpin unpins the specified buffer. If its pin count goes to zero, it increases the number of available
// buffers and notifies any waiting goroutines
func (m *Manager) Unpin(buffer *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !buffer.isPinned() {
		m.logger.WithField("block", buffer.Block()).Warn("unpin of an unpinned buffer")
		return
	}
	buffer.unpin()
	m.strategy.unpinBuffer(buffer)
	if !buffer.isPinned() {
		m.numAvailable++
		m.cond.Broadcast()
	}
}

/*
Pin pins a buffer to the specified block, reading it from disk if it is not cached, potentially waiting until
a buffer becomes available. If no buffer becomes available within the pin timeout, it returns ErrBufferAbort.
This function uses conditional with wait pattern, it can be found detailed here:
https://pkg.go.dev/context#example-AfterFunc-Cond
*/
func (m *Manager) Pin(block *file.BlockId) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.maxWaitTime)
	defer cancel()

	// Broadcast under cond.L when the context expires, so the wakeup cannot slip in between the
	// condition check below and the call to Wait.
	stop := context.AfterFunc(ctx, func() {
		m.cond.L.Lock()
		m.cond.Broadcast()
		m.cond.L.Unlock()
	})
	defer stop()

	for {
		if buff, err := m.tryToPin(block); err != nil {
			return nil, err
		} else if buff != nil {
			return buff, nil
		}
		m.cond.Wait()
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.Wrapf(ErrBufferAbort, "could not pin block %s: %v", block, ctx.Err())
			}
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) tryToPin(block *file.BlockId) (*Buffer, error) {
	buffer := m.findExistingBuffer(block)
	if buffer == nil {
		buffer = m.strategy.chooseUnpinnedBuffer()
		if buffer == nil {
			return nil, nil
		}
		if buffer.Block() != nil {
			m.logger.WithFields(logrus.Fields{
				"evict": buffer.Block(),
				"dirty": buffer.IsDirty(),
				"for":   block,
			}).Debug("replacing buffer")
		}
		if err := buffer.assignToBlock(block); err != nil {
			return nil, err
		}
	}
	if !buffer.isPinned() {
		m.numAvailable--
	}
	buffer.pin()
	m.strategy.pinBuffer(buffer)
	return buffer, nil
}

// findExistingBuffer searches for a buffer assigned to the specified block.
func (m *Manager) findExistingBuffer(block *file.BlockId) *Buffer {
	for _, buffer := range m.bufferPool {
		b := buffer.Block()
		if b != nil && b.Equals(block) {
			return buffer
		}
	}
	return nil
}
