package tx

import (
	"sort"
	"sync"

	"crashdb/buffer"
	"crashdb/file"
	"crashdb/log"
	"crashdb/logger"
	"crashdb/tx/concurrency"

	"github.com/sirupsen/logrus"
)

// Manager hands out transactions and keeps the table of active ones that checkpoints record.
// The Manager is thread-safe.
type Manager struct {
	fileManager   *file.Manager
	logManager    *log.Manager
	bufferManager *buffer.Manager
	lockTable     *concurrency.LockTable
	logger        *logrus.Entry

	// quiesce is held shared by every logged mutation and exclusively by Checkpoint, so a checkpoint never
	// sees a page half way between its update record and its write.
	quiesce sync.RWMutex

	mu        sync.Mutex
	nextTxNum int
	active    map[int]*Transaction
}

func NewManager(fileManager *file.Manager, logManager *log.Manager, bufferManager *buffer.Manager, lockTable *concurrency.LockTable) *Manager {
	return &Manager{
		fileManager:   fileManager,
		logManager:    logManager,
		bufferManager: bufferManager,
		lockTable:     lockTable,
		logger:        logger.For("tx"),
		active:        make(map[int]*Transaction),
	}
}

// Begin starts a new transaction. Nothing is logged until the transaction makes its first change.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxNum++
	tx := newTransaction(m, m.nextTxNum, 0)
	m.active[tx.txNum] = tx
	tx.logger.Debug("transaction started")
	return tx
}

// resume rebuilds an in-flight transaction found in the log so restart can roll it back.
func (m *Manager) resume(txNum int, lastLSN int64) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txNum > m.nextTxNum {
		m.nextTxNum = txNum
	}
	tx := newTransaction(m, txNum, lastLSN)
	m.active[txNum] = tx
	return tx
}

func (m *Manager) forget(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, tx.txNum)
}

// ensureTxNumAbove makes sure new transactions are numbered after every transaction seen in the log.
func (m *Manager) ensureTxNumAbove(txNum int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txNum > m.nextTxNum {
		m.nextTxNum = txNum
	}
}

// Active returns the numbers of the transactions that have begun but not finished, in ascending order.
func (m *Manager) Active() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Checkpoint takes a sharp checkpoint: every dirty page is written back, then a CHECKPOINT record listing
// the active transactions that have logged something is appended and forced. Restart analysis can start
// from the latest checkpoint with an empty dirty page table.
// Returns the LSN of the checkpoint record.
func (m *Manager) Checkpoint() (int64, error) {
	m.quiesce.Lock()
	defer m.quiesce.Unlock()

	if err := m.bufferManager.FlushAll(); err != nil {
		return -1, err
	}
	m.mu.Lock()
	active := make(map[int]int64, len(m.active))
	for id, tx := range m.active {
		if tx.lastLSN > 0 {
			active[id] = tx.lastLSN
		}
	}
	m.mu.Unlock()

	lsn, err := WriteCheckpointToLog(m.logManager, active)
	if err != nil {
		return -1, err
	}
	if err := m.logManager.Flush(lsn); err != nil {
		return -1, err
	}
	m.logger.WithFields(logrus.Fields{"lsn": lsn, "active": len(active)}).Info("checkpoint written")
	return lsn, nil
}
