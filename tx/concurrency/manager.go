package concurrency

import "crashdb/file"

type lockMode int

const (
	shared lockMode = iota
	exclusive
)

// Manager is one transaction's view of the lock table. Locks are taken before a block is read or written
// and all of them are released together when the transaction commits or rolls back.
type Manager struct {
	lockTable *LockTable // pointer to the global lock table
	locks     map[file.BlockId]lockMode
}

func NewManager(lockTable *LockTable) *Manager {
	return &Manager{lockTable: lockTable, locks: make(map[file.BlockId]lockMode)}
}

// SLock obtains a shared lock on the block, if the transaction holds no lock on it yet.
func (m *Manager) SLock(block *file.BlockId) error {
	if _, ok := m.locks[*block]; !ok {
		if err := m.lockTable.SLock(block); err != nil {
			return err
		}
		m.locks[*block] = shared
	}
	return nil
}

// XLock obtains an exclusive lock on the block, if necessary.
// If the transaction does not have an exclusive lock on the block,
// the method first gets a shared lock on that block (if necessary), and then upgrades it to an exclusive lock.
func (m *Manager) XLock(block *file.BlockId) error {
	if !m.hasXLock(block) {
		if err := m.SLock(block); err != nil {
			return err
		}
		if err := m.lockTable.XLock(block); err != nil {
			return err
		}
		m.locks[*block] = exclusive
	}
	return nil
}

// Release gives back every lock the transaction holds.
func (m *Manager) Release() {
	for block := range m.locks {
		m.lockTable.Unlock(&block)
	}
	m.locks = make(map[file.BlockId]lockMode)
}

func (m *Manager) hasXLock(block *file.BlockId) bool {
	mode, ok := m.locks[*block]
	return ok && mode == exclusive
}
