package tx

import (
	"crashdb/buffer"
	"crashdb/file"
	"crashdb/log"

	"github.com/pkg/errors"
)

// RecoveryManager owns the log side of one transaction.
// LogUpdate appends update records, writing the BEGIN record in front of the first one.
// Commit writes a commit record to the log, and flushes it to disk.
// Rollback undoes the transaction through compensation records, writes an abort record, and flushes it to disk.
type RecoveryManager struct {
	logManager    *log.Manager
	bufferManager *buffer.Manager
	transaction   *Transaction
	txNum         int
	compensated   int
	failedCommit  int64 // COMMIT record whose force failed; rollback steps over it
}

// NewRecoveryManager creates a new RecoveryManager.
func NewRecoveryManager(tx *Transaction, txNum int, logManager *log.Manager, bufferManager *buffer.Manager) *RecoveryManager {
	return &RecoveryManager{
		logManager:    logManager,
		bufferManager: bufferManager,
		transaction:   tx,
		txNum:         txNum,
	}
}

// LogUpdate appends an update record for the given images and returns its LSN.
// A transaction that has not logged anything yet gets its BEGIN record first.
func (rm *RecoveryManager) LogUpdate(block *file.BlockId, offset int, before, after []byte) (int64, error) {
	tx := rm.transaction
	if tx.lastLSN == 0 {
		lsn, err := WriteBeginToLog(rm.logManager, rm.txNum)
		if err != nil {
			return -1, err
		}
		tx.lastLSN = lsn
	}
	lsn, err := WriteUpdateToLog(rm.logManager, rm.txNum, tx.lastLSN, block, offset, before, after)
	if err != nil {
		return -1, err
	}
	tx.lastLSN = lsn
	return lsn, nil
}

// Commit writes a commit record to the log, and flushes it to disk.
// Dirty pages are left in the buffer pool. A transaction that never logged anything commits without a record.
// When the flush fails the COMMIT record stays in the log tail, unacknowledged; the caller must roll the
// transaction back, which chains the compensation records and the ABORT behind it.
func (rm *RecoveryManager) Commit() error {
	tx := rm.transaction
	if tx.lastLSN == 0 {
		return nil
	}
	lsn, err := WriteCommitToLog(rm.logManager, rm.txNum, tx.lastLSN)
	if err != nil {
		return err
	}
	tx.lastLSN = lsn
	if err := rm.logManager.Flush(lsn); err != nil {
		rm.failedCommit = lsn
		return errors.Wrapf(err, "forcing commit of txn %d", rm.txNum)
	}
	return nil
}

// Rollback rolls back the transaction, writes an abort record to the log, and flushes it to the disk.
// Undo happens in the buffer pool, so once the ABORT record is appended the transaction is over and
// aborted is true even if the flush then fails; the error only says the abort is not durable yet.
// When undo itself fails aborted is false and the transaction is still active.
func (rm *RecoveryManager) Rollback() (aborted bool, err error) {
	tx := rm.transaction
	if tx.lastLSN == 0 {
		return true, nil
	}
	if err := rm.doRollback(); err != nil {
		return false, err
	}
	lsn, err := WriteAbortToLog(rm.logManager, rm.txNum, tx.lastLSN)
	if err != nil {
		return false, err
	}
	tx.lastLSN = lsn
	if err := rm.logManager.Flush(lsn); err != nil {
		return true, errors.Wrapf(err, "forcing abort of txn %d", rm.txNum)
	}
	return true, nil
}

// doRollback walks the transaction's chain backwards from its last record.
// Each update is undone with a compensation record whose undoNextLSN skips past it, so an interrupted
// rollback resumes where it stopped. A compensation record on the chain jumps straight to its undoNextLSN.
// The walk ends at the BEGIN record.
func (rm *RecoveryManager) doRollback() error {
	undoLSN := rm.transaction.lastLSN
	var compensatedAt int64
	for undoLSN != 0 {
		record, err := rm.readOwnRecord(undoLSN)
		if err != nil {
			return err
		}
		if compensatedAt != 0 && record.Op() != Update && record.Op() != Begin {
			return errors.Wrapf(ErrInvariantViolation, "txn %d: compensation record at lsn %d points at a %s record", rm.txNum, compensatedAt, record.Op())
		}
		compensatedAt = 0
		switch r := record.(type) {
		case *UpdateRecord:
			if err := rm.compensate(r); err != nil {
				return err
			}
			undoLSN = r.PrevLSN()
		case *CompensationRecord:
			if r.UndoNextLSN() <= 0 {
				return errors.Wrapf(ErrInvariantViolation, "txn %d: compensation record at lsn %d has no undo successor", rm.txNum, undoLSN)
			}
			compensatedAt = undoLSN
			undoLSN = r.UndoNextLSN()
		case *BeginRecord:
			undoLSN = 0
		case *CommitRecord:
			if undoLSN != rm.failedCommit {
				return errors.Wrapf(ErrInvariantViolation, "txn %d: undo chain reaches committed record at lsn %d", rm.txNum, undoLSN)
			}
			undoLSN = r.PrevLSN()
		default:
			return errors.Wrapf(ErrInvariantViolation, "txn %d: unexpected %s record at lsn %d on undo chain", rm.txNum, record.Op(), undoLSN)
		}
	}
	return nil
}

func (rm *RecoveryManager) readOwnRecord(lsn int64) (LogRecord, error) {
	bytes, err := rm.logManager.Read(lsn)
	if err != nil {
		if errors.Is(err, log.ErrNoSuchLSN) {
			return nil, errors.Wrapf(ErrInvariantViolation, "txn %d: chain references missing lsn %d", rm.txNum, lsn)
		}
		return nil, err
	}
	record, err := CreateLogRecord(bytes)
	if err != nil {
		return nil, err
	}
	if record.TxNumber() != rm.txNum {
		return nil, errors.Wrapf(ErrInvariantViolation, "txn %d: lsn %d belongs to txn %d", rm.txNum, lsn, record.TxNumber())
	}
	return record, nil
}

// compensate restores the before image of an update and logs it as a compensation record.
func (rm *RecoveryManager) compensate(update *UpdateRecord) error {
	tx := rm.transaction
	block := update.Block()
	if err := tx.concurrencyManager.XLock(block); err != nil {
		return err
	}
	buff, err := rm.bufferManager.Pin(block)
	if err != nil {
		return err
	}
	defer rm.bufferManager.Unpin(buff)

	image := update.Before()
	if update.Offset() < file.PageLSNSize || update.Offset()+len(image) > buff.Contents().Size() {
		return errors.Wrapf(ErrInvariantViolation, "txn %d: update on %s at offset %d is outside the block", rm.txNum, block, update.Offset())
	}
	lsn, err := WriteCompensationToLog(rm.logManager, rm.txNum, tx.lastLSN, block, update.Offset(), image, update.PrevLSN())
	if err != nil {
		return err
	}
	buff.Contents().Put(update.Offset(), image)
	buff.SetModified(lsn)
	tx.lastLSN = lsn
	rm.compensated++
	return nil
}
