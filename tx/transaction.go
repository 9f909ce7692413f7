package tx

import (
	"math"

	"crashdb/buffer"
	"crashdb/file"
	"crashdb/tx/concurrency"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EndOfFile is the block number of the dummy block locked to guard a file's length.
const EndOfFile = -1

// State is the lifecycle state of a transaction. Committed and Aborted are terminal.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one unit of work. Every change it makes is logged before the page bytes change, and its
// records form a backward chain through prevLSN that rollback and restart undo walk.
// A Transaction is used by one goroutine at a time.
type Transaction struct {
	manager            *Manager
	recoveryManager    *RecoveryManager
	concurrencyManager *concurrency.Manager
	fileManager        *file.Manager
	pins               *pinSet
	txNum              int
	state              State
	lastLSN            int64 // 0 until the BEGIN record is written
	logger             *logrus.Entry
}

func newTransaction(m *Manager, txNum int, lastLSN int64) *Transaction {
	tx := &Transaction{
		manager:            m,
		concurrencyManager: concurrency.NewManager(m.lockTable),
		fileManager:        m.fileManager,
		pins:               newPinSet(m.bufferManager),
		txNum:              txNum,
		lastLSN:            lastLSN,
		logger:             m.logger.WithField("txn", txNum),
	}
	tx.recoveryManager = NewRecoveryManager(tx, txNum, m.logManager, m.bufferManager)
	return tx
}

// Commit commits the current transaction.
// Appends a commit record and forces the log through it; only then is the commit acknowledged.
// Releases all the locks, and unpins any pinned buffers. If forcing the log fails the commit is not
// acknowledged: the transaction is rolled back instead and the error is returned.
func (tx *Transaction) Commit() error {
	tx.manager.quiesce.RLock()
	defer tx.manager.quiesce.RUnlock()

	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := tx.recoveryManager.Commit(); err != nil {
		if rerr := tx.rollback(); rerr != nil {
			tx.logger.WithError(rerr).Warn("rollback after failed commit")
		}
		return errors.Wrapf(err, "txn %d %s", tx.txNum, tx.state)
	}
	tx.finish(Committed)
	return nil
}

// Rollback rolls back the current transaction.
// Restores every before image in reverse order, logging a compensation record for each,
// writes and forces an abort record,
// releases all the locks, and unpins any pinned buffers.
func (tx *Transaction) Rollback() error {
	tx.manager.quiesce.RLock()
	defer tx.manager.quiesce.RUnlock()

	if err := tx.checkActive(); err != nil {
		return err
	}
	return tx.rollback()
}

// rollback finishes the transaction as aborted once its undo is complete, even when forcing the ABORT
// record fails. A failed undo leaves it active so it can be rolled back again.
func (tx *Transaction) rollback() error {
	aborted, err := tx.recoveryManager.Rollback()
	if aborted {
		tx.finish(Aborted)
	}
	return err
}

func (tx *Transaction) finish(state State) {
	tx.state = state
	tx.concurrencyManager.Release()
	held := tx.pins.release()
	tx.manager.forget(tx)
	tx.logger.WithFields(logrus.Fields{"lastLSN": tx.lastLSN, "pinsReleased": held}).Debugf("transaction %s", state)
}

// Pin pins the specified block.
// The transaction manages the buffer for the client.
func (tx *Transaction) Pin(block *file.BlockId) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	return tx.pins.pin(block)
}

// Unpin unpins the specified block.
func (tx *Transaction) Unpin(block *file.BlockId) {
	tx.pins.unpin(block)
}

// pinned takes a lock on block and returns the buffer this transaction has pinned to it.
func (tx *Transaction) pinned(block *file.BlockId, exclusive bool) (*buffer.Buffer, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	var err error
	if exclusive {
		err = tx.concurrencyManager.XLock(block)
	} else {
		err = tx.concurrencyManager.SLock(block)
	}
	if err != nil {
		return nil, err
	}
	buff := tx.pins.get(block)
	if buff == nil {
		return nil, errors.Errorf("buffer for block %s not pinned by txn %d", block, tx.txNum)
	}
	return buff, nil
}

// GetInt returns the integer value stored at the specified offset of the specified block.
// The method first obtains an SLock on the block,
// then it calls the buffer to retrieve the value.
func (tx *Transaction) GetInt(block *file.BlockId, offset int) (int, error) {
	buff, err := tx.pinned(block, false)
	if err != nil {
		return math.MinInt, err
	}
	return buff.Contents().GetInt(offset), nil
}

// GetLong returns the int64 value stored at the specified offset of the specified block.
func (tx *Transaction) GetLong(block *file.BlockId, offset int) (int64, error) {
	buff, err := tx.pinned(block, false)
	if err != nil {
		return 0, err
	}
	return buff.Contents().GetLong(offset), nil
}

// GetFloat returns the float64 value stored at the specified offset of the specified block.
func (tx *Transaction) GetFloat(block *file.BlockId, offset int) (float64, error) {
	buff, err := tx.pinned(block, false)
	if err != nil {
		return 0, err
	}
	return buff.Contents().GetFloat(offset), nil
}

// GetString returns the string value stored at the specified offset of the specified block.
func (tx *Transaction) GetString(block *file.BlockId, offset int) (string, error) {
	buff, err := tx.pinned(block, false)
	if err != nil {
		return "", err
	}
	return buff.Contents().GetString(offset)
}

// GetBytes returns a copy of n raw bytes at the specified offset of the specified block.
func (tx *Transaction) GetBytes(block *file.BlockId, offset, n int) ([]byte, error) {
	buff, err := tx.pinned(block, false)
	if err != nil {
		return nil, err
	}
	if offset < 0 || n < 0 || offset+n > buff.Contents().Size() {
		return nil, errors.Errorf("read of %d bytes at offset %d is outside block %s", n, offset, block)
	}
	return buff.Contents().Slice(offset, n), nil
}

// SetInt stores an integer at the specified offset of the specified block.
func (tx *Transaction) SetInt(block *file.BlockId, offset int, val int) error {
	scratch := file.NewPage(file.IntSize)
	scratch.SetInt(0, val)
	return tx.Write(block, offset, scratch.Contents())
}

// SetLong stores an int64 at the specified offset of the specified block.
func (tx *Transaction) SetLong(block *file.BlockId, offset int, val int64) error {
	scratch := file.NewPage(file.LongSize)
	scratch.SetLong(0, val)
	return tx.Write(block, offset, scratch.Contents())
}

// SetFloat stores a float64 at the specified offset of the specified block.
func (tx *Transaction) SetFloat(block *file.BlockId, offset int, val float64) error {
	scratch := file.NewPage(file.LongSize)
	scratch.SetFloat(0, val)
	return tx.Write(block, offset, scratch.Contents())
}

// SetString stores a length-prefixed string at the specified offset of the specified block.
func (tx *Transaction) SetString(block *file.BlockId, offset int, val string) error {
	scratch := file.NewPage(file.IntSize + len(val))
	if err := scratch.SetString(0, val); err != nil {
		return err
	}
	return tx.Write(block, offset, scratch.Contents())
}

// Write replaces the bytes at offset of block with after.
// The method first obtains an XLock on the block.
// It then reads the current bytes at that offset as the before image,
// puts both images into an update record, and appends that record to the log.
// Only then does it change the page and mark the buffer modified with the record's LSN.
func (tx *Transaction) Write(block *file.BlockId, offset int, after []byte) error {
	tx.manager.quiesce.RLock()
	defer tx.manager.quiesce.RUnlock()

	buff, err := tx.pinned(block, true)
	if err != nil {
		return err
	}
	page := buff.Contents()
	if offset < file.PageLSNSize || offset+len(after) > page.Size() {
		return errors.Errorf("write of %d bytes at offset %d is outside the data area of block %s", len(after), offset, block)
	}
	before := page.Slice(offset, len(after))
	lsn, err := tx.recoveryManager.LogUpdate(block, offset, before, after)
	if err != nil {
		return err
	}
	page.Put(offset, after)
	buff.SetModified(lsn)
	return nil
}

// Size returns the number of blocks in the specified file.
// This method first obtains an SLock on the "end of file" marker,
// before asking the file manager to return the file size.
// This is necessary to prevent another transaction from adding a block to the file
// while this transaction is counting the blocks and causing phantom reads.
func (tx *Transaction) Size(filename string) (int, error) {
	if err := tx.checkActive(); err != nil {
		return -1, err
	}
	dummyBlock := file.NewBlockId(filename, EndOfFile)
	if err := tx.concurrencyManager.SLock(dummyBlock); err != nil {
		return -1, err
	}
	return tx.fileManager.Length(filename)
}

// Append appends a new zero-filled block to the end of the specified file and returns a reference to it.
// This method first obtains an XLock on the "end of file" marker, before performing the append operation.
// The append itself is not logged: a zero block is what recovery would read for a missing block anyway.
func (tx *Transaction) Append(filename string) (*file.BlockId, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	dummyBlock := file.NewBlockId(filename, EndOfFile)
	if err := tx.concurrencyManager.XLock(dummyBlock); err != nil {
		return nil, err
	}
	return tx.fileManager.Append(filename)
}

// BlockSize returns the size of a block in the database.
func (tx *Transaction) BlockSize() int {
	return tx.fileManager.BlockSize()
}

func (tx *Transaction) TxNum() int {
	return tx.txNum
}

func (tx *Transaction) State() State {
	return tx.state
}

// LastLSN returns the tail of the transaction's record chain, 0 if it has written nothing.
func (tx *Transaction) LastLSN() int64 {
	return tx.lastLSN
}

func (tx *Transaction) checkActive() error {
	if tx.state != Active {
		return errors.Wrapf(ErrTxnFinished, "txn %d is %s", tx.txNum, tx.state)
	}
	return nil
}
