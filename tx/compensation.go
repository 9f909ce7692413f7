package tx

import (
	"fmt"

	"crashdb/file"
	"crashdb/log"
)

// CompensationRecord describes the undo of one update. It is redo-only: redo reapplies the restored image,
// and undo never undoes it, skipping to undoNextLSN instead (the prevLSN of the update it compensated).
type CompensationRecord struct {
	txNum       int
	prevLSN     int64
	block       *file.BlockId
	offset      int
	image       []byte
	undoNextLSN int64
}

func (r *CompensationRecord) Op() LogRecordType {
	return Compensation
}

func (r *CompensationRecord) TxNumber() int {
	return r.txNum
}

func (r *CompensationRecord) PrevLSN() int64 {
	return r.prevLSN
}

func (r *CompensationRecord) Block() *file.BlockId {
	return r.block
}

func (r *CompensationRecord) Offset() int {
	return r.offset
}

func (r *CompensationRecord) RedoImage() []byte {
	return r.image
}

// UndoNextLSN returns the next record of the transaction that still needs undoing.
func (r *CompensationRecord) UndoNextLSN() int64 {
	return r.undoNextLSN
}

func (r *CompensationRecord) String() string {
	return fmt.Sprintf("<CLR %d %s@%d %d bytes prev=%d undoNext=%d>", r.txNum, r.block, r.offset, len(r.image), r.prevLSN, r.undoNextLSN)
}

func readCompensationRecord(r *recordReader, txNum int, prevLSN int64) *CompensationRecord {
	block, offset := r.block()
	return &CompensationRecord{
		txNum:       txNum,
		prevLSN:     prevLSN,
		block:       block,
		offset:      offset,
		image:       r.bytes(),
		undoNextLSN: r.long(),
	}
}

// WriteCompensationToLog writes a compensation record restoring image at offset of block.
// The method returns the LSN of the new log record.
func WriteCompensationToLog(logManager *log.Manager, txNum int, prevLSN int64, block *file.BlockId, offset int, image []byte, undoNextLSN int64) (int64, error) {
	w := newRecordWriter(Compensation, txNum, prevLSN)
	w.block(block, offset)
	w.bytes(image)
	w.long(undoNextLSN)
	return w.appendTo(logManager)
}
