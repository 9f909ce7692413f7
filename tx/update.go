package tx

import (
	"fmt"

	"crashdb/file"
	"crashdb/log"
)

// UpdateRecord describes one change to a page: the bytes at offset before and after the change.
type UpdateRecord struct {
	txNum   int
	prevLSN int64
	block   *file.BlockId
	offset  int
	before  []byte
	after   []byte
}

func (r *UpdateRecord) Op() LogRecordType {
	return Update
}

func (r *UpdateRecord) TxNumber() int {
	return r.txNum
}

func (r *UpdateRecord) PrevLSN() int64 {
	return r.prevLSN
}

func (r *UpdateRecord) Block() *file.BlockId {
	return r.block
}

func (r *UpdateRecord) Offset() int {
	return r.offset
}

func (r *UpdateRecord) Before() []byte {
	return r.before
}

func (r *UpdateRecord) RedoImage() []byte {
	return r.after
}

func (r *UpdateRecord) String() string {
	return fmt.Sprintf("<UPDATE %d %s@%d %d bytes prev=%d>", r.txNum, r.block, r.offset, len(r.after), r.prevLSN)
}

func readUpdateRecord(r *recordReader, txNum int, prevLSN int64) *UpdateRecord {
	block, offset := r.block()
	return &UpdateRecord{
		txNum:   txNum,
		prevLSN: prevLSN,
		block:   block,
		offset:  offset,
		before:  r.bytes(),
		after:   r.bytes(),
	}
}

// WriteUpdateToLog writes an update record to the log. The record contains the transaction number, the
// LSN of its previous record, the filename and block number of the changed block, the offset of the change,
// and the before and after images.
// The method returns the LSN of the new log record.
func WriteUpdateToLog(logManager *log.Manager, txNum int, prevLSN int64, block *file.BlockId, offset int, before, after []byte) (int64, error) {
	w := newRecordWriter(Update, txNum, prevLSN)
	w.block(block, offset)
	w.bytes(before)
	w.bytes(after)
	return w.appendTo(logManager)
}
