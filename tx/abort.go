package tx

import (
	"fmt"

	"crashdb/log"
)

// AbortRecord closes a transaction whose updates have all been compensated.
type AbortRecord struct {
	txNum   int
	prevLSN int64
}

func (r *AbortRecord) Op() LogRecordType {
	return Abort
}

func (r *AbortRecord) TxNumber() int {
	return r.txNum
}

func (r *AbortRecord) PrevLSN() int64 {
	return r.prevLSN
}

func (r *AbortRecord) String() string {
	return fmt.Sprintf("<ABORT %d prev=%d>", r.txNum, r.prevLSN)
}

// WriteAbortToLog writes an abort record to the log and returns its LSN.
func WriteAbortToLog(logManager *log.Manager, txNum int, prevLSN int64) (int64, error) {
	return newRecordWriter(Abort, txNum, prevLSN).appendTo(logManager)
}
