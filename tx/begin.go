package tx

import (
	"fmt"

	"crashdb/log"
)

// BeginRecord starts a transaction's record chain. It is written lazily, right before the transaction's
// first update, so read-only transactions never reach the log.
type BeginRecord struct {
	txNum int
}

func (r *BeginRecord) Op() LogRecordType {
	return Begin
}

func (r *BeginRecord) TxNumber() int {
	return r.txNum
}

// PrevLSN is always 0: the chain ends here.
func (r *BeginRecord) PrevLSN() int64 {
	return 0
}

func (r *BeginRecord) String() string {
	return fmt.Sprintf("<BEGIN %d>", r.txNum)
}

// WriteBeginToLog writes a begin record to the log and returns its LSN.
func WriteBeginToLog(logManager *log.Manager, txNum int) (int64, error) {
	return newRecordWriter(Begin, txNum, 0).appendTo(logManager)
}
