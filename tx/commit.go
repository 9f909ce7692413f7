package tx

import (
	"fmt"

	"crashdb/log"
)

type CommitRecord struct {
	txNum   int
	prevLSN int64
}

func (r *CommitRecord) Op() LogRecordType {
	return Commit
}

func (r *CommitRecord) TxNumber() int {
	return r.txNum
}

func (r *CommitRecord) PrevLSN() int64 {
	return r.prevLSN
}

func (r *CommitRecord) String() string {
	return fmt.Sprintf("<COMMIT %d prev=%d>", r.txNum, r.prevLSN)
}

// WriteCommitToLog writes a commit record to the log. This log record contains the Commit operator,
// followed by the transaction id and the LSN of the transaction's previous record.
// The method returns the LSN of the new log record; the caller is responsible for forcing it.
func WriteCommitToLog(logManager *log.Manager, txNum int, prevLSN int64) (int64, error) {
	return newRecordWriter(Commit, txNum, prevLSN).appendTo(logManager)
}
