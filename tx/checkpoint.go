package tx

import (
	"fmt"
	"sort"
	"strings"

	"crashdb/log"
)

// CheckpointRecord is written right after every dirty page has been flushed. It lists the transactions
// that were still active, with the last LSN of each, so analysis can start here instead of at the
// beginning of the log.
type CheckpointRecord struct {
	active map[int]int64
}

func (r *CheckpointRecord) Op() LogRecordType {
	return Checkpoint
}

// TxNumber returns a "dummy", negative txId: a checkpoint belongs to no transaction.
func (r *CheckpointRecord) TxNumber() int {
	return -1
}

func (r *CheckpointRecord) PrevLSN() int64 {
	return 0
}

// Active returns the transaction table captured by the checkpoint.
func (r *CheckpointRecord) Active() map[int]int64 {
	return r.active
}

func (r *CheckpointRecord) String() string {
	ids := make([]int, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d@%d", id, r.active[id]))
	}
	return fmt.Sprintf("<CHECKPOINT [%s]>", strings.Join(parts, " "))
}

func readCheckpointRecord(r *recordReader) *CheckpointRecord {
	count := r.int()
	record := &CheckpointRecord{active: make(map[int]int64)}
	for i := 0; i < count && r.err == nil; i++ {
		txNum := r.int()
		record.active[txNum] = r.long()
	}
	return record
}

// WriteCheckpointToLog writes a checkpoint record listing the active transactions and their last LSNs.
// The method returns the LSN of the new log record.
func WriteCheckpointToLog(logManager *log.Manager, active map[int]int64) (int64, error) {
	w := newRecordWriter(Checkpoint, -1, 0)
	w.int(len(active))
	for txNum, lastLSN := range active {
		w.int(txNum)
		w.long(lastLSN)
	}
	return w.appendTo(logManager)
}
