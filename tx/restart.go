package tx

import (
	"sort"

	"crashdb/file"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RecoveryStats describes what a restart found and did.
type RecoveryStats struct {
	Records       int   // records read during analysis
	CheckpointLSN int64 // last checkpoint seen, 0 if none
	RedoLSN       int64 // where redo started, 0 if there was nothing to redo
	Redone        int   // page records applied again
	Skipped       int   // page records already reflected on disk
	Losers        []int // transactions rolled back, ascending
	Compensated   int   // compensation records written while undoing losers
	MaxTxNum      int
}

// analysis is what one forward pass over the log learns.
type analysis struct {
	txTable map[int]int64           // in-flight transaction -> lastLSN
	dirty   map[file.BlockId]int64 // block -> recLSN, the first record that may not be on disk
}

// Recover brings the database back to a consistent state after a crash, in three passes over the log:
//
//   - analysis reads every record, restarting its tables at each checkpoint, and ends with the in-flight
//     transactions and the pages that may hold unflushed changes;
//   - redo repeats history from the smallest recLSN, applying a page record only when the page on disk
//     is older than it;
//   - undo rolls back each in-flight transaction exactly as Rollback would, writing compensation records
//     and an ABORT.
//
// Running Recover on an already recovered log does nothing but read it.
func (m *Manager) Recover() (*RecoveryStats, error) {
	stats := &RecoveryStats{}
	state, err := m.analyze(stats)
	if err != nil {
		return nil, errors.Wrap(err, "recovery analysis")
	}
	m.ensureTxNumAbove(stats.MaxTxNum)
	if err := m.redo(state, stats); err != nil {
		return nil, errors.Wrap(err, "recovery redo")
	}
	if err := m.undo(state, stats); err != nil {
		return nil, errors.Wrap(err, "recovery undo")
	}
	m.logger.WithFields(logrus.Fields{
		"records":    stats.Records,
		"checkpoint": stats.CheckpointLSN,
		"redoFrom":   stats.RedoLSN,
		"redone":     stats.Redone,
		"skipped":    stats.Skipped,
		"losers":     stats.Losers,
	}).Info("recovery complete")
	return stats, nil
}

func (m *Manager) analyze(stats *RecoveryStats) (*analysis, error) {
	state := &analysis{txTable: make(map[int]int64), dirty: make(map[file.BlockId]int64)}
	it, err := m.logManager.ReadFrom(1)
	if err != nil {
		return nil, err
	}
	for it.HasNext() {
		lsn, bytes, err := it.Next()
		if err != nil {
			return nil, err
		}
		record, err := CreateLogRecord(bytes)
		if err != nil {
			return nil, errors.Wrapf(err, "lsn %d", lsn)
		}
		stats.Records++
		if record.TxNumber() > stats.MaxTxNum {
			stats.MaxTxNum = record.TxNumber()
		}

		switch r := record.(type) {
		case *CheckpointRecord:
			// Everything was on disk when the checkpoint was written.
			state.txTable = make(map[int]int64, len(r.Active()))
			for txNum, lastLSN := range r.Active() {
				state.txTable[txNum] = lastLSN
			}
			state.dirty = make(map[file.BlockId]int64)
			stats.CheckpointLSN = lsn
		case *CommitRecord, *AbortRecord:
			delete(state.txTable, record.TxNumber())
		case PageRecord:
			state.txTable[r.TxNumber()] = lsn
			if _, ok := state.dirty[*r.Block()]; !ok {
				state.dirty[*r.Block()] = lsn
			}
		default:
			state.txTable[record.TxNumber()] = lsn
		}
	}
	return state, nil
}

func (m *Manager) redo(state *analysis, stats *RecoveryStats) error {
	if len(state.dirty) == 0 {
		return nil
	}
	redoLSN := int64(-1)
	for _, recLSN := range state.dirty {
		if redoLSN < 0 || recLSN < redoLSN {
			redoLSN = recLSN
		}
	}
	stats.RedoLSN = redoLSN

	it, err := m.logManager.ReadFrom(redoLSN)
	if err != nil {
		return err
	}
	for it.HasNext() {
		lsn, bytes, err := it.Next()
		if err != nil {
			return err
		}
		record, err := CreateLogRecord(bytes)
		if err != nil {
			return errors.Wrapf(err, "lsn %d", lsn)
		}
		pr, ok := record.(PageRecord)
		if !ok {
			continue
		}
		if recLSN, dirty := state.dirty[*pr.Block()]; !dirty || lsn < recLSN {
			stats.Skipped++
			continue
		}
		applied, err := m.redoRecord(lsn, pr)
		if err != nil {
			return err
		}
		if applied {
			stats.Redone++
		} else {
			stats.Skipped++
		}
	}
	return nil
}

// redoRecord writes the record's image onto its page unless the page already carries it.
func (m *Manager) redoRecord(lsn int64, pr PageRecord) (bool, error) {
	buff, err := m.bufferManager.Pin(pr.Block())
	if err != nil {
		return false, err
	}
	defer m.bufferManager.Unpin(buff)

	if buff.PageLSN() >= lsn {
		return false, nil
	}
	image := pr.RedoImage()
	if pr.Offset() < file.PageLSNSize || pr.Offset()+len(image) > buff.Contents().Size() {
		return false, errors.Wrapf(ErrInvariantViolation, "lsn %d writes outside block %s", lsn, pr.Block())
	}
	buff.Contents().Put(pr.Offset(), image)
	buff.SetModified(lsn)
	return true, nil
}

// undo rolls back the losers, latest first.
func (m *Manager) undo(state *analysis, stats *RecoveryStats) error {
	losers := make([]int, 0, len(state.txTable))
	for txNum := range state.txTable {
		losers = append(losers, txNum)
	}
	sort.Slice(losers, func(i, j int) bool {
		return state.txTable[losers[i]] > state.txTable[losers[j]]
	})
	for _, txNum := range losers {
		tx := m.resume(txNum, state.txTable[txNum])
		tx.logger.WithField("lastLSN", tx.lastLSN).Info("rolling back in-flight transaction")
		if err := tx.Rollback(); err != nil {
			return err
		}
		stats.Compensated += tx.recoveryManager.compensated
	}
	sort.Ints(losers)
	stats.Losers = losers
	return nil
}
