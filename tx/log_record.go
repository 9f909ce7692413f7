package tx

import (
	"crashdb/file"
	"crashdb/log"

	"github.com/pkg/errors"
)

// LogRecordType is the type of log record.
type LogRecordType int

const (
	Checkpoint LogRecordType = iota
	Begin
	Commit
	Abort
	Update
	Compensation
)

func (t LogRecordType) String() string {
	switch t {
	case Checkpoint:
		return "Checkpoint"
	case Begin:
		return "Begin"
	case Commit:
		return "Commit"
	case Abort:
		return "Abort"
	case Update:
		return "Update"
	case Compensation:
		return "Compensation"
	default:
		return "Unknown"
	}
}

func FromCode(code int) (LogRecordType, error) {
	t := LogRecordType(code)
	if t < Checkpoint || t > Compensation {
		return -1, errors.Wrapf(ErrInvariantViolation, "unknown log record type code %d", code)
	}
	return t, nil
}

// LogRecord is a decoded log record. Every record starts with the same header:
//
//	| op int32 | txNum int32 | prevLSN int64 |
//
// prevLSN links a record to the previous record of the same transaction; it is 0 for BEGIN and CHECKPOINT.
type LogRecord interface {
	// Op returns the log record type.
	Op() LogRecordType

	// TxNumber returns the transaction ID stored with the log record.
	TxNumber() int

	// PrevLSN returns the LSN of the transaction's previous record.
	PrevLSN() int64

	// String returns a string representation of the log record.
	String() string
}

// PageRecord is implemented by records that change page bytes and can be redone.
type PageRecord interface {
	LogRecord
	Block() *file.BlockId
	Offset() int
	// RedoImage returns the bytes the record leaves at Offset.
	RedoImage() []byte
}

const headerSize = 2*file.IntSize + file.LongSize

// CreateLogRecord interprets the bytes to create the appropriate log record.
func CreateLogRecord(bytes []byte) (LogRecord, error) {
	r := newRecordReader(bytes)
	code := r.int()
	txNum := r.int()
	prevLSN := r.long()
	if r.err != nil {
		return nil, r.err
	}
	recordType, err := FromCode(code)
	if err != nil {
		return nil, err
	}

	var record LogRecord
	switch recordType {
	case Checkpoint:
		record = readCheckpointRecord(r)
	case Begin:
		record = &BeginRecord{txNum: txNum}
	case Commit:
		record = &CommitRecord{txNum: txNum, prevLSN: prevLSN}
	case Abort:
		record = &AbortRecord{txNum: txNum, prevLSN: prevLSN}
	case Update:
		record = readUpdateRecord(r, txNum, prevLSN)
	case Compensation:
		record = readCompensationRecord(r, txNum, prevLSN)
	}
	if r.err != nil {
		return nil, r.err
	}
	return record, nil
}

// recordWriter lays out a record with the page accessors, growing as fields are added.
type recordWriter struct {
	buf []byte
}

func newRecordWriter(op LogRecordType, txNum int, prevLSN int64) *recordWriter {
	w := &recordWriter{}
	w.int(int(op))
	w.int(txNum)
	w.long(prevLSN)
	return w
}

func (w *recordWriter) grow(n int) *file.Page {
	w.buf = append(w.buf, make([]byte, n)...)
	return file.NewPageFromBytes(w.buf)
}

func (w *recordWriter) int(n int) {
	pos := len(w.buf)
	w.grow(file.IntSize).SetInt(pos, n)
}

func (w *recordWriter) long(n int64) {
	pos := len(w.buf)
	w.grow(file.LongSize).SetLong(pos, n)
}

func (w *recordWriter) bytes(b []byte) {
	pos := len(w.buf)
	w.grow(file.IntSize+len(b)).SetBytes(pos, b)
}

func (w *recordWriter) string(s string) {
	w.bytes([]byte(s))
}

func (w *recordWriter) block(block *file.BlockId, offset int) {
	w.string(block.Filename())
	w.int(block.Number())
	w.int(offset)
}

func (w *recordWriter) appendTo(logManager *log.Manager) (int64, error) {
	return logManager.Append(w.buf)
}

// recordReader walks a record's fields, remembering the first bounds error instead of panicking on a
// malformed record.
type recordReader struct {
	page *file.Page
	pos  int
	err  error
}

func newRecordReader(b []byte) *recordReader {
	return &recordReader{page: file.NewPageFromBytes(b)}
}

func (r *recordReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > r.page.Size() {
		r.err = errors.Wrapf(ErrInvariantViolation, "log record truncated at byte %d", r.pos)
		return false
	}
	return true
}

func (r *recordReader) int() int {
	if !r.need(file.IntSize) {
		return 0
	}
	v := r.page.GetInt(r.pos)
	r.pos += file.IntSize
	return v
}

func (r *recordReader) long() int64 {
	if !r.need(file.LongSize) {
		return 0
	}
	v := r.page.GetLong(r.pos)
	r.pos += file.LongSize
	return v
}

func (r *recordReader) bytes() []byte {
	n := r.int()
	if !r.need(n) {
		return nil
	}
	v := r.page.Slice(r.pos, n)
	r.pos += n
	return v
}

func (r *recordReader) block() (*file.BlockId, int) {
	name := string(r.bytes())
	number := r.int()
	offset := r.int()
	return file.NewBlockId(name, number), offset
}
