package log

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"crashdb/file"
	"crashdb/logger"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/*
The log file is a sequence of frames, appended in LSN order:

	| length uint32 | lsn uint64 | checksum uint64 | record (length bytes) |

The checksum is xxhash64 over the lsn and record bytes. LSNs start at 1 and grow by one per record, so a
frame is valid only if it fits in the file, its checksum matches, and its LSN follows the previous one.
Everything after the first invalid frame is a torn tail and is cut off when the log is opened.
*/
const (
	frameHeaderSize = 4 + 8 + 8
	maxRecordSize   = 64 << 20
)

// ErrNoSuchLSN is returned when a record is requested that was never appended.
var ErrNoSuchLSN = errors.New("no such log record")

// Manager is the WAL writer. It owns the log file and its append cursor. Appended records are buffered in
// memory until Flush forces them to stable storage.
// The Manager is thread-safe.
type Manager struct {
	path       string
	f          *os.File
	tail       bytes.Buffer // frames appended since the last flush
	tailStart  int64        // file offset the tail will be written at
	offsets    []int64      // offsets[lsn-1] is the file offset of that record's frame
	latestLSN  int64
	flushedLSN int64
	writeErr   error // when set, every flush fails with it
	logger     *logrus.Entry
	mu         sync.Mutex
}

// NewManager opens (or creates) logFile in the file manager's database directory. Existing frames are
// scanned to rebuild the LSN index; a torn or corrupt tail is truncated.
func NewManager(fileManager *file.Manager, logFile string) (*Manager, error) {
	path := filepath.Join(fileManager.Dir(), logFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open log file %s", path)
	}
	m := &Manager{
		path:   path,
		f:      f,
		logger: logger.For("wal").WithField("file", logFile),
	}
	if err := m.scan(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// scan walks every frame from the start of the file and truncates at the first invalid one.
func (m *Manager) scan() error {
	info, err := m.f.Stat()
	if err != nil {
		return errors.Wrapf(err, "cannot stat %s", m.path)
	}
	size := info.Size()
	reader := bufio.NewReader(io.NewSectionReader(m.f, 0, size))

	var offset int64
	for {
		lsn, record, err := readFrame(reader, size-offset)
		if err == io.EOF {
			break
		}
		if err == nil && lsn != m.latestLSN+1 {
			err = errors.Errorf("expected lsn %d, found %d", m.latestLSN+1, lsn)
		}
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"offset":  offset,
				"dropped": size - offset,
				"lastLSN": m.latestLSN,
			}).WithError(err).Warn("truncating torn log tail")
			if err := m.f.Truncate(offset); err != nil {
				return errors.Wrapf(err, "cannot truncate %s", m.path)
			}
			if err := m.f.Sync(); err != nil {
				return errors.Wrapf(err, "cannot sync %s", m.path)
			}
			break
		}
		m.offsets = append(m.offsets, offset)
		m.latestLSN = lsn
		offset += int64(frameHeaderSize + len(record))
	}
	m.tailStart = offset
	m.flushedLSN = m.latestLSN
	m.logger.WithField("lastLSN", m.latestLSN).Debug("log opened")
	return nil
}

// Append frames the record into the in-memory tail and returns its LSN. The record is not durable until
// Flush is called with an LSN at or past the returned one.
func (m *Manager) Append(logRecord []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, errors.New("log is closed")
	}
	if len(logRecord) > maxRecordSize {
		return 0, errors.Errorf("log record of %d bytes exceeds the %d byte limit", len(logRecord), maxRecordSize)
	}
	lsn := m.latestLSN + 1
	m.offsets = append(m.offsets, m.tailStart+int64(m.tail.Len()))
	m.tail.Write(encodeFrame(lsn, logRecord))
	m.latestLSN = lsn
	return lsn, nil
}

// Flush forces every record up to and including lsn to stable storage. It returns only after the sync
// completes; on error the unwritten tail is kept so a later flush can retry.
func (m *Manager) Flush(lsn int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn > m.flushedLSN {
		return m.flush()
	}
	return nil
}

// flush writes the tail to the log file. This method is not thread-safe.
// A failed write or sync cuts the file back to the last durable frame, so no part of the tail survives
// on disk and the whole tail is retried by the next flush.
func (m *Manager) flush() error {
	if m.f == nil {
		return errors.New("log is closed")
	}
	if m.writeErr != nil {
		return errors.Wrapf(m.writeErr, "cannot write log tail to %s", m.path)
	}
	if m.tail.Len() > 0 {
		if _, err := m.f.WriteAt(m.tail.Bytes(), m.tailStart); err != nil {
			m.discardPartialWrite()
			return errors.Wrapf(err, "cannot write log tail to %s", m.path)
		}
	}
	if err := m.f.Sync(); err != nil {
		m.discardPartialWrite()
		return errors.Wrapf(err, "cannot sync %s", m.path)
	}
	m.tailStart += int64(m.tail.Len())
	m.tail.Reset()
	m.flushedLSN = m.latestLSN
	return nil
}

func (m *Manager) discardPartialWrite() {
	if err := m.f.Truncate(m.tailStart); err != nil {
		m.logger.WithError(err).WithField("offset", m.tailStart).Warn("cannot cut back partially written log tail")
	}
}

// FailWrites makes every flush fail with err until it is called again with nil. Appends still succeed.
// It stands in for a full or failing disk.
func (m *Manager) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Read returns the record stored at lsn, whether it is already on disk or still in the tail.
func (m *Manager) Read(lsn int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn < 1 || lsn > m.latestLSN {
		return nil, errors.Wrapf(ErrNoSuchLSN, "lsn %d", lsn)
	}
	offset := m.offsets[lsn-1]
	var reader io.Reader
	if offset >= m.tailStart {
		reader = bytes.NewReader(m.tail.Bytes()[offset-m.tailStart:])
	} else {
		reader = io.NewSectionReader(m.f, offset, m.tailStart-offset)
	}
	got, record, err := readFrame(reader, maxRecordSize+frameHeaderSize)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read lsn %d", lsn)
	}
	if got != lsn {
		return nil, errors.Errorf("lsn index points at %d, wanted %d", got, lsn)
	}
	return record, nil
}

// ReadFrom returns a forward iterator over the records from lsn to the latest one appended before the
// call. The tail is flushed first so the iterator only reads the file.
func (m *Manager) ReadFrom(lsn int64) (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flush(); err != nil {
		return nil, errors.Wrap(err, "failed to flush log")
	}
	if lsn < 1 {
		lsn = 1
	}
	if lsn > m.latestLSN {
		return newIterator(nil, lsn, m.latestLSN), nil
	}
	offset := m.offsets[lsn-1]
	section := io.NewSectionReader(m.f, offset, m.tailStart-offset)
	return newIterator(section, lsn, m.latestLSN), nil
}

// LatestLSN returns the LSN of the most recently appended record, or 0 for an empty log.
func (m *Manager) LatestLSN() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLSN
}

// FlushedLSN returns the highest LSN known to be on stable storage.
func (m *Manager) FlushedLSN() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushedLSN
}

// Close forces the tail and closes the log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return nil
	}
	if err := m.flush(); err != nil {
		return err
	}
	err := m.f.Close()
	m.f = nil
	return errors.Wrapf(err, "cannot close %s", m.path)
}

// Abandon discards the unflushed tail and closes the file without writing it, as if the process died.
func (m *Manager) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"lost":       m.latestLSN - m.flushedLSN,
		"flushedLSN": m.flushedLSN,
	}).Debug("abandoning log tail")
	m.tail.Reset()
	_ = m.f.Close()
	m.f = nil
}

func encodeFrame(lsn int64, record []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(record))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(record)))
	binary.BigEndian.PutUint64(frame[4:12], uint64(lsn))
	copy(frame[frameHeaderSize:], record)
	binary.BigEndian.PutUint64(frame[12:20], checksum(frame[4:12], record))
	return frame
}

// readFrame decodes one frame. It returns io.EOF only at a clean frame boundary; a frame cut short, too
// long for the remaining bytes, or with a bad checksum is an error.
func readFrame(r io.Reader, remaining int64) (int64, []byte, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(r, header)
	if err == io.EOF {
		return 0, nil, io.EOF
	}
	if err != nil {
		return 0, nil, errors.Wrapf(err, "short frame header (%d bytes)", n)
	}
	length := int64(binary.BigEndian.Uint32(header[0:4]))
	if length > maxRecordSize || length > remaining-frameHeaderSize {
		return 0, nil, errors.Errorf("frame length %d overruns the log", length)
	}
	record := make([]byte, length)
	if _, err := io.ReadFull(r, record); err != nil {
		return 0, nil, errors.Wrap(err, "short frame body")
	}
	if checksum(header[4:12], record) != binary.BigEndian.Uint64(header[12:20]) {
		return 0, nil, errors.New("frame checksum mismatch")
	}
	return int64(binary.BigEndian.Uint64(header[4:12])), record, nil
}

func checksum(lsn, record []byte) uint64 {
	h := xxhash.New64()
	h.Write(lsn)
	h.Write(record)
	return h.Sum64()
}
