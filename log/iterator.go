package log

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Iterator moves forward through the log, one record per Next call. It reads lazily from the file and is
// not restartable; create a new one with Manager.ReadFrom to scan again.
type Iterator struct {
	reader  *bufio.Reader
	section *io.SectionReader
	nextLSN int64
	lastLSN int64
}

func newIterator(section *io.SectionReader, startLSN, lastLSN int64) *Iterator {
	it := &Iterator{section: section, nextLSN: startLSN, lastLSN: lastLSN}
	if section != nil {
		it.reader = bufio.NewReader(section)
	}
	return it
}

// HasNext reports whether another record is available.
func (it *Iterator) HasNext() bool {
	return it.reader != nil && it.nextLSN <= it.lastLSN
}

// Next returns the next record and its LSN.
func (it *Iterator) Next() (int64, []byte, error) {
	if !it.HasNext() {
		return 0, nil, errors.New("no more log records")
	}
	lsn, record, err := readFrame(it.reader, it.section.Size())
	if err != nil {
		return 0, nil, errors.Wrapf(err, "cannot read lsn %d", it.nextLSN)
	}
	if lsn != it.nextLSN {
		return 0, nil, errors.Errorf("log out of sequence: expected lsn %d, found %d", it.nextLSN, lsn)
	}
	it.nextLSN++
	return lsn, record, nil
}
