package buffer

import (
	"crashdb/file"
	"crashdb/log"

	"github.com/pkg/errors"
)

/*
Buffer represents an individual buffer frame. A buffer wraps a page and stores information about its status,
such as the associated disk block, the number of times the buffer has been pinned and whether its contents
have been modified. The LSN of the last change lives in the page
header itself, so it is written to disk together with the bytes it describes.
*/
type Buffer struct {
	fileManager *file.Manager
	logManager  *log.Manager
	contents    *file.Page
	block       *file.BlockId
	pins        int
	dirty       bool
}

func NewBuffer(fileManager *file.Manager, logManager *log.Manager) *Buffer {
	return &Buffer{
		fileManager: fileManager,
		logManager:  logManager,
		contents:    file.NewPage(fileManager.BlockSize()),
	}
}

func (b *Buffer) Contents() *file.Page {
	return b.contents
}

func (b *Buffer) Block() *file.BlockId {
	return b.block
}

// PageLSN returns the LSN of the last log record reflected in the buffer's contents.
func (b *Buffer) PageLSN() int64 {
	return b.contents.PageLSN()
}

// SetModified marks the buffer dirty. A negative lsn means no log record was generated
// for this change and the page LSN is left alone.
func (b *Buffer) SetModified(lsn int64) {
	b.dirty = true
	if lsn >= 0 {
		b.contents.SetPageLSN(lsn)
	}
}

// IsDirty reports whether the buffer holds changes not yet written to its block.
func (b *Buffer) IsDirty() bool {
	return b.dirty
}

// isPinned returns true if the buffer is currently pinned (that is, if it has a nonzero pin count)
func (b *Buffer) isPinned() bool {
	return b.pins > 0
}

/*
assignToBlock reads the contents of the specified block into the contents of the buffer.
If the buffer was dirty, then its previous contents are first written to disk.
*/
func (b *Buffer) assignToBlock(block *file.BlockId) error {
	if err := b.flush(); err != nil {
		return errors.Wrapf(err, "failed to flush buffer for block %s", b.block)
	}
	b.block = nil
	if err := b.fileManager.Read(block, b.contents); err != nil {
		return errors.Wrapf(err, "failed to read block %s to buffer", block)
	}
	b.block = block
	b.pins = 0
	return nil
}

// flush writes the buffer to its disk block if it is dirty. The log is forced up to the page LSN first,
// so a page never reaches disk ahead of the record describing its latest change.
func (b *Buffer) flush() error {
	if !b.dirty {
		return nil
	}
	if err := b.logManager.Flush(b.PageLSN()); err != nil {
		return errors.Wrapf(err, "failed to flush log through lsn %d for block %s", b.PageLSN(), b.block)
	}
	if err := b.fileManager.Write(b.block, b.contents); err != nil {
		return errors.Wrapf(err, "failed to write block %s", b.block)
	}
	b.dirty = false
	return nil
}

// pin increases the buffer's pin count
func (b *Buffer) pin() { b.pins++ }

// unpin decreases the buffer's pin count
func (b *Buffer) unpin() { b.pins-- }
