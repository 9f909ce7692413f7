package tx

import (
	"crashdb/buffer"
	"crashdb/file"
)

type pin struct {
	buffer *buffer.Buffer
	count  int
}

// pinSet holds the buffers one transaction has pinned. The buffer manager sees a single pin per block
// however many times the transaction pins it; the set counts the rest.
type pinSet struct {
	pins          map[file.BlockId]*pin
	bufferManager *buffer.Manager
}

func newPinSet(bufferManager *buffer.Manager) *pinSet {
	return &pinSet{pins: make(map[file.BlockId]*pin), bufferManager: bufferManager}
}

// get returns the buffer holding block, or nil when the transaction has not pinned it.
func (ps *pinSet) get(block *file.BlockId) *buffer.Buffer {
	if p, ok := ps.pins[*block]; ok {
		return p.buffer
	}
	return nil
}

func (ps *pinSet) pin(block *file.BlockId) error {
	if p, ok := ps.pins[*block]; ok {
		p.count++
		return nil
	}
	buff, err := ps.bufferManager.Pin(block)
	if err != nil {
		return err
	}
	ps.pins[*block] = &pin{buffer: buff, count: 1}
	return nil
}

func (ps *pinSet) unpin(block *file.BlockId) {
	p, ok := ps.pins[*block]
	if !ok {
		return
	}
	if p.count--; p.count > 0 {
		return
	}
	ps.bufferManager.Unpin(p.buffer)
	delete(ps.pins, *block)
}

// release drops every pin and reports how many blocks were still held.
func (ps *pinSet) release() int {
	held := len(ps.pins)
	for block, p := range ps.pins {
		ps.bufferManager.Unpin(p.buffer)
		delete(ps.pins, block)
	}
	return held
}
