package table

import (
	"fmt"

	"crashdb/file"
	"crashdb/tx"

	"github.com/pkg/errors"
)

/*
A heap page keeps its header after the page LSN, row bytes growing forward from the header and a slot
directory growing backward from the end of the page:

	| pageLSN | slotCount int32 | freePtr int32 | rows ... -> free <- ... slot 1 | slot 0 |

Each slot is | offset int32 | length int32 |. A zero freePtr marks a page no row has been written to yet.
Every header, slot and row write goes through the transaction, so heap pages are recovered like any
other page.
*/
const (
	slotCountOffset = file.PageLSNSize
	freePtrOffset   = slotCountOffset + file.IntSize
	heapHeaderSize  = freePtrOffset + file.IntSize
	slotSize        = 2 * file.IntSize
)

var errStopScan = errors.New("stop scan")

// RID addresses a row by block number and slot.
type RID struct {
	Block int
	Slot  int
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.Block, r.Slot)
}

// Heap is an append-only table file of slotted pages.
type Heap struct {
	schema   *Schema
	filename string
}

func OpenHeap(schema *Schema) *Heap {
	return &Heap{schema: schema, filename: schema.Table + ".tbl"}
}

func (h *Heap) Schema() *Schema {
	return h.schema
}

func (h *Heap) Filename() string {
	return h.filename
}

// Insert stores row in the last page of the file, appending a page when it does not fit.
func (h *Heap) Insert(txn *tx.Transaction, row []any) (RID, error) {
	tuple, err := Encode(h.schema, row)
	if err != nil {
		return RID{}, err
	}
	if heapHeaderSize+len(tuple)+slotSize > txn.BlockSize() {
		return RID{}, errors.Errorf("row of %d bytes does not fit in a %d byte page", len(tuple), txn.BlockSize())
	}

	n, err := txn.Size(h.filename)
	if err != nil {
		return RID{}, err
	}
	if n > 0 {
		rid, ok, err := h.insertInto(txn, file.NewBlockId(h.filename, n-1), tuple)
		if err != nil || ok {
			return rid, err
		}
	}
	block, err := txn.Append(h.filename)
	if err != nil {
		return RID{}, err
	}
	rid, ok, err := h.insertInto(txn, block, tuple)
	if err == nil && !ok {
		err = errors.Errorf("row does not fit in fresh block %s", block)
	}
	return rid, err
}

func (h *Heap) insertInto(txn *tx.Transaction, block *file.BlockId, tuple []byte) (RID, bool, error) {
	if err := txn.Pin(block); err != nil {
		return RID{}, false, err
	}
	defer txn.Unpin(block)

	count, err := txn.GetInt(block, slotCountOffset)
	if err != nil {
		return RID{}, false, err
	}
	freePtr, err := txn.GetInt(block, freePtrOffset)
	if err != nil {
		return RID{}, false, err
	}
	if freePtr == 0 {
		freePtr = heapHeaderSize
	}
	slot := txn.BlockSize() - (count+1)*slotSize
	if freePtr+len(tuple) > slot {
		return RID{}, false, nil
	}

	if err := txn.Write(block, freePtr, tuple); err != nil {
		return RID{}, false, err
	}
	if err := txn.SetInt(block, slot, freePtr); err != nil {
		return RID{}, false, err
	}
	if err := txn.SetInt(block, slot+file.IntSize, len(tuple)); err != nil {
		return RID{}, false, err
	}
	if err := txn.SetInt(block, freePtrOffset, freePtr+len(tuple)); err != nil {
		return RID{}, false, err
	}
	if err := txn.SetInt(block, slotCountOffset, count+1); err != nil {
		return RID{}, false, err
	}
	return RID{Block: block.Number(), Slot: count}, true, nil
}

// Scan calls fn for every row in file order. An error from fn stops the scan and is returned.
func (h *Heap) Scan(txn *tx.Transaction, fn func(RID, []any) error) error {
	n, err := txn.Size(h.filename)
	if err != nil {
		return err
	}
	for b := 0; b < n; b++ {
		if err := h.scanBlock(txn, file.NewBlockId(h.filename, b), fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heap) scanBlock(txn *tx.Transaction, block *file.BlockId, fn func(RID, []any) error) error {
	if err := txn.Pin(block); err != nil {
		return err
	}
	defer txn.Unpin(block)

	count, err := txn.GetInt(block, slotCountOffset)
	if err != nil {
		return err
	}
	for s := 0; s < count; s++ {
		slot := txn.BlockSize() - (s+1)*slotSize
		offset, err := txn.GetInt(block, slot)
		if err != nil {
			return err
		}
		length, err := txn.GetInt(block, slot+file.IntSize)
		if err != nil {
			return err
		}
		tuple, err := txn.GetBytes(block, offset, length)
		if err != nil {
			return errors.Wrapf(err, "slot %d of %s", s, block)
		}
		row, err := Decode(h.schema, tuple)
		if err != nil {
			return errors.Wrapf(err, "slot %d of %s", s, block)
		}
		if err := fn(RID{Block: block.Number(), Slot: s}, row); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns every row of the heap.
func (h *Heap) Rows(txn *tx.Transaction) ([][]any, error) {
	var rows [][]any
	err := h.Scan(txn, func(_ RID, row []any) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}
