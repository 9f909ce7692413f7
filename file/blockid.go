package file

import "fmt"

// BlockId identifies a disk block by its filename and block number. It is the page id the rest of the
// engine uses, and is comparable so it can key maps.
type BlockId struct {
	File        string
	BlockNumber int
}

func NewBlockId(filename string, blockNumber int) *BlockId {
	return &BlockId{
		File:        filename,
		BlockNumber: blockNumber,
	}
}

func (b *BlockId) Equals(other *BlockId) bool {
	return other != nil && b.File == other.File && b.BlockNumber == other.BlockNumber
}

func (b *BlockId) Filename() string {
	return b.File
}

func (b *BlockId) Number() int {
	return b.BlockNumber
}

func (b *BlockId) String() string {
	return fmt.Sprintf("%s#%d", b.File, b.BlockNumber)
}
