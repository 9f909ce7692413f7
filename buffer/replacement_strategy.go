package buffer

import "github.com/pkg/errors"

// ReplacementStrategy decides which unpinned buffer is reused when a block that is not cached gets pinned.
// All methods are called with the buffer manager's lock held.
type ReplacementStrategy interface {
	// initialize hands the strategy the buffer pool.
	initialize(buffers []*Buffer)
	// pinBuffer notifies the strategy that a buffer has been pinned
	pinBuffer(buff *Buffer)
	// unpinBuffer notifies the strategy that a buffer has been unpinned
	unpinBuffer(buff *Buffer)
	// chooseUnpinnedBuffer selects an unpinned buffer to replace, or nil when every buffer is pinned
	chooseUnpinnedBuffer() *Buffer
}

// StrategyByName maps a configuration value to a strategy: "lru" (the default) or "naive".
func StrategyByName(name string) (ReplacementStrategy, error) {
	switch name {
	case "", "lru":
		return NewLRUStrategy(), nil
	case "naive":
		return NewNaiveStrategy(), nil
	default:
		return nil, errors.Errorf("unknown replacement strategy %q", name)
	}
}
