package buffer

import "sync"

// NaiveStrategy is a simple buffer replacement strategy that selects the first unpinned buffer in pool order.
type NaiveStrategy struct {
	buffers []*Buffer
	mu      sync.Mutex
}

func NewNaiveStrategy() *NaiveStrategy {
	return &NaiveStrategy{}
}

func (ns *NaiveStrategy) initialize(buffers []*Buffer) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.buffers = buffers
}

func (ns *NaiveStrategy) pinBuffer(_ *Buffer) {}

func (ns *NaiveStrategy) unpinBuffer(_ *Buffer) {}

func (ns *NaiveStrategy) chooseUnpinnedBuffer() *Buffer {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for _, buff := range ns.buffers {
		if !buff.isPinned() {
			return buff
		}
	}
	return nil
}
