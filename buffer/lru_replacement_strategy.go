package buffer

import (
	"container/list"
	"sync"
)

// LRUStrategy replaces the buffer that was unpinned longest ago. Buffers that have never held a block are
// used before any cached page is evicted.
type LRUStrategy struct {
	order   *list.List // front is the eviction candidate
	entries map[*Buffer]*list.Element
	mu      sync.Mutex
}

func NewLRUStrategy() *LRUStrategy {
	return &LRUStrategy{}
}

func (s *LRUStrategy) initialize(buffers []*Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = list.New()
	s.entries = make(map[*Buffer]*list.Element, len(buffers))
	for _, buff := range buffers {
		s.entries[buff] = s.order.PushBack(buff)
	}
}

// pinBuffer needs no bookkeeping; pinned buffers are skipped when choosing.
func (s *LRUStrategy) pinBuffer(_ *Buffer) {}

// unpinBuffer moves a buffer whose last pin was released to the back of the eviction order.
func (s *LRUStrategy) unpinBuffer(buff *Buffer) {
	if buff.isPinned() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[buff]; ok {
		s.order.MoveToBack(elem)
	}
}

func (s *LRUStrategy) chooseUnpinnedBuffer() *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		buff := elem.Value.(*Buffer)
		if !buff.isPinned() {
			return buff
		}
	}
	return nil
}
