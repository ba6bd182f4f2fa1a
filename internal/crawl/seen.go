package crawl

import (
	"container/list"
	"sync"
)

// SeenSet is a process-local set of normalized URLs used to drop duplicate
// crawl tasks. It is not shared across crawler instances; cross-crawler
// duplicates are tolerated as redundant but idempotent work.
//
// When a capacity is configured the set evicts least-recently-seen entries
// to bound memory.
type SeenSet struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently seen
	cap     int        // 0 = unbounded
}

// NewSeenSet creates a SeenSet. cap <= 0 means unbounded.
func NewSeenSet(capacity int) *SeenSet {
	return &SeenSet{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		cap:     capacity,
	}
}

// Add inserts the URL and reports whether it was already present.
func (s *SeenSet) Add(normalizedURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[normalizedURL]; ok {
		s.order.MoveToFront(elem)
		return true
	}

	s.entries[normalizedURL] = s.order.PushFront(normalizedURL)

	if s.cap > 0 && s.order.Len() > s.cap {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(string))
		}
	}

	return false
}

// Remove deletes the URL from the set. Called when a crawl fails
// transiently so the redelivered task is not treated as a duplicate.
func (s *SeenSet) Remove(normalizedURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[normalizedURL]; ok {
		s.order.Remove(elem)
		delete(s.entries, normalizedURL)
	}
}

// Contains reports whether the URL is in the set without inserting it.
func (s *SeenSet) Contains(normalizedURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[normalizedURL]
	return ok
}

// Len returns the number of tracked URLs.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.order.Len()
}
