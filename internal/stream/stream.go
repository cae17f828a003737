package stream

import (
	"sync"

	"plantops.org/internal/plant"
)

// Stream fans ingested plant events out to all active subscribers
// (SSE clients watching the live dashboard feed).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan plant.Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan plant.Event)}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The channel is buffered; a slow subscriber drops events rather
// than stalling ingestion.
func (s *Stream) Subscribe() (<-chan plant.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan plant.Event, 32)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (s *Stream) Publish(ev plant.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active listeners.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
