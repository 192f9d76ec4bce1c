package engine

import "sync"

// feedBuffer is the per-subscriber backlog. Slow readers miss events rather
// than stall the simulation.
const feedBuffer = 64

type feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// Subscribe registers a listener for chronicle events as they are recorded.
func (s *Simulation) Subscribe() (int, <-chan Event) {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if s.feed.subs == nil {
		s.feed.subs = make(map[int]chan Event)
	}
	s.feed.nextID++
	ch := make(chan Event, feedBuffer)
	s.feed.subs[s.feed.nextID] = ch
	return s.feed.nextID, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Simulation) Unsubscribe(id int) {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if ch, ok := s.feed.subs[id]; ok {
		delete(s.feed.subs, id)
		close(ch)
	}
}

func (s *Simulation) publish(ev Event) {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	for _, ch := range s.feed.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
