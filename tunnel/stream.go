package tunnel

import "sync"

// Stream is the local, deduplicated view of a room's message log. Ordering
// is insertion order of first-seen notification; duplicate delivery of an
// id is a no-op.
type Stream struct {
	mu   sync.RWMutex
	msgs []Message
	seen map[string]struct{}
}

func newStream() *Stream {
	return &Stream{seen: make(map[string]struct{})}
}

// Add appends msg unless its id is already present. Reports whether the
// message was new.
func (s *Stream) Add(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.msgs = append(s.msgs, msg)
	return true
}

// Messages returns a copy of the ordered view.
func (s *Stream) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Clear empties the local view after a stream wipe.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
}
