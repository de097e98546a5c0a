package tunnel

import (
	"sync"
	"time"
)

// Scheduler runs cancellable delayed tasks keyed by string: the typing
// debounce per session and the read receipt per message id. Scheduling an
// already-pending key replaces the pending task, so at most one task per
// key is outstanding.
type Scheduler interface {
	Schedule(key string, d time.Duration, fn func())
	Cancel(key string)
	Stop()
}

type timerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler returns the real-time Scheduler used outside tests.
func NewScheduler() Scheduler {
	return &timerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *timerScheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

func (s *timerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *timerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
