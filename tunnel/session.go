package tunnel

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tunnelchat/tunnelchat/store"
)

// Presence wire field names under rooms/<room>/users/<sessionID>.
const (
	fieldName     = "name"
	fieldLastSeen = "lastSeen"
	fieldTyping   = "isTyping"
	fieldJoinedAt = "joinedAt"
)

// Session is one connected participant's presence record. It is written
// only by its owning client; all writes are fire-and-forget best-effort.
type Session struct {
	id   string
	name string
	room string

	st    store.Store
	sched Scheduler
	now   func() time.Time
	log   *logrus.Entry

	typingTimeout time.Duration

	mu      sync.Mutex
	removed bool
}

// newSessionID is collision-tolerant via randomness, not guaranteed
// globally unique.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func newSession(room, name string, st store.Store, sched Scheduler, now func() time.Time, typingTimeout time.Duration, log *logrus.Entry) *Session {
	s := &Session{
		id:            newSessionID(),
		name:          name,
		room:          room,
		st:            st,
		sched:         sched,
		now:           now,
		typingTimeout: typingTimeout,
	}
	s.log = log.WithField("session", s.id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) path() string { return userPath(s.room, s.id) }

func (s *Session) typingKey() string { return "typing:" + s.id }

// register writes the presence entry and arms the store-side disconnect
// hook so an abnormal connection loss still deregisters this session.
func (s *Session) register(ctx context.Context) {
	if err := s.st.OnDisconnectDelete(s.path()); err != nil {
		s.log.WithError(err).Warn("disconnect hook registration failed")
	}
	now := s.now()
	err := s.st.Write(ctx, s.path(), map[string]any{
		fieldName:     s.name,
		fieldLastSeen: now.UnixMilli(),
		fieldTyping:   false,
		fieldJoinedAt: now.UnixMilli(),
	})
	if err != nil {
		s.log.WithError(err).Warn("presence registration failed")
	}
}

// HeartbeatTyping marks this session typing and arms the single debounced
// timer that clears the flag if no further heartbeat arrives. Re-invocation
// replaces the pending timer.
func (s *Session) HeartbeatTyping() {
	err := s.st.Update(context.Background(), s.path(), map[string]any{
		fieldTyping:   true,
		fieldLastSeen: s.now().UnixMilli(),
	})
	if err != nil {
		s.log.WithError(err).Warn("typing heartbeat failed")
	}
	s.sched.Schedule(s.typingKey(), s.typingTimeout, func() {
		s.clearTyping()
	})
}

// StopTyping clears the flag immediately, used right before a send so the
// indicator does not stick.
func (s *Session) StopTyping() {
	s.sched.Cancel(s.typingKey())
	s.clearTyping()
}

func (s *Session) clearTyping() {
	err := s.st.Update(context.Background(), s.path(), map[string]any{
		fieldTyping: false,
	})
	if err != nil {
		s.log.WithError(err).Warn("typing clear failed")
	}
}

// remove deletes this session's registry entry. Idempotent; only the first
// call talks to the store. The returned error signals the caller to abandon
// the empty-room check for this departure.
func (s *Session) remove(ctx context.Context) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil
	}
	s.removed = true
	s.mu.Unlock()

	s.sched.Cancel(s.typingKey())
	if err := s.st.Delete(ctx, s.path()); err != nil {
		return &WriteFailure{Op: "delete", Path: s.path(), Err: err}
	}
	return nil
}
