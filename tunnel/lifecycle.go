package tunnel

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tunnelchat/tunnelchat/store"
)

// State of a room as seen by this client. A room has no existence record:
// it is implicitly created by the first presence write and Destroyed is
// indistinguishable from Uninitialized for a later room reusing the ID.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateLocked
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLocked:
		return "locked"
	case StateDestroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Lifecycle drives a room's state machine: lock toggling, stream clearing
// and the departure-triggered empty-room collection.
type Lifecycle struct {
	room   string
	st     store.Store
	settle time.Duration
	log    *logrus.Entry

	mu        sync.Mutex
	state     State
	destroyed bool
}

func newLifecycle(room string, st store.Store, settle time.Duration, log *logrus.Entry) *Lifecycle {
	return &Lifecycle{room: room, st: st, settle: settle, log: log}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// observe folds a remote lock notification into the state machine.
func (l *Lifecycle) observe(locked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return
	}
	if locked {
		l.state = StateLocked
	} else {
		l.state = StateActive
	}
}

// SetLock writes the advisory lock flag. Any current member may toggle it;
// it rejects new sends but does not evict members.
func (l *Lifecycle) SetLock(ctx context.Context, locked bool) error {
	if err := l.st.Write(ctx, lockedPath(l.room), locked); err != nil {
		l.log.WithError(err).Warn("lock toggle failed")
		return &WriteFailure{Op: "write", Path: lockedPath(l.room), Err: err}
	}
	return nil
}

// Clear irreversibly removes every message while leaving membership and
// lock state intact. Callers confirm with the user first.
func (l *Lifecycle) Clear(ctx context.Context) error {
	if err := l.st.Delete(ctx, messagesPath(l.room)); err != nil {
		l.log.WithError(err).Warn("message clear failed")
		return &WriteFailure{Op: "delete", Path: messagesPath(l.room), Err: err}
	}
	return nil
}

// CollectIfEmpty runs the empty-room collection pass after this client's
// own registry entry has been durably removed: wait out the settling delay,
// re-read the live membership snapshot (never a cached view), and destroy
// the whole room subtree only if it is empty. Whichever departure observes
// true emptiness is responsible for destruction; there is no sweep.
func (l *Lifecycle) CollectIfEmpty(ctx context.Context) (bool, error) {
	if l.settle > 0 {
		select {
		case <-time.After(l.settle):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	snap, err := l.st.ReadOnce(ctx, usersPath(l.room))
	if err != nil {
		l.log.WithError(err).Warn("emptiness check failed, leaving room intact")
		return false, &WriteFailure{Op: "read", Path: usersPath(l.room), Err: err}
	}
	if remaining := len(asMap(snap)); remaining > 0 {
		l.log.WithField("remaining", remaining).Debug("room still occupied")
		return false, nil
	}

	if err := l.st.Delete(ctx, roomPath(l.room)); err != nil {
		l.log.WithError(err).Warn("room destruction failed")
		return false, &WriteFailure{Op: "delete", Path: roomPath(l.room), Err: err}
	}
	l.mu.Lock()
	l.state = StateDestroyed
	l.destroyed = true
	l.mu.Unlock()
	l.log.Info("room erased: messages, presence and lock state removed")
	return true, nil
}
