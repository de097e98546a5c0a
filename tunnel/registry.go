package tunnel

import (
	"sort"
	"sync"
	"time"
)

// Member is one entry of the room membership registry.
type Member struct {
	SessionID string
	Name      string
	LastSeen  time.Time
	Typing    bool
	JoinedAt  time.Time
}

// Registry is the derived, read-only membership view for one room. No
// client writes the aggregate; it is replaced wholesale from each store
// snapshot. Its count is the sole signal for room emptiness.
type Registry struct {
	mu      sync.RWMutex
	members []Member
}

// Replace decodes a full users snapshot and swaps the view. Members sort by
// join time so the sidebar order is stable across clients.
func (r *Registry) Replace(snapshot any) []Member {
	users := asMap(snapshot)
	members := make([]Member, 0, len(users))
	for id, v := range users {
		fields := asMap(v)
		if fields == nil {
			continue
		}
		members = append(members, Member{
			SessionID: id,
			Name:      asString(fields[fieldName]),
			LastSeen:  millisToTime(asInt64(fields[fieldLastSeen])),
			Typing:    asBool(fields[fieldTyping]),
			JoinedAt:  millisToTime(asInt64(fields[fieldJoinedAt])),
		})
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].SessionID < members[j].SessionID
	})

	r.mu.Lock()
	r.members = members
	r.mu.Unlock()
	return members
}

// Members returns a copy of the current view.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
