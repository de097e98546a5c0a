package store

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type childEvent struct {
	key   string
	value any
}

func TestMemoryWriteRead(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	t.Run("scalar", func(t *testing.T) {
		require.NoError(t, m.Write(ctx, "rooms/den/locked", true))
		v, err := m.ReadOnce(ctx, "rooms/den/locked")
		require.NoError(t, err)
		require.Equal(t, true, v)
	})

	t.Run("map explodes into children", func(t *testing.T) {
		require.NoError(t, m.Write(ctx, "rooms/den/users/s1", map[string]any{
			"name":     "ada",
			"isTyping": false,
		}))
		v, err := m.ReadOnce(ctx, "rooms/den/users/s1/name")
		require.NoError(t, err)
		require.Equal(t, "ada", v)

		snap, err := m.ReadOnce(ctx, "rooms/den/users")
		require.NoError(t, err)
		users, ok := snap.(map[string]any)
		require.True(t, ok)
		require.Contains(t, users, "s1")
	})

	t.Run("overwrite replaces the subtree", func(t *testing.T) {
		require.NoError(t, m.Write(ctx, "cfg", map[string]any{"a": 1, "b": 2}))
		require.NoError(t, m.Write(ctx, "cfg", map[string]any{"c": 3}))
		snap, err := m.ReadOnce(ctx, "cfg")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"c": int64(3)}, coerce(snap))
	})

	t.Run("absent path reads nil", func(t *testing.T) {
		v, err := m.ReadOnce(ctx, "nowhere/at/all")
		require.NoError(t, err)
		require.Nil(t, v)
	})
}

// coerce normalizes numeric leaves for comparison; the store keeps
// whatever numeric type the writer used.
func coerce(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, c := range n {
			out[k] = coerce(c)
		}
		return out
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return v
	}
}

func TestMemoryUpdate(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, "rooms/den/users/s1", map[string]any{
		"name":     "ada",
		"isTyping": false,
	}))
	require.NoError(t, m.Update(ctx, "rooms/den/users/s1", map[string]any{
		"isTyping": true,
	}))

	snap, err := m.ReadOnce(ctx, "rooms/den/users/s1")
	require.NoError(t, err)
	fields := snap.(map[string]any)
	require.Equal(t, "ada", fields["name"])
	require.Equal(t, true, fields["isTyping"])
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	t.Run("absent path is a no-op", func(t *testing.T) {
		require.NoError(t, m.Delete(ctx, "rooms/nope"))
	})

	t.Run("removes the subtree", func(t *testing.T) {
		require.NoError(t, m.Write(ctx, "rooms/den/users/s1/name", "ada"))
		require.NoError(t, m.Delete(ctx, "rooms/den"))
		v, err := m.ReadOnce(ctx, "rooms/den")
		require.NoError(t, err)
		require.Nil(t, v)
	})
}

func TestMemoryPushKeysSortChronologically(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 5; i++ {
		key, err := m.Push(ctx, "rooms/den/messages", map[string]any{"n": i})
		require.NoError(t, err)
		keys = append(keys, key)
	}
	require.True(t, sort.StringsAreSorted(keys), "push keys must sort in creation order: %v", keys)

	snap, err := m.ReadOnce(ctx, "rooms/den/messages")
	require.NoError(t, err)
	require.Len(t, snap.(map[string]any), 5)
}

func TestMemorySubscribeChildAdded(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	first, err := m.Push(ctx, "rooms/den/messages", map[string]any{"text": "one"})
	require.NoError(t, err)
	second, err := m.Push(ctx, "rooms/den/messages", map[string]any{"text": "two"})
	require.NoError(t, err)

	events := make(chan childEvent, 8)
	unsub, err := m.SubscribeChildAdded("rooms/den/messages", func(key string, value any) {
		events <- childEvent{key: key, value: value}
	})
	require.NoError(t, err)

	// Existing children replay in creation order before live events.
	require.Equal(t, first, recvChild(t, events).key)
	require.Equal(t, second, recvChild(t, events).key)

	third, err := m.Push(ctx, "rooms/den/messages", map[string]any{"text": "three"})
	require.NoError(t, err)
	got := recvChild(t, events)
	require.Equal(t, third, got.key)
	require.Equal(t, "three", got.value.(map[string]any)["text"])

	unsub()
	_, err = m.Push(ctx, "rooms/den/messages", map[string]any{"text": "four"})
	require.NoError(t, err)
	select {
	case ev := <-events:
		t.Fatalf("event after unsubscribe: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func recvChild(t *testing.T, events chan childEvent) childEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("event never delivered")
		return childEvent{}
	}
}

func TestMemorySubscribeValue(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	values := make(chan any, 8)
	unsub, err := m.SubscribeValue("rooms/den/locked", func(v any) { values <- v })
	require.NoError(t, err)
	defer unsub()

	// Current snapshot arrives first, nil for an absent path.
	require.Nil(t, recvValue(t, values))

	require.NoError(t, m.Write(ctx, "rooms/den/locked", true))
	require.Equal(t, true, recvValue(t, values))

	require.NoError(t, m.Delete(ctx, "rooms/den/locked"))
	require.Nil(t, recvValue(t, values))
}

func TestMemorySubscribeValueSeesDescendantChanges(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	values := make(chan any, 8)
	unsub, err := m.SubscribeValue("rooms/den/users", func(v any) { values <- v })
	require.NoError(t, err)
	defer unsub()
	recvValue(t, values)

	require.NoError(t, m.Write(ctx, "rooms/den/users/s1", map[string]any{"name": "ada"}))
	snap := recvValue(t, values)
	require.Contains(t, snap.(map[string]any), "s1")

	require.NoError(t, m.Update(ctx, "rooms/den/users/s1", map[string]any{"isTyping": true}))
	snap = recvValue(t, values)
	s1 := snap.(map[string]any)["s1"].(map[string]any)
	require.Equal(t, true, s1["isTyping"])
}

func recvValue(t *testing.T, values chan any) any {
	t.Helper()
	select {
	case v := <-values:
		return v
	case <-time.After(waitFor):
		t.Fatal("snapshot never delivered")
		return nil
	}
}

func TestMemoryCloseAppliesDisconnectCleanups(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, "rooms/den/users/s1/name", "ada"))
	require.NoError(t, m.Write(ctx, "rooms/den/users/s2/name", "bob"))
	require.NoError(t, m.OnDisconnectDelete("rooms/den/users/s1"))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	snap, err := m.ReadOnce(ctx, "rooms/den/users")
	require.NoError(t, err)
	users := snap.(map[string]any)
	require.NotContains(t, users, "s1")
	require.Contains(t, users, "s2")
}
