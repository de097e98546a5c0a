package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamDedup(t *testing.T) {
	s := newStream()

	require.True(t, s.Add(Message{ID: "a", Text: "1"}))
	require.True(t, s.Add(Message{ID: "b", Text: "2"}))
	require.False(t, s.Add(Message{ID: "a", Text: "other payload, same id"}))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "1", msgs[0].Text)
	require.Equal(t, "2", msgs[1].Text)
	require.Equal(t, 2, s.Len())
}

func TestStreamClear(t *testing.T) {
	s := newStream()
	s.Add(Message{ID: "a"})
	s.Clear()
	require.Zero(t, s.Len())

	// A wiped id is new again if it reappears.
	require.True(t, s.Add(Message{ID: "a"}))
}
