package tunnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("k", 10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
}

func TestSchedulerReplaceAndCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan string, 2)
	s.Schedule("k", time.Hour, func() { fired <- "first" })
	s.Schedule("k", 10*time.Millisecond, func() { fired <- "second" })

	select {
	case got := <-fired:
		require.Equal(t, "second", got)
	case <-time.After(time.Second):
		t.Fatal("replacement never fired")
	}

	s.Schedule("c", 10*time.Millisecond, func() { fired <- "canceled" })
	s.Cancel("c")
	select {
	case got := <-fired:
		t.Fatalf("canceled task fired: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerStopClearsAll(t *testing.T) {
	s := NewScheduler()
	fired := make(chan struct{}, 2)
	s.Schedule("a", 10*time.Millisecond, func() { fired <- struct{}{} })
	s.Schedule("b", 10*time.Millisecond, func() { fired <- struct{}{} })
	s.Stop()

	select {
	case <-fired:
		t.Fatal("stopped task fired")
	case <-time.After(50 * time.Millisecond):
	}
}
