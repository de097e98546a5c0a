package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tunnelchat/tunnelchat/store"
)

const waitFor = 2 * time.Second

func startRelay(t *testing.T) (*store.Memory, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	mem := store.NewMemory()
	srv := httptest.NewServer(newRouter(mem, log))
	t.Cleanup(func() {
		srv.Close()
		mem.Close()
	})
	return mem, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *store.Remote {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	remote, err := store.DialRemote(context.Background(), url, log)
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })
	return remote
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)
	mem := store.NewMemory()
	defer mem.Close()

	srv := httptest.NewServer(newRouter(mem, log))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayRoundTrip(t *testing.T) {
	_, url := startRelay(t)
	ctx := context.Background()
	remote := dial(t, url)

	require.NoError(t, remote.Write(ctx, "rooms/den/locked", true))
	v, err := remote.ReadOnce(ctx, "rooms/den/locked")
	require.NoError(t, err)
	require.Equal(t, true, v)

	key, err := remote.Push(ctx, "rooms/den/messages", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	snap, err := remote.ReadOnce(ctx, "rooms/den/messages")
	require.NoError(t, err)
	msgs, ok := snap.(map[string]any)
	require.True(t, ok)
	require.Contains(t, msgs, key)

	require.NoError(t, remote.Delete(ctx, "rooms/den"))
	v, err = remote.ReadOnce(ctx, "rooms/den")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRelayFansOutAcrossConnections(t *testing.T) {
	_, url := startRelay(t)
	ctx := context.Background()
	writer := dial(t, url)
	watcher := dial(t, url)

	added := make(chan string, 8)
	unsubChild, err := watcher.SubscribeChildAdded("rooms/den/messages", func(key string, _ any) {
		added <- key
	})
	require.NoError(t, err)
	defer unsubChild()

	values := make(chan any, 8)
	unsubValue, err := watcher.SubscribeValue("rooms/den/locked", func(v any) {
		values <- v
	})
	require.NoError(t, err)
	defer unsubValue()

	// Initial snapshot for the value subscription, nil before any write.
	select {
	case v := <-values:
		require.Nil(t, v)
	case <-time.After(waitFor):
		t.Fatal("initial snapshot never delivered")
	}

	key, err := writer.Push(ctx, "rooms/den/messages", map[string]any{"text": "hi"})
	require.NoError(t, err)
	select {
	case got := <-added:
		require.Equal(t, key, got)
	case <-time.After(waitFor):
		t.Fatal("child event never delivered")
	}

	require.NoError(t, writer.Write(ctx, "rooms/den/locked", true))
	select {
	case v := <-values:
		require.Equal(t, true, v)
	case <-time.After(waitFor):
		t.Fatal("value event never delivered")
	}
}

func TestRelayDisconnectCleanup(t *testing.T) {
	mem, url := startRelay(t)
	ctx := context.Background()
	remote := dial(t, url)

	require.NoError(t, remote.Write(ctx, "rooms/den/users/s1/name", "ada"))
	require.NoError(t, remote.OnDisconnectDelete("rooms/den/users/s1"))
	require.NoError(t, remote.Close())

	// The relay runs the cleanup when the connection drops.
	require.Eventually(t, func() bool {
		snap, err := mem.ReadOnce(ctx, "rooms/den/users/s1")
		return err == nil && snap == nil
	}, waitFor, 10*time.Millisecond)
}
