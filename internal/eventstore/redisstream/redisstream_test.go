package redisstream

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/event"
)

func newTestSink(t *testing.T) (*Sink, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink, err := New(Options{Client: client})
	require.NoError(t, err)
	return sink, client, mr
}

func TestMirrorPublishesToDerivedStream(t *testing.T) {
	sink, client, _ := newTestSink(t)
	ctx := context.Background()

	sink.Mirror(ctx, event.Event{ID: "e1", RunID: "run-1", Type: "step.completed"})

	entries, err := client.XRange(ctx, "sprintfoundry/run/run-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "step.completed", entries[0].Values["type"])
}

func TestMirrorSkipsEventsWithoutRunID(t *testing.T) {
	sink, client, _ := newTestSink(t)
	ctx := context.Background()

	sink.Mirror(ctx, event.Event{ID: "e1", Type: "step.completed"})

	keys, err := client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMirrorDoesNotFailOnUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	sink, err := New(Options{Client: client})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		sink.Mirror(context.Background(), event.Event{ID: "e1", RunID: "run-1", Type: "step.completed"})
	})
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
