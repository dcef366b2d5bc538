package event

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreStoreAndFilter(t *testing.T) {
	t.Parallel()

	s := NewFileStore(nil)
	ctx := context.Background()

	s.Store(ctx, Event{RunID: "run-1", Type: "task.created"})
	s.Store(ctx, Event{RunID: "run-1", Type: "step.committed", StepNumber: 1})
	s.Store(ctx, Event{RunID: "run-2", Type: "task.created"})

	require.Len(t, s.GetAll(), 3)
	require.Len(t, s.GetByRunID("run-1"), 2)
	require.Len(t, s.GetByType("task.created"), 2)
}

func TestFileStoreInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewFileStore(nil)

	require.NoError(t, s.Initialize(dir))
	require.NoError(t, s.Initialize(dir))

	require.NoError(t, s.Close())
}

func TestFileStorePersistsAndReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s := NewFileStore(nil)
	require.NoError(t, s.Initialize(dir))
	for i := 0; i < 3; i++ {
		s.Store(ctx, Event{RunID: "run-1", Type: "step.committed", StepNumber: i})
	}
	require.NoError(t, s.Close())

	reopened := NewFileStore(nil)
	require.NoError(t, reopened.LoadFromFile(filepath.Join(dir, ".events.jsonl")))
	require.Len(t, reopened.GetAll(), 3)
}

func TestFileStoreLoadFromFileSkipsPartialTrailingLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".events.jsonl")
	content := `{"id":"1","run_id":"run-1","type":"task.created","timestamp":"2026-01-01T00:00:00Z"}
{"id":"2","run_id":"run-1","type":"step.co`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewFileStore(nil)
	require.NoError(t, s.LoadFromFile(path))
	require.Len(t, s.GetAll(), 1)
}

func TestFileStoreCloseStopsFurtherStores(t *testing.T) {
	t.Parallel()

	s := NewFileStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Close())

	s.Store(ctx, Event{RunID: "run-1", Type: "task.created"})
	require.Empty(t, s.GetAll())
}

type recordingSink struct {
	mirrored []Event
}

func (r *recordingSink) Mirror(_ context.Context, e Event) {
	r.mirrored = append(r.mirrored, e)
}

func TestFileStoreMirrorsToSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	s := NewFileStore(nil, sink)
	s.Store(context.Background(), Event{RunID: "run-1", Type: "task.created"})

	require.Len(t, sink.mirrored, 1)
	require.Equal(t, "task.created", sink.mirrored[0].Type)
}
