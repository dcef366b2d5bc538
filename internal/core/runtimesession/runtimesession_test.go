package runtimesession

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndFindLatestByAgent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.json")
	store := New(path)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(Record{RunID: "run-1", Agent: "developer", StepNumber: 1, StepAttempt: 1, SessionID: "s1", UpdatedAt: base}))
	require.NoError(t, store.Record(Record{RunID: "run-1", Agent: "developer", StepNumber: 2, StepAttempt: 1, SessionID: "s2", UpdatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.Record(Record{RunID: "run-1", Agent: "reviewer", StepNumber: 1, StepAttempt: 1, SessionID: "s3", UpdatedAt: base}))

	latest, ok, err := store.FindLatestByAgent("run-1", "developer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s2", latest.SessionID)

	_, ok, err = store.FindLatestByAgent("run-1", "unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordUpdatesExistingKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.json")
	store := New(path)

	require.NoError(t, store.Record(Record{RunID: "run-1", Agent: "developer", StepNumber: 1, StepAttempt: 1, SessionID: "old"}))
	require.NoError(t, store.Record(Record{RunID: "run-1", Agent: "developer", StepNumber: 1, StepAttempt: 1, SessionID: "new"}))

	latest, ok, err := store.FindLatestByAgent("run-1", "developer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", latest.SessionID)

	doc, err := store.load()
	require.NoError(t, err)
	require.Len(t, doc.Sessions, 1)
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, New(path).Record(Record{RunID: "run-1", Agent: "developer", StepNumber: 1, StepAttempt: 1, SessionID: "s1"}))

	reopened := New(path)
	latest, ok, err := reopened.FindLatestByAgent("run-1", "developer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", latest.SessionID)
}

func TestStoreConcurrentRecordsDoNotLoseData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.json")
	store := New(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Record(Record{RunID: "run-1", Agent: "developer", StepNumber: n, StepAttempt: 1, SessionID: "s"})
		}(i)
	}
	wg.Wait()

	doc, err := store.load()
	require.NoError(t, err)
	require.Len(t, doc.Sessions, 20)
}
