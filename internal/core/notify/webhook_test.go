package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsNotification(t *testing.T) {
	t.Parallel()

	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 100)
	err := n.Notify(context.Background(), Notification{RunID: "run-1", Kind: EventTaskCompleted})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&received))
}

func TestWebhookNotifierSurfacesNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 100)
	err := n.Notify(context.Background(), Notification{RunID: "run-1", Kind: EventTaskFailed})
	require.Error(t, err)
}
