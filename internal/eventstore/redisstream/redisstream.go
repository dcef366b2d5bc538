// Package redisstream mirrors orchestrator events onto a Redis Stream so a
// live-tailing monitor UI can subscribe without polling the per-run JSONL
// file. It implements event.Sink: Mirror is strictly best-effort and never
// returns an error to the caller, the same tolerance a Pulse-style stream
// sink gives a caller, but talking to github.com/redis/go-redis/v9 directly
// since goa.design/pulse itself isn't a dependency of this module.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sprintfoundry/orchestrator/internal/core/event"
	"github.com/sprintfoundry/orchestrator/internal/core/telemetry"
)

// StreamName derives the target Redis stream key from an event. Defaults to
// "sprintfoundry/run/<RunID>".
type StreamName func(event.Event) string

// Sink publishes event.Event values onto Redis Streams via XADD.
type Sink struct {
	client   *redis.Client
	log      telemetry.Logger
	streamID StreamName
	maxLen   int64
}

// Options configures Sink.
type Options struct {
	// Client is the Redis connection used to publish stream entries. Required.
	Client *redis.Client
	// StreamName derives the stream key from an event. Defaults to
	// "sprintfoundry/run/<RunID>".
	StreamName StreamName
	// MaxLen approximately caps each stream's length via XADD MAXLEN ~. Zero
	// means unbounded.
	MaxLen int64
	// Log receives Mirror failures. May be nil.
	Log telemetry.Logger
}

// envelope is the JSON value stored as the Redis stream entry's "data" field.
type envelope struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	StepNumber int            `json:"step_number,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New constructs a Sink. Client is required.
func New(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redisstream: redis client is required")
	}
	streamID := opts.StreamName
	if streamID == nil {
		streamID = defaultStreamName
	}
	log := opts.Log
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Sink{client: opts.Client, log: log, streamID: streamID, maxLen: opts.MaxLen}, nil
}

// Mirror implements event.Sink. Failures are logged, never returned: a
// monitor UI losing a live update must never affect run execution.
func (s *Sink) Mirror(ctx context.Context, e event.Event) {
	stream := s.streamID(e)
	if stream == "" {
		s.log.Warn(ctx, "redisstream: empty stream name, dropping event", "type", e.Type, "run_id", e.RunID)
		return
	}

	body, err := json.Marshal(envelope{
		ID:         e.ID,
		RunID:      e.RunID,
		Type:       e.Type,
		StepNumber: e.StepNumber,
		Payload:    e.Payload,
		Timestamp:  e.Timestamp,
	})
	if err != nil {
		s.log.Error(ctx, "redisstream: marshal event failed", "error", err)
		return
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"type": e.Type, "data": body},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.log.Error(ctx, "redisstream: xadd failed", "error", err, "stream", stream)
	}
}

// Close closes the underlying Redis connection. Deployments that share the
// *redis.Client with other components should skip calling this and close it
// themselves.
func (s *Sink) Close() error {
	return s.client.Close()
}

func defaultStreamName(e event.Event) string {
	if e.RunID == "" {
		return ""
	}
	return fmt.Sprintf("sprintfoundry/run/%s", e.RunID)
}
