package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sprintfoundry/orchestrator/internal/core/telemetry"
)

// Sink mirrors appended events to an external system. Sinks are strictly
// best-effort fan-out: the JSONL file under the workspace is the run's only
// source of truth, and a Sink failure never fails a Store call or the run it
// narrates. See internal/eventstore/redisstream and mongoarchive.
type Sink interface {
	Mirror(ctx context.Context, e Event)
}

// FileStore is the reference Store implementation: an in-memory buffer
// backed by a per-run JSONL file, with optional Sinks for live fan-out.
// Events without an ID are given a random UUID, and the buffer is guarded
// by a single mutex, extended here with durable JSONL persistence so events
// survive a process restart.
type FileStore struct {
	mu       sync.Mutex
	log      telemetry.Logger
	sinks    []Sink
	events   []Event
	file     *os.File
	writer   *bufio.Writer
	closed   bool
	initPath string
}

// NewFileStore constructs a FileStore. log may be nil, in which case write
// failures are silently swallowed per the "narration never gates execution"
// contract.
func NewFileStore(log telemetry.Logger, sinks ...Sink) *FileStore {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &FileStore{log: log, sinks: sinks}
}

// Store implements Store.
func (s *FileStore) Store(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.events = append(s.events, e)
	}
	w := s.writer
	s.mu.Unlock()

	if closed {
		s.log.Warn(ctx, "event store closed, dropping event", "type", e.Type, "run_id", e.RunID)
		return
	}

	if w != nil {
		s.appendLine(ctx, e)
	}
	for _, sink := range s.sinks {
		sink.Mirror(ctx, e)
	}
}

func (s *FileStore) appendLine(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		s.log.Error(ctx, "marshal event failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	if _, err := s.writer.Write(b); err != nil {
		s.log.Error(ctx, "write event failed", "error", err)
		return
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		s.log.Error(ctx, "write event newline failed", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.log.Error(ctx, "flush event log failed", "error", err)
	}
}

// Initialize implements Store. It is idempotent: a second call against the
// same workspacePath is a no-op.
func (s *FileStore) Initialize(workspacePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initPath == workspacePath && s.file != nil {
		return nil
	}
	if s.file != nil {
		return fmt.Errorf("event store already initialized for %q", s.initPath)
	}

	path := filepath.Join(workspacePath, ".events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log %q: %w", path, err)
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.initPath = workspacePath
	return nil
}

// GetAll implements Store.
func (s *FileStore) GetAll() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// GetByRunID implements Store.
func (s *FileStore) GetByRunID(runID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// GetByType implements Store.
func (s *FileStore) GetByType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// LoadFromFile implements Store. Lines that fail to parse as JSON are
// skipped, tolerating a partially written trailing line left by a crash.
func (s *FileStore) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log %q: %w", path, err)
	}
	defer f.Close()

	var loaded []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		loaded = append(loaded, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, loaded...)
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
