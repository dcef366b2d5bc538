// Package event is the append-only narration log the scheduler writes to as
// a run progresses, and external observers read from. Its Store contract
// (in-memory buffer, opaque append, filtered reads) is extended here into a
// file-per-run, crash-tolerant JSONL contract.
package event

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// Event is a single immutable occurrence appended to a run's log. Type
	// is a dotted name such as "task.created", "step.committed", or
	// "agent.token_limit_exceeded".
	Event struct {
		ID        string          `json:"id"`
		RunID     string          `json:"run_id"`
		Type      string          `json:"type"`
		StepNumber int            `json:"step_number,omitempty"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		Timestamp time.Time       `json:"timestamp"`
	}

	// Store is the append-only, per-process event log. A single Store
	// instance narrates every run in the process; per-run filtering happens
	// at read time via GetByRunID.
	Store interface {
		// Store appends e to the in-memory buffer and, once Initialize has
		// been called, to the per-run JSONL file. Write errors are logged by
		// the implementation but never returned as fatal to the caller: a
		// run's narration must never gate its execution.
		Store(ctx context.Context, e Event)

		// Initialize creates (idempotently) the per-run JSONL file under
		// workspacePath. Must be called after the workspace has been
		// populated by git clone; calling it before risks a non-empty
		// target directory rejecting `git clone . <dir>`.
		Initialize(workspacePath string) error

		// GetAll returns every event currently buffered, oldest first.
		GetAll() []Event
		// GetByRunID returns every buffered event for runID, oldest first.
		GetByRunID(runID string) []Event
		// GetByType returns every buffered event of the given type, oldest first.
		GetByType(eventType string) []Event

		// LoadFromFile parses a JSONL file and seeds the buffer, skipping
		// any trailing non-JSON (partially written) line.
		LoadFromFile(path string) error

		// Close flushes pending writes. Store calls after Close are no-ops.
		Close() error
	}
)
