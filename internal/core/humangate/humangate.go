// Package humangate implements the filesystem rendezvous the scheduler uses
// to pause a run for an external reviewer: write a pending-review marker,
// poll for a decision file, and time out as a rejection.
package humangate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

type (
	// Decision is the outcome an external operator (or the timeout path)
	// reports for a pending human review.
	Decision struct {
		Status           run.HumanReviewStatus
		ReviewerFeedback string
	}

	// decisionFile is the on-disk shape an external operator writes.
	decisionFile struct {
		Status           string `json:"status"`
		ReviewerFeedback string `json:"reviewer_feedback,omitempty"`
	}

	// Channel is the human-gate rendezvous contract. The scheduler calls
	// RequestReview once per gate, then blocks on WaitForDecision. Both take
	// the calling run's workspace.Layout explicitly rather than binding one
	// at construction, since a single Channel instance is shared by an
	// Orchestrator across many runs, each with its own workspace root.
	Channel interface {
		RequestReview(ctx context.Context, layout workspace.Layout, review run.HumanReview) error
		WaitForDecision(ctx context.Context, layout workspace.Layout, reviewID string, timeout time.Duration) (Decision, error)
	}

	// FileChannel is the reference Channel: a pending/decision JSON file
	// pair under the calling run's .sprintfoundry/reviews directory, polled
	// once per second for a filesystem-rendezvous contract. It holds no
	// per-run state, so one FileChannel is safely shared across concurrent
	// runs.
	FileChannel struct {
		PollInterval time.Duration
	}
)

// NewFileChannel returns a FileChannel polling every second.
func NewFileChannel() *FileChannel {
	return &FileChannel{PollInterval: time.Second}
}

// RequestReview writes the pending-review marker file.
func (c *FileChannel) RequestReview(_ context.Context, layout workspace.Layout, review run.HumanReview) error {
	if err := os.MkdirAll(layout.ReviewsDir(), 0o755); err != nil {
		return fmt.Errorf("create reviews dir: %w", err)
	}
	b, err := json.MarshalIndent(review, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending review: %w", err)
	}
	if err := os.WriteFile(layout.ReviewPendingFile(review.ReviewID), b, 0o644); err != nil {
		return fmt.Errorf("write pending review: %w", err)
	}
	return nil
}

// WaitForDecision polls for the decision file every PollInterval (default
// 1s) until it appears, ctx is canceled, or timeout elapses. A timeout is
// reported as a rejection with feedback "Human review timed out", per the
// spec's explicit timeout-as-rejection contract. The pending file is
// removed once a decision is observed, whether by decision or timeout.
func (c *FileChannel) WaitForDecision(ctx context.Context, layout workspace.Layout, reviewID string, timeout time.Duration) (Decision, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	decisionPath := layout.ReviewDecisionFile(reviewID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if d, ok, err := c.readDecision(decisionPath); err != nil {
			return Decision{}, err
		} else if ok {
			c.cleanup(layout, reviewID)
			return d, nil
		}

		if time.Now().After(deadline) {
			c.cleanup(layout, reviewID)
			return Decision{Status: run.HumanReviewRejected, ReviewerFeedback: "Human review timed out"}, nil
		}

		select {
		case <-ctx.Done():
			c.cleanup(layout, reviewID)
			return Decision{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *FileChannel) readDecision(path string) (Decision, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("read decision file: %w", err)
	}
	var df decisionFile
	if err := json.Unmarshal(b, &df); err != nil {
		return Decision{}, false, fmt.Errorf("parse decision file: %w", err)
	}
	status := run.HumanReviewRejected
	if df.Status == string(run.HumanReviewApproved) {
		status = run.HumanReviewApproved
	}
	return Decision{Status: status, ReviewerFeedback: df.ReviewerFeedback}, true, nil
}

func (c *FileChannel) cleanup(layout workspace.Layout, reviewID string) {
	_ = os.Remove(layout.ReviewPendingFile(reviewID))
	_ = os.Remove(layout.ReviewDecisionFile(reviewID))
}
