// Package run defines the run-scoped aggregate the scheduler and
// orchestrator mutate as a task moves through planning, execution, and
// (optionally) human review.
package run

import (
	"time"

	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

type (
	// Status is the coarse lifecycle state of a TaskRun.
	Status string

	// TaskRun is the run-scoped aggregate: one per handleTask invocation.
	TaskRun struct {
		RunID           string
		ProjectID       string
		Ticket          ticket.Ticket
		Plan            *plan.ExecutionPlan
		ValidatedPlan   *plan.ExecutionPlan
		Status          Status
		Steps           []*plan.StepExecution
		TotalTokensUsed int
		TotalCostUSD    float64
		CreatedAt       time.Time
		CompletedAt     time.Time
		PRURL           string
		Error           string
		// Labels carries free-form labels propagated from the ticket
		// (priority, classification) to telemetry and policy.
		Labels map[string]string
	}

	// HumanReviewStatus is the lifecycle state of a human review gate.
	HumanReviewStatus string

	// HumanReview materializes one pending, approved, or rejected human gate.
	HumanReview struct {
		ReviewID          string
		RunID             string
		AfterStep         int
		Status            HumanReviewStatus
		Summary           string
		ArtifactsToReview []string
		ReviewerFeedback  string
		DecidedAt         time.Time
	}
)

const (
	StatusPending           Status = "pending"
	StatusPlanning          Status = "planning"
	StatusExecuting         Status = "executing"
	StatusWaitingHumanReview Status = "waiting_human_review"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"

	HumanReviewPending  HumanReviewStatus = "pending"
	HumanReviewApproved HumanReviewStatus = "approved"
	HumanReviewRejected HumanReviewStatus = "rejected"
)

// StepByNumber returns the most recent StepExecution recorded for stepNumber,
// or false if the step has never been attempted.
func (r *TaskRun) StepByNumber(stepNumber int) (*plan.StepExecution, bool) {
	var found *plan.StepExecution
	for _, se := range r.Steps {
		if se.StepNumber == stepNumber {
			found = se
		}
	}
	return found, found != nil
}

// AddUsage increases the run's running totals. Per the engine's monotonicity
// invariant, callers must never pass negative values.
func (r *TaskRun) AddUsage(tokens int, costUSD float64) {
	r.TotalTokensUsed += tokens
	r.TotalCostUSD += costUSD
}
