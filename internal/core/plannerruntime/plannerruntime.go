// Package plannerruntime defines the external planning contract: turning a
// ticket into an initial ExecutionPlan, and synthesizing minimal rework
// plans when a step needs another pass.
package plannerruntime

import (
	"context"

	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

type (
	// ReworkAttempt carries the prior rework history for a failing step so
	// the planner can avoid repeating an already-tried fix.
	ReworkAttempt struct {
		Attempt                int
		PreviousReworkResults  []plan.AgentResult
	}

	// Planner is the external planning contract. Implementations typically
	// prompt a planning model with the ticket, the project's agent catalog,
	// and the validator's rule set.
	Planner interface {
		// GeneratePlan produces the initial ExecutionPlan for a ticket.
		GeneratePlan(ctx context.Context, t ticket.Ticket, agents catalog.Catalog, workspacePath string) (plan.ExecutionPlan, error)

		// PlanRework synthesizes 1-2 minimal follow-up steps for a step that
		// returned needs_rework. By convention every returned step's
		// StepNumber is >= plan.ReworkStepNumberFloor + failedStep.StepNumber,
		// so rework steps can never collide with the initial plan's numbering.
		PlanRework(ctx context.Context, t ticket.Ticket, failedStep plan.Step, failure plan.AgentResult, workspacePath string, runSteps []plan.StepExecution, rework ReworkAttempt) ([]plan.Step, error)
	}
)
