// Package plannerllm implements plannerruntime.Planner by prompting a
// planning model directly and decoding its raw JSON completion through
// internal/plan/schema, rather than routing through agentruntime.Runtime's
// AgentResult/fenced-result-block protocol (that protocol is shaped for
// worker-agent step reports, not a plan document). ModelClient is therefore
// its own single-method interface rather than agentruntime.Runtime; its
// adapters (NewAnthropicClient/NewOpenAIClient/NewBedrockClient) wrap the
// model runtimes' narrow SDK interfaces (MessagesClient/ChatClient/
// RuntimeClient), so the same underlying SDKs back both without the two
// callers fighting over prompt conventions.
package plannerllm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/plannerruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
	"github.com/sprintfoundry/orchestrator/internal/plan/schema"
)

// ModelClient sends a single-turn prompt to a planning model and returns its
// raw text completion. Implementations wrap a specific provider SDK; see
// NewAnthropicClient/NewOpenAIClient/NewBedrockClient.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Planner implements plannerruntime.Planner.
type Planner struct {
	Model ModelClient
}

// New returns a Planner backed by model.
func New(model ModelClient) *Planner {
	return &Planner{Model: model}
}

// GeneratePlan prompts the model with the ticket and agent roster and
// decodes its JSON completion into an ExecutionPlan via schema.Decode,
// which rejects anything that doesn't match the plan wire schema.
func (p *Planner) GeneratePlan(ctx context.Context, t ticket.Ticket, agents catalog.Catalog, workspacePath string) (plan.ExecutionPlan, error) {
	prompt := generatePrompt(t, agents)
	text, err := p.Model.Complete(ctx, prompt)
	if err != nil {
		return plan.ExecutionPlan{}, fmt.Errorf("plannerllm: generate plan: %w", err)
	}
	ep, err := schema.Decode([]byte(extractJSON(text)))
	if err != nil {
		return plan.ExecutionPlan{}, fmt.Errorf("plannerllm: decode plan: %w", err)
	}
	return ep, nil
}

// PlanRework prompts the model to synthesize minimal follow-up steps for a
// failed step, numbering them per plan.ReworkStepNumberFloor's convention.
func (p *Planner) PlanRework(ctx context.Context, t ticket.Ticket, failedStep plan.Step, failure plan.AgentResult, workspacePath string, runSteps []plan.StepExecution, rework plannerruntime.ReworkAttempt) ([]plan.Step, error) {
	prompt := reworkPrompt(t, failedStep, failure, rework)
	text, err := p.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("plannerllm: plan rework: %w", err)
	}
	ep, err := schema.Decode([]byte(extractJSON(text)))
	if err != nil {
		return nil, fmt.Errorf("plannerllm: decode rework plan: %w", err)
	}
	floor := plan.ReworkStepNumberFloor + failedStep.StepNumber
	for i := range ep.Steps {
		ep.Steps[i].StepNumber = floor + i
	}
	return ep.Steps, nil
}

func generatePrompt(t ticket.Ticket, agents catalog.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the planning stage of an automated software engineering pipeline.\n")
	fmt.Fprintf(&b, "Ticket %s (%s priority): %s\n\n%s\n\n", t.ID, t.Priority, t.Title, t.Description)
	b.WriteString("Produce a JSON execution plan matching this schema: an object with plan_id, ticket_id, classification, reasoning, and a non-empty steps array; each step has step_number, agent, task, and optionally depends_on, estimated_complexity, labels. Optionally include parallel_groups and human_gates.\n")
	b.WriteString("Assign each step to one of these agents: ")
	for i, r := range catalog.RolePrecedence {
		if i > 0 {
			b.WriteString(", ")
		}
		if a, ok := agents.ByRole(r); ok {
			b.WriteString(a.ID)
		} else {
			b.WriteString(string(r))
		}
	}
	b.WriteString("\nRespond with the JSON plan only, no prose, no markdown fences.\n")
	return b.String()
}

func reworkPrompt(t ticket.Ticket, failedStep plan.Step, failure plan.AgentResult, rework plannerruntime.ReworkAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s: step %d (%s) returned needs_rework on attempt %d.\n", t.ID, failedStep.StepNumber, failedStep.Agent, rework.Attempt)
	fmt.Fprintf(&b, "Reason: %s\nIssues: %s\n\n", failure.ReworkReason, strings.Join(failure.Issues, "; "))
	if len(rework.PreviousReworkResults) > 0 {
		b.WriteString("Previously attempted rework did not resolve this; do not repeat it.\n")
	}
	b.WriteString("Produce a JSON execution plan containing only the 1-2 minimal follow-up steps needed to address this, using the same schema as an initial plan (plan_id/ticket_id/steps required). step_number values are ignored and will be renumbered by the caller.\n")
	b.WriteString("Respond with the JSON plan only, no prose, no markdown fences.\n")
	return b.String()
}

// extractJSON trims a possible markdown fence a model adds despite being
// asked not to, tolerating ```json and bare ``` fences around the plan.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
