package plan

import "time"

type (
	// AgentResultStatus is the terminal status an AgentRuntime reports for a
	// step attempt.
	AgentResultStatus string

	// AgentResult is the runtime output contract every AgentRuntime
	// implementation returns from a step attempt.
	AgentResult struct {
		Status             AgentResultStatus
		Summary            string
		ArtifactsCreated   []string
		ArtifactsModified  []string
		Issues             []string
		ReworkReason       string
		ReworkTarget       string
		// Metadata is opaque to the scheduler except for the reserved key
		// "human_reviewed", which the scheduler itself sets to true after a
		// human gate approves the step this result belongs to.
		Metadata map[string]any
	}

	// StepStatus is the lifecycle state of one step attempt.
	StepStatus string

	// Usage breaks out token accounting by role, refining the single
	// tokens_used scalar with prompt/completion detail for accurate cost
	// reporting.
	Usage struct {
		PromptTokens     int
		CompletionTokens int
	}

	// StepExecution is the mutable per-attempt record the scheduler maintains
	// for one step.
	StepExecution struct {
		StepNumber  int
		Agent       string
		Status      StepStatus
		RuntimeID   string
		TokensUsed  int
		Usage       Usage
		CostUSD     float64
		StartedAt   time.Time
		CompletedAt time.Time
		Result      *AgentResult
		ReworkCount int
	}
)

const (
	AgentResultComplete    AgentResultStatus = "complete"
	AgentResultNeedsRework AgentResultStatus = "needs_rework"
	AgentResultBlocked     AgentResultStatus = "blocked"
	AgentResultFailed      AgentResultStatus = "failed"

	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepNeedsRework StepStatus = "needs_rework"
	StepFailed      StepStatus = "failed"
)

// Total returns the sum of prompt and completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }
