// Package agentruntime defines the one-operation contract the scheduler
// issues every step through: prompt an external agent process or model SDK,
// honour a timeout and token/cost budget, and report back usage plus
// optional session-resume telemetry. It is deliberately narrow: the
// orchestration core treats whatever sits on the other side of this
// interface (a CLI subprocess, a containerized agent, a direct model call)
// as an opaque collaborator.
package agentruntime

import (
	"context"
	"strings"
	"time"
)

type (
	// Guardrails are runtime-enforced constraints a step's prompt must
	// respect, independent of the budget/timeout pre-flight the scheduler
	// already performs (e.g. filesystem write scoping, network policy).
	Guardrails struct {
		AllowedWritePaths []string
		NetworkPolicy     string
	}

	// StepInput carries everything a Runtime needs to execute one step.
	StepInput struct {
		RunID          string
		StepNumber     int
		Agent          string
		Task           string
		WorkspacePath  string
		ModelConfig    string
		APIKey         string
		TimeoutMinutes int
		TokenBudget    int
		// ResumeSessionID, if non-empty, asks the runtime to resume that
		// session rather than starting a fresh one.
		ResumeSessionID string
		// ResumeReason documents why a resume was requested (e.g.
		// "rework_retry", "quality_gate_retry"), purely for telemetry.
		ResumeReason string
		Guardrails   Guardrails
		PluginPaths  []string
	}

	// Usage reports the provider-native token accounting for one step, kept
	// distinct from the scheduler's running totals.
	Usage struct {
		PromptTokens     int
		CompletionTokens int
	}

	// StepOutput is everything a Runtime reports back after executing a step.
	StepOutput struct {
		TokensUsed     int
		RuntimeID      string
		CostUSD        float64
		Usage          Usage
		TokenSavings   int
		ResumeUsed     bool
		ResumeFailed   bool
		ResumeFallback bool
		RuntimeMetadata map[string]any
	}

	// Runtime is the external agent-invocation contract. Implementations
	// prompt the underlying process/SDK, write step-prefixed debug/log files
	// into the workspace per the engine's layout convention, and honour
	// TimeoutMinutes.
	//
	// Resume contract: if ResumeSessionID is set, the implementation SHOULD
	// resume that session. On a session-invalid error (and only that class
	// of error) it MAY fall back once to a fresh session, reporting
	// ResumeUsed=true, ResumeFailed=true, ResumeFallback=true. Every other
	// error propagates unchanged.
	Runtime interface {
		RunStep(ctx context.Context, in StepInput) (StepOutput, error)
	}
)

// EffectiveTimeout returns the per-step timeout as a time.Duration,
// defaulting to defaultMinutes when in.TimeoutMinutes is unset.
func (in StepInput) EffectiveTimeout(defaultMinutes int) time.Duration {
	m := in.TimeoutMinutes
	if m <= 0 {
		m = defaultMinutes
	}
	return time.Duration(m) * time.Minute
}

// LooksLikeRealSession reports whether id plausibly identifies a resumable
// provider session, per the scheduler's heuristic: nonempty and not
// prefixed with a known local/synthetic runtime id.
func LooksLikeRealSession(id string) bool {
	if id == "" {
		return false
	}
	for _, prefix := range []string{"local-", "sprintfoundry-"} {
		if strings.HasPrefix(id, prefix) {
			return false
		}
	}
	return true
}
