// Package scheduler implements the dependency-DAG-driven execution engine:
// ready-set computation, parallel group fan-out with merged rework
// coordination, sequential rework retry, quality-gate enforcement, git
// checkpointing, and human-gate rendezvous. It is the heart of the
// orchestration engine: fan out a parallel group's steps with goroutines,
// join them before merging any shared rework state, then fall back to a
// sequential retry loop for single-step groups.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/event"
	"github.com/sprintfoundry/orchestrator/internal/core/humangate"
	"github.com/sprintfoundry/orchestrator/internal/core/notify"
	"github.com/sprintfoundry/orchestrator/internal/core/orcherr"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/plannerruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/qualitygate"
	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/runtimesession"
	"github.com/sprintfoundry/orchestrator/internal/core/telemetry"
	"github.com/sprintfoundry/orchestrator/internal/core/vcs"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

type (
	// RuntimeResolver picks the AgentRuntime that should execute steps for a
	// given agent id. Reference implementations typically dispatch by the
	// agent's catalog entry (CLI vs container vs a direct model call).
	RuntimeResolver interface {
		Resolve(agentID string) (agentruntime.Runtime, error)
	}

	// Options wires every external collaborator the scheduler needs.
	Options struct {
		Catalog  catalog.Catalog
		Config   config.Resolved
		Runtime  RuntimeResolver
		Planner  plannerruntime.Planner
		Git      vcs.Git
		Events   event.Store
		Sessions *runtimesession.Store
		Gates    humangate.Channel
		Notifier notify.Notifier
		Log      telemetry.Logger
		Metrics  telemetry.Metrics
		Layout   workspace.Layout
	}

	// Scheduler executes one validated plan to terminal status. A Scheduler
	// instance is scoped to a single run and must not be reused.
	Scheduler struct {
		opts         Options
		completed    map[int]bool
		reworkCounts map[int]int
		reviewed     map[int]bool
	}

	stepOutcomeKind int

	stepOutcome struct {
		Kind         stepOutcomeKind
		ReworkReason string
		Result       *plan.AgentResult
		Err          error
	}

	reworkSignal struct {
		Step      plan.Step
		Reason    string
		NextCount int
	}
)

const (
	outcomeCompleted stepOutcomeKind = iota
	outcomeNeedsRework
	outcomeFailed
)

// New returns a Scheduler ready to execute a single run.
func New(opts Options) *Scheduler {
	if opts.Log == nil {
		opts.Log = telemetry.NoopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoopMetrics{}
	}
	return &Scheduler{
		opts:         opts,
		completed:    make(map[int]bool),
		reworkCounts: make(map[int]int),
		reviewed:     make(map[int]bool),
	}
}

// Execute runs r's validated plan to completion or failure, mutating r's
// Status, Steps, and usage totals in place.
func (s *Scheduler) Execute(ctx context.Context, r *run.TaskRun) error {
	p := r.ValidatedPlan
	if p == nil {
		p = r.Plan
	}
	if p == nil || len(p.Steps) == 0 {
		r.Status = run.StatusCompleted
		return nil
	}

	r.Status = run.StatusExecuting

	for len(s.completed) < len(p.Steps) {
		ready := s.readySteps(p)
		if len(ready) == 0 {
			return s.failRun(ctx, r, orcherr.Wrap(orcherr.CategoryRuntime, "deadlock", "no executable steps remaining", orcherr.ErrDeadlock))
		}

		group := s.largestReadyGroup(p, ready)
		var err error
		if len(group) > 1 {
			err = s.executeGroup(ctx, r, group)
		} else {
			err = s.executeSequential(ctx, r, ready[0])
		}
		if err != nil {
			return s.failRun(ctx, r, err)
		}

		if err := s.processHumanGates(ctx, r, p); err != nil {
			return s.failRun(ctx, r, err)
		}
	}

	r.Status = run.StatusCompleted
	return nil
}

// readySteps returns every step not yet completed whose dependencies are
// all satisfied, in plan order.
func (s *Scheduler) readySteps(p *plan.ExecutionPlan) []plan.Step {
	var ready []plan.Step
	for _, st := range p.Steps {
		if s.completed[st.StepNumber] {
			continue
		}
		allDepsMet := true
		for _, d := range st.DependsOn {
			if !s.completed[d] {
				allDepsMet = false
				break
			}
		}
		if allDepsMet {
			ready = append(ready, st)
		}
	}
	return ready
}

// largestReadyGroup finds the largest plan.ParallelGroup whose members are
// all present in ready. A group referencing a step that isn't ready falls
// back to sequential first-ready execution.
func (s *Scheduler) largestReadyGroup(p *plan.ExecutionPlan, ready []plan.Step) []plan.Step {
	readyByNum := make(map[int]plan.Step, len(ready))
	for _, st := range ready {
		readyByNum[st.StepNumber] = st
	}

	var best []plan.Step
	for _, g := range p.ParallelGroups {
		if len(g.StepNumbers) <= 1 {
			continue
		}
		members := make([]plan.Step, 0, len(g.StepNumbers))
		ok := true
		for _, n := range g.StepNumbers {
			st, found := readyByNum[n]
			if !found {
				ok = false
				break
			}
			members = append(members, st)
		}
		if ok && len(members) > len(best) {
			best = members
		}
	}
	return best
}

// executeSequential drives one ready step through attempts, rework rounds,
// and quality-gate retries until it completes or fails.
func (s *Scheduler) executeSequential(ctx context.Context, r *run.TaskRun, step plan.Step) error {
	resumeReason := ""
	for {
		outcome := s.attemptStep(ctx, r, step, resumeReason)
		switch outcome.Kind {
		case outcomeCompleted:
			s.completed[step.StepNumber] = true
			return nil
		case outcomeFailed:
			return outcome.Err
		case outcomeNeedsRework:
			if s.reworkCounts[step.StepNumber] >= s.opts.Config.Budget.MaxReworkCycles {
				s.emit(ctx, r, "step.failed", step.StepNumber, nil)
				return orcherr.Wrap(orcherr.CategoryRework, "max_rework_exceeded", "rework budget exhausted", orcherr.ErrReworkExhausted)
			}
			s.reworkCounts[step.StepNumber]++
			s.emit(ctx, r, "step.rework_triggered", step.StepNumber, map[string]any{"reason": outcome.ReworkReason})

			if err := s.runReworkRound(ctx, r, step, *outcome.Result, s.reworkCounts[step.StepNumber]); err != nil {
				return err
			}
			resumeReason = "rework_retry"
		}
	}
}

// executeGroup runs a parallel group concurrently and applies the
// coordinator-join merge semantics: a single planRework call per rework
// round per group, regardless of how many members signaled rework.
func (s *Scheduler) executeGroup(ctx context.Context, r *run.TaskRun, group []plan.Step) error {
	outcomes := make([]stepOutcome, len(group))

	var wg sync.WaitGroup
	for i, st := range group {
		wg.Add(1)
		go func(i int, st plan.Step) {
			defer wg.Done()
			outcomes[i] = s.attemptStep(ctx, r, st, "")
		}(i, st)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Kind == outcomeFailed {
			return o.Err
		}
	}

	var signals []reworkSignal
	for i, o := range outcomes {
		if o.Kind == outcomeNeedsRework {
			signals = append(signals, reworkSignal{
				Step:      group[i],
				Reason:    o.ReworkReason,
				NextCount: s.reworkCounts[group[i].StepNumber] + 1,
			})
		}
	}

	if len(signals) == 0 {
		for _, st := range group {
			s.completed[st.StepNumber] = true
		}
		return nil
	}

	for _, sig := range signals {
		if sig.NextCount > s.opts.Config.Budget.MaxReworkCycles {
			return orcherr.Wrap(orcherr.CategoryRework, "max_rework_exceeded", "parallel group exceeded collective rework budget", orcherr.ErrReworkExhausted)
		}
	}

	merged := mergeReworkSignals(signals)
	for _, sig := range signals {
		s.reworkCounts[sig.Step.StepNumber]++
		s.emit(ctx, r, "step.rework_triggered", sig.Step.StepNumber, map[string]any{
			"reason": sig.Reason,
			"merged": len(signals) > 1,
		})
	}

	anchor := signals[0].Step
	return s.runReworkRound(ctx, r, anchor, merged, s.reworkCounts[anchor.StepNumber])
}

// mergeReworkSignals combines multiple parallel-sibling rework signals into
// the single synthesized AgentResult passed to planRework, so a group never
// triggers more than one planner call per rework round.
func mergeReworkSignals(signals []reworkSignal) plan.AgentResult {
	if len(signals) == 1 {
		return plan.AgentResult{
			Status:       plan.AgentResultNeedsRework,
			ReworkReason: signals[0].Reason,
			ReworkTarget: fmt.Sprintf("%d", signals[0].Step.StepNumber),
		}
	}
	reason := ""
	for i, sig := range signals {
		if i > 0 {
			reason += "; "
		}
		reason += fmt.Sprintf("[%s] %s", sig.Step.Agent, sig.Reason)
	}
	return plan.AgentResult{
		Status:       plan.AgentResultNeedsRework,
		ReworkReason: reason,
	}
}

// runReworkRound calls the planner once for the given anchor step/failure,
// then executes every returned rework step sequentially before returning.
func (s *Scheduler) runReworkRound(ctx context.Context, r *run.TaskRun, anchor plan.Step, failure plan.AgentResult, attempt int) error {
	reworkSteps, err := s.opts.Planner.PlanRework(ctx, r.Ticket, anchor, failure, s.opts.Layout.Root, stepExecutionValues(r.Steps), plannerruntime.ReworkAttempt{Attempt: attempt})
	if err != nil {
		return orcherr.Wrap(orcherr.CategoryPlanning, "plan_rework_failed", "planner.planRework failed", err)
	}
	for _, rs := range reworkSteps {
		outcome := s.attemptStep(ctx, r, rs, "rework_plan")
		if outcome.Kind != outcomeCompleted {
			if outcome.Err != nil {
				return outcome.Err
			}
			return orcherr.New(orcherr.CategoryRuntime, "rework_step_failed", fmt.Sprintf("rework step %d did not complete", rs.StepNumber))
		}
	}
	return nil
}

func stepExecutionValues(ptrs []*plan.StepExecution) []plan.StepExecution {
	out := make([]plan.StepExecution, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out
}

// attemptStep performs exactly one AgentRuntime invocation for step: budget
// pre-flight, the runtime call, commit checkpoint and quality gate on
// success. It never loops or calls the planner; callers own the rework
// round-trip.
func (s *Scheduler) attemptStep(ctx context.Context, r *run.TaskRun, step plan.Step, resumeReason string) stepOutcome {
	if err := s.preflight(r); err != nil {
		event := "agent.token_limit_exceeded"
		if errors.Is(err, orcherr.ErrTaskTimeout) {
			event = "task.failed"
		}
		s.emit(ctx, r, event, step.StepNumber, map[string]any{"error": err.Error()})
		return stepOutcome{Kind: outcomeFailed, Err: err}
	}

	attempt := 1
	for _, se := range r.Steps {
		if se.StepNumber == step.StepNumber {
			attempt++
		}
	}

	resumeSessionID := ""
	if resumeReason != "" {
		if rec, ok, _ := s.opts.Sessions.FindLatestByAgent(r.RunID, step.Agent); ok {
			resumeSessionID = rec.SessionID
		}
	}

	se := &plan.StepExecution{
		StepNumber:  step.StepNumber,
		Agent:       step.Agent,
		Status:      plan.StepRunning,
		StartedAt:   time.Now().UTC(),
		ReworkCount: s.reworkCounts[step.StepNumber],
	}
	r.Steps = append(r.Steps, se)

	s.emit(ctx, r, "step.started", step.StepNumber, map[string]any{
		"agent":             step.Agent,
		"resume_reason":     resumeReason,
		"resume_session_id": resumeSessionID,
	})

	rt, err := s.opts.Runtime.Resolve(step.Agent)
	if err != nil {
		se.Status = plan.StepFailed
		se.CompletedAt = time.Now().UTC()
		s.emit(ctx, r, "step.failed", step.StepNumber, map[string]any{"error": err.Error()})
		return stepOutcome{Kind: outcomeFailed, Err: orcherr.Wrap(orcherr.CategoryConfiguration, "no_runtime", "no runtime available for agent", err)}
	}

	out, err := rt.RunStep(ctx, agentruntime.StepInput{
		RunID:           r.RunID,
		StepNumber:      step.StepNumber,
		Agent:           step.Agent,
		Task:            step.Task,
		WorkspacePath:   s.opts.Layout.Root,
		ModelConfig:     s.resolveModel(step),
		TimeoutMinutes:  s.opts.Config.StepTimeoutMinutes,
		TokenBudget:     s.opts.Config.Budget.PerAgentTokens,
		ResumeSessionID: resumeSessionID,
		ResumeReason:    resumeReason,
	})
	se.CompletedAt = time.Now().UTC()
	if err != nil {
		se.Status = plan.StepFailed
		s.emit(ctx, r, "step.failed", step.StepNumber, map[string]any{"error": err.Error()})
		return stepOutcome{Kind: outcomeFailed, Err: orcherr.Wrap(orcherr.CategoryRuntime, "runtime_error", "agent runtime returned an error", err)}
	}

	se.RuntimeID = out.RuntimeID
	se.TokensUsed = out.TokensUsed
	se.Usage = plan.Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens}
	se.CostUSD = out.CostUSD
	r.AddUsage(out.TokensUsed, out.CostUSD)

	if agentruntime.LooksLikeRealSession(out.RuntimeID) {
		_ = s.opts.Sessions.Record(runtimesession.Record{
			RunID:       r.RunID,
			Agent:       step.Agent,
			StepNumber:  step.StepNumber,
			StepAttempt: attempt,
			SessionID:   out.RuntimeID,
		})
	}

	result := plan.AgentResult{Status: plan.AgentResultComplete}
	// Reference runtimes report the agent's result inline on RuntimeMetadata
	// under the "result" key; see internal/agentruntime/cli for the convention.
	if raw, ok := out.RuntimeMetadata["result"]; ok {
		if r2, ok := raw.(plan.AgentResult); ok {
			result = r2
		}
	}
	se.Result = &result

	switch result.Status {
	case plan.AgentResultComplete:
		return s.handleStepComplete(ctx, r, step, se, &result)
	case plan.AgentResultNeedsRework:
		se.Status = plan.StepNeedsRework
		return stepOutcome{Kind: outcomeNeedsRework, ReworkReason: result.ReworkReason, Result: &result}
	default:
		se.Status = plan.StepFailed
		s.emit(ctx, r, "step.failed", step.StepNumber, map[string]any{"status": string(result.Status)})
		return stepOutcome{Kind: outcomeFailed, Err: orcherr.New(orcherr.CategoryRuntime, "agent_"+string(result.Status), "agent reported "+string(result.Status))}
	}
}

// handleStepComplete commits the step's checkpoint, then, for developer
// steps, runs the quality gate, converting a failing gate into a
// needs_rework outcome sharing the step's ordinary rework budget.
func (s *Scheduler) handleStepComplete(ctx context.Context, r *run.TaskRun, step plan.Step, se *plan.StepExecution, result *plan.AgentResult) stepOutcome {
	committed, err := s.opts.Git.CommitStepCheckpoint(ctx, s.opts.Layout.Root, r.RunID, step.StepNumber, step.Agent)
	if err != nil {
		se.Status = plan.StepFailed
		s.emit(ctx, r, "step.failed", step.StepNumber, map[string]any{"error": err.Error()})
		return stepOutcome{Kind: outcomeFailed, Err: orcherr.Wrap(orcherr.CategoryPersistence, "commit_failed", "commitStepCheckpoint failed", err)}
	}
	if committed {
		s.emit(ctx, r, "step.committed", step.StepNumber, nil)
	}
	se.Status = plan.StepCompleted
	s.emit(ctx, r, "step.completed", step.StepNumber, nil)

	if s.opts.Catalog.RoleOf(step.Agent) != catalog.RoleDeveloper {
		return stepOutcome{Kind: outcomeCompleted, Result: result}
	}

	gateResult, err := qualitygate.Run(ctx, s.opts.Layout.Root)
	if err != nil {
		// A cancelled/errored gate run (not a failing command) is a runtime
		// error, not a quality signal.
		se.Status = plan.StepFailed
		return stepOutcome{Kind: outcomeFailed, Err: orcherr.Wrap(orcherr.CategoryRuntime, "quality_gate_error", "quality gate could not run", err)}
	}
	if gateResult.Passed {
		return stepOutcome{Kind: outcomeCompleted, Result: result}
	}

	se.Status = plan.StepNeedsRework
	reason := fmt.Sprintf("Quality gate failed: %v", gateResult.Failures)
	return stepOutcome{
		Kind:         outcomeNeedsRework,
		ReworkReason: reason,
		Result:       &plan.AgentResult{Status: plan.AgentResultNeedsRework, ReworkReason: reason},
	}
}

// preflight enforces the token/cost/timeout budgets the scheduler checks
// before every step attempt.
func (s *Scheduler) preflight(r *run.TaskRun) error {
	b := s.opts.Config.Budget
	if r.TotalTokensUsed >= b.PerTaskTotalTokens {
		return orcherr.Wrap(orcherr.CategoryPreflight, "token_budget_exceeded", "per-task token budget exhausted", orcherr.ErrTokenBudgetExceeded)
	}
	if b.PerTaskMaxCostUSD > 0 && r.TotalCostUSD >= b.PerTaskMaxCostUSD {
		return orcherr.Wrap(orcherr.CategoryPreflight, "cost_budget_exceeded", "per-task cost budget exhausted", orcherr.ErrCostBudgetExceeded)
	}
	if s.opts.Config.TaskTimeoutMinutes > 0 {
		deadline := r.CreatedAt.Add(time.Duration(s.opts.Config.TaskTimeoutMinutes) * time.Minute)
		if time.Now().After(deadline) {
			return orcherr.Wrap(orcherr.CategoryPreflight, "task_timeout", "task wall-clock budget exhausted", orcherr.ErrTaskTimeout)
		}
	}
	return nil
}

// resolveModel applies model precedence: step-level override (already
// applied by the planner/validator) -> catalog agent default -> platform
// default role model.
func (s *Scheduler) resolveModel(step plan.Step) string {
	if step.Model != "" {
		return step.Model
	}
	if a, ok := s.opts.Catalog.ByID(step.Agent); ok && a.DefaultModel != "" {
		return a.DefaultModel
	}
	return s.opts.Config.DefaultRoleModel
}

// processHumanGates materializes and waits on any gate whose AfterStep just
// became completed and has not yet been reviewed.
func (s *Scheduler) processHumanGates(ctx context.Context, r *run.TaskRun, p *plan.ExecutionPlan) error {
	for _, g := range p.HumanGates {
		if !g.Required || !s.completed[g.AfterStep] || s.reviewed[g.AfterStep] {
			continue
		}
		s.reviewed[g.AfterStep] = true

		r.Status = run.StatusWaitingHumanReview
		review := run.HumanReview{
			ReviewID:  uuid.NewString(),
			RunID:     r.RunID,
			AfterStep: g.AfterStep,
			Status:    run.HumanReviewPending,
		}
		s.emit(ctx, r, "human_gate.requested", g.AfterStep, map[string]any{"review_id": review.ReviewID})

		if err := s.opts.Gates.RequestReview(ctx, s.opts.Layout, review); err != nil {
			return orcherr.Wrap(orcherr.CategoryHumanReview, "request_failed", "failed to materialize human review request", err)
		}
		if s.opts.Notifier != nil {
			n := notify.Notification{RunID: r.RunID, Kind: notify.EventWaitingForReview, Summary: g.Reason}
			if err := s.opts.Notifier.Notify(ctx, n); err != nil {
				s.opts.Log.Warn(ctx, "notification delivery failed", "run_id", r.RunID, "error", err)
			}
		}

		timeout := time.Duration(s.opts.Config.HumanGateTimeoutHours) * time.Hour
		decision, err := s.opts.Gates.WaitForDecision(ctx, s.opts.Layout, review.ReviewID, timeout)
		if err != nil {
			return orcherr.Wrap(orcherr.CategoryHumanReview, "wait_failed", "failed waiting for human review decision", err)
		}

		if decision.Status != run.HumanReviewApproved {
			s.emit(ctx, r, "human_gate.rejected", g.AfterStep, map[string]any{"feedback": decision.ReviewerFeedback})
			return orcherr.Wrap(orcherr.CategoryHumanReview, "rejected", decision.ReviewerFeedback, orcherr.ErrHumanGateRejected)
		}

		s.emit(ctx, r, "human_gate.approved", g.AfterStep, nil)
		if se, ok := r.StepByNumber(g.AfterStep); ok && se.Result != nil {
			if se.Result.Metadata == nil {
				se.Result.Metadata = map[string]any{}
			}
			se.Result.Metadata["human_reviewed"] = true
		}
		r.Status = run.StatusExecuting
	}
	return nil
}

func (s *Scheduler) failRun(ctx context.Context, r *run.TaskRun, err error) error {
	r.Status = run.StatusFailed
	r.Error = err.Error()
	s.emit(ctx, r, "task.failed", 0, map[string]any{"error": err.Error()})
	return err
}

func (s *Scheduler) emit(ctx context.Context, r *run.TaskRun, eventType string, stepNumber int, payload map[string]any) {
	if s.opts.Events == nil {
		return
	}
	var raw []byte
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	s.opts.Events.Store(ctx, event.Event{
		RunID:      r.RunID,
		Type:       eventType,
		StepNumber: stepNumber,
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	})
}
