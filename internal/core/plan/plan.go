// Package plan defines the execution plan shape the PlanValidator augments
// and the Scheduler executes: steps, their dependency DAG, parallel
// groupings, and human review gates.
package plan

import "fmt"

type (
	// Classification buckets a ticket's intent so planners and validator
	// rules can branch on it.
	Classification string

	// Complexity is a planner-assigned rough estimate of step effort.
	Complexity string

	// ContextInputKind enumerates the variants a ContextInput may carry.
	ContextInputKind string

	// ContextInput references one piece of context a step's prompt should be
	// assembled from. Exactly one field matching Kind is populated; the
	// others are zero.
	ContextInput struct {
		Kind ContextInputKind
		// Path is set for ContextInputFile and ContextInputDirectory.
		Path string
		// StepNumber is set for ContextInputStepOutput.
		StepNumber int
		// ArtifactName is set for ContextInputArtifact.
		ArtifactName string
	}

	// Step is one unit of work in a plan, assigned to a single agent.
	Step struct {
		// StepNumber is unique within a plan. The validator rejects
		// duplicates. Rework planners use numbers >= ReworkStepNumberFloor to
		// avoid colliding with the initial plan's 1..N numbering.
		StepNumber int
		// Agent is the agent id this step is assigned to (e.g. "developer").
		Agent string
		// Model is the model identifier the scheduler passes to the runtime.
		Model string
		// Task is the natural-language instruction for the agent.
		Task string
		// ContextInputs lists the context this step's prompt is built from.
		ContextInputs []ContextInput
		// DependsOn lists step numbers that must be Completed before this
		// step becomes ready.
		DependsOn []int
		// EstimatedComplexity is the planner's rough effort estimate.
		EstimatedComplexity Complexity
		// Labels carries free-form annotations a validator rule may attach
		// (e.g. {"auto_injected": "true"}) without overloading Task text.
		Labels map[string]string
	}

	// HumanGate pauses execution after a given step completes, pending an
	// external decision.
	HumanGate struct {
		AfterStep int
		Reason    string
		Required  bool
	}

	// ParallelGroup is a normalized set of step numbers the planner asserts
	// may run concurrently. Plan ingestion collapses both planner dialects
	// (a bare list of step numbers, or {"step_numbers": [...]}) into this
	// single shape.
	ParallelGroup struct {
		StepNumbers []int
	}

	// ExecutionPlan is the DAG of steps the scheduler executes, as produced
	// by a PlannerRuntime and (optionally) augmented by the PlanValidator.
	ExecutionPlan struct {
		PlanID         string
		TicketID       string
		Classification Classification
		Reasoning      string
		Steps          []Step
		ParallelGroups []ParallelGroup
		HumanGates     []HumanGate
	}
)

const (
	ClassificationNewFeature     Classification = "new_feature"
	ClassificationBugFix         Classification = "bug_fix"
	ClassificationUIChange       Classification = "ui_change"
	ClassificationRefactor       Classification = "refactor"
	ClassificationInfra          Classification = "infrastructure"
	ClassificationSecurityFix    Classification = "security_fix"
	ClassificationDocumentation  Classification = "documentation"
	ClassificationProductQuestion Classification = "product_question"

	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"

	ContextInputTicket      ContextInputKind = "ticket"
	ContextInputFile        ContextInputKind = "file"
	ContextInputDirectory   ContextInputKind = "directory"
	ContextInputStepOutput  ContextInputKind = "step_output"
	ContextInputArtifact    ContextInputKind = "artifact"

	// ReworkStepNumberFloor is the convention rework planners must respect:
	// rework step numbers are always failedStep.StepNumber + this floor or
	// greater, so they can never collide with an initial plan's 1..N steps.
	ReworkStepNumberFloor = 900
)

// StepByNumber returns the step with the given number, or false if absent.
func (p ExecutionPlan) StepByNumber(n int) (Step, bool) {
	for _, s := range p.Steps {
		if s.StepNumber == n {
			return s, true
		}
	}
	return Step{}, false
}

// LastStepOfAgent returns the highest-numbered step assigned to agent, or
// false if the agent has no steps in the plan. Used by the validator to wire
// injected steps' DependsOn to the right predecessor.
func (p ExecutionPlan) LastStepOfAgent(agent string) (Step, bool) {
	var (
		found Step
		ok    bool
	)
	for _, s := range p.Steps {
		if s.Agent != agent {
			continue
		}
		if !ok || s.StepNumber > found.StepNumber {
			found, ok = s, true
		}
	}
	return found, ok
}

// Validate returns a descriptive error for the first structural defect found:
// duplicate step numbers, a DependsOn reference to a step that doesn't exist,
// or a cycle in the dependency graph. A nil return means the plan's shape is
// sound; it says nothing about semantic correctness.
func (p ExecutionPlan) Validate() error {
	seen := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		if seen[s.StepNumber] {
			return fmt.Errorf("duplicate step number %d", s.StepNumber)
		}
		seen[s.StepNumber] = true
	}
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			if !seen[d] {
				return fmt.Errorf("step %d depends_on unknown step %d", s.StepNumber, d)
			}
		}
	}
	return p.checkAcyclic()
}

// checkAcyclic runs a standard white/gray/black DFS over DependsOn edges.
func (p ExecutionPlan) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(p.Steps))
	byNum := make(map[int]Step, len(p.Steps))
	for _, s := range p.Steps {
		byNum[s.StepNumber] = s
	}

	var visit func(n int, path []int) error
	visit = func(n int, path []int) error {
		switch color[n] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("cyclic dependency detected at step %d", n)
		}
		color[n] = gray
		for _, d := range byNum[n].DependsOn {
			if err := visit(d, append(path, n)); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}

	for _, s := range p.Steps {
		if color[s.StepNumber] == white {
			if err := visit(s.StepNumber, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
