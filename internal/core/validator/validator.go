// Package validator implements the PlanValidator component: structural
// acyclic/duplicate/reference checks followed by rule-driven augmentation
// (role injection, human gate injection, budget overrides) of a planner's
// ExecutionPlan.
package validator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

type (
	// ConditionKind enumerates the validator's closed set of rule conditions.
	ConditionKind string
	// ActionKind enumerates the validator's closed set of rule actions.
	ActionKind string

	// Condition gates whether a Rule's Action applies to a given (plan, ticket).
	Condition struct {
		Kind ConditionKind
		// Value is used by ConditionLabelContains and ConditionFilePathMatches.
		Value string
		// Values is used by ConditionPriorityIs and ConditionClassificationIs.
		Values []string
	}

	// Action is the augmentation a matched Rule applies to the plan.
	Action struct {
		Kind ActionKind
		// Role is used by ActionRequireRole.
		Role catalog.Role
		// Agent is used by ActionRequireAgent.
		Agent string
		// AfterAgent is used by ActionRequireHumanGate.
		AfterAgent string
		// Budget is used by ActionSetBudget; applied by the scheduler, not here.
		Budget config.BudgetOverride
	}

	// Rule is one validator policy entry: if Condition matches, Action is
	// applied. Enforced rules that cannot be satisfied fail validation;
	// non-enforced rules that cannot be satisfied are skipped.
	Rule struct {
		Condition Condition
		Action    Action
		Enforced  bool
	}

	// Result is everything Validate produces: the augmented plan plus a
	// record of which steps were original vs. rule-injected, and any
	// set_budget override for the scheduler to apply.
	Result struct {
		Plan                plan.ExecutionPlan
		OriginalStepNumbers []int
		InjectedStepNumbers []int
		BudgetOverride      *config.BudgetOverride
	}
)

const (
	ConditionAlways             ConditionKind = "always"
	ConditionLabelContains      ConditionKind = "label_contains"
	ConditionPriorityIs         ConditionKind = "priority_is"
	ConditionClassificationIs   ConditionKind = "classification_is"
	ConditionFilePathMatches    ConditionKind = "file_path_matches"

	ActionRequireRole      ActionKind = "require_role"
	ActionRequireAgent     ActionKind = "require_agent"
	ActionRequireHumanGate ActionKind = "require_human_gate"
	ActionSetBudget        ActionKind = "set_budget"
)

// Validate runs the structural checks, then evaluates rules in order,
// returning the augmented plan. A structural defect or an unsatisfiable
// enforced rule is returned as an error; the caller (orchestrator) maps it
// to orcherr.CategoryValidation.
func Validate(p plan.ExecutionPlan, t ticket.Ticket, rules []Rule, cat catalog.Catalog) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("structural validation failed: %w", err)
	}

	res := Result{Plan: p}
	for _, s := range p.Steps {
		res.OriginalStepNumbers = append(res.OriginalStepNumbers, s.StepNumber)
	}

	for _, r := range rules {
		if !matches(r.Condition, res.Plan, t) {
			continue
		}
		injected, override, err := apply(r.Action, &res.Plan, cat)
		if err != nil {
			if r.Enforced {
				return Result{}, fmt.Errorf("enforced rule %s could not be applied: %w", r.Action.Kind, err)
			}
			continue
		}
		if injected != 0 {
			res.InjectedStepNumbers = append(res.InjectedStepNumbers, injected)
		}
		if override != nil {
			res.BudgetOverride = override
		}
	}

	return res, nil
}

func matches(c Condition, p plan.ExecutionPlan, t ticket.Ticket) bool {
	switch c.Kind {
	case ConditionAlways:
		return true
	case ConditionLabelContains:
		return t.HasLabel(c.Value)
	case ConditionPriorityIs:
		return containsStr(c.Values, string(t.Priority))
	case ConditionClassificationIs:
		return containsStr(c.Values, string(p.Classification))
	case ConditionFilePathMatches:
		for _, s := range p.Steps {
			for _, ci := range s.ContextInputs {
				if ci.Kind != plan.ContextInputFile {
					continue
				}
				if ok, _ := filepath.Match(c.Value, ci.Path); ok {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func containsStr(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// apply mutates p in place per a.Kind and returns the injected step number
// (0 if none) and any budget override produced.
func apply(a Action, p *plan.ExecutionPlan, cat catalog.Catalog) (int, *config.BudgetOverride, error) {
	switch a.Kind {
	case ActionRequireRole:
		n, err := requireRole(p, cat, a.Role)
		return n, nil, err
	case ActionRequireAgent:
		n, err := requireAgent(p, cat, a.Agent)
		return n, nil, err
	case ActionRequireHumanGate:
		err := requireHumanGate(p, a.AfterAgent)
		return 0, nil, err
	case ActionSetBudget:
		b := a.Budget
		return 0, &b, nil
	default:
		return 0, nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// requireRole ensures a step assigned to an agent of the given role exists,
// injecting one (via the catalog, or a platform-default agent id equal to
// the role name) if not. Returns the injected step's number, or 0 if an
// equivalent step already existed.
func requireRole(p *plan.ExecutionPlan, cat catalog.Catalog, role catalog.Role) (int, error) {
	for _, s := range p.Steps {
		if cat.RoleOf(s.Agent) == role {
			return 0, nil
		}
	}
	agentID := string(role)
	if a, ok := cat.ByRole(role); ok {
		agentID = a.ID
	}
	return injectStep(p, cat, agentID, role)
}

// requireAgent ensures a step assigned to the exact agent id exists.
func requireAgent(p *plan.ExecutionPlan, cat catalog.Catalog, agentID string) (int, error) {
	for _, s := range p.Steps {
		if s.Agent == agentID {
			return 0, nil
		}
	}
	return injectStep(p, cat, agentID, cat.RoleOf(agentID))
}

// injectStep appends a new step assigned to agentID, wiring its DependsOn to
// the last existing step of the nearest preceding role per RolePrecedence,
// and marking it [AUTO-INJECTED BY RULE] in its task text.
func injectStep(p *plan.ExecutionPlan, cat catalog.Catalog, agentID string, role catalog.Role) (int, error) {
	next := 1
	for _, s := range p.Steps {
		if s.StepNumber >= next {
			next = s.StepNumber + 1
		}
	}

	var dependsOn []int
	if pred, ok := precedingStep(p, cat, role); ok {
		dependsOn = []int{pred.StepNumber}
	}

	step := plan.Step{
		StepNumber: next,
		Agent:      agentID,
		Task:       fmt.Sprintf("[AUTO-INJECTED BY RULE] Perform %s review.", role),
		DependsOn:  dependsOn,
		Labels:     map[string]string{"auto_injected": "true"},
	}
	p.Steps = append(p.Steps, step)
	return next, nil
}

// precedingStep finds the highest-numbered step whose role is the nearest
// predecessor of role in RolePrecedence.
func precedingStep(p *plan.ExecutionPlan, cat catalog.Catalog, role catalog.Role) (plan.Step, bool) {
	idx := catalog.PrecedenceIndex(role)
	if idx <= 0 {
		return plan.Step{}, false
	}
	for i := idx - 1; i >= 0; i-- {
		predRole := catalog.RolePrecedence[i]
		var (
			found plan.Step
			ok    bool
		)
		for _, s := range p.Steps {
			if cat.RoleOf(s.Agent) != predRole {
				continue
			}
			if !ok || s.StepNumber > found.StepNumber {
				found, ok = s, true
			}
		}
		if ok {
			return found, true
		}
	}
	return plan.Step{}, false
}

// requireHumanGate appends a required gate after the last step of afterAgent,
// skipping injection if an equivalent gate already exists.
func requireHumanGate(p *plan.ExecutionPlan, afterAgent string) error {
	last, ok := p.LastStepOfAgent(afterAgent)
	if !ok {
		return fmt.Errorf("no step assigned to agent %q to gate after", afterAgent)
	}
	for _, g := range p.HumanGates {
		if g.AfterStep == last.StepNumber && g.Required {
			return nil
		}
	}
	p.HumanGates = append(p.HumanGates, plan.HumanGate{
		AfterStep: last.StepNumber,
		Reason:    fmt.Sprintf("required human review after %s", afterAgent),
		Required:  true,
	})
	return nil
}
