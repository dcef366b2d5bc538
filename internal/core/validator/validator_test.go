package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

func budgetOverrideWithTokens(n int) config.BudgetOverride {
	return config.BudgetOverride{PerAgentTokens: &n}
}

func basicPlan() plan.ExecutionPlan {
	return plan.ExecutionPlan{
		PlanID:         "plan-1",
		Classification: plan.ClassificationBugFix,
		Steps: []plan.Step{
			{StepNumber: 1, Agent: "developer", Task: "fix the bug"},
		},
	}
}

func TestValidateRejectsStructuralDefects(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	p.Steps = append(p.Steps, plan.Step{StepNumber: 1, Agent: "qa"})

	_, err := Validate(p, ticket.Ticket{}, nil, catalog.New(nil))
	require.Error(t, err)
}

func TestValidateRequireRoleInjectsStep(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	rules := []Rule{
		{Condition: Condition{Kind: ConditionAlways}, Action: Action{Kind: ActionRequireRole, Role: catalog.RoleCodeReview}, Enforced: true},
	}

	res, err := Validate(p, ticket.Ticket{}, rules, catalog.New(nil))
	require.NoError(t, err)
	require.Len(t, res.Plan.Steps, 2)
	require.Len(t, res.InjectedStepNumbers, 1)

	injected, ok := res.Plan.StepByNumber(res.InjectedStepNumbers[0])
	require.True(t, ok)
	require.Equal(t, "code-review", injected.Agent)
	require.Contains(t, injected.Task, "[AUTO-INJECTED BY RULE]")
	require.Equal(t, []int{1}, injected.DependsOn)
}

func TestValidateRequireRoleSkipsIfAlreadyPresent(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	p.Steps = append(p.Steps, plan.Step{StepNumber: 2, Agent: "code-review", DependsOn: []int{1}})
	rules := []Rule{
		{Condition: Condition{Kind: ConditionAlways}, Action: Action{Kind: ActionRequireRole, Role: catalog.RoleCodeReview}},
	}

	res, err := Validate(p, ticket.Ticket{}, rules, catalog.New(nil))
	require.NoError(t, err)
	require.Len(t, res.Plan.Steps, 2)
	require.Empty(t, res.InjectedStepNumbers)
}

func TestValidateLabelContainsCondition(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	tk := ticket.Ticket{Labels: []string{"Security-Sensitive"}}
	rules := []Rule{
		{Condition: Condition{Kind: ConditionLabelContains, Value: "security"}, Action: Action{Kind: ActionRequireRole, Role: catalog.RoleSecurity}},
	}

	res, err := Validate(p, tk, rules, catalog.New(nil))
	require.NoError(t, err)
	require.Len(t, res.InjectedStepNumbers, 1)
}

func TestValidateRequireHumanGate(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	rules := []Rule{
		{Condition: Condition{Kind: ConditionAlways}, Action: Action{Kind: ActionRequireHumanGate, AfterAgent: "developer"}},
	}

	res, err := Validate(p, ticket.Ticket{}, rules, catalog.New(nil))
	require.NoError(t, err)
	require.Len(t, res.Plan.HumanGates, 1)
	require.Equal(t, 1, res.Plan.HumanGates[0].AfterStep)
	require.True(t, res.Plan.HumanGates[0].Required)
}

func TestValidateEnforcedRuleFailureIsAnError(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	rules := []Rule{
		{Condition: Condition{Kind: ConditionAlways}, Action: Action{Kind: ActionRequireHumanGate, AfterAgent: "nonexistent-agent"}, Enforced: true},
	}

	_, err := Validate(p, ticket.Ticket{}, rules, catalog.New(nil))
	require.Error(t, err)
}

func TestValidateSetBudgetSurfacesOverride(t *testing.T) {
	t.Parallel()

	p := basicPlan()
	tokens := 5000
	rules := []Rule{
		{Condition: Condition{Kind: ConditionAlways}, Action: Action{Kind: ActionSetBudget, Budget: budgetOverrideWithTokens(tokens)}},
	}

	res, err := Validate(p, ticket.Ticket{}, rules, catalog.New(nil))
	require.NoError(t, err)
	require.NotNil(t, res.BudgetOverride)
	require.Equal(t, tokens, *res.BudgetOverride.PerAgentTokens)
}
