package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/plan"
)

const validPlanJSON = `{
  "plan_id": "plan-1",
  "ticket_id": "TCK-1",
  "classification": "bug_fix",
  "reasoning": "small fix",
  "steps": [
    {"step_number": 1, "agent": "developer", "task": "fix the bug", "estimated_complexity": "low"},
    {"step_number": 2, "agent": "qa", "task": "verify the fix", "depends_on": [1]}
  ],
  "human_gates": [
    {"after_step": 2, "reason": "release review", "required": true}
  ]
}`

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	require.NoError(t, Validate([]byte(validPlanJSON)))
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	err := Validate([]byte(`{"ticket_id": "TCK-1", "steps": [{"step_number": 1, "agent": "developer", "task": "x"}]}`))
	require.Error(t, err)
}

func TestValidateRejectsEmptySteps(t *testing.T) {
	err := Validate([]byte(`{"plan_id": "p", "ticket_id": "t", "steps": []}`))
	require.Error(t, err)
}

func TestDecodeMapsIntoExecutionPlan(t *testing.T) {
	p, err := Decode([]byte(validPlanJSON))
	require.NoError(t, err)
	require.Equal(t, "plan-1", p.PlanID)
	require.Equal(t, plan.ClassificationBugFix, p.Classification)
	require.Len(t, p.Steps, 2)
	require.Equal(t, "developer", p.Steps[0].Agent)
	require.Equal(t, []int{1}, p.Steps[1].DependsOn)
	require.Len(t, p.HumanGates, 1)
	require.True(t, p.HumanGates[0].Required)
}

func TestDecodePropagatesSchemaErrors(t *testing.T) {
	_, err := Decode([]byte(`{"plan_id": "p"}`))
	require.Error(t, err)
}
