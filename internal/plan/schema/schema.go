// Package schema validates a planner LLM's raw JSON plan output against a
// fixed JSON Schema before it is trusted and decoded into plan.ExecutionPlan,
// so a malformed or partial completion fails fast with a precise pointer
// into the document rather than surfacing as a confusing panic or a
// downstream DAG-validation error. The compiler/AddResource/Compile/Validate
// call shape is grounded directly on
// codegen/agent/tests/tool_specs_schema_validation_test.go, the only place
// in the pack exercising github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sprintfoundry/orchestrator/internal/core/plan"
)

// planSchemaJSON describes the wire shape a planner runtime's raw JSON
// completion must match. Field names are snake_case to match what an LLM
// naturally produces and what wireStep/wirePlan below decode.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["plan_id", "ticket_id", "steps"],
  "properties": {
    "plan_id": {"type": "string", "minLength": 1},
    "ticket_id": {"type": "string", "minLength": 1},
    "classification": {"type": "string"},
    "reasoning": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["step_number", "agent", "task"],
        "properties": {
          "step_number": {"type": "integer", "minimum": 1},
          "agent": {"type": "string", "minLength": 1},
          "model": {"type": "string"},
          "task": {"type": "string", "minLength": 1},
          "depends_on": {"type": "array", "items": {"type": "integer"}},
          "estimated_complexity": {"type": "string", "enum": ["low", "medium", "high"]},
          "labels": {"type": "object"}
        }
      }
    },
    "parallel_groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["step_numbers"],
        "properties": {
          "step_numbers": {"type": "array", "items": {"type": "integer"}}
        }
      }
    },
    "human_gates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["after_step"],
        "properties": {
          "after_step": {"type": "integer"},
          "reason": {"type": "string"},
          "required": {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(planSchemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("schema: invalid embedded schema document: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("sprintfoundry-plan.json", doc); err != nil {
			compileErr = fmt.Errorf("schema: add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("sprintfoundry-plan.json")
	})
	return compiled, compileErr
}

// Validate checks raw against the plan schema, returning every structural
// defect jsonschema/v6 finds (it accumulates rather than stopping at the
// first violation).
func Validate(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("schema: invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: plan failed validation: %w", err)
	}
	return nil
}

type (
	wirePlan struct {
		PlanID         string          `json:"plan_id"`
		TicketID       string          `json:"ticket_id"`
		Classification string          `json:"classification"`
		Reasoning      string          `json:"reasoning"`
		Steps          []wireStep      `json:"steps"`
		ParallelGroups []wireGroup     `json:"parallel_groups"`
		HumanGates     []wireHumanGate `json:"human_gates"`
	}
	wireStep struct {
		StepNumber           int               `json:"step_number"`
		Agent                string            `json:"agent"`
		Model                string            `json:"model"`
		Task                 string            `json:"task"`
		DependsOn            []int             `json:"depends_on"`
		EstimatedComplexity  string            `json:"estimated_complexity"`
		Labels               map[string]string `json:"labels"`
	}
	wireGroup struct {
		StepNumbers []int `json:"step_numbers"`
	}
	wireHumanGate struct {
		AfterStep int    `json:"after_step"`
		Reason    string `json:"reason"`
		Required  bool   `json:"required"`
	}
)

// Decode validates raw against the plan schema and, on success, maps it
// into a plan.ExecutionPlan. It never skips validation: a planner runtime
// calling Decode gets schema enforcement for free.
func Decode(raw []byte) (plan.ExecutionPlan, error) {
	if err := Validate(raw); err != nil {
		return plan.ExecutionPlan{}, err
	}
	var w wirePlan
	if err := json.Unmarshal(raw, &w); err != nil {
		return plan.ExecutionPlan{}, fmt.Errorf("schema: decode: %w", err)
	}
	return w.toExecutionPlan(), nil
}

func (w wirePlan) toExecutionPlan() plan.ExecutionPlan {
	steps := make([]plan.Step, 0, len(w.Steps))
	for _, s := range w.Steps {
		steps = append(steps, plan.Step{
			StepNumber:          s.StepNumber,
			Agent:               s.Agent,
			Model:               s.Model,
			Task:                s.Task,
			DependsOn:           s.DependsOn,
			EstimatedComplexity: plan.Complexity(s.EstimatedComplexity),
			Labels:              s.Labels,
		})
	}
	groups := make([]plan.ParallelGroup, 0, len(w.ParallelGroups))
	for _, g := range w.ParallelGroups {
		groups = append(groups, plan.ParallelGroup{StepNumbers: g.StepNumbers})
	}
	gates := make([]plan.HumanGate, 0, len(w.HumanGates))
	for _, hg := range w.HumanGates {
		gates = append(gates, plan.HumanGate{AfterStep: hg.AfterStep, Reason: hg.Reason, Required: hg.Required})
	}
	return plan.ExecutionPlan{
		PlanID:         w.PlanID,
		TicketID:       w.TicketID,
		Classification: plan.Classification(w.Classification),
		Reasoning:      w.Reasoning,
		Steps:          steps,
		ParallelGroups: groups,
		HumanGates:     gates,
	}
}
