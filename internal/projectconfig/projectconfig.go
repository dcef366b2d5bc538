// Package projectconfig loads a project's agent catalog and validator rules
// from a YAML file, the one piece of per-project configuration that isn't a
// flat environment variable (see internal/core/config): a roster of agents
// and a rule list are structured data, not scalars. Uses the same yaml.v3
// pattern as any other file-based test fixture loader: read the whole file
// with os.ReadFile, then yaml.Unmarshal into tagged structs.
package projectconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/validator"
)

type (
	// file is the raw YAML document shape.
	file struct {
		Agents []agentYAML `yaml:"agents"`
		Rules  []ruleYAML  `yaml:"rules"`
	}

	agentYAML struct {
		ID             string `yaml:"id"`
		Role           string `yaml:"role"`
		DefaultModel   string `yaml:"default_model"`
		DefaultRuntime string `yaml:"default_runtime"`
	}

	ruleYAML struct {
		Enforced  bool          `yaml:"enforced"`
		Condition conditionYAML `yaml:"condition"`
		Action    actionYAML    `yaml:"action"`
	}

	conditionYAML struct {
		Kind   string   `yaml:"kind"`
		Value  string   `yaml:"value"`
		Values []string `yaml:"values"`
	}

	actionYAML struct {
		Kind       string          `yaml:"kind"`
		Role       string          `yaml:"role"`
		Agent      string          `yaml:"agent"`
		AfterAgent string          `yaml:"after_agent"`
		Budget     *budgetOverride `yaml:"budget"`
	}

	budgetOverride struct {
		PerAgentTokens     *int     `yaml:"per_agent_tokens"`
		PerTaskTotalTokens *int     `yaml:"per_task_total_tokens"`
		PerTaskMaxCostUSD  *float64 `yaml:"per_task_max_cost_usd"`
		MaxReworkCycles    *int     `yaml:"max_rework_cycles"`
	}

	// Project is the decoded, validator/catalog-ready form of a project's
	// YAML configuration.
	Project struct {
		Catalog catalog.Catalog
		Rules   []validator.Rule
	}
)

// Load reads and decodes the YAML file at path.
func Load(path string) (Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Project{}, fmt.Errorf("projectconfig: read %q: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Project{}, fmt.Errorf("projectconfig: parse %q: %w", path, err)
	}
	return f.toProject()
}

func (f file) toProject() (Project, error) {
	agents := make([]catalog.AgentDefinition, 0, len(f.Agents))
	for _, a := range f.Agents {
		if a.ID == "" {
			return Project{}, fmt.Errorf("projectconfig: agent entry missing id")
		}
		agents = append(agents, catalog.AgentDefinition{
			ID:             a.ID,
			Role:           catalog.Role(a.Role),
			DefaultModel:   a.DefaultModel,
			DefaultRuntime: a.DefaultRuntime,
		})
	}

	rules := make([]validator.Rule, 0, len(f.Rules))
	for i, r := range f.Rules {
		rule, err := r.toRule()
		if err != nil {
			return Project{}, fmt.Errorf("projectconfig: rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return Project{Catalog: catalog.New(agents), Rules: rules}, nil
}

func (r ruleYAML) toRule() (validator.Rule, error) {
	cond := validator.Condition{
		Kind:   validator.ConditionKind(r.Condition.Kind),
		Value:  r.Condition.Value,
		Values: r.Condition.Values,
	}
	action := validator.Action{
		Kind:       validator.ActionKind(r.Action.Kind),
		Role:       catalog.Role(r.Action.Role),
		Agent:      r.Action.Agent,
		AfterAgent: r.Action.AfterAgent,
	}
	if r.Action.Kind == string(validator.ActionSetBudget) {
		if r.Action.Budget == nil {
			return validator.Rule{}, fmt.Errorf("set_budget action requires a budget block")
		}
		action.Budget = config.BudgetOverride{
			PerAgentTokens:     r.Action.Budget.PerAgentTokens,
			PerTaskTotalTokens: r.Action.Budget.PerTaskTotalTokens,
			PerTaskMaxCostUSD:  r.Action.Budget.PerTaskMaxCostUSD,
			MaxReworkCycles:    r.Action.Budget.MaxReworkCycles,
		}
	}
	return validator.Rule{Condition: cond, Action: action, Enforced: r.Enforced}, nil
}
