package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/event"
	"github.com/sprintfoundry/orchestrator/internal/core/humangate"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/plannerruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/runtimesession"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

type fakeTickets struct {
	fetched     ticket.Ticket
	updated     bool
	updateErr   error
	lastStatus  string
	lastPRURL   string
}

func (f *fakeTickets) Fetch(context.Context, string, ticket.Source) (ticket.Ticket, error) {
	return f.fetched, nil
}
func (f *fakeTickets) FetchFromPrompt(context.Context, string) (ticket.Ticket, error) {
	return f.fetched, nil
}
func (f *fakeTickets) UpdateStatus(_ context.Context, _ ticket.Ticket, status, prURL string) error {
	f.updated = true
	f.lastStatus = status
	f.lastPRURL = prURL
	return f.updateErr
}

type fakePlanner struct {
	p   plan.ExecutionPlan
	err error
}

func (f *fakePlanner) GeneratePlan(context.Context, ticket.Ticket, catalog.Catalog, string) (plan.ExecutionPlan, error) {
	return f.p, f.err
}
func (f *fakePlanner) PlanRework(context.Context, ticket.Ticket, plan.Step, plan.AgentResult, string, []plan.StepExecution, plannerruntime.ReworkAttempt) ([]plan.Step, error) {
	return nil, nil
}

type fakeGit struct {
	prURL string
	// writePackageJSON drops a package.json into the cloned workspace root,
	// for tests that need to exercise the npm-registry preflight's
	// node-stack detection.
	writePackageJSON bool
}

func (g fakeGit) CloneAndBranch(_ context.Context, dir string, _ ticket.Ticket) (string, error) {
	if g.writePackageJSON {
		if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{}`), 0o644); err != nil {
			return "", err
		}
	}
	return "sprintfoundry/run", nil
}
func (fakeGit) CommitStepCheckpoint(context.Context, string, string, int, string) (bool, error) {
	return true, nil
}
func (fakeGit) CommitAndPush(context.Context, string, string) error { return nil }
func (g fakeGit) CreatePullRequest(context.Context, string, run.TaskRun) (string, error) {
	return g.prURL, nil
}

type fakeRuntime struct{}

func (fakeRuntime) RunStep(_ context.Context, in agentruntime.StepInput) (agentruntime.StepOutput, error) {
	return agentruntime.StepOutput{
		RuntimeID:       "local-" + in.Agent,
		RuntimeMetadata: map[string]any{"result": plan.AgentResult{Status: plan.AgentResultComplete}},
	}, nil
}

type fakeRuntimeResolver struct{}

func (fakeRuntimeResolver) Resolve(string) (agentruntime.Runtime, error) { return fakeRuntime{}, nil }

type fakeGates struct{}

func (fakeGates) RequestReview(context.Context, workspace.Layout, run.HumanReview) error { return nil }
func (fakeGates) WaitForDecision(context.Context, workspace.Layout, string, time.Duration) (humangate.Decision, error) {
	return humangate.Decision{Status: run.HumanReviewApproved}, nil
}

func newOrchestrator(t *testing.T, tickets *fakeTickets, planner *fakePlanner, git fakeGit) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	return New(Orchestrator{
		Tickets: tickets,
		Catalog: catalog.New([]catalog.AgentDefinition{{ID: "developer", Role: catalog.RoleDeveloper}}),
		Defaults: config.Defaults{
			WorkspaceRoot: dir,
			Budget:        config.Budget{PerAgentTokens: 1000, PerTaskTotalTokens: 1_000_000, MaxReworkCycles: 2},
		},
		Planner:  planner,
		Runtime:  fakeRuntimeResolver{},
		Git:      git,
		Events:   event.NewFileStore(nil),
		Sessions: runtimesession.New(dir + "/sessions.json"),
		Gates:    fakeGates{},
	})
}

func TestHandleTaskHappyPath(t *testing.T) {
	tickets := &fakeTickets{fetched: ticket.Ticket{ID: "TCK-1", Title: "Add widget", Priority: ticket.PriorityP2}}
	planner := &fakePlanner{p: plan.ExecutionPlan{
		PlanID: "plan-1",
		Steps:  []plan.Step{{StepNumber: 1, Agent: "developer", Task: "build it"}},
	}}
	git := fakeGit{prURL: "https://example.test/pr/7"}
	o := newOrchestrator(t, tickets, planner, git)

	r, err := o.HandleTask(context.Background(), TaskInput{ID: "TCK-1", Source: ticket.SourceLinear})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, r.Status)
	require.Equal(t, "https://example.test/pr/7", r.PRURL)
	require.True(t, tickets.updated)
	require.Equal(t, "done", tickets.lastStatus)
}

func TestHandleTaskSynthesizesTicketFromPrompt(t *testing.T) {
	tickets := &fakeTickets{fetched: ticket.Ticket{ID: "synthesized", Source: ticket.SourcePrompt, Title: "Fix the thing"}}
	planner := &fakePlanner{p: plan.ExecutionPlan{Steps: []plan.Step{{StepNumber: 1, Agent: "developer"}}}}
	o := newOrchestrator(t, tickets, planner, fakeGit{prURL: "https://example.test/pr/1"})

	r, err := o.HandleTask(context.Background(), TaskInput{Prompt: "please fix the thing"})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, r.Status)
}

func TestHandleTaskPlannerFailureFailsRun(t *testing.T) {
	tickets := &fakeTickets{fetched: ticket.Ticket{ID: "TCK-1"}}
	planner := &fakePlanner{err: assertErr{"planner exploded"}}
	o := newOrchestrator(t, tickets, planner, fakeGit{})

	r, err := o.HandleTask(context.Background(), TaskInput{ID: "TCK-1", Source: ticket.SourceLinear})
	require.Error(t, err)
	require.Equal(t, run.StatusFailed, r.Status)
	require.NotEmpty(t, r.Error)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestRegistryPreflightSkippedViaInjectedEnv(t *testing.T) {
	tickets := &fakeTickets{fetched: ticket.Ticket{ID: "TCK-1"}}
	planner := &fakePlanner{p: plan.ExecutionPlan{Steps: []plan.Step{{StepNumber: 1, Agent: "developer"}}}}
	dir := t.TempDir()

	o := New(Orchestrator{
		Tickets: tickets,
		Catalog: catalog.New([]catalog.AgentDefinition{{ID: "developer", Role: catalog.RoleDeveloper}}),
		Defaults: config.Defaults{
			WorkspaceRoot: dir,
			Budget:        config.Budget{PerAgentTokens: 1000, PerTaskTotalTokens: 1_000_000, MaxReworkCycles: 2},
			// Unreachable by construction; only the skip env var should let
			// the run proceed past the preflight check.
			RegistryURL:     "http://127.0.0.1:1/registry-unreachable",
			RegistryTimeout: 50 * time.Millisecond,
		},
		Planner:  planner,
		Runtime:  fakeRuntimeResolver{},
		Git:      fakeGit{prURL: "https://example.test/pr/1", writePackageJSON: true},
		Events:   event.NewFileStore(nil),
		Sessions: runtimesession.New(dir + "/sessions.json"),
		Gates:    fakeGates{},
		Env:      config.MapEnv{"SPRINTFOUNDRY_SKIP_REGISTRY_PREFLIGHT": "1"},
	})

	r, err := o.HandleTask(context.Background(), TaskInput{ID: "TCK-1", Source: ticket.SourceLinear})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, r.Status)
}

// TestRegistryPreflightFailsWithoutSkip exercises a node workspace
// (package.json present) pointed at an unreachable registry with no skip
// env var set: the preflight check must run and fail the task.
func TestRegistryPreflightFailsWithoutSkip(t *testing.T) {
	tickets := &fakeTickets{fetched: ticket.Ticket{ID: "TCK-1"}}
	planner := &fakePlanner{p: plan.ExecutionPlan{Steps: []plan.Step{{StepNumber: 1, Agent: "developer"}}}}
	dir := t.TempDir()

	o := New(Orchestrator{
		Tickets: tickets,
		Catalog: catalog.New([]catalog.AgentDefinition{{ID: "developer", Role: catalog.RoleDeveloper}}),
		Defaults: config.Defaults{
			WorkspaceRoot:   dir,
			Budget:          config.Budget{PerAgentTokens: 1000, PerTaskTotalTokens: 1_000_000, MaxReworkCycles: 2},
			RegistryURL:     "http://127.0.0.1:1/registry-unreachable",
			RegistryTimeout: 50 * time.Millisecond,
		},
		Planner:  planner,
		Runtime:  fakeRuntimeResolver{},
		Git:      fakeGit{prURL: "https://example.test/pr/1", writePackageJSON: true},
		Events:   event.NewFileStore(nil),
		Sessions: runtimesession.New(dir + "/sessions.json"),
		Gates:    fakeGates{},
	})

	r, err := o.HandleTask(context.Background(), TaskInput{ID: "TCK-1", Source: ticket.SourceLinear})
	require.Error(t, err)
	require.Equal(t, run.StatusFailed, r.Status)
}

// TestRegistryPreflightSkippedForGoWorkspace exercises a workspace with no
// package.json pointed at an unreachable registry and no skip env var set:
// a Go (or otherwise non-node) workspace has no npm registry dependency to
// verify, so the preflight check must be skipped entirely and the run must
// not fail on its account.
func TestRegistryPreflightSkippedForGoWorkspace(t *testing.T) {
	tickets := &fakeTickets{fetched: ticket.Ticket{ID: "TCK-1"}}
	planner := &fakePlanner{p: plan.ExecutionPlan{Steps: []plan.Step{{StepNumber: 1, Agent: "developer"}}}}
	dir := t.TempDir()

	o := New(Orchestrator{
		Tickets: tickets,
		Catalog: catalog.New([]catalog.AgentDefinition{{ID: "developer", Role: catalog.RoleDeveloper}}),
		Defaults: config.Defaults{
			WorkspaceRoot:   dir,
			Budget:          config.Budget{PerAgentTokens: 1000, PerTaskTotalTokens: 1_000_000, MaxReworkCycles: 2},
			RegistryURL:     "http://127.0.0.1:1/registry-unreachable",
			RegistryTimeout: 50 * time.Millisecond,
		},
		Planner:  planner,
		Runtime:  fakeRuntimeResolver{},
		Git:      fakeGit{prURL: "https://example.test/pr/1"},
		Events:   event.NewFileStore(nil),
		Sessions: runtimesession.New(dir + "/sessions.json"),
		Gates:    fakeGates{},
	})

	r, err := o.HandleTask(context.Background(), TaskInput{ID: "TCK-1", Source: ticket.SourceLinear})
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, r.Status)
}
