// Package orchestrator implements handleTask, the single pipeline every run
// enters through: fetch the ticket, prepare the workspace, generate and
// validate a plan, execute it, then report the outcome back to the tracker
// and a notification channel. It is the thin composition root over the
// internal/core packages, wiring its services the same flat, sequential
// way a small main package would rather than through a framework-managed
// container.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/event"
	"github.com/sprintfoundry/orchestrator/internal/core/humangate"
	"github.com/sprintfoundry/orchestrator/internal/core/notify"
	"github.com/sprintfoundry/orchestrator/internal/core/orcherr"
	"github.com/sprintfoundry/orchestrator/internal/core/plannerruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/qualitygate"
	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/runtimesession"
	"github.com/sprintfoundry/orchestrator/internal/core/scheduler"
	"github.com/sprintfoundry/orchestrator/internal/core/telemetry"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
	"github.com/sprintfoundry/orchestrator/internal/core/validator"
	"github.com/sprintfoundry/orchestrator/internal/core/vcs"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

type (
	// TaskInput is the caller-supplied request that starts a run: either a
	// tracker ticket reference (ID+Source) or free-text Prompt to synthesize
	// one from.
	TaskInput struct {
		ProjectID string
		ID        string
		Source    ticket.Source
		Prompt    string
	}

	// Orchestrator wires every collaborator handleTask drives a run through.
	Orchestrator struct {
		Tickets  ticket.Fetcher
		Catalog  catalog.Catalog
		Rules    []validator.Rule
		Defaults config.Defaults
		Planner  plannerruntime.Planner
		Runtime  scheduler.RuntimeResolver
		Git      vcs.Git
		Events   event.Store
		Sessions *runtimesession.Store
		Gates    humangate.Channel
		Notifier notify.Notifier
		Log      telemetry.Logger
		Metrics  telemetry.Metrics

		// HTTPClient is used for the npm registry preflight check. Defaults to
		// a 5-second-timeout client at construction.
		HTTPClient *http.Client

		// Env supplies SPRINTFOUNDRY_SKIP_REGISTRY_PREFLIGHT to the preflight
		// check. Defaults to the real process environment; tests inject a
		// config.MapEnv instead of mutating process-global state.
		Env config.Env
	}
)

// New returns an Orchestrator with a preflight HTTP client configured.
func New(o Orchestrator) *Orchestrator {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Defaults.RegistryTimeout}
	}
	if o.Log == nil {
		o.Log = telemetry.NoopLogger{}
	}
	if o.Env == nil {
		o.Env = config.OSEnv{}
	}
	return &o
}

// HandleTask runs one task end to end: fetch, plan, validate, execute,
// report. It always returns the TaskRun, even on failure, so callers can
// inspect Status/Error/Steps; the returned error is non-nil exactly when
// Status ends up run.StatusFailed.
func (o *Orchestrator) HandleTask(ctx context.Context, in TaskInput) (*run.TaskRun, error) {
	r := &run.TaskRun{
		RunID:     uuid.NewString(),
		ProjectID: in.ProjectID,
		Status:    run.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	// The event store can't be Initialize()'d until the workspace directory
	// exists (git clone refuses to populate a non-empty target), so the very
	// first events are kept in the in-memory buffer only; Initialize below
	// does not write them to the JSONL file.
	o.emit(ctx, r, "task.created", 0, nil)

	t, err := o.fetchTicket(ctx, in)
	if err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryConfiguration, "ticket_fetch_failed", "failed to fetch ticket", err))
	}
	r.Ticket = t
	r.Labels = map[string]string{"priority": string(t.Priority)}

	layout := workspace.New(filepath.Join(o.Defaults.WorkspaceRoot, r.RunID))
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryPersistence, "workspace_create_failed", "failed to create workspace directory", err))
	}

	if _, err := o.Git.CloneAndBranch(ctx, layout.Root, t); err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryRuntime, "clone_failed", "failed to clone and branch", err))
	}

	if o.Events != nil {
		if err := o.Events.Initialize(layout.Root); err != nil {
			o.Log.Warn(ctx, "event store initialize failed", "run_id", r.RunID, "error", err)
		}
		defer o.Events.Close()
	}

	if err := o.registryPreflight(ctx, layout.Root); err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryConfiguration, "registry_unreachable", "package registry preflight failed", err))
	}

	r.Status = run.StatusPlanning
	plan0, err := o.Planner.GeneratePlan(ctx, t, o.Catalog, layout.Root)
	if err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryPlanning, "generate_plan_failed", "planner.generatePlan failed", err))
	}
	r.Plan = &plan0
	o.emit(ctx, r, "task.plan_generated", 0, map[string]any{"plan_id": plan0.PlanID})

	result, err := validator.Validate(plan0, t, o.Rules, o.Catalog)
	if err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryValidation, "validate_plan_failed", "plan failed validation", err))
	}
	r.ValidatedPlan = &result.Plan
	o.emit(ctx, r, "task.plan_validated", 0, map[string]any{
		"injected_steps": result.InjectedStepNumbers,
	})

	resolvedConfig := o.Defaults.Resolve(nil, result.BudgetOverride)

	sched := scheduler.New(scheduler.Options{
		Catalog:  o.Catalog,
		Config:   resolvedConfig,
		Runtime:  o.Runtime,
		Planner:  o.Planner,
		Git:      o.Git,
		Events:   o.Events,
		Sessions: o.Sessions,
		Gates:    o.Gates,
		Notifier: o.Notifier,
		Log:      o.Log,
		Metrics:  o.Metrics,
		Layout:   layout,
	})

	if err := sched.Execute(ctx, r); err != nil {
		o.notify(ctx, notify.Notification{RunID: r.RunID, Kind: notify.EventTaskFailed, Summary: err.Error()})
		return r, err
	}

	if err := o.Git.CommitAndPush(ctx, layout.Root, fmt.Sprintf("sprintfoundry: complete %s", t.ID)); err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryRuntime, "push_failed", "commitAndPush failed", err))
	}

	prURL, err := o.Git.CreatePullRequest(ctx, layout.Root, *r)
	if err != nil {
		return o.fail(ctx, r, orcherr.Wrap(orcherr.CategoryRuntime, "create_pr_failed", "createPullRequest failed", err))
	}
	r.PRURL = prURL
	r.CompletedAt = time.Now().UTC()
	o.emit(ctx, r, "pr.created", 0, map[string]any{"url": prURL})

	if err := o.Tickets.UpdateStatus(ctx, t, "done", prURL); err != nil {
		o.Log.Warn(ctx, "ticket status update failed", "run_id", r.RunID, "error", err)
	} else {
		o.emit(ctx, r, "ticket.updated", 0, map[string]any{"status": "done"})
	}

	o.notify(ctx, notify.Notification{RunID: r.RunID, Kind: notify.EventTaskCompleted, Summary: t.Title, PRURL: prURL})
	return r, nil
}

func (o *Orchestrator) fetchTicket(ctx context.Context, in TaskInput) (ticket.Ticket, error) {
	if in.Source == ticket.SourcePrompt || in.ID == "" {
		return o.Tickets.FetchFromPrompt(ctx, in.Prompt)
	}
	return o.Tickets.Fetch(ctx, in.ID, in.Source)
}

// registryPreflight pings the configured npm registry URL with a bounded
// timeout before any planning or execution begins, so a run fails fast
// rather than stalling on an agent's first `npm install`. Only workspaces
// with a package.json at their root go through this check; a Go workspace
// (go.mod only) has no npm registry dependency to verify and skips it
// entirely. Set SPRINTFOUNDRY_SKIP_REGISTRY_PREFLIGHT=1 to bypass it
// outright (useful in air-gapped or vendored-dependency environments).
func (o *Orchestrator) registryPreflight(ctx context.Context, workspaceRoot string) error {
	if o.Env.Getenv("SPRINTFOUNDRY_SKIP_REGISTRY_PREFLIGHT") != "" {
		return nil
	}
	if qualitygate.Detect(workspaceRoot) != qualitygate.StackNode {
		return nil
	}
	if o.Defaults.RegistryURL == "" {
		return nil
	}

	timeout := o.Defaults.RegistryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, o.Defaults.RegistryURL, nil)
	if err != nil {
		return err
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", orcherr.ErrRegistryUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", orcherr.ErrRegistryUnreachable, resp.StatusCode)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run.TaskRun, err error) (*run.TaskRun, error) {
	r.Status = run.StatusFailed
	r.Error = err.Error()
	o.emit(ctx, r, "task.failed", 0, map[string]any{"error": err.Error()})
	o.notify(ctx, notify.Notification{RunID: r.RunID, Kind: notify.EventTaskFailed, Summary: err.Error()})
	return r, err
}

func (o *Orchestrator) notify(ctx context.Context, n notify.Notification) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Notify(ctx, n); err != nil {
		o.Log.Warn(ctx, "notification delivery failed", "run_id", n.RunID, "error", err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, r *run.TaskRun, eventType string, stepNumber int, payload map[string]any) {
	if o.Events == nil {
		return
	}
	var raw []byte
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	o.Events.Store(ctx, event.Event{
		RunID:      r.RunID,
		Type:       eventType,
		StepNumber: stepNumber,
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	})
}
