// Package runtimeresolver implements scheduler.RuntimeResolver: it picks the
// agentruntime.Runtime that should execute a given agent's steps, keyed by
// the agent's catalog.AgentDefinition.DefaultRuntime (falling back to a
// configured default runtime name for agents absent from the catalog, e.g.
// platform-default agents named after their role). Grounded on the same
// flat-dispatch-map idiom catalog.RoleOf itself uses, generalized from "look
// up a role" to "look up a named, pre-registered Runtime".
package runtimeresolver

import (
	"fmt"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
)

// Resolver dispatches agent ids to pre-constructed Runtime instances keyed
// by runtime name (e.g. "cli", "anthropic", "openai", "bedrock").
type Resolver struct {
	Catalog        catalog.Catalog
	Runtimes       map[string]agentruntime.Runtime
	DefaultRuntime string
}

// New returns a Resolver. defaultRuntime names the entry in runtimes used
// for any agent id the catalog doesn't list a DefaultRuntime for.
func New(cat catalog.Catalog, runtimes map[string]agentruntime.Runtime, defaultRuntime string) *Resolver {
	return &Resolver{Catalog: cat, Runtimes: runtimes, DefaultRuntime: defaultRuntime}
}

// Resolve implements scheduler.RuntimeResolver.
func (r *Resolver) Resolve(agentID string) (agentruntime.Runtime, error) {
	name := r.DefaultRuntime
	if a, ok := r.Catalog.ByID(agentID); ok && a.DefaultRuntime != "" {
		name = a.DefaultRuntime
	}
	if name == "" {
		return nil, fmt.Errorf("runtimeresolver: no runtime configured for agent %q", agentID)
	}
	rt, ok := r.Runtimes[name]
	if !ok {
		return nil, fmt.Errorf("runtimeresolver: agent %q requests unregistered runtime %q", agentID, name)
	}
	return rt, nil
}
