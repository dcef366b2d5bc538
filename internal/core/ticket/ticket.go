// Package ticket defines the immutable work-item contract the orchestration
// engine plans and executes against. The core never fetches or mutates a
// ticket itself; it consumes whatever a Fetcher returns and asks a Fetcher
// to report status back once a run completes.
package ticket

import (
	"context"
	"strings"
)

type (
	// Source identifies the system of record a ticket was fetched from, or
	// "prompt" when the ticket was synthesized from free text instead of
	// fetched from a tracker.
	Source string

	// Priority ranks a ticket's urgency. Values are ordered p0 (most urgent)
	// through p3.
	Priority string

	// Ticket is the immutable work item a run plans and executes against. A
	// Ticket is fetched once per run and never mutated by the core.
	Ticket struct {
		// ID is the tracker-assigned identifier, or a synthesized one for
		// Source == SourcePrompt.
		ID string
		// Source names the system of record this ticket came from.
		Source Source
		// Title is a short human summary.
		Title string
		// Description is the full ticket body.
		Description string
		// Labels are free-form tags attached by the tracker (e.g. "urgent",
		// "frontend"). PlanValidator rules match against these.
		Labels []string
		// Priority ranks the ticket's urgency.
		Priority Priority
		// AcceptanceCriteria enumerates the conditions a solution must meet.
		AcceptanceCriteria []string
		// LinkedTickets references related ticket IDs.
		LinkedTickets []string
		// Comments carries the tracker thread, oldest first.
		Comments []Comment
		// Author is the ticket creator's identifier.
		Author string
		// Assignee is the ticket's current assignee, if any.
		Assignee string
		// Raw carries the tracker's native payload, opaque to the core.
		Raw any
	}

	// Comment is a single tracker comment.
	Comment struct {
		Author string
		Body   string
	}

	// Fetcher is the external ticket-provider contract. Implementations speak
	// to Linear, GitHub, Jira, or synthesize a Ticket from a free-text prompt.
	// Errors propagate as failed runs (the orchestrator classifies fetch
	// failures as orcherr.CategoryConfiguration).
	Fetcher interface {
		// Fetch retrieves a ticket by ID from the given tracker source.
		// Prompt-sourced tickets come from FetchFromPrompt instead; the
		// orchestrator never calls Fetch with SourcePrompt, and
		// ticketfetch.Fetcher returns an error for it.
		Fetch(ctx context.Context, id string, source Source) (Ticket, error)

		// FetchFromPrompt synthesizes a Ticket from free text: the whole prompt
		// becomes Description and the first 100 characters become Title,
		// matching the orchestrator's ticket-synthesis contract.
		FetchFromPrompt(ctx context.Context, prompt string) (Ticket, error)

		// UpdateStatus reports a run's outcome back to the tracker. prURL is
		// empty when no pull request was created. Implementations for
		// SourcePrompt tickets may treat this as a no-op.
		UpdateStatus(ctx context.Context, t Ticket, status string, prURL string) error
	}
)

const (
	SourceLinear Source = "linear"
	SourceGitHub Source = "github"
	SourceJira   Source = "jira"
	SourcePrompt Source = "prompt"

	PriorityP0 Priority = "p0"
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
)

// HasLabel reports whether label matches one of the ticket's labels,
// case-insensitively as a substring (the validator's label_contains
// condition uses this same semantics).
func (t Ticket) HasLabel(substr string) bool {
	for _, l := range t.Labels {
		if strings.Contains(strings.ToLower(l), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}
