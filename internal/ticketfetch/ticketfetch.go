// Package ticketfetch implements ticket.Fetcher. The prompt path (ticket
// synthesis from free text) is fully implemented, matching the
// orchestrator's documented synthesis contract: the whole prompt becomes
// Description and the first 100 characters become Title. The
// linear/github/jira paths delegate to a SourceClient supplied by the
// deployment; this package ships no SourceClient and makes no tracker API
// calls itself.
package ticketfetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

// Fetcher is a ticket.Fetcher that synthesizes prompt-sourced tickets
// directly and delegates named-source lookups to pluggable per-source
// clients (nil unless set; see New for what a nil client does).
type Fetcher struct {
	Linear SourceClient
	GitHub SourceClient
	Jira   SourceClient
}

// SourceClient is the minimal contract a real tracker adapter implements.
// internal/ticketfetch ships no concrete SourceClient; a deployment wires
// its own against Linear's GraphQL API, the GitHub Issues REST API, or
// Jira's REST API as needed.
type SourceClient interface {
	FetchByID(ctx context.Context, id string) (ticket.Ticket, error)
	UpdateStatus(ctx context.Context, t ticket.Ticket, status, prURL string) error
}

// New returns a Fetcher. Any SourceClient left nil causes Fetch for that
// source to return an error naming the missing adapter, so a misconfigured
// deployment fails at first use rather than silently synthesizing a ticket.
func New(linear, github, jira SourceClient) *Fetcher {
	return &Fetcher{Linear: linear, GitHub: github, Jira: jira}
}

// Fetch dispatches to the configured SourceClient for source, or errors if
// none is configured.
func (f *Fetcher) Fetch(ctx context.Context, id string, source ticket.Source) (ticket.Ticket, error) {
	client, err := f.clientFor(source)
	if err != nil {
		return ticket.Ticket{}, err
	}
	t, err := client.FetchByID(ctx, id)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("ticketfetch: fetch %s/%s: %w", source, id, err)
	}
	t.ID = id
	t.Source = source
	return t, nil
}

// FetchFromPrompt synthesizes a Ticket from free text: the whole prompt
// becomes Description and its first 100 characters become Title.
func (f *Fetcher) FetchFromPrompt(_ context.Context, prompt string) (ticket.Ticket, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ticket.Ticket{}, fmt.Errorf("ticketfetch: prompt is empty")
	}
	return ticket.Ticket{
		ID:          syntheticID(prompt),
		Source:      ticket.SourcePrompt,
		Title:       title(prompt),
		Description: prompt,
		Priority:    ticket.PriorityP2,
	}, nil
}

// UpdateStatus reports a run's outcome back to the ticket's source tracker.
// Prompt-sourced tickets have no tracker to report to and this is a no-op.
func (f *Fetcher) UpdateStatus(ctx context.Context, t ticket.Ticket, status, prURL string) error {
	if t.Source == ticket.SourcePrompt {
		return nil
	}
	client, err := f.clientFor(t.Source)
	if err != nil {
		return err
	}
	return client.UpdateStatus(ctx, t, status, prURL)
}

func (f *Fetcher) clientFor(source ticket.Source) (SourceClient, error) {
	var client SourceClient
	switch source {
	case ticket.SourceLinear:
		client = f.Linear
	case ticket.SourceGitHub:
		client = f.GitHub
	case ticket.SourceJira:
		client = f.Jira
	default:
		return nil, fmt.Errorf("ticketfetch: unknown ticket source %q", source)
	}
	if client == nil {
		return nil, fmt.Errorf("ticketfetch: no adapter configured for source %q", source)
	}
	return client, nil
}

func title(prompt string) string {
	const max = 100
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return strings.TrimSpace(string(runes[:max]))
}

func syntheticID(prompt string) string {
	sum := 0
	for _, r := range prompt {
		sum = sum*31 + int(r)
	}
	if sum < 0 {
		sum = -sum
	}
	return fmt.Sprintf("prompt-%d", sum)
}
