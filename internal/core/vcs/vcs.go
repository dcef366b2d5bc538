// Package vcs defines the version-control contract the scheduler invokes
// between steps: clone-and-branch once at run start, a checkpoint commit
// after every completed step, and a final push plus pull-request creation.
// Commit operations must exclude workspace.CommitDenylist so bot-owned
// scratch files never leak into run history.
package vcs

import (
	"context"

	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

// Git is the external version-control contract. Implementations shell out to
// the git binary (see internal/gitops) or an equivalent API-backed client.
type Git interface {
	// CloneAndBranch clones the ticket's repository into workspacePath and
	// checks out a fresh branch for the run, returning the branch name.
	CloneAndBranch(ctx context.Context, workspacePath string, t ticket.Ticket) (branchName string, err error)

	// CommitStepCheckpoint commits every non-denylisted change in
	// workspacePath as a checkpoint for one completed step. Committed is
	// false when the step produced no diff worth recording.
	CommitStepCheckpoint(ctx context.Context, workspacePath, runID string, stepNumber int, agentID string) (committed bool, err error)

	// CommitAndPush commits any remaining changes with message and pushes
	// the run's branch to its remote.
	CommitAndPush(ctx context.Context, workspacePath, message string) error

	// CreatePullRequest opens a pull request for the run's branch and
	// returns its URL.
	CreatePullRequest(ctx context.Context, workspacePath string, r run.TaskRun) (url string, err error)
}
