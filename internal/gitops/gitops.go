// Package gitops implements vcs.Git by shelling out to the git binary,
// following qualitygate's os/exec idiom (run a command, capture combined
// output, turn a non-zero exit into an error carrying that output) since
// no example repo in this pack wraps git itself behind a library; every
// git-touching tool examined shells out directly.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

// Git implements vcs.Git against a real git checkout, pushing to GitHub and
// opening pull requests via the GitHub REST API.
type Git struct {
	// DefaultRepoURL is used when a ticket's Raw payload doesn't carry a
	// "repo_url" string of its own.
	DefaultRepoURL string
	// BaseBranch is checked out as the branch point for every run's branch.
	BaseBranch string
	// AuthorName/AuthorEmail are attributed to every checkpoint commit.
	AuthorName  string
	AuthorEmail string
	// RemoteName is the git remote pushed to; defaults to "origin".
	RemoteName string

	// PullRequests creates the pull request once a run's branch is pushed.
	// Defaults to a client built from GitHubToken.
	PullRequests PullRequestCreator
	GitHubToken  string
}

// PullRequestCreator abstracts the GitHub API surface this package needs,
// so tests can substitute a fake instead of hitting the network.
type PullRequestCreator interface {
	Create(ctx context.Context, owner, repo string, req *github.NewPullRequest) (*github.PullRequest, error)
}

type githubPullRequests struct{ client *github.Client }

func (g githubPullRequests) Create(ctx context.Context, owner, repo string, req *github.NewPullRequest) (*github.PullRequest, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, req)
	return pr, err
}

// New returns a Git configured with a GitHub-token-authenticated pull
// request client, unless opts.PullRequests is already set.
func New(opts Git) *Git {
	if opts.RemoteName == "" {
		opts.RemoteName = "origin"
	}
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	if opts.PullRequests == nil && opts.GitHubToken != "" {
		client := github.NewClient(nil).WithAuthToken(opts.GitHubToken)
		opts.PullRequests = githubPullRequests{client: client}
	}
	return &opts
}

// CloneAndBranch clones the ticket's repository into workspacePath and
// checks out a fresh branch named after the run.
func (g *Git) CloneAndBranch(ctx context.Context, workspacePath string, t ticket.Ticket) (string, error) {
	repoURL := g.repoURL(t)
	if repoURL == "" {
		return "", fmt.Errorf("gitops: no repository URL configured for ticket %s", t.ID)
	}
	if _, err := g.run(ctx, filepath.Dir(workspacePath), "git", "clone", "--branch", g.BaseBranch, repoURL, workspacePath); err != nil {
		return "", fmt.Errorf("gitops: clone failed: %w", err)
	}
	branch := branchName(t)
	if _, err := g.run(ctx, workspacePath, "git", "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("gitops: branch checkout failed: %w", err)
	}
	if g.AuthorName != "" {
		if _, err := g.run(ctx, workspacePath, "git", "config", "user.name", g.AuthorName); err != nil {
			return "", fmt.Errorf("gitops: set user.name failed: %w", err)
		}
	}
	if g.AuthorEmail != "" {
		if _, err := g.run(ctx, workspacePath, "git", "config", "user.email", g.AuthorEmail); err != nil {
			return "", fmt.Errorf("gitops: set user.email failed: %w", err)
		}
	}
	return branch, nil
}

// CommitStepCheckpoint stages every change under workspacePath other than
// workspace.CommitDenylist entries and commits it if there's anything to
// commit.
func (g *Git) CommitStepCheckpoint(ctx context.Context, workspacePath, runID string, stepNumber int, agentID string) (bool, error) {
	if err := g.addAllExceptDenylist(ctx, workspacePath); err != nil {
		return false, err
	}
	dirty, err := g.hasStagedChanges(ctx, workspacePath)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	msg := fmt.Sprintf("sprintfoundry: step %d (%s) checkpoint [run %s]", stepNumber, agentID, runID)
	if _, err := g.run(ctx, workspacePath, "git", "commit", "-m", msg); err != nil {
		return false, fmt.Errorf("gitops: checkpoint commit failed: %w", err)
	}
	return true, nil
}

// CommitAndPush commits any remaining staged changes with message and
// pushes the current branch to RemoteName.
func (g *Git) CommitAndPush(ctx context.Context, workspacePath, message string) error {
	if err := g.addAllExceptDenylist(ctx, workspacePath); err != nil {
		return err
	}
	dirty, err := g.hasStagedChanges(ctx, workspacePath)
	if err != nil {
		return err
	}
	if dirty {
		if _, err := g.run(ctx, workspacePath, "git", "commit", "-m", message); err != nil {
			return fmt.Errorf("gitops: final commit failed: %w", err)
		}
	}
	branch, err := g.currentBranch(ctx, workspacePath)
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, workspacePath, "git", "push", "-u", g.RemoteName, branch); err != nil {
		return fmt.Errorf("gitops: push failed: %w", err)
	}
	return nil
}

// CreatePullRequest opens a pull request for the run's branch against
// BaseBranch and returns its URL.
func (g *Git) CreatePullRequest(ctx context.Context, workspacePath string, r run.TaskRun) (string, error) {
	if g.PullRequests == nil {
		return "", fmt.Errorf("gitops: no pull request client configured")
	}
	branch, err := g.currentBranch(ctx, workspacePath)
	if err != nil {
		return "", err
	}
	owner, repo, err := g.ownerRepo(r.Ticket)
	if err != nil {
		return "", err
	}
	title := fmt.Sprintf("%s: %s", r.Ticket.ID, r.Ticket.Title)
	body := prBody(r)
	pr, err := g.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(g.BaseBranch),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return "", fmt.Errorf("gitops: create pull request failed: %w", err)
	}
	return pr.GetHTMLURL(), nil
}

func (g *Git) addAllExceptDenylist(ctx context.Context, workspacePath string) error {
	// git add --all with a set of exclude pathspecs: "." plus one
	// ":(exclude)<path>" per literal denylisted entry, plus one
	// ":(exclude,glob)<pattern>" per variable-named denylisted pattern (e.g.
	// per-runtime, per-step, per-attempt log files).
	args := []string{"add", "--all", "--", "."}
	for _, path := range workspace.CommitDenylist {
		args = append(args, fmt.Sprintf(":(exclude)%s", path))
	}
	for _, glob := range workspace.CommitDenylistGlobs {
		args = append(args, fmt.Sprintf(":(exclude,glob)%s", glob))
	}
	if _, err := g.run(ctx, workspacePath, "git", args...); err != nil {
		return fmt.Errorf("gitops: git add failed: %w", err)
	}
	return nil
}

func (g *Git) hasStagedChanges(ctx context.Context, workspacePath string) (bool, error) {
	out, err := g.run(ctx, workspacePath, "git", "diff", "--cached", "--name-only")
	if err != nil {
		return false, fmt.Errorf("gitops: diff --cached failed: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

func (g *Git) currentBranch(ctx context.Context, workspacePath string) (string, error) {
	out, err := g.run(ctx, workspacePath, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitops: rev-parse HEAD failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w (output: %s)", strings.Join(append([]string{name}, args...), " "), err, out.String())
	}
	return out.String(), nil
}

func (g *Git) repoURL(t ticket.Ticket) string {
	if raw, ok := t.Raw.(map[string]any); ok {
		if v, ok := raw["repo_url"].(string); ok && v != "" {
			return v
		}
	}
	return g.DefaultRepoURL
}

func (g *Git) ownerRepo(t ticket.Ticket) (string, string, error) {
	url := g.repoURL(t)
	url = strings.TrimSuffix(url, ".git")
	parts := strings.Split(url, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("gitops: cannot derive owner/repo from %q", url)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func branchName(t ticket.Ticket) string {
	id := strings.ToLower(t.ID)
	id = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '-'
	}, id)
	return fmt.Sprintf("sprintfoundry/%s", id)
}

func prBody(r run.TaskRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for %s.\n\n", r.Ticket.ID)
	if r.Ticket.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Ticket.Description)
	}
	fmt.Fprintf(&b, "Steps executed: %d\n", len(r.Steps))
	fmt.Fprintf(&b, "Total tokens used: %d\n", r.TotalTokensUsed)
	return b.String()
}
