package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/run"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
)

type fakePullRequests struct {
	created *github.NewPullRequest
	url     string
}

func (f *fakePullRequests) Create(_ context.Context, _, _ string, req *github.NewPullRequest) (*github.PullRequest, error) {
	f.created = req
	return &github.PullRequest{HTMLURL: github.Ptr(f.url)}, nil
}

// initBareRepo creates a (non-bare) repo with one commit on "main" and returns its
// filesystem path, usable as a clone source without any network access.
func initBareRepo(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = src
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	run("config", "user.email", "seed@example.test")
	run("config", "user.name", "seed")
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("hello"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "seed")
	return src
}

func TestCloneAndBranchCheckpointPushFlow(t *testing.T) {
	repo := initBareRepo(t)
	remoteDir := t.TempDir()
	// Use the seed repo itself as the "remote" we push back to by making it
	// non-bare-pushable: set receive.denyCurrentBranch=updateInstead.
	cmd := exec.Command("git", "config", "receive.denyCurrentBranch", "updateInstead")
	cmd.Dir = repo
	require.NoError(t, cmd.Run())

	g := New(Git{
		DefaultRepoURL: repo,
		BaseBranch:     "main",
		AuthorName:     "sprintfoundry-bot",
		AuthorEmail:    "bot@example.test",
		PullRequests:   &fakePullRequests{url: "https://example.test/pr/1"},
	})

	workspace := filepath.Join(remoteDir, "ws")
	tkt := ticket.Ticket{ID: "TCK-42", Title: "Do the thing"}

	branch, err := g.CloneAndBranch(context.Background(), workspace, tkt)
	require.NoError(t, err)
	require.Equal(t, "sprintfoundry/tck-42", branch)

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "new.txt"), []byte("content"), 0o644))
	committed, err := g.CommitStepCheckpoint(context.Background(), workspace, "run-1", 1, "developer")
	require.NoError(t, err)
	require.True(t, committed)

	// A second checkpoint with no new changes must report false.
	committed, err = g.CommitStepCheckpoint(context.Background(), workspace, "run-1", 2, "developer")
	require.NoError(t, err)
	require.False(t, committed)

	err = g.CommitAndPush(context.Background(), workspace, "final commit")
	require.NoError(t, err)

	r := run.TaskRun{Ticket: tkt}
	url, err := g.CreatePullRequest(context.Background(), workspace, r)
	require.NoError(t, err)
	require.Equal(t, "https://example.test/pr/1", url)
}

func TestCommitStepCheckpointExcludesRuntimeLogFiles(t *testing.T) {
	repo := initBareRepo(t)
	remoteDir := t.TempDir()

	g := New(Git{
		DefaultRepoURL: repo,
		BaseBranch:     "main",
		AuthorName:     "sprintfoundry-bot",
		AuthorEmail:    "bot@example.test",
		PullRequests:   &fakePullRequests{url: "https://example.test/pr/1"},
	})

	workspace := filepath.Join(remoteDir, "ws")
	tkt := ticket.Ticket{ID: "TCK-42", Title: "Do the thing"}
	_, err := g.CloneAndBranch(context.Background(), workspace, tkt)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "new.txt"), []byte("content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".cli-runtime.step-1.attempt-1.debug.json"), []byte("{}"), 0o644))

	committed, err := g.CommitStepCheckpoint(context.Background(), workspace, "run-1", 1, "developer")
	require.NoError(t, err)
	require.True(t, committed)

	cmd := exec.Command("git", "show", "--name-only", "--format=", "HEAD")
	cmd.Dir = workspace
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	files := string(out)
	require.Contains(t, files, "new.txt")
	require.NotContains(t, files, "runtime")
	require.NotContains(t, files, "debug.json")
}

func TestCloneAndBranchFailsWithoutRepoURL(t *testing.T) {
	g := New(Git{})
	_, err := g.CloneAndBranch(context.Background(), t.TempDir(), ticket.Ticket{ID: "TCK-1"})
	require.Error(t, err)
}

func TestBranchNameSanitizesTicketID(t *testing.T) {
	require.Equal(t, "sprintfoundry/tck-42-fix", branchName(ticket.Ticket{ID: "TCK 42/fix"}))
}
