package qualitygate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectNode(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{}`), 0o644))
	require.Equal(t, StackNode, Detect(dir))
}

func TestDetectGo(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))
	require.Equal(t, StackGo, Detect(dir))
}

func TestDetectUnknown(t *testing.T) {
	t.Parallel()
	require.Equal(t, StackUnknown, Detect(t.TempDir()))
}

func TestRunUnknownStackAlwaysPasses(t *testing.T) {
	t.Parallel()
	res, err := Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.Empty(t, res.Failures)
}

func TestRunCommandCapturesFailureOutput(t *testing.T) {
	t.Parallel()
	err := runCommand(context.Background(), t.TempDir(), Command{Label: "fail", Args: []string{"sh", "-c", "echo boom >&2; exit 1"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestRunCommandSucceeds(t *testing.T) {
	t.Parallel()
	err := runCommand(context.Background(), t.TempDir(), Command{Label: "ok", Args: []string{"sh", "-c", "exit 0"}})
	require.NoError(t, err)
}
