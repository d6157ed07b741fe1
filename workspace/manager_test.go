package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls    [][]string
	scripted map[string]fakeResult
}

type fakeResult struct {
	stdout, stderr string
	err            error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{scripted: map[string]fakeResult{}}
}

func (f *fakeRunner) on(args []string, res fakeResult) {
	f.scripted[join(args)] = res
}

func join(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) (string, string, error) {
	full := append([]string{name}, args...)
	f.calls = append(f.calls, full)
	if res, ok := f.scripted[join(full)]; ok {
		return res.stdout, res.stderr, res.err
	}
	return "", "", nil
}

func newManagerWithFake(t *testing.T) (*Manager, *fakeRunner) {
	t.Helper()
	fr := newFakeRunner()
	fr.on([]string{"git", "rev-parse", "--is-inside-work-tree"}, fakeResult{stdout: "true\n"})
	fr.on([]string{"git", "rev-parse", "--abbrev-ref", "HEAD"}, fakeResult{stdout: "main\n"})

	m := New("/repo", true)
	m.runner = fr
	require.NoError(t, m.Init(context.Background()))
	return m, fr
}

func TestManager_InitRejectsNonGitRepo(t *testing.T) {
	fr := newFakeRunner()
	fr.on([]string{"git", "rev-parse", "--is-inside-work-tree"}, fakeResult{stdout: "false\n"})
	m := New("/repo", true)
	m.runner = fr
	require.Error(t, m.Init(context.Background()))
}

func TestManager_CreateWorkspaceWorktree(t *testing.T) {
	m, _ := newManagerWithFake(t)

	ws, err := m.CreateWorkspace(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "safe-coder/t1", ws.BranchName)
	require.Equal(t, Worktree, ws.Kind)

	got, ok := m.Lookup("t1")
	require.True(t, ok)
	require.Same(t, ws, got)
}

func TestManager_CreateWorkspaceFailsWithoutInit(t *testing.T) {
	m := New("/repo", true)
	m.runner = newFakeRunner()
	_, err := m.CreateWorkspace(context.Background(), "t1")
	require.Error(t, err)
}

func TestManager_MergeWorkspaceConflictIsNonFatal(t *testing.T) {
	m, fr := newManagerWithFake(t)
	ws, err := m.CreateWorkspace(context.Background(), "t1")
	require.NoError(t, err)

	fr.on([]string{"git", "status", "--porcelain"}, fakeResult{})
	fr.on([]string{"git", "checkout", "main"}, fakeResult{})
	fr.on([]string{"git", "merge", "--no-edit", ws.BranchName}, fakeResult{stderr: "CONFLICT (content): merge conflict", err: errExit})

	err = m.MergeWorkspace(context.Background(), "t1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "manual resolution needed")

	// Workspace is retained for inspection.
	_, ok := m.Lookup("t1")
	require.True(t, ok)
}

func TestManager_MergeWorkspaceSuccess(t *testing.T) {
	m, fr := newManagerWithFake(t)
	ws, err := m.CreateWorkspace(context.Background(), "t1")
	require.NoError(t, err)

	fr.on([]string{"git", "status", "--porcelain"}, fakeResult{})
	fr.on([]string{"git", "checkout", "main"}, fakeResult{})
	fr.on([]string{"git", "merge", "--no-edit", ws.BranchName}, fakeResult{})

	require.NoError(t, m.MergeWorkspace(context.Background(), "t1"))
}

func TestManager_CleanupWorkspaceIgnoresAbsence(t *testing.T) {
	m, _ := newManagerWithFake(t)
	require.NoError(t, m.CleanupWorkspace(context.Background(), "does-not-exist"))
}

func TestManager_CleanupWorkspaceRemovesEntry(t *testing.T) {
	m, _ := newManagerWithFake(t)
	_, err := m.CreateWorkspace(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, m.CleanupWorkspace(context.Background(), "t1"))
	_, ok := m.Lookup("t1")
	require.False(t, ok)
}

var errExit = &fakeExitError{}

type fakeExitError struct{}

func (e *fakeExitError) Error() string { return "exit status 1" }
