// Package workspace implements the workspace manager (C3): git worktree
// lifecycle for isolating a task's changes on its own branch, merging it
// back into the parent branch on success, and cleaning up afterward.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/safe-coder/safe-coder/corerrors"
)

// Kind distinguishes a worktree-backed workspace from a plain branch
// checkout in the main tree.
type Kind int

const (
	// Worktree attaches a separate working directory via `git worktree`.
	Worktree Kind = iota
	// Branch checks out the task branch directly in the main tree.
	Branch
)

// Workspace describes one task's isolated git state.
type Workspace struct {
	TaskID       string
	Path         string
	BranchName   string
	ParentBranch string
	Kind         Kind
}

const branchPrefix = "safe-coder/"

// Manager owns every live Workspace for a project. A task_id maps to at
// most one live workspace at a time (invariant). The zero value is not
// usable; construct with New.
type Manager struct {
	projectRoot  string
	workspaceDir string
	useWorktrees bool
	runner       commandRunner

	mu           sync.Mutex
	parentBranch string
	workspaces   map[string]*Workspace
}

// commandRunner abstracts process execution so tests can stub git calls
// without touching a real repository.
type commandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// New constructs a Manager rooted at projectRoot. Worktrees are attached
// under <projectRoot>/.safe-coder-workspaces when useWorktrees is true;
// otherwise create_workspace checks out the task branch directly in the
// main tree.
func New(projectRoot string, useWorktrees bool) *Manager {
	return &Manager{
		projectRoot:  projectRoot,
		workspaceDir: filepath.Join(projectRoot, ".safe-coder-workspaces"),
		useWorktrees: useWorktrees,
		runner:       execRunner{},
		workspaces:   make(map[string]*Workspace),
	}
}

// Init confirms the project is a git repository and records the current
// branch as the parent branch. create_workspace fails if Init has not
// succeeded.
func (m *Manager) Init(ctx context.Context) error {
	out, _, err := m.runner.Run(ctx, m.projectRoot, "git", "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return &corerrors.WorkspaceFailureError{Reason: "not a git repository"}
	}
	branch, _, err := m.runner.Run(ctx, m.projectRoot, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return &corerrors.WorkspaceFailureError{Reason: "failed to determine current branch"}
	}
	m.mu.Lock()
	m.parentBranch = strings.TrimSpace(branch)
	m.mu.Unlock()
	return nil
}

// CreateWorkspace creates an isolated branch (and, when worktrees are
// enabled, a worktree) for taskID. It prunes stale worktrees and
// force-removes any prior directory/branch for this task first, so calling
// CreateWorkspace twice for the same taskID after a CleanupWorkspace
// succeeds and yields a fresh workspace.
func (m *Manager) CreateWorkspace(ctx context.Context, taskID string) (*Workspace, error) {
	m.mu.Lock()
	parent := m.parentBranch
	m.mu.Unlock()
	if parent == "" {
		return nil, &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: "workspace manager not initialized"}
	}

	branch := branchPrefix + taskID
	ws := &Workspace{TaskID: taskID, BranchName: branch, ParentBranch: parent, Kind: Branch}

	if m.useWorktrees {
		path := filepath.Join(m.workspaceDir, taskID)
		ws.Kind = Worktree
		ws.Path = path

		_, _, _ = m.runner.Run(ctx, m.projectRoot, "git", "worktree", "prune")
		_, _, _ = m.runner.Run(ctx, m.projectRoot, "git", "worktree", "remove", "--force", path)
		_ = os.RemoveAll(path)
		_, _, _ = m.runner.Run(ctx, m.projectRoot, "git", "branch", "-D", branch)

		if _, stderr, err := m.runner.Run(ctx, m.projectRoot, "git", "worktree", "add", "-b", branch, path, parent); err != nil {
			return nil, &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: fmt.Sprintf("git worktree add: %s", firstNonEmpty(stderr, err.Error()))}
		}
	} else {
		ws.Path = m.projectRoot
		if _, stderr, err := m.runner.Run(ctx, m.projectRoot, "git", "checkout", "-b", branch, parent); err != nil {
			return nil, &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: fmt.Sprintf("git checkout -b: %s", firstNonEmpty(stderr, err.Error()))}
		}
	}

	m.mu.Lock()
	m.workspaces[taskID] = ws
	m.mu.Unlock()
	return ws, nil
}

// MergeWorkspace stages and commits any dirty state in the workspace, then
// merges the task branch back into the parent branch with --no-edit. A
// merge conflict is surfaced as a non-fatal WorkspaceFailureError and the
// workspace is retained for manual resolution. Merging an already-merged
// workspace (no commits ahead of parent) is a no-op that returns success.
func (m *Manager) MergeWorkspace(ctx context.Context, taskID string) error {
	ws, ok := m.lookup(taskID)
	if !ok {
		return &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: "no live workspace"}
	}

	if dirty, _, _ := m.runner.Run(ctx, ws.Path, "git", "status", "--porcelain"); strings.TrimSpace(dirty) != "" {
		_, _, _ = m.runner.Run(ctx, ws.Path, "git", "add", "-A")
		if _, stderr, err := m.runner.Run(ctx, ws.Path, "git", "commit", "-m", "safe-coder: "+taskID); err != nil {
			return &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: fmt.Sprintf("commit: %s", firstNonEmpty(stderr, err.Error()))}
		}
	}

	mergeDir := m.projectRoot
	if _, _, err := m.runner.Run(ctx, mergeDir, "git", "checkout", ws.ParentBranch); err != nil {
		return &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: "checkout parent branch failed"}
	}
	if _, stderr, err := m.runner.Run(ctx, mergeDir, "git", "merge", "--no-edit", ws.BranchName); err != nil {
		if strings.Contains(stderr, "CONFLICT") {
			return &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: "manual resolution needed"}
		}
		return &corerrors.WorkspaceFailureError{TaskID: taskID, Reason: fmt.Sprintf("merge: %s", firstNonEmpty(stderr, err.Error()))}
	}
	return nil
}

// CleanupWorkspace force-removes the worktree and deletes the branch for
// taskID. It ignores absence: cleaning up a taskID with no live workspace
// succeeds silently.
func (m *Manager) CleanupWorkspace(ctx context.Context, taskID string) error {
	ws, ok := m.lookup(taskID)
	if !ok {
		return nil
	}
	if ws.Kind == Worktree {
		_, _, _ = m.runner.Run(ctx, m.projectRoot, "git", "worktree", "remove", "--force", ws.Path)
		_ = os.RemoveAll(ws.Path)
	}
	_, _, _ = m.runner.Run(ctx, m.projectRoot, "git", "branch", "-D", ws.BranchName)

	m.mu.Lock()
	delete(m.workspaces, taskID)
	m.mu.Unlock()
	return nil
}

// CleanupAll cleans up every remaining live workspace and restores the
// parent branch in the main tree.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	parent := m.parentBranch
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.CleanupWorkspace(ctx, id)
	}
	if parent != "" {
		_, _, _ = m.runner.Run(ctx, m.projectRoot, "git", "checkout", parent)
	}
	return nil
}

// Lookup returns the live Workspace for taskID, if any.
func (m *Manager) Lookup(taskID string) (*Workspace, bool) {
	return m.lookup(taskID)
}

func (m *Manager) lookup(taskID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[taskID]
	return ws, ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return "unknown error"
}
