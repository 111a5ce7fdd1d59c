// Package gitruntime wraps git CLI invocations behind the operations
// CreationPipeline and session lifecycle need: repo discovery, worktree
// add/remove, fetch/pull, and branch checkout. Every invocation goes
// through command.SafeBuilder so no shell string is ever built from a
// caller-supplied branch name or path.
package gitruntime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/grovetools/companion/command"
	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/logging"
)

var log = logging.NewLogger("gitruntime")

// RepoInfo describes a discovered repository; nil when path is not
// inside a git repository.
type RepoInfo struct {
	RepoRoot      string
	DefaultBranch string
	CurrentBranch string
}

// EnsureWorktreeOptions configures EnsureWorktree.
type EnsureWorktreeOptions struct {
	BaseBranch   string
	CreateBranch bool
	ForceNew     bool
}

// EnsureWorktreeResult is EnsureWorktree's outcome. ActualBranch records
// the concrete branch the worktree is pinned to; it differs from the
// requested branch only when ForceNew synthesized a derived name.
type EnsureWorktreeResult struct {
	WorktreePath string
	ActualBranch string
}

// FetchResult is the outcome of a non-fatal network operation.
type FetchResult struct {
	Success bool
	Output  string
}

// RemoveWorktreeOptions configures RemoveWorktree.
type RemoveWorktreeOptions struct {
	Force          bool
	BranchToDelete string
}

// RemoveWorktreeResult is RemoveWorktree's outcome.
type RemoveWorktreeResult struct {
	Removed bool
}

// CheckoutOptions configures CheckoutOrCreateBranch.
type CheckoutOptions struct {
	CreateBranch  bool
	DefaultBranch string
}

var gitRefPattern = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

// Runtime executes git operations via the system git binary.
type Runtime struct {
	cmdBuilder *command.SafeBuilder
}

// New creates a Runtime using the real process executor.
func New() *Runtime {
	return &Runtime{cmdBuilder: command.NewSafeBuilder()}
}

// NewWithExecutor creates a Runtime using a custom command.Executor, for tests.
func NewWithExecutor(exec command.Executor) *Runtime {
	return &Runtime{cmdBuilder: command.NewSafeBuilderWithExecutor(exec)}
}

func (r *Runtime) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd, err := r.cmdBuilder.Build(ctx, "git", args...)
	if err != nil {
		return "", err
	}
	execCmd := cmd.Exec()
	execCmd.Dir = dir
	output, err := execCmd.Output()
	return strings.TrimSpace(string(output)), err
}

// RepoInfo discovers the repo root, default branch, and current branch
// for path. Returns nil, nil if path is not inside a git repository.
func (r *Runtime) RepoInfo(ctx context.Context, path string) (*RepoInfo, error) {
	root, err := r.git(ctx, path, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, nil
	}

	current, err := r.git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "reading current branch")
	}

	defaultBranch := r.discoverDefaultBranch(ctx, root)

	return &RepoInfo{RepoRoot: root, DefaultBranch: defaultBranch, CurrentBranch: current}, nil
}

func (r *Runtime) discoverDefaultBranch(ctx context.Context, root string) string {
	if ref, err := r.git(ctx, root, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		return strings.TrimPrefix(ref, "refs/remotes/origin/")
	}
	return "main"
}

// EnsureWorktree creates (or locates) a worktree for branch under
// repoRoot/.companion-worktrees, per spec §4.2.
func (r *Runtime) EnsureWorktree(ctx context.Context, repoRoot, branch string, opts EnsureWorktreeOptions) (*EnsureWorktreeResult, error) {
	if err := validateGitRef(branch); err != nil {
		return nil, errors.InvalidInput("branch", err.Error())
	}

	actualBranch := branch
	if opts.ForceNew {
		actualBranch = fmt.Sprintf("%s-%s", branch, randomSuffix())
	}
	if err := validateGitRef(actualBranch); err != nil {
		return nil, errors.InvalidInput("branch", err.Error())
	}

	worktreesBaseDir := filepath.Join(repoRoot, ".companion-worktrees")
	worktreePath := filepath.Join(worktreesBaseDir, sanitizeForPath(actualBranch))

	if err := os.MkdirAll(worktreesBaseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "creating worktrees base directory")
	}

	if _, err := os.Stat(worktreePath); err == nil {
		return &EnsureWorktreeResult{WorktreePath: worktreePath, ActualBranch: actualBranch}, nil
	}

	args := []string{"worktree", "add"}
	if opts.CreateBranch {
		args = append(args, "-b", actualBranch, worktreePath)
		if opts.BaseBranch != "" {
			args = append(args, opts.BaseBranch)
		}
	} else {
		args = append(args, worktreePath, actualBranch)
	}

	if out, err := r.git(ctx, repoRoot, args...); err != nil {
		return nil, errors.Wrap(err, errors.KindFatal, fmt.Sprintf("git worktree add failed: %s", out))
	}

	return &EnsureWorktreeResult{WorktreePath: worktreePath, ActualBranch: actualBranch}, nil
}

// Fetch runs `git fetch`; network failure is logged and reported, never
// returned as an error.
func (r *Runtime) Fetch(ctx context.Context, repoRoot string) FetchResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := r.git(ctx, repoRoot, "fetch")
	if err != nil {
		log.WithField("repoRoot", repoRoot).WithError(err).Warn("git fetch failed (non-fatal)")
		return FetchResult{Success: false, Output: out}
	}
	return FetchResult{Success: true, Output: out}
}

// Pull runs `git pull`; network failure is logged and reported, never
// returned as an error.
func (r *Runtime) Pull(ctx context.Context, repoRoot string) FetchResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := r.git(ctx, repoRoot, "pull")
	if err != nil {
		log.WithField("repoRoot", repoRoot).WithError(err).Warn("git pull failed (non-fatal)")
		return FetchResult{Success: false, Output: out}
	}
	return FetchResult{Success: true, Output: out}
}

// CheckoutOrCreateBranch checks out branch, creating it off
// opts.DefaultBranch if it doesn't exist yet and opts.CreateBranch is
// set. Fails only if both the checkout and the create-on-checkout path
// fail.
func (r *Runtime) CheckoutOrCreateBranch(ctx context.Context, repoRoot, branch string, opts CheckoutOptions) error {
	if err := validateGitRef(branch); err != nil {
		return errors.InvalidInput("branch", err.Error())
	}

	if _, err := r.git(ctx, repoRoot, "checkout", branch); err == nil {
		return nil
	}

	if !opts.CreateBranch {
		return errors.New(errors.KindFatal, fmt.Sprintf("checkout %s failed and createBranch is false", branch))
	}

	base := opts.DefaultBranch
	if base == "" {
		base = "HEAD"
	}
	if out, err := r.git(ctx, repoRoot, "checkout", "-b", branch, base); err != nil {
		return errors.Wrap(err, errors.KindFatal, fmt.Sprintf("checkout -b %s failed: %s", branch, out))
	}
	return nil
}

// IsWorktreeDirty reports whether path has uncommitted changes.
func (r *Runtime) IsWorktreeDirty(ctx context.Context, path string) (bool, error) {
	out, err := r.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, errors.Wrap(err, errors.KindInternal, "git status failed")
	}
	return strings.TrimSpace(out) != "", nil
}

// RemoveWorktree removes the worktree at path. A dirty worktree without
// Force returns {Removed: false}; on successful removal, a
// companion-created derived branch (BranchToDelete) is deleted too.
func (r *Runtime) RemoveWorktree(ctx context.Context, repoRoot, path string, opts RemoveWorktreeOptions) (*RemoveWorktreeResult, error) {
	if !opts.Force {
		dirty, err := r.IsWorktreeDirty(ctx, path)
		if err != nil {
			return nil, err
		}
		if dirty {
			return &RemoveWorktreeResult{Removed: false}, nil
		}
	}

	args := []string{"worktree", "remove"}
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, path)

	if out, err := r.git(ctx, repoRoot, args...); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, fmt.Sprintf("git worktree remove failed: %s", out))
	}

	if opts.BranchToDelete != "" {
		if out, err := r.git(ctx, repoRoot, "branch", "-D", opts.BranchToDelete); err != nil {
			log.WithField("branch", opts.BranchToDelete).WithError(err).Warn("failed to delete derived branch: " + out)
		}
	}

	return &RemoveWorktreeResult{Removed: true}, nil
}

func validateGitRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("git ref cannot be empty")
	}
	if !gitRefPattern.MatchString(ref) {
		return fmt.Errorf("invalid git ref: %s", ref)
	}
	return nil
}

func sanitizeForPath(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

func randomSuffix() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
