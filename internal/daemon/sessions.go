package daemon

import (
	"context"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/gitruntime"
	"github.com/grovetools/companion/internal/pipeline"
	"github.com/grovetools/companion/internal/wsbridge"
	"github.com/grovetools/companion/pkg/models"
	"github.com/grovetools/companion/pkg/paths"
)

// CreateSessionRequest is the decoded body of POST /sessions/create
// and /sessions/create-stream.
type CreateSessionRequest struct {
	Profile          string                     `json:"profile,omitempty"`
	UseWorktree      bool                       `json:"useWorktree,omitempty"`
	RepoRoot         string                     `json:"repoRoot,omitempty"`
	Branch           string                     `json:"branch,omitempty"`
	BaseBranch       string                     `json:"baseBranch,omitempty"`
	CreateBranch     bool                       `json:"createBranch,omitempty"`
	ForceNewWorktree bool                       `json:"forceNewWorktree,omitempty"`
	HostCwd          string                     `json:"hostCwd,omitempty"`
	Backend          models.BackendKind         `json:"backend"`
	Model            string                     `json:"model,omitempty"`
	PermissionMode   string                     `json:"permissionMode,omitempty"`
	AllowedTools     []string                   `json:"allowedTools,omitempty"`
	Overrides        pipeline.EnvironmentProfile `json:"overrides,omitempty"`
	ResumeSessionID  string                     `json:"resumeSessionId,omitempty"`
	ForkSessionID    string                     `json:"forkSessionId,omitempty"`
}

func (r CreateSessionRequest) toCreateRequest() pipeline.CreateRequest {
	return pipeline.CreateRequest{
		Profile:          r.Profile,
		UseWorktree:      r.UseWorktree,
		RepoRoot:         r.RepoRoot,
		Branch:           r.Branch,
		BaseBranch:       r.BaseBranch,
		CreateBranch:     r.CreateBranch,
		ForceNewWorktree: r.ForceNewWorktree,
		HostCwd:          r.HostCwd,
		Backend:          r.Backend,
		Model:            r.Model,
		PermissionMode:   r.PermissionMode,
		AllowedTools:     r.AllowedTools,
		Overrides:        r.Overrides,
		ResumeSessionID:  r.ResumeSessionID,
		ForkSessionID:    r.ForkSessionID,
	}
}

// CreateSession runs CreationPipeline, registers the resulting
// bridge/adapter pair as live, persists the session and (if any)
// worktree mapping, and returns the session record.
func (d *Daemon) CreateSession(ctx context.Context, req CreateSessionRequest, reporter pipeline.ProgressReporter) (*models.Session, error) {
	result, err := d.Pipeline.Run(ctx, req.toCreateRequest(), reporter)
	if err != nil {
		return nil, err
	}

	if err := d.Sessions.Upsert(result.Session); err != nil {
		log.WithError(err).Warn("failed to persist new session")
	}
	if result.Worktree != nil {
		if err := d.Worktrees.Upsert(result.Worktree); err != nil {
			log.WithError(err).Warn("failed to persist worktree mapping")
		}
	}
	if result.Container != nil {
		if err := d.Containers.Persist(paths.ContainersFile()); err != nil {
			log.WithError(err).Warn("failed to persist containers.json")
		}
	}

	d.startBridge(result.Session, result.Adapter)
	return result.Session, nil
}

// startBridge constructs a Bridge for an adapter already attached to
// a live backend, runs its fan-in loop in its own goroutine, and
// tracks it as the session's live pair.
func (d *Daemon) startBridge(sess *models.Session, adapter backendadapter.Adapter) {
	containerCwd := ""
	if sess.ContainerID != nil {
		containerCwd = models.ContainerWorkspacePath
	}
	bridge := wsbridge.New(sess.ID, adapter, d.Plugins, hostCwdFor(sess), containerCwd)

	runCtx, cancel := context.WithCancel(context.Background())
	d.trackLive(sess.ID, &liveSession{bridge: bridge, adapter: adapter, cancel: cancel})
	sess.Live = true

	go bridge.Run(runCtx)
}

// KillSession implements §5's kill-session cancellation sequence:
// cancel the bridge's context (which stops fan-in and fan-out), close
// the backend adapter, and mark the session dormant. The bridge itself
// resolves outstanding permissions as cancelled and closes subscriber
// sockets with a normal close as part of its own shutdown path.
func (d *Daemon) KillSession(ctx context.Context, sessionID string) error {
	ls, ok := d.untrackLive(sessionID)
	if !ok {
		return errors.NotFound("session", sessionID)
	}
	ls.cancel()
	_ = ls.adapter.Close()

	sess := d.Sessions.Get(sessionID)
	if sess != nil {
		sess.Live = false
		if err := d.Sessions.Upsert(sess); err != nil {
			log.WithError(err).Warn("failed to persist session after kill")
		}
	}

	if sess != nil && sess.ContainerID != nil {
		if err := d.Containers.Remove(ctx, sessionID); err != nil {
			log.WithError(err).Warn("failed to remove container on kill")
		}
	}
	return nil
}

// ArchiveSession marks a session archived. A live session is killed
// first — an archived session is never live.
func (d *Daemon) ArchiveSession(ctx context.Context, sessionID string) error {
	if _, ok := d.untrackLiveUnlocked(sessionID); ok {
		if err := d.KillSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return d.Sessions.Archive(sessionID)
}

// untrackLiveUnlocked peeks at liveness without removing, for
// ArchiveSession's pre-check.
func (d *Daemon) untrackLiveUnlocked(sessionID string) (*liveSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ls, ok := d.live[sessionID]
	return ls, ok
}

// UnarchiveSession clears a session's archived flag without relaunching it.
func (d *Daemon) UnarchiveSession(sessionID string) error {
	sess := d.Sessions.Get(sessionID)
	if sess == nil {
		return errors.NotFound("session", sessionID)
	}
	sess.Archived = false
	return d.Sessions.Upsert(sess)
}

// RelaunchSession reruns the creation pipeline for a dormant session
// against its recorded cwd (or worktree path), forking from its last
// known history, and re-registers a bridge for it under the same id.
// The session's recorded container id is not passed to the pipeline.
func (d *Daemon) RelaunchSession(ctx context.Context, sessionID string, reporter pipeline.ProgressReporter) (*models.Session, error) {
	sess := d.Sessions.Get(sessionID)
	if sess == nil {
		return nil, errors.NotFound("session", sessionID)
	}
	if sess.IsLive() {
		return nil, errors.PreconditionFailed("session is already live")
	}

	req := pipeline.CreateRequest{
		HostCwd:         sess.Cwd,
		Backend:         sess.Backend,
		Model:           sess.Model,
		PermissionMode:  sess.PermissionMode,
		ForkSessionID:   sessionID,
	}
	if sess.WorktreePath != nil {
		req.UseWorktree = true
		req.HostCwd = *sess.WorktreePath
	}

	result, err := d.Pipeline.Run(ctx, req, reporter)
	if err != nil {
		return nil, err
	}

	result.Session.ID = sess.ID
	result.Session.Name = sess.Name
	if err := d.Sessions.Upsert(result.Session); err != nil {
		log.WithError(err).Warn("failed to persist relaunched session")
	}
	d.startBridge(result.Session, result.Adapter)
	return result.Session, nil
}

// RenameSession sets a session's display name.
func (d *Daemon) RenameSession(sessionID, name string) error {
	sess := d.Sessions.Get(sessionID)
	if sess == nil {
		return errors.NotFound("session", sessionID)
	}
	sess.Name = name
	return d.Sessions.Upsert(sess)
}

// DeleteSession removes a session permanently: kills it if live,
// removes its worktree mapping, and deletes the worktree directory
// itself unless a sibling session still references it.
func (d *Daemon) DeleteSession(ctx context.Context, sessionID string) error {
	if _, ok := d.untrackLiveUnlocked(sessionID); ok {
		if err := d.KillSession(ctx, sessionID); err != nil {
			log.WithError(err).Warn("failed to kill session before delete")
		}
	}

	if mapping := d.Worktrees.Get(sessionID); mapping != nil {
		if err := d.Worktrees.RemoveBySession(sessionID); err != nil {
			log.WithError(err).Warn("failed to remove worktree mapping")
		}
		if !d.Worktrees.InUse(mapping.WorktreePath, sessionID) {
			if _, err := d.Git.RemoveWorktree(ctx, mapping.RepoRoot, mapping.WorktreePath, gitruntime.RemoveWorktreeOptions{}); err != nil {
				log.WithError(err).Warn("failed to remove worktree directory on session delete")
			}
		}
	}

	return d.Sessions.Delete(sessionID)
}
