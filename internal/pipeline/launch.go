package pipeline

import (
	"context"
	"time"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/pkg/models"
)

func (p *Pipeline) stepLaunchCLI(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	r.Progress(StepLaunchingCLI, "launching_cli", StatusInProgress, "")

	cwd := st.req.HostCwd
	if st.worktreePath != "" {
		cwd = st.worktreePath
	}
	if st.containerID != "" {
		// The backend CLI always sees the fixed in-container mount point,
		// never the host path, once it's running inside a container.
		cwd = models.ContainerWorkspacePath
	}

	var appServerHostPort int
	if st.containerID != "" && st.handle != nil {
		appServerHostPort = st.handle.Ports[p.appServerPort]
	}

	adapter, err := p.Launcher.Launch(ctx, LaunchRequest{
		Backend:           st.req.Backend,
		Model:             st.req.Model,
		PermissionMode:    st.req.PermissionMode,
		Cwd:               cwd,
		AllowedTools:      st.req.AllowedTools,
		Env:               st.profile.Env,
		ResumeSessionID:   st.req.ResumeSessionID,
		ForkSessionID:     st.req.ForkSessionID,
		ContainerID:       st.containerID,
		AppServerHostPort: appServerHostPort,
	})
	if err != nil {
		return errors.FatalStep("launching_cli", err)
	}

	st.adapter = adapter
	r.Progress(StepLaunchingCLI, "launching_cli", StatusDone, "")
	return nil
}

func (p *Pipeline) stepBookkeeping(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	r.Progress(StepBookkeeping, "bookkeeping", StatusInProgress, "")

	sessionID := models.NewID()

	if st.containerID != "" {
		p.Container.Retrack(st.placeholderSessionID, sessionID)
		if st.handle != nil {
			st.handle.Name = "companion-" + sessionID
		}
	}

	sess := &models.Session{
		ID:        sessionID,
		Backend:   st.req.Backend,
		Cwd:       st.req.HostCwd,
		CreatedAt: timeNow(),
		Model:     st.req.Model,
		PermissionMode: st.req.PermissionMode,
		Live:      true,
	}
	if st.handle != nil {
		sess.ContainerID = &st.handle.ID
	}
	if st.worktreePath != "" {
		sess.WorktreePath = &st.worktreePath
		sess.GitBranch = st.actualBranch
	} else if st.gitBranchUsed != "" {
		sess.GitBranch = st.gitBranchUsed
	}
	if st.req.ForkSessionID != "" {
		forkedFrom := st.req.ForkSessionID
		sess.ParentSessionID = &forkedFrom
	}

	st.session = sess
	r.Progress(StepBookkeeping, "bookkeeping", StatusDone, "")
	return nil
}

// timeNow is a thin indirection so tests could substitute a fixed
// clock; production always uses the wall clock.
var timeNow = func() time.Time { return time.Now() }
