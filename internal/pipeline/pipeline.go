// Package pipeline implements CreationPipeline: the ordered, resumable
// sequence that turns a creation request into a live session — resolve
// environment, prepare git state, pull the image, create the
// container, copy the workspace, run the init script, and launch the
// backend CLI.
package pipeline

import (
	"context"
	"time"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/containerruntime"
	"github.com/grovetools/companion/internal/gitruntime"
	"github.com/grovetools/companion/internal/imagepull"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/models"
)

var log = logging.NewLogger("pipeline")

// Step identifies one stage of the creation sequence.
type Step string

const (
	StepResolvingEnv     Step = "resolving_env"
	StepCreatingWorktree Step = "creating_worktree"
	StepFetchingGit      Step = "fetching_git"
	StepCheckoutBranch   Step = "checkout_branch"
	StepPullingGit       Step = "pulling_git"
	StepPullingImage     Step = "pulling_image"
	StepCreatingContainer Step = "creating_container"
	StepCopyingWorkspace Step = "copying_workspace"
	StepRunningInitScript Step = "running_init_script"
	StepLaunchingCLI     Step = "launching_cli"
	StepBookkeeping      Step = "bookkeeping"
)

// StepStatus is a step's reported state.
type StepStatus string

const (
	StatusInProgress StepStatus = "in_progress"
	StatusDone       StepStatus = "done"
	StatusError      StepStatus = "error"
)

// ProgressReporter receives step-by-step progress and the single fatal
// error that terminates the pipeline, if any.
type ProgressReporter interface {
	Progress(step Step, label string, status StepStatus, detail string)
	Error(msg string, httpStatus int, step Step)
}

// EnvironmentProfile is a named, reusable creation configuration.
type EnvironmentProfile struct {
	Image      string                         `json:"image,omitempty" yaml:"image,omitempty"`
	Ports      []int                          `json:"ports,omitempty" yaml:"ports,omitempty"`
	Volumes    []containerruntime.VolumeMount `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	InitScript string                         `json:"initScript,omitempty" yaml:"initScript,omitempty"`
	Env        map[string]string              `json:"env,omitempty" yaml:"env,omitempty"`
}

// Resolver resolves a named profile; the pipeline merges it with the
// request's per-call overrides.
type Resolver interface {
	Resolve(name string) (*EnvironmentProfile, bool)
}

// BackendLauncher hides the per-backend CLI invocation detail (argv
// construction, auth material wiring) behind one call so the pipeline
// doesn't need to know Claude from Codex beyond the BackendKind tag.
type BackendLauncher interface {
	Launch(ctx context.Context, req LaunchRequest) (backendadapter.Adapter, error)
}

// LaunchRequest carries everything a launcher needs to start and bridge
// a backend CLI process.
type LaunchRequest struct {
	Backend        models.BackendKind
	Model          string
	PermissionMode string
	Cwd            string
	AllowedTools   []string
	Env            map[string]string
	ResumeSessionID string
	ForkSessionID   string
	ContainerID     string // empty when not containerized

	// AppServerHostPort is the host-side port the app-server protocol
	// (Codex) was published on, when containerized; 0 otherwise.
	AppServerHostPort int
}

// CreateRequest is one call to the pipeline.
type CreateRequest struct {
	Profile         string
	UseWorktree     bool
	RepoRoot        string
	Branch          string
	BaseBranch      string
	CreateBranch    bool
	ForceNewWorktree bool
	HostCwd         string

	Backend        models.BackendKind
	Model          string
	PermissionMode string
	AllowedTools   []string

	Overrides EnvironmentProfile

	ResumeSessionID string
	ForkSessionID   string
}

// Result is what a successful run hands back to the caller.
type Result struct {
	Session   *models.Session
	Container *models.ContainerHandle
	Worktree  *models.WorktreeMapping
	Adapter   backendadapter.Adapter
}

const defaultImageReadyDeadline = 300 * time.Second

// Pipeline wires the runtimes CreationPipeline steps depend on.
type Pipeline struct {
	Git       *gitruntime.Runtime
	Container *containerruntime.Runtime
	Images    *imagepull.Coordinator
	Launcher  BackendLauncher
	Resolver  Resolver

	editorPort     int
	appServerPort  int
}

// New constructs a Pipeline. editorPort and appServerPort are the
// fixed ports CreationPipeline always adds to the requested set (the
// editor sidecar and, for WebSocket-protocol backends, the app-server
// proxy).
func New(git *gitruntime.Runtime, container *containerruntime.Runtime, images *imagepull.Coordinator, launcher BackendLauncher, resolver Resolver, editorPort, appServerPort int) *Pipeline {
	return &Pipeline{
		Git:           git,
		Container:     container,
		Images:        images,
		Launcher:      launcher,
		Resolver:      resolver,
		editorPort:    editorPort,
		appServerPort: appServerPort,
	}
}

// pipelineState accumulates what each step produces for later steps
// and for rollback.
type pipelineState struct {
	req     CreateRequest
	profile EnvironmentProfile

	repoInfo      *gitruntime.RepoInfo
	worktreePath  string
	actualBranch  string
	gitBranchUsed string

	containerID          string
	handle               *models.ContainerHandle
	placeholderSessionID string

	adapter backendadapter.Adapter
	session *models.Session

	containerCreated bool
}

type stepFunc func(ctx context.Context, st *pipelineState, r ProgressReporter) error

// Run executes the full step sequence, stopping at the first error and
// rolling back any container created after that point.
func (p *Pipeline) Run(ctx context.Context, req CreateRequest, r ProgressReporter) (*Result, error) {
	st := &pipelineState{req: req}

	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{StepResolvingEnv, p.stepResolveEnv},
		{StepCreatingWorktree, p.stepGit},
		{StepPullingImage, p.stepPullImage},
		{StepCreatingContainer, p.stepCreateContainer},
		{StepCopyingWorkspace, p.stepCopyWorkspace},
		{StepRunningInitScript, p.stepRunInitScript},
		{StepLaunchingCLI, p.stepLaunchCLI},
		{StepBookkeeping, p.stepBookkeeping},
	}

	// Each step reports its own in_progress/done transitions, and only
	// when it actually does work — a step that no-ops on a gated
	// precondition (no repo root, no image, no container) stays silent
	// rather than emitting a misleading done for work it never did.
	for _, s := range steps {
		if err := s.fn(ctx, st, r); err != nil {
			ce := errors.AsCompanionError(err)
			r.Error(ce.Message, errors.HTTPStatus(ce.Kind), s.step)
			p.rollback(ctx, st)
			return nil, err
		}
	}

	return &Result{
		Session:   st.session,
		Container: st.handle,
		Worktree:  worktreeMapping(st),
		Adapter:   st.adapter,
	}, nil
}

func worktreeMapping(st *pipelineState) *models.WorktreeMapping {
	if st.worktreePath == "" {
		return nil
	}
	return &models.WorktreeMapping{
		SessionID:       st.session.ID,
		RepoRoot:        st.req.RepoRoot,
		RequestedBranch: st.req.Branch,
		ActualBranch:    st.actualBranch,
		WorktreePath:    st.worktreePath,
		CreatedAt:       st.session.CreatedAt,
	}
}

// rollback removes any container created after the failing step. It
// never touches a worktree: a partially prepared worktree is left for
// the caller to inspect or clean up explicitly.
func (p *Pipeline) rollback(ctx context.Context, st *pipelineState) {
	if !st.containerCreated {
		return
	}
	if err := p.Container.Remove(ctx, st.placeholderSessionID); err != nil {
		log.WithError(err).Warn("rollback: failed to remove partially created container")
	}
}
