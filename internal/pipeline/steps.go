package pipeline

import (
	"context"
	"fmt"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/internal/containerruntime"
	"github.com/grovetools/companion/internal/gitruntime"
	"github.com/grovetools/companion/pkg/models"
)

func (p *Pipeline) stepResolveEnv(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	r.Progress(StepResolvingEnv, "resolving_env", StatusInProgress, "")

	profile := EnvironmentProfile{}
	if st.req.Profile != "" {
		if p.Resolver == nil {
			return errors.NotFound("environment profile", st.req.Profile)
		}
		resolved, ok := p.Resolver.Resolve(st.req.Profile)
		if !ok {
			return errors.NotFound("environment profile", st.req.Profile)
		}
		profile = *resolved
	}

	st.profile = MergeProfile(profile, st.req.Overrides)
	r.Progress(StepResolvingEnv, "resolving_env", StatusDone, "")
	return nil
}

// stepGit implements spec step 2: pick exactly one of
// creating_worktree or fetching_git→checkout_branch→pulling_git based
// on UseWorktree. Git failures are logged and non-fatal; the pipeline
// proceeds with whatever branch state resulted.
func (p *Pipeline) stepGit(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	if st.req.RepoRoot == "" {
		return nil
	}

	info, err := p.Git.RepoInfo(ctx, st.req.RepoRoot)
	if err != nil {
		log.WithError(err).Warn("git: RepoInfo failed; proceeding without git state")
		return nil
	}
	st.repoInfo = info
	if info == nil {
		return nil
	}

	if st.req.UseWorktree && st.req.Branch != "" {
		r.Progress(StepCreatingWorktree, "creating_worktree", StatusInProgress, "")
		result, err := p.Git.EnsureWorktree(ctx, st.req.RepoRoot, st.req.Branch, gitruntime.EnsureWorktreeOptions{
			BaseBranch:   st.req.BaseBranch,
			CreateBranch: st.req.CreateBranch,
			ForceNew:     st.req.ForceNewWorktree,
		})
		if err != nil {
			log.WithError(err).Warn("git: EnsureWorktree failed; proceeding without a worktree")
			return nil
		}
		st.worktreePath = result.WorktreePath
		st.actualBranch = result.ActualBranch
		st.gitBranchUsed = result.ActualBranch
		r.Progress(StepCreatingWorktree, "creating_worktree", StatusDone, "")
		return nil
	}

	r.Progress(StepFetchingGit, "fetching_git", StatusInProgress, "")
	fetch := p.Git.Fetch(ctx, st.req.RepoRoot)
	if !fetch.Success {
		log.Warn("git: fetch failed; proceeding with current branch")
	}
	r.Progress(StepFetchingGit, "fetching_git", StatusDone, "")

	if st.req.Branch != "" {
		r.Progress(StepCheckoutBranch, "checkout_branch", StatusInProgress, "")
		if err := p.Git.CheckoutOrCreateBranch(ctx, st.req.RepoRoot, st.req.Branch, gitruntime.CheckoutOptions{
			CreateBranch: st.req.CreateBranch,
			DefaultBranch: info.DefaultBranch,
		}); err != nil {
			log.WithError(err).Warn("git: checkout/create branch failed; proceeding with current branch")
		} else {
			st.gitBranchUsed = st.req.Branch
		}
		r.Progress(StepCheckoutBranch, "checkout_branch", StatusDone, "")
	} else {
		st.gitBranchUsed = info.CurrentBranch
	}

	r.Progress(StepPullingGit, "pulling_git", StatusInProgress, "")
	pull := p.Git.Pull(ctx, st.req.RepoRoot)
	if !pull.Success {
		log.Warn("git: pull failed; proceeding with current branch")
	}
	r.Progress(StepPullingGit, "pulling_git", StatusDone, "")
	return nil
}

func (p *Pipeline) stepPullImage(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	if st.profile.Image == "" {
		return nil
	}
	if p.Images == nil {
		return nil
	}

	r.Progress(StepPullingImage, "pulling_image", StatusInProgress, "")

	p.Images.EnsureImage(ctx, st.profile.Image)

	unsubscribe := p.Images.OnProgress(st.profile.Image, func(line string) {
		r.Progress(StepPullingImage, "pulling_image", StatusInProgress, line)
	})
	defer unsubscribe()

	if !p.Images.WaitForReady(ctx, st.profile.Image, defaultImageReadyDeadline) {
		_, errMsg := p.Images.State(st.profile.Image)
		return errors.BackendUnavailable(fmt.Sprintf("image %s (%s)", st.profile.Image, errMsg))
	}
	r.Progress(StepPullingImage, "pulling_image", StatusDone, "")
	return nil
}

func (p *Pipeline) stepCreateContainer(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	if st.profile.Image == "" {
		// No container requested: the backend runs directly on the host.
		return nil
	}

	r.Progress(StepCreatingContainer, "creating_container", StatusInProgress, "")

	if err := validateAuthMaterials(st.req); err != nil {
		return errors.FatalStep("creating_container", err)
	}

	ports := append([]int{}, st.profile.Ports...)
	ports = appendUniquePort(ports, p.editorPort)
	if st.req.Backend == models.BackendCodex {
		ports = appendUniquePort(ports, p.appServerPort)
	}

	hostCwd := st.req.HostCwd
	if st.worktreePath != "" {
		hostCwd = st.worktreePath
	}

	placeholderID := models.NewID()
	st.placeholderSessionID = placeholderID
	handle, err := p.Container.Create(ctx, placeholderID, hostCwd, containerruntime.CreateConfig{
		Image:   st.profile.Image,
		Ports:   ports,
		Volumes: st.profile.Volumes,
		Env:     st.profile.Env,
	})
	if err != nil {
		return errors.FatalStep("creating_container", err)
	}

	st.containerID = handle.ID
	st.handle = handle
	st.containerCreated = true
	r.Progress(StepCreatingContainer, "creating_container", StatusDone, "")
	return nil
}

// validateAuthMaterials rejects a backend kind other than claude or
// codex before a container is created. It does not check that an API
// key environment variable or a host auth directory is present; a known
// backend kind passes whether or not that material exists.
func validateAuthMaterials(req CreateRequest) error {
	switch req.Backend {
	case models.BackendClaude, models.BackendCodex:
		return nil
	default:
		return fmt.Errorf("unknown backend kind %q", req.Backend)
	}
}

func appendUniquePort(ports []int, port int) []int {
	if port == 0 {
		return ports
	}
	for _, p := range ports {
		if p == port {
			return ports
		}
	}
	return append(ports, port)
}
