// Package containerruntime implements ContainerRuntime: create/start/
// exec/remove of per-session containers, output streaming, and an
// atomically-persisted tracked set restored on daemon boot.
package containerruntime

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"

	"encoding/json"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/atomicfile"
	"github.com/grovetools/companion/pkg/models"
)

var log = logging.NewLogger("containerruntime")

// AliveState is the result of Alive.
type AliveState string

const (
	AliveRunning AliveState = "running"
	AliveStopped AliveState = "stopped"
	AliveMissing AliveState = "missing"
)

// VolumeMount is an extra bind mount requested by the caller, beyond
// the runtime's pinned mounts.
type VolumeMount struct {
	HostPath      string `json:"hostPath" yaml:"hostPath"`
	ContainerPath string `json:"containerPath" yaml:"containerPath"`
	ReadOnly      bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// CreateConfig configures Create.
type CreateConfig struct {
	Image         string
	Ports         []int
	Volumes       []VolumeMount
	Env           map[string]string
	HostAuthDir   string // mounted read-only at hostAuthMountPath
	SeedFromFiles []string // auth/settings/skills files copied from HostAuthDir into the writable runtime auth dir
}

// ExecStreamingOptions configures ExecStreaming.
type ExecStreamingOptions struct {
	Timeout time.Duration
	OnLine  func(line string)
}

// ExecStreamingResult is ExecStreaming's outcome.
type ExecStreamingResult struct {
	ExitCode       int
	CombinedOutput string
}

// Runtime tracks and operates on per-session containers.
type Runtime struct {
	client Client

	mu       sync.Mutex
	handles  map[string]*models.ContainerHandle // keyed by session id
}

// New creates a Runtime backed by a live Docker daemon connection.
func New() (*Runtime, error) {
	cli, err := NewSDKClient()
	if err != nil {
		return nil, errors.BackendUnavailable("docker")
	}
	return NewWithClient(cli), nil
}

// NewWithClient creates a Runtime with an injected Client, for tests.
func NewWithClient(client Client) *Runtime {
	return &Runtime{client: client, handles: make(map[string]*models.ContainerHandle)}
}

// CheckAvailable reports whether the Docker daemon is reachable.
func (r *Runtime) CheckAvailable(ctx context.Context) bool {
	return r.client.Ping(ctx) == nil
}

// ImagePull satisfies imagepull.Puller, letting the Coordinator drive
// pulls through this Runtime's Docker connection.
func (r *Runtime) ImagePull(ctx context.Context, ref string) (io.ReadCloser, error) {
	return r.client.ImagePull(ctx, ref)
}

// Version returns the Docker daemon's version string, or "" if unreachable.
func (r *Runtime) Version(ctx context.Context) string {
	v, err := r.client.ServerVersion(ctx)
	if err != nil {
		return ""
	}
	return v
}

// ListImages returns locally available image references.
func (r *Runtime) ListImages(ctx context.Context) ([]string, error) {
	return r.client.ImageList(ctx)
}

// Create builds and starts a container for sessionID. Any sub-step
// failure tears down the partially created container.
func (r *Runtime) Create(ctx context.Context, sessionID, hostCwd string, cfg CreateConfig) (*models.ContainerHandle, error) {
	for _, p := range cfg.Ports {
		if p < 1 || p > 65535 {
			return nil, errors.InvalidInput("port", fmt.Sprintf("%d out of range 1..65535", p))
		}
	}

	name := "companion-" + sessionID
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, p := range cfg.Ports {
		natPort := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposedPorts[natPort] = struct{}{}
		portBindings[natPort] = []nat.PortBinding{{HostPort: ""}}
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: hostCwd, Target: workspaceMountPath},
		{Type: mount.TypeTmpfs, Target: runtimeAuthMountPath},
	}
	if cfg.HostAuthDir != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   cfg.HostAuthDir,
			Target:   hostAuthMountPath,
			ReadOnly: true,
		})
	}
	for _, v := range cfg.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		WorkingDir:   workspaceMountPath,
		ExposedPorts: exposedPorts,
		Labels:       map[string]string{"companion.managed": "true", "companion.session": sessionID},
	}
	hostCfg := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: portBindings,
		ExtraHosts:   []string{"host.docker.internal:host-gateway"},
	}

	id, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, name)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFatal, "container create failed")
	}

	if err := r.client.ContainerStart(ctx, id); err != nil {
		_ = r.client.ContainerRemove(ctx, id, true)
		return nil, errors.Wrap(err, errors.KindFatal, "container start failed")
	}

	if err := r.seedAuthFiles(ctx, id, cfg.SeedFromFiles); err != nil {
		_ = r.client.ContainerRemove(ctx, id, true)
		return nil, errors.Wrap(err, errors.KindFatal, "seeding auth files failed")
	}

	handle := models.NewContainerHandle(id, name, cfg.Image, hostCwd)
	handle.State = models.ContainerRunning
	if info, err := r.client.ContainerInspect(ctx, id); err == nil {
		for containerPort, hostPort := range info.Ports {
			handle.Ports[containerPort] = hostPort
		}
	}

	r.mu.Lock()
	r.handles[sessionID] = handle
	r.mu.Unlock()

	return handle, nil
}

// seedAuthFiles copies only the named auth/settings/skills files from
// the read-only host-auth mount into the writable runtime auth dir,
// explicitly not the full user home.
func (r *Runtime) seedAuthFiles(ctx context.Context, containerID string, files []string) error {
	for _, f := range files {
		src := hostAuthMountPath + "/" + f
		dst := runtimeAuthMountPath + "/" + f
		if _, err := r.Exec(ctx, containerID, []string{"cp", "-f", src, dst}, 8*time.Second); err != nil {
			log.WithField("file", f).WithError(err).Warn("auth seed file missing or unreadable")
		}
	}
	return nil
}

// CopyFilesToContainer tars the named files (paths relative to
// hostRoot) and extracts the archive into the container's workspace
// mount, the same tar-stream primitive `docker cp` itself uses.
func (r *Runtime) CopyFilesToContainer(ctx context.Context, containerID, hostRoot string, files []string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, rel := range files {
		full := filepath.Join(hostRoot, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "stat file for workspace copy")
		}
		if !info.Mode().IsRegular() {
			continue
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "building tar header")
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return errors.Wrap(err, errors.KindInternal, "writing tar header")
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "reading file for workspace copy")
		}
		if _, err := tw.Write(data); err != nil {
			return errors.Wrap(err, errors.KindInternal, "writing tar body")
		}
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "closing tar archive")
	}

	if err := r.client.CopyToContainer(ctx, containerID, workspaceMountPath, &buf); err != nil {
		return errors.Wrap(err, errors.KindInternal, "copy to container failed")
	}
	return nil
}

// SeedGitAuth re-copies the fixed set of git credential files from the
// read-only host-auth mount into the writable runtime auth dir. Used
// after workspace copy, since some init scripts overwrite the runtime
// auth dir's contents.
func (r *Runtime) SeedGitAuth(ctx context.Context, containerID string) error {
	return r.seedAuthFiles(ctx, containerID, []string{".gitconfig", ".git-credentials"})
}

// Exec runs argv inside containerID and returns combined stdout+stderr,
// with a hard timeout distinguishable from a non-zero exit.
func (r *Runtime) Exec(ctx context.Context, containerID string, argv []string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execID, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          strslice.StrSlice(argv),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "exec create failed")
	}

	attach, err := r.client.ContainerExecAttach(ctx, execID)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "exec attach failed")
	}
	defer attach.Close()

	if err := r.client.ContainerExecStart(ctx, execID); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "exec start failed")
	}

	output, err := io.ReadAll(attach)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.OpTimeout("container exec", timeout.Milliseconds())
		}
		return "", errors.Wrap(err, errors.KindInternal, "reading exec output")
	}

	exitCode, err := r.client.ContainerExecInspect(ctx, execID)
	if err != nil {
		return string(output), errors.Wrap(err, errors.KindInternal, "exec inspect failed")
	}
	if exitCode != 0 {
		return string(output), errors.New(errors.KindInternal, fmt.Sprintf("command exited with code %d", exitCode)).WithDetail("exitCode", exitCode)
	}
	return string(output), nil
}

// ExecStreaming runs argv, surfacing each output line via opts.OnLine as
// it is produced.
func (r *Runtime) ExecStreaming(ctx context.Context, containerID string, argv []string, opts ExecStreamingOptions) (*ExecStreamingResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execID, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          strslice.StrSlice(argv),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "exec create failed")
	}

	attach, err := r.client.ContainerExecAttach(ctx, execID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "exec attach failed")
	}
	defer attach.Close()

	if err := r.client.ContainerExecStart(ctx, execID); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "exec start failed")
	}

	var combined []byte
	scanner := bufio.NewScanner(attach)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		combined = append(combined, line...)
		combined = append(combined, '\n')
		if opts.OnLine != nil {
			opts.OnLine(line)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, errors.OpTimeout("init script", timeout.Milliseconds())
	}

	exitCode, err := r.client.ContainerExecInspect(ctx, execID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "exec inspect failed")
	}

	return &ExecStreamingResult{ExitCode: exitCode, CombinedOutput: string(combined)}, nil
}

// Alive reports whether containerID is running, stopped, or missing.
func (r *Runtime) Alive(ctx context.Context, containerID string) (AliveState, error) {
	info, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return AliveMissing, errors.Wrap(err, errors.KindInternal, "inspect failed")
	}
	if !info.Exists {
		return AliveMissing, nil
	}
	if info.Status == "running" {
		return AliveRunning, nil
	}
	return AliveStopped, nil
}

// Retrack re-keys the tracking map once the real session id is known.
func (r *Runtime) Retrack(oldSessionID, newSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[oldSessionID]; ok {
		delete(r.handles, oldSessionID)
		r.handles[newSessionID] = h
	}
}

// Remove force-removes the container tracked for sessionID. Idempotent;
// remove failures are logged and swallowed.
func (r *Runtime) Remove(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	handle, ok := r.handles[sessionID]
	if ok {
		delete(r.handles, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := r.client.ContainerRemove(ctx, handle.ID, true); err != nil {
		log.WithField("containerId", handle.ID).WithError(err).Warn("container remove failed")
	}
	return nil
}

// RemoveAll force-removes every tracked container, for daemon shutdown.
// Individual failures are logged and do not stop the sweep.
func (r *Runtime) RemoveAll(ctx context.Context) {
	r.mu.Lock()
	sessionIDs := make([]string, 0, len(r.handles))
	for id := range r.handles {
		sessionIDs = append(sessionIDs, id)
	}
	r.mu.Unlock()

	for _, id := range sessionIDs {
		_ = r.Remove(ctx, id)
	}
}

// Persist writes the non-removed tracked handles to path as JSON.
func (r *Runtime) Persist(path string) error {
	r.mu.Lock()
	handles := make([]*models.ContainerHandle, 0, len(r.handles))
	for _, h := range r.handles {
		if h.State != models.ContainerRemoved {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].CreatedAt.Before(handles[j].CreatedAt) })

	data, err := json.MarshalIndent(handles, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encoding containers.json")
	}
	return atomicfile.Write(path, data, 0644)
}

// Restore loads handles from path and drops any that no longer exist
// in the runtime.
func (r *Runtime) Restore(ctx context.Context, path string) error {
	data, err := atomicfile.ReadOrEmpty(path)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "reading containers.json")
	}
	if data == nil {
		return nil
	}

	var handles []*models.ContainerHandle
	if err := json.Unmarshal(data, &handles); err != nil {
		log.Warn("containers.json is corrupt; treating as empty")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		info, err := r.client.ContainerInspect(ctx, h.ID)
		if err != nil || !info.Exists {
			continue
		}
		if info.Status == "running" {
			h.State = models.ContainerRunning
		} else {
			h.State = models.ContainerStopped
		}
		// handles are keyed by session id, but the persisted record has
		// only the container id; callers relink by calling Retrack once
		// sessions.json is loaded.
		r.handles[h.ID] = h
	}
	return nil
}
