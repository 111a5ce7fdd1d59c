package containerruntime

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
)

// Client abstracts the subset of the Docker SDK ContainerRuntime needs,
// so tests can substitute a function-field mock instead of a live
// daemon connection.
type Client interface {
	Ping(ctx context.Context) error
	ServerVersion(ctx context.Context) (string, error)
	ImageList(ctx context.Context) ([]string, error)
	ImagePull(ctx context.Context, ref string) (io.ReadCloser, error)

	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerInspect(ctx context.Context, id string) (ContainerInfo, error)
	ContainerRemove(ctx context.Context, id string, force bool) error

	ContainerExecCreate(ctx context.Context, id string, cfg container.ExecOptions) (string, error)
	ContainerExecAttach(ctx context.Context, execID string) (Hijacked, error)
	ContainerExecStart(ctx context.Context, execID string) error
	ContainerExecInspect(ctx context.Context, execID string) (int, error)

	// CopyToContainer extracts a tar stream into dstPath inside the
	// container, the same primitive `docker cp` itself uses.
	CopyToContainer(ctx context.Context, id string, dstPath string, content io.Reader) error

	Close() error
}

// ContainerInfo is the subset of docker inspect output containerruntime
// needs: whether the container exists, its status, and its published
// container-port -> host-port bindings.
type ContainerInfo struct {
	Exists bool
	Status string
	Ports  map[int]int
}

// Hijacked is the attached stdin/stdout/stderr stream of a running exec.
type Hijacked interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close()
}

// fixed identifiers referenced by Create; not configurable, per spec
// §4.1's pinned-mounts contract.
const (
	hostAuthMountPath    = "/companion-auth-ro"
	runtimeAuthMountPath = "/companion-auth"
	workspaceMountPath   = "/workspace"
)
