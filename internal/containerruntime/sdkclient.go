package containerruntime

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
)

// SDKClient implements Client against a live Docker daemon, discovering
// the socket the way the teacher's docker.NewSDKClient does: respect
// DOCKER_HOST if set, else probe the common Colima/Docker Desktop
// socket locations.
type SDKClient struct {
	cli *dockerclient.Client
}

// NewSDKClient connects to the first reachable Docker socket.
func NewSDKClient() (*SDKClient, error) {
	if os.Getenv("DOCKER_HOST") != "" {
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create docker client from DOCKER_HOST: %w", err)
		}
		return &SDKClient{cli: cli}, nil
	}

	homeDir, _ := os.UserHomeDir()
	socketPaths := []string{
		fmt.Sprintf("unix://%s/.config/colima/default/docker.sock", homeDir),
		"unix:///var/run/docker.sock",
		fmt.Sprintf("unix://%s/.docker/run/docker.sock", homeDir),
		fmt.Sprintf("unix://%s/.colima/default/docker.sock", homeDir),
	}

	var lastErr error
	for _, socketPath := range socketPaths {
		cli, err := dockerclient.NewClientWithOpts(
			dockerclient.WithHost(socketPath),
			dockerclient.WithAPIVersionNegotiation(),
		)
		if err != nil {
			lastErr = err
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()
		if err == nil {
			return &SDKClient{cli: cli}, nil
		}
		cli.Close()
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect to Docker daemon: %w", lastErr)
}

func (c *SDKClient) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

func (c *SDKClient) ServerVersion(ctx context.Context) (string, error) {
	v, err := c.cli.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	return v.Version, nil
}

func (c *SDKClient) ImageList(ctx context.Context) ([]string, error) {
	images, err := c.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(images))
	for _, img := range images {
		names = append(names, img.RepoTags...)
	}
	return names, nil
}

func (c *SDKClient) ImagePull(ctx context.Context, ref string) (io.ReadCloser, error) {
	return c.cli.ImagePull(ctx, ref, image.PullOptions{})
}

func (c *SDKClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *SDKClient) ContainerStart(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *SDKClient) ContainerInspect(ctx context.Context, id string) (ContainerInfo, error) {
	info, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return ContainerInfo{Exists: false}, nil
		}
		return ContainerInfo{}, err
	}

	result := ContainerInfo{Exists: true, Ports: make(map[int]int)}
	if info.State != nil {
		result.Status = info.State.Status
	}
	if info.NetworkSettings != nil {
		for containerPort, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			hostPort, err := strconv.Atoi(bindings[0].HostPort)
			if err != nil {
				continue
			}
			result.Ports[containerPort.Int()] = hostPort
		}
	}
	return result, nil
}

func (c *SDKClient) ContainerRemove(ctx context.Context, id string, force bool) error {
	err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil && dockerclient.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (c *SDKClient) ContainerExecCreate(ctx context.Context, id string, cfg container.ExecOptions) (string, error) {
	resp, err := c.cli.ContainerExecCreate(ctx, id, cfg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *SDKClient) ContainerExecAttach(ctx context.Context, execID string) (Hijacked, error) {
	resp, err := c.cli.ContainerExecAttach(ctx, execID, container.ExecStartOptions{})
	if err != nil {
		return nil, err
	}
	return hijackedConn{resp}, nil
}

func (c *SDKClient) ContainerExecStart(ctx context.Context, execID string) error {
	return c.cli.ContainerExecStart(ctx, execID, container.ExecStartOptions{})
}

func (c *SDKClient) ContainerExecInspect(ctx context.Context, execID string) (int, error) {
	info, err := c.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return 0, err
	}
	return info.ExitCode, nil
}

func (c *SDKClient) CopyToContainer(ctx context.Context, id string, dstPath string, content io.Reader) error {
	return c.cli.CopyToContainer(ctx, id, dstPath, content, container.CopyToContainerOptions{})
}

func (c *SDKClient) Close() error {
	return c.cli.Close()
}

// hijackedConn adapts the Docker SDK's types.HijackedResponse (whose
// Reader and Conn are separate fields) to the single Hijacked
// interface containerruntime depends on.
type hijackedConn struct {
	resp types.HijackedResponse
}

func (h hijackedConn) Read(p []byte) (int, error)  { return h.resp.Reader.Read(p) }
func (h hijackedConn) Write(p []byte) (int, error) { return h.resp.Conn.Write(p) }
func (h hijackedConn) CloseWrite() error           { return h.resp.CloseWrite() }
func (h hijackedConn) Close()                      { h.resp.Close() }
