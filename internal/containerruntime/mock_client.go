package containerruntime

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
)

// MockClient is a function-field mock implementation of Client, used
// by tests that exercise Runtime without a live Docker daemon.
type MockClient struct {
	PingFunc                  func(ctx context.Context) error
	ServerVersionFunc         func(ctx context.Context) (string, error)
	ImageListFunc             func(ctx context.Context) ([]string, error)
	ImagePullFunc             func(ctx context.Context, ref string) (io.ReadCloser, error)
	ContainerCreateFunc       func(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error)
	ContainerStartFunc        func(ctx context.Context, id string) error
	ContainerInspectFunc      func(ctx context.Context, id string) (ContainerInfo, error)
	ContainerRemoveFunc       func(ctx context.Context, id string, force bool) error
	ContainerExecCreateFunc   func(ctx context.Context, id string, cfg container.ExecOptions) (string, error)
	ContainerExecAttachFunc  func(ctx context.Context, execID string) (Hijacked, error)
	ContainerExecStartFunc    func(ctx context.Context, execID string) error
	ContainerExecInspectFunc func(ctx context.Context, execID string) (int, error)
	CopyToContainerFunc      func(ctx context.Context, id string, dstPath string, content io.Reader) error
	CloseFunc                func() error
}

func (m *MockClient) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockClient) ServerVersion(ctx context.Context) (string, error) {
	if m.ServerVersionFunc != nil {
		return m.ServerVersionFunc(ctx)
	}
	return "", nil
}

func (m *MockClient) ImageList(ctx context.Context) ([]string, error) {
	if m.ImageListFunc != nil {
		return m.ImageListFunc(ctx)
	}
	return nil, nil
}

func (m *MockClient) ImagePull(ctx context.Context, ref string) (io.ReadCloser, error) {
	if m.ImagePullFunc != nil {
		return m.ImagePullFunc(ctx, ref)
	}
	return io.NopCloser(nil), nil
}

func (m *MockClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	if m.ContainerCreateFunc != nil {
		return m.ContainerCreateFunc(ctx, cfg, hostCfg, netCfg, name)
	}
	return "mock-container-id", nil
}

func (m *MockClient) ContainerStart(ctx context.Context, id string) error {
	if m.ContainerStartFunc != nil {
		return m.ContainerStartFunc(ctx, id)
	}
	return nil
}

func (m *MockClient) ContainerInspect(ctx context.Context, id string) (ContainerInfo, error) {
	if m.ContainerInspectFunc != nil {
		return m.ContainerInspectFunc(ctx, id)
	}
	return ContainerInfo{Exists: true, Status: "running", Ports: map[int]int{}}, nil
}

func (m *MockClient) ContainerRemove(ctx context.Context, id string, force bool) error {
	if m.ContainerRemoveFunc != nil {
		return m.ContainerRemoveFunc(ctx, id, force)
	}
	return nil
}

func (m *MockClient) ContainerExecCreate(ctx context.Context, id string, cfg container.ExecOptions) (string, error) {
	if m.ContainerExecCreateFunc != nil {
		return m.ContainerExecCreateFunc(ctx, id, cfg)
	}
	return "mock-exec-id", nil
}

func (m *MockClient) ContainerExecAttach(ctx context.Context, execID string) (Hijacked, error) {
	if m.ContainerExecAttachFunc != nil {
		return m.ContainerExecAttachFunc(ctx, execID)
	}
	return &mockHijacked{}, nil
}

func (m *MockClient) ContainerExecStart(ctx context.Context, execID string) error {
	if m.ContainerExecStartFunc != nil {
		return m.ContainerExecStartFunc(ctx, execID)
	}
	return nil
}

func (m *MockClient) ContainerExecInspect(ctx context.Context, execID string) (int, error) {
	if m.ContainerExecInspectFunc != nil {
		return m.ContainerExecInspectFunc(ctx, execID)
	}
	return 0, nil
}

func (m *MockClient) CopyToContainer(ctx context.Context, id string, dstPath string, content io.Reader) error {
	if m.CopyToContainerFunc != nil {
		return m.CopyToContainerFunc(ctx, id, dstPath, content)
	}
	_, err := io.Copy(io.Discard, content)
	return err
}

func (m *MockClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

var _ Client = (*MockClient)(nil)

// mockHijacked is a no-op Hijacked stream for tests that don't care
// about exec output.
type mockHijacked struct{}

func (h *mockHijacked) Read(p []byte) (int, error)  { return 0, io.EOF }
func (h *mockHijacked) Write(p []byte) (int, error) { return len(p), nil }
func (h *mockHijacked) CloseWrite() error           { return nil }
func (h *mockHijacked) Close()                      {}
