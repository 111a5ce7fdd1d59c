package containerruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateValidatesPortRange(t *testing.T) {
	rt := NewWithClient(&MockClient{})
	_, err := rt.Create(context.Background(), "sess1", "/home/u/p", CreateConfig{
		Image: "alpine:latest",
		Ports: []int{70000},
	})
	require.Error(t, err)
}

func TestCreateTracksHandle(t *testing.T) {
	mock := &MockClient{
		ContainerInspectFunc: func(ctx context.Context, id string) (ContainerInfo, error) {
			return ContainerInfo{Exists: true, Status: "running", Ports: map[int]int{8080: 54321}}, nil
		},
	}
	rt := NewWithClient(mock)

	handle, err := rt.Create(context.Background(), "sess1", "/home/u/p", CreateConfig{
		Image: "alpine:latest",
		Ports: []int{8080},
	})
	require.NoError(t, err)
	assert.Equal(t, "/workspace", handle.ContainerCwd)
	assert.Equal(t, 54321, handle.Ports[8080])

	state, err := rt.Alive(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, AliveRunning, state)
}

func TestCreateRollsBackOnStartFailure(t *testing.T) {
	removed := false
	mock := &MockClient{
		ContainerStartFunc: func(ctx context.Context, id string) error {
			return assertError{"start failed"}
		},
		ContainerRemoveFunc: func(ctx context.Context, id string, force bool) error {
			removed = true
			assert.True(t, force)
			return nil
		},
	}
	rt := NewWithClient(mock)

	_, err := rt.Create(context.Background(), "sess1", "/home/u/p", CreateConfig{Image: "alpine:latest"})
	require.Error(t, err)
	assert.True(t, removed)
}

func TestExecSurfacesNonZeroExit(t *testing.T) {
	mock := &MockClient{
		ContainerExecInspectFunc: func(ctx context.Context, execID string) (int, error) {
			return 1, nil
		},
	}
	rt := NewWithClient(mock)

	_, err := rt.Exec(context.Background(), "c1", []string{"false"}, 5*time.Second)
	require.Error(t, err)
}

func TestRemoveIsIdempotentForUntrackedSession(t *testing.T) {
	rt := NewWithClient(&MockClient{})
	err := rt.Remove(context.Background(), "never-existed")
	require.NoError(t, err)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
