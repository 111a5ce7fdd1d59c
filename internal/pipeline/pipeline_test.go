package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/containerruntime"
	"github.com/grovetools/companion/internal/gitruntime"
	"github.com/grovetools/companion/pkg/models"
)

type fakeLauncher struct {
	called bool
	req    LaunchRequest
	adapter backendadapter.Adapter
	err     error
}

func (f *fakeLauncher) Launch(ctx context.Context, req LaunchRequest) (backendadapter.Adapter, error) {
	f.called = true
	f.req = req
	return f.adapter, f.err
}

type fakeAdapter struct{}

func (fakeAdapter) Send(ctx context.Context, out backendadapter.Outbound) error { return nil }
func (fakeAdapter) Events() <-chan backendadapter.Inbound                      { return nil }
func (fakeAdapter) Closed() <-chan struct{}                                    { return nil }
func (fakeAdapter) Close() error                                               { return nil }

type recordingReporter struct {
	events []StepEvent
	err    *ErrorEvent
}

func (r *recordingReporter) Progress(step Step, label string, status StepStatus, detail string) {
	r.events = append(r.events, StepEvent{Step: step, Label: label, Status: status, Detail: detail})
}

func (r *recordingReporter) Error(msg string, httpStatus int, step Step) {
	r.err = &ErrorEvent{Error: msg, HTTPStatus: httpStatus, Step: step}
}

func TestPipelineRunWithoutGitOrContainer(t *testing.T) {
	git := gitruntime.New()
	container := containerruntime.NewWithClient(&containerruntime.MockClient{})
	launcher := &fakeLauncher{adapter: fakeAdapter{}}

	p := New(git, container, nil, launcher, nil, 9000, 9001)
	r := &recordingReporter{}

	result, err := p.Run(context.Background(), CreateRequest{
		Backend: models.BackendClaude,
		Model:   "claude-sonnet",
		HostCwd: t.TempDir(),
	}, r)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, launcher.called)
	assert.Nil(t, r.err)
	assert.NotEmpty(t, r.events)
	assert.True(t, result.Session.Live)
}

func TestPipelineRollsBackContainerOnLaunchFailure(t *testing.T) {
	removed := false
	mock := &containerruntime.MockClient{
		ContainerRemoveFunc: func(ctx context.Context, id string, force bool) error {
			removed = true
			return nil
		},
	}
	git := gitruntime.New()
	container := containerruntime.NewWithClient(mock)
	launcher := &fakeLauncher{err: assertErr{"launch failed"}}

	p := New(git, container, nil, launcher, nil, 9000, 9001)
	r := &recordingReporter{}

	_, err := p.Run(context.Background(), CreateRequest{
		Backend: models.BackendClaude,
		HostCwd: t.TempDir(),
		Overrides: EnvironmentProfile{
			Image: "alpine:latest",
		},
	}, r)

	require.Error(t, err)
	require.NotNil(t, r.err)
	assert.Equal(t, StepLaunchingCLI, r.err.Step)
	assert.True(t, removed)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
