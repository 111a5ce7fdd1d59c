package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/companion/internal/pipeline"
	"github.com/grovetools/companion/pkg/models"
)

func TestClaudeArgvIncludesStreamJSONAndModel(t *testing.T) {
	argv := claudeArgv("claude", pipeline.LaunchRequest{Model: "opus", PermissionMode: "acceptEdits"})
	assert.Contains(t, argv, "--output-format")
	assert.Contains(t, argv, "--model")
	assert.Contains(t, argv, "opus")
	assert.Contains(t, argv, "--permission-mode")
	assert.Contains(t, argv, "acceptEdits")
}

func TestClaudeArgvAddsResumeAndFork(t *testing.T) {
	argv := claudeArgv("claude", pipeline.LaunchRequest{ResumeSessionID: "sess-old", ForkSessionID: "sess-fork"})
	assert.Contains(t, argv, "--resume")
	assert.Contains(t, argv, "sess-old")
	assert.Contains(t, argv, "--fork-session")
	assert.Contains(t, argv, "sess-fork")
}

func TestDockerExecArgvWrapsWithWorkdirAndContainerID(t *testing.T) {
	wrapped := dockerExecArgv("abc123", []string{"claude", "--model", "opus"})
	assert.Equal(t, []string{"docker", "exec", "-i", "-w", models.ContainerWorkspacePath, "abc123", "claude", "--model", "opus"}, wrapped)
}

func TestCodexAppServerArgvCarriesPort(t *testing.T) {
	argv := codexAppServerArgv("codex", 4321, pipeline.LaunchRequest{Model: "o3"})
	assert.Contains(t, argv, "--port")
	assert.Contains(t, argv, "4321")
	assert.Contains(t, argv, "--model")
}

func TestLaunchWebSocketFailsFastWithoutPublishedPort(t *testing.T) {
	l := NewCLILauncher(6000)
	_, err := l.Launch(t.Context(), pipeline.LaunchRequest{Backend: models.BackendCodex, ContainerID: "c1", AppServerHostPort: 0})
	assert.Error(t, err)
}

func TestLaunchRejectsUnknownBackend(t *testing.T) {
	l := NewCLILauncher(6000)
	_, err := l.Launch(t.Context(), pipeline.LaunchRequest{Backend: "unknown"})
	assert.Error(t, err)
}
