package daemon

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/pipeline"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/models"
)

var launcherLog = logging.NewLogger("launcher")

// BackendBinaries names the executables invoked for each backend. The
// Codex entry is the app-server variant, not the interactive TUI.
type BackendBinaries struct {
	Claude string
	Codex  string
}

func defaultBackendBinaries() BackendBinaries {
	return BackendBinaries{Claude: "claude", Codex: "codex"}
}

// CLILauncher implements pipeline.BackendLauncher. It constructs argv
// per backend kind, transport variant, and containerization, the same
// split 4.5 BackendAdapter documents: Claude speaks stdio-JSONL
// directly; Codex's app-server speaks WebSocket-JSONL, so the launcher
// starts the app-server child first and dials it once its port is live.
type CLILauncher struct {
	bins BackendBinaries

	// AppServerPort is the container-side port the app-server listens
	// on; for non-containerized sessions a free host port is chosen
	// per launch instead.
	AppServerPort int
}

// NewCLILauncher constructs a CLILauncher with the given app-server
// port (the same value passed to pipeline.New as appServerPort, so the
// container's published port and the launcher's dial target agree).
func NewCLILauncher(appServerPort int) *CLILauncher {
	return &CLILauncher{bins: defaultBackendBinaries(), AppServerPort: appServerPort}
}

// Launch starts req.Backend and returns a live Adapter.
func (l *CLILauncher) Launch(ctx context.Context, req pipeline.LaunchRequest) (backendadapter.Adapter, error) {
	switch req.Backend {
	case models.BackendClaude:
		return l.launchStdio(ctx, req)
	case models.BackendCodex:
		return l.launchWebSocket(ctx, req)
	default:
		return nil, errors.InvalidInput("backend", string(req.Backend))
	}
}

func (l *CLILauncher) launchStdio(ctx context.Context, req pipeline.LaunchRequest) (backendadapter.Adapter, error) {
	argv := claudeArgv(l.bins.Claude, req)
	if req.ContainerID != "" {
		argv = dockerExecArgv(req.ContainerID, argv)
	}
	return backendadapter.NewStdioAdapter(ctx, argv, launchDir(req))
}

// launchWebSocket starts the Codex app-server (inside the container via
// docker exec -d when containerized, or as a direct local child
// otherwise) and dials its WebSocket-JSONL endpoint once the port is
// accepting connections.
func (l *CLILauncher) launchWebSocket(ctx context.Context, req pipeline.LaunchRequest) (backendadapter.Adapter, error) {
	var hostPort int
	var startErr error

	if req.ContainerID != "" {
		hostPort = req.AppServerHostPort
		if hostPort == 0 {
			return nil, errors.PreconditionFailed("app-server port not published for containerized codex session")
		}
		argv := dockerExecDetachedArgv(req.ContainerID, codexAppServerArgv(l.bins.Codex, l.AppServerPort, req))
		// The app-server binds the container-side port, but readiness
		// must be checked through the published host port docker
		// mapped it to — waitForPort always dials hostPort, never the
		// container-internal one baked into argv.
		startErr = startDetached(ctx, argv, hostPort)
	} else {
		hostPort, startErr = pickFreePort()
		if startErr == nil {
			argv := codexAppServerArgv(l.bins.Codex, hostPort, req)
			startErr = startDetached(ctx, argv, hostPort)
		}
	}
	if startErr != nil {
		launcherLog.WithError(startErr).Warn("codex app-server failed to come up")
		return nil, errors.FatalStep("launching_cli", startErr)
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d", hostPort)
	adapter, err := backendadapter.DialWebSocketAdapter(ctx, url, nil)
	if err != nil {
		launcherLog.WithError(err).Warn("codex app-server dial failed after port became reachable")
		return nil, errors.FatalStep("launching_cli", fmt.Errorf("dialing codex app-server: %w", err))
	}
	return adapter, nil
}

func launchDir(req pipeline.LaunchRequest) string {
	if req.ContainerID != "" {
		// docker exec ignores cmd.Dir; the -w flag carries it instead.
		return ""
	}
	return req.Cwd
}

func claudeArgv(bin string, req pipeline.LaunchRequest) []string {
	argv := []string{bin, "--output-format", "stream-json", "--input-format", "stream-json"}
	argv = appendCommonFlags(argv, req)
	if req.ResumeSessionID != "" {
		argv = append(argv, "--resume", req.ResumeSessionID)
	}
	if req.ForkSessionID != "" {
		argv = append(argv, "--fork-session", req.ForkSessionID)
	}
	return argv
}

func codexAppServerArgv(bin string, port int, req pipeline.LaunchRequest) []string {
	argv := []string{bin, "app-server", "--port", fmt.Sprintf("%d", port)}
	argv = appendCommonFlags(argv, req)
	if req.ResumeSessionID != "" {
		argv = append(argv, "--resume", req.ResumeSessionID)
	}
	return argv
}

func appendCommonFlags(argv []string, req pipeline.LaunchRequest) []string {
	if req.Model != "" {
		argv = append(argv, "--model", req.Model)
	}
	if req.PermissionMode != "" {
		argv = append(argv, "--permission-mode", req.PermissionMode)
	}
	for _, tool := range req.AllowedTools {
		argv = append(argv, "--allowedTools", tool)
	}
	return argv
}

// dockerExecArgv wraps argv for interactive attach inside a running
// container. Using the docker CLI rather than the SDK's exec/attach
// here trades one extra subprocess for the CLI's own stdout/stderr
// stream demultiplexing; argv remains the only interface, no shell
// string is built.
func dockerExecArgv(containerID string, argv []string) []string {
	wrapped := append([]string{"docker", "exec", "-i", "-w", models.ContainerWorkspacePath, containerID}, argv...)
	return wrapped
}

func dockerExecDetachedArgv(containerID string, argv []string) []string {
	wrapped := append([]string{"docker", "exec", "-d", "-w", models.ContainerWorkspacePath, containerID}, argv...)
	return wrapped
}

// startDetached runs argv to completion of its own startup (it daemonizes
// itself via docker exec -d, or is expected to background quickly) and
// does not wait for exit. dialPort is always a host-reachable port,
// even when argv's own "--port" names a container-internal one.
func startDetached(ctx context.Context, argv []string, dialPort int) error {
	adapter, err := backendadapter.NewStdioAdapter(ctx, argv, "")
	if err != nil {
		return err
	}
	// The app-server child owns its own lifecycle once started; this
	// adapter only exists to launch it, so its stdio is discarded.
	go func() {
		for range adapter.Events() {
		}
	}()
	return waitForPort(ctx, dialPort, adapter)
}

// waitForPort polls until port accepts a TCP connection on the host
// or the context is done.
func waitForPort(ctx context.Context, port int, adapter backendadapter.Adapter) error {
	if port == 0 {
		return nil
	}
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-adapter.Closed():
			return errors.FatalStep("launching_cli", fmt.Errorf("app-server exited before its port came up"))
		default:
		}
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.OpTimeout("waiting for app-server port", 15000)
}

// pickFreePort asks the kernel for an ephemeral port and releases it
// immediately; a small race window exists between release and the
// app-server's own bind, acceptable for a local development daemon.
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
