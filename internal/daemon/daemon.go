// Package daemon wires every runtime (ContainerRuntime, GitRuntime,
// ImagePullCoordinator, SessionStore, PluginBus, CreationPipeline,
// BrowserGateway) into the single Daemon value DESIGN NOTES §9 asks
// for, and drives its HTTP surface and session lifecycle — the
// companion analogue of the teacher's cmd/groved.go + engine.Engine
// pairing, generalized from one collector loop to N per-session
// WsBridge loops the daemon starts and stops on demand.
package daemon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/grovetools/companion/internal/authgate"
	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/browsergateway"
	"github.com/grovetools/companion/internal/containerruntime"
	"github.com/grovetools/companion/internal/gitruntime"
	"github.com/grovetools/companion/internal/imagepull"
	"github.com/grovetools/companion/internal/pipeline"
	"github.com/grovetools/companion/internal/pluginbus"
	"github.com/grovetools/companion/internal/sessionstore"
	"github.com/grovetools/companion/internal/wsbridge"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/models"
	"github.com/grovetools/companion/pkg/paths"
)

var log = logging.NewLogger("daemon")

// Fixed container-side ports CreationPipeline always publishes
// alongside a session's requested ports: one for the editor sidecar,
// one for the WebSocket-protocol backend's app-server.
const (
	DefaultEditorPort    = 39191
	DefaultAppServerPort = 39192

	// DefaultHTTPPort is companiond's default bind port.
	DefaultHTTPPort = 7890
)

// liveSession is everything the daemon tracks for one running backend:
// its bridge, the adapter it fans in from, and the cancel func that
// tears both down on kill or shutdown.
type liveSession struct {
	bridge  *wsbridge.Bridge
	adapter backendadapter.Adapter
	cancel  context.CancelFunc
}

// Daemon holds every long-lived runtime handle and is passed by
// reference everywhere a handler or background task needs one — the
// "module-level singletons become one Daemon value" redesign flag.
type Daemon struct {
	AuthGate   *authgate.Gate
	Sessions   *sessionstore.Store
	Containers *containerruntime.Runtime
	Git        *gitruntime.Runtime
	Worktrees  *gitruntime.MappingRegistry
	Images     *imagepull.Coordinator
	Plugins    *pluginbus.Bus
	Pipeline   *pipeline.Pipeline
	Gateway    *browsergateway.Gateway

	editorPort    int
	appServerPort int

	httpServer *http.Server

	mu   sync.RWMutex
	live map[string]*liveSession // session id -> live bridge/adapter pair
}

// Deps are the constructed runtimes New assembles a Daemon from. Every
// field is required except Resolver, which may be nil (named
// environment profiles then always 404).
type Deps struct {
	AuthGate   *authgate.Gate
	Sessions   *sessionstore.Store
	Containers *containerruntime.Runtime
	Git        *gitruntime.Runtime
	Worktrees  *gitruntime.MappingRegistry
	Images     *imagepull.Coordinator
	Plugins    *pluginbus.Bus
	Resolver   pipeline.Resolver

	EditorPort     int
	AppServerPort  int
	AllowedOrigins []string
}

// New wires deps into a Daemon, constructing its CLILauncher,
// CreationPipeline, and BrowserGateway.
func New(deps Deps) *Daemon {
	editorPort := deps.EditorPort
	if editorPort == 0 {
		editorPort = DefaultEditorPort
	}
	appServerPort := deps.AppServerPort
	if appServerPort == 0 {
		appServerPort = DefaultAppServerPort
	}

	launcher := NewCLILauncher(appServerPort)
	pl := pipeline.New(deps.Git, deps.Containers, deps.Images, launcher, deps.Resolver, editorPort, appServerPort)

	d := &Daemon{
		AuthGate:      deps.AuthGate,
		Sessions:      deps.Sessions,
		Containers:    deps.Containers,
		Git:           deps.Git,
		Worktrees:     deps.Worktrees,
		Images:        deps.Images,
		Plugins:       deps.Plugins,
		Pipeline:      pl,
		editorPort:    editorPort,
		appServerPort: appServerPort,
		live:          make(map[string]*liveSession),
	}
	d.Gateway = browsergateway.New(deps.AuthGate, d, deps.AllowedOrigins)
	return d
}

// Boot restores persisted state: session index, tracked containers,
// plugin registry/state, worktree mappings. Load failures are
// individually logged (corrupt state files are treated as empty per
// §7) rather than aborting startup.
func (d *Daemon) Boot(ctx context.Context) error {
	if err := d.Sessions.Load(); err != nil {
		log.WithError(err).Warn("failed to load sessions.json")
	}
	if err := d.Containers.Restore(ctx, paths.ContainersFile()); err != nil {
		log.WithError(err).Warn("failed to restore containers.json")
	}
	if err := d.Plugins.Load(); err != nil {
		log.WithError(err).Warn("failed to load plugins.json")
	}
	if err := d.Worktrees.Load(); err != nil {
		log.WithError(err).Warn("failed to load worktree mappings")
	}

	for _, sess := range d.Sessions.List() {
		if !sess.Archived {
			sess.Live = false // dormant until relaunched; nothing is live right after boot
		}
	}
	return nil
}

// Shutdown stops the HTTP listener, cancels every live session's
// bridge loop and backend adapter, then force-removes every tracked
// container, per §5's daemon-shutdown cancellation semantics.
func (d *Daemon) Shutdown(ctx context.Context) {
	if err := d.ShutdownHTTP(5 * time.Second); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}

	d.mu.Lock()
	sessions := make([]*liveSession, 0, len(d.live))
	for _, ls := range d.live {
		sessions = append(sessions, ls)
	}
	d.live = make(map[string]*liveSession)
	d.mu.Unlock()

	for _, ls := range sessions {
		ls.cancel()
		_ = ls.adapter.Close()
	}

	if err := d.Containers.Persist(paths.ContainersFile()); err != nil {
		log.WithError(err).Warn("failed to persist containers.json on shutdown")
	}
	d.Containers.RemoveAll(ctx)
}

// ResolveBridge implements browsergateway.BridgeResolver.
func (d *Daemon) ResolveBridge(sessionID string) (*wsbridge.Bridge, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ls, ok := d.live[sessionID]
	if !ok {
		return nil, false
	}
	return ls.bridge, true
}

func (d *Daemon) trackLive(sessionID string, ls *liveSession) {
	d.mu.Lock()
	d.live[sessionID] = ls
	d.mu.Unlock()
}

func (d *Daemon) untrackLive(sessionID string) (*liveSession, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls, ok := d.live[sessionID]
	if ok {
		delete(d.live, sessionID)
	}
	return ls, ok
}

// hostCwdFor resolves the host-side cwd a session's bridge should
// rewrite container paths back to, for BrowserGateway display.
func hostCwdFor(sess *models.Session) string {
	if sess.WorktreePath != nil {
		return *sess.WorktreePath
	}
	return sess.Cwd
}

var _ browsergateway.BridgeResolver = (*Daemon)(nil)
