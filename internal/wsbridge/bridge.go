// Package wsbridge implements WsBridge: the per-session fan-in of one
// backend adapter's event stream and fan-out to N subscribed browsers,
// maintaining the monotonic seq, replay ring, pending permissions,
// tool-progress timers, and outbound-command dedup a session needs to
// survive browser reconnects without losing or duplicating messages.
package wsbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/pluginbus"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/models"
)

const (
	defaultRingCapacity     = 600
	subscriberQueueCapacity = 256
	outboundDedupWindow     = 2000
)

var log = logging.NewLogger("wsbridge")

// timeNow is test-seam-indirected so timing-dependent behavior (none
// currently asserted precisely, but reserved for tool-progress staleness
// checks) can be controlled from tests.
var timeNow = func() time.Time { return time.Now() }

// Subscriber is one browser connection's fan-out target.
type Subscriber struct {
	ID       string
	Outbound chan models.Envelope
	lastSeq  int64 // high-water mark from the subscriber's own acks; advisory
}

// BrowserCommand is one message a browser sent inbound, routed by
// BrowserGateway into the bridge's single fan-in loop.
type BrowserCommand struct {
	SubscriberID string
	Type         string
	ClientMsgID  string
	RequestID    string // for permission_response / matching pending requests
	Data         json.RawMessage
}

// toolProgress tracks one in-flight tool_use's last-seen progress line
// and when it started; every entry is cleared when a result event ends
// the turn.
type toolProgress struct {
	startedAt time.Time
	lastLine  string
}

// Bridge owns all mutable state for one live session. Apart from seq
// and the subscribers map, which mu guards for CurrentSeq and for
// broadcast's snapshot, every field is touched only from the single
// goroutine running Run; callers interact with it through channels.
type Bridge struct {
	sessionID string
	adapter   backendadapter.Adapter
	plugins   *pluginbus.Bus

	seq  int64
	ring *replayRing

	pendingPermissions map[string]models.PermissionRequest
	toolProgress       map[string]*toolProgress
	outboundSeen       []string // bounded FIFO of recently seen client_msg_id

	subscribers map[string]*Subscriber

	commands    chan BrowserCommand
	subscribe   chan subscribeRequest
	unsubscribe chan string
	queries     chan func()

	// hostCwd/containerCwd map the backend's containerized cwd back to the
	// host cwd, so outgoing envelopes always show the host path.
	hostCwd      string
	containerCwd string

	mu sync.RWMutex // guards only the fields read by non-loop goroutines: subscribers snapshot, seq peek
}

// New constructs a Bridge for one session. hostCwd/containerCwd seed
// the cwd rewrite map; containerCwd is empty for a non-containerized
// session.
func New(sessionID string, adapter backendadapter.Adapter, plugins *pluginbus.Bus, hostCwd, containerCwd string) *Bridge {
	return &Bridge{
		sessionID:          sessionID,
		adapter:            adapter,
		plugins:            plugins,
		ring:               newReplayRing(defaultRingCapacity),
		pendingPermissions: make(map[string]models.PermissionRequest),
		toolProgress:       make(map[string]*toolProgress),
		subscribers:        make(map[string]*Subscriber),
		commands:           make(chan BrowserCommand, 64),
		subscribe:          make(chan subscribeRequest, 8),
		unsubscribe:        make(chan string, 8),
		queries:            make(chan func(), 8),
		hostCwd:            hostCwd,
		containerCwd:       containerCwd,
	}
}

// Commands returns the channel BrowserGateway feeds inbound browser
// messages into.
func (b *Bridge) Commands() chan<- BrowserCommand { return b.commands }

// subscribeRequest carries a new subscriber plus an ack channel, so
// Subscribe can block until the fan-in loop has actually registered it
// — callers that immediately push a session_subscribe command rely on
// that ordering.
type subscribeRequest struct {
	sub  *Subscriber
	done chan struct{}
}

// Subscribe registers sub to receive fan-out from this point forward
// (resume/history replay happens separately via the session_subscribe
// command). It blocks until registration is visible to the fan-in loop.
func (b *Bridge) Subscribe(sub *Subscriber) {
	done := make(chan struct{})
	b.subscribe <- subscribeRequest{sub: sub, done: done}
	<-done
}

// Unsubscribe removes a subscriber by id.
func (b *Bridge) Unsubscribe(id string) { b.unsubscribe <- id }

// CurrentSeq returns the last assigned seq. Safe to call concurrently.
func (b *Bridge) CurrentSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Resume computes what a reconnecting subscriber at lastSeq should
// receive before live delivery begins: a gap-free tail from the ring,
// or a best-effort history rehydration if lastSeq has fallen out of it.
func (b *Bridge) Resume(lastSeq int64) (tail []models.Envelope, rehydrated bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lastSeq == 0 || !b.ring.Contains(lastSeq) {
		return b.ring.Tail(50), true
	}
	return b.ring.Since(lastSeq), false
}

// ToolProgressSnapshot is one in-flight tool_use's last-known state, as
// of the moment ActiveToolProgress was called.
type ToolProgressSnapshot struct {
	ToolUseID string
	LastLine  string
	StartedAt time.Time
}

// ActiveToolProgress returns every tool_use still open at the current
// turn boundary, read safely from the fan-in goroutine via a queued
// closure rather than a lock — useful for a reconnecting browser that
// wants to know what's still running before the next live event arrives.
func (b *Bridge) ActiveToolProgress() []ToolProgressSnapshot {
	result := make(chan []ToolProgressSnapshot, 1)
	b.queries <- func() {
		snap := make([]ToolProgressSnapshot, 0, len(b.toolProgress))
		for id, tp := range b.toolProgress {
			snap = append(snap, ToolProgressSnapshot{ToolUseID: id, LastLine: tp.lastLine, StartedAt: tp.startedAt})
		}
		result <- snap
	}
	return <-result
}

// Run is the single-consumer fan-in loop: it owns every piece of
// Bridge's mutable state and is the only goroutine that touches it,
// generalizing the teacher's engine.Engine.Start single-goroutine
// pattern from one input channel to three independent producers
// (backend events, browser commands, subscriber lifecycle) merged by
// one select.
func (b *Bridge) Run(ctx context.Context) {
	events := b.adapter.Events()
	closed := b.adapter.Closed()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			b.broadcastSystemEvent("backend_closed")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handleInbound(ctx, ev)
		case cmd := <-b.commands:
			b.handleCommand(ctx, cmd)
		case req := <-b.subscribe:
			b.mu.Lock()
			b.subscribers[req.sub.ID] = req.sub
			b.mu.Unlock()
			close(req.done)
		case id := <-b.unsubscribe:
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		case query := <-b.queries:
			query()
		}
	}
}

func (b *Bridge) nextSeq() int64 {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	return seq
}

// broadcast delivers env to every subscriber with a bounded,
// non-blocking send; a subscriber whose queue is full is dropped so it
// can reconnect and resume instead of stalling the whole bridge.
func (b *Bridge) broadcast(env models.Envelope) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Outbound <- env:
		default:
			log.WithField("subscriber", sub.ID).Warn("subscriber queue full; dropping and unsubscribing")
			close(sub.Outbound)
			b.mu.Lock()
			delete(b.subscribers, sub.ID)
			b.mu.Unlock()
		}
	}
}

func (b *Bridge) broadcastSystemEvent(reason string) {
	data, _ := json.Marshal(map[string]string{"reason": reason})
	env := models.NewEnvelope(models.SourceWsBridge, "system_event", b.sessionID, data)
	env.Seq = b.nextSeq()
	b.ring.Append(env)
	b.broadcast(env)
}
