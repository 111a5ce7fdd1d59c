package backendadapter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketAdapter bridges a backend whose stdio is tunneled through a
// WebSocket endpoint rather than exposed as a local process — the case
// for a containerized backend fronted by a stdio-to-WebSocket proxy
// running inside the container. It retries the initial connect with
// backoff up to a bounded deadline; any error after a successful open
// is treated as terminal, since the backend's turn state cannot be
// recovered mid-stream.
type WebSocketAdapter struct {
	conn   *websocket.Conn
	events chan Inbound
	closed chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

// DialOptions controls the initial-connect retry behavior.
type DialOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Deadline       time.Duration
}

func defaultDialOptions() DialOptions {
	return DialOptions{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Deadline:       30 * time.Second,
	}
}

// DialWebSocketAdapter connects to url, retrying with exponential
// backoff until opts.Deadline elapses.
func DialWebSocketAdapter(ctx context.Context, url string, opts *DialOptions) (*WebSocketAdapter, error) {
	o := defaultDialOptions()
	if opts != nil {
		o = *opts
	}

	ctx, cancel := context.WithTimeout(ctx, o.Deadline)
	defer cancel()

	backoff := o.InitialBackoff
	var lastErr error
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			a := &WebSocketAdapter{
				conn:   conn,
				events: make(chan Inbound, 256),
				closed: make(chan struct{}),
			}
			go a.pumpRead()
			return a, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > o.MaxBackoff {
			backoff = o.MaxBackoff
		}
	}
}

func (a *WebSocketAdapter) pumpRead() {
	defer close(a.events)
	defer a.once.Do(func() { close(a.closed) })

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			log.WithError(err).Warn("backend websocket read ended; treating as terminal")
			return
		}
		ev, ok := parseInbound(data)
		if !ok {
			continue
		}
		a.events <- ev
	}
}

// Send writes out as a single WebSocket text message.
func (a *WebSocketAdapter) Send(ctx context.Context, out Outbound) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

func (a *WebSocketAdapter) Events() <-chan Inbound  { return a.events }
func (a *WebSocketAdapter) Closed() <-chan struct{} { return a.closed }

// Close closes the underlying WebSocket connection.
func (a *WebSocketAdapter) Close() error {
	a.once.Do(func() { close(a.closed) })
	return a.conn.Close()
}

var _ Adapter = (*StdioAdapter)(nil)
var _ Adapter = (*WebSocketAdapter)(nil)
