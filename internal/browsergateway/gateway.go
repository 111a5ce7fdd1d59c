// Package browsergateway accepts browser WebSocket connections,
// authenticates them with authgate, binds each socket to one session's
// WsBridge by the session id embedded in the URL, and pumps frames in
// both directions — grounded on the viewer/runtime WebSocket pattern
// the pack's session-host and router examples both use (upgrade, one
// read pump, one buffered write pump per connection).
package browsergateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grovetools/companion/internal/authgate"
	"github.com/grovetools/companion/internal/wsbridge"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/models"
)

var log = logging.NewLogger("browsergateway")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MB, generous for a user_message payload
)

// BridgeResolver looks up the live bridge for a session id.
type BridgeResolver interface {
	ResolveBridge(sessionID string) (*wsbridge.Bridge, bool)
}

// Gateway upgrades and authenticates browser connections and wires
// them to the daemon's live bridges.
type Gateway struct {
	gate     *authgate.Gate
	resolver BridgeResolver
	upgrader websocket.Upgrader
}

// New constructs a Gateway. allowedOrigins empty or containing "*"
// disables origin checking (the default for a localhost-bound daemon).
func New(gate *authgate.Gate, resolver BridgeResolver, allowedOrigins []string) *Gateway {
	return &Gateway{
		gate:     gate,
		resolver: resolver,
		upgrader: makeUpgrader(allowedOrigins),
	}
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

// ServeSession is the http.HandlerFunc for one session's WebSocket
// endpoint; sessionID is the caller's already-extracted path parameter.
func (g *Gateway) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !g.gate.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	bridge, ok := g.resolver.ResolveBridge(sessionID)
	if !ok {
		http.Error(w, "session not live", http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := &wsbridge.Subscriber{ID: models.NewID(), Outbound: make(chan models.Envelope, subscriberBuffer)}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	bridge.Subscribe(sub)

	done := make(chan struct{})
	go g.writePump(conn, sub, done)
	g.readPump(conn, bridge, sub.ID)

	bridge.Unsubscribe(sub.ID)
	close(done)
	_ = conn.Close()
}

const subscriberBuffer = 256

// inboundFrame is the browser-originated envelope shape: a type, an
// optional idempotence key, and a type-specific payload.
type inboundFrame struct {
	Type        string          `json:"type"`
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (g *Gateway) readPump(conn *websocket.Conn, bridge *wsbridge.Bridge, subscriberID string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.WithError(err).Warn("malformed browser frame")
			continue
		}
		if frame.Type == "" {
			continue
		}
		bridge.Commands() <- wsbridge.BrowserCommand{
			SubscriberID: subscriberID,
			Type:         frame.Type,
			ClientMsgID:  frame.ClientMsgID,
			RequestID:    frame.RequestID,
			Data:         frame.Data,
		}
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, sub *wsbridge.Subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case env, ok := <-sub.Outbound:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
