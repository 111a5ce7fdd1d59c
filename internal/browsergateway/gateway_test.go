package browsergateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/authgate"
	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/wsbridge"
)

type fakeAdapter struct {
	events chan backendadapter.Inbound
	closed chan struct{}

	mu   sync.Mutex
	sent []backendadapter.Outbound
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan backendadapter.Inbound, 8), closed: make(chan struct{})}
}
func (f *fakeAdapter) Send(ctx context.Context, out backendadapter.Outbound) error {
	f.mu.Lock()
	f.sent = append(f.sent, out)
	f.mu.Unlock()
	return nil
}
func (f *fakeAdapter) Events() <-chan backendadapter.Inbound { return f.events }
func (f *fakeAdapter) Closed() <-chan struct{}               { return f.closed }
func (f *fakeAdapter) Close() error                          { close(f.closed); return nil }

func (f *fakeAdapter) sentSafe() []backendadapter.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backendadapter.Outbound{}, f.sent...)
}

type staticResolver struct {
	bridge *wsbridge.Bridge
}

func (r staticResolver) ResolveBridge(sessionID string) (*wsbridge.Bridge, bool) {
	if sessionID != "sess1" {
		return nil, false
	}
	return r.bridge, true
}

func newTestGateway(t *testing.T) (*Gateway, *fakeAdapter, *wsbridge.Bridge) {
	gate, err := authgate.Open(t.TempDir() + "/auth.json")
	require.NoError(t, err)

	adapter := newFakeAdapter()
	bridge := wsbridge.New("sess1", adapter, nil, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bridge.Run(ctx)

	gw := New(gate, staticResolver{bridge: bridge}, nil)
	return gw, adapter, bridge
}

func TestServeSessionRejectsUnauthenticatedNonLoopback(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.RemoteAddr = "203.0.113.5:12345" // non-loopback, no token presented
		gw.ServeSession(w, r, "sess1")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestServeSessionRoundTripsBackendEvents(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.ServeSession(w, r, "sess1")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundAssistant, Raw: []byte(`{"text":"hello"}`)}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "assistant", env["name"])
}

func TestServeSessionForwardsBrowserCommandsToBackend(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.ServeSession(w, r, "sess1")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := json.Marshal(map[string]any{"type": "interrupt", "clientMsgId": "c1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		return len(adapter.sentSafe()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
