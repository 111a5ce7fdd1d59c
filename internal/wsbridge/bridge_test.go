package wsbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/internal/pluginbus"
	"github.com/grovetools/companion/pkg/models"
)

type fakeAdapter struct {
	events chan backendadapter.Inbound
	closed chan struct{}
	sent   []backendadapter.Outbound
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan backendadapter.Inbound, 32), closed: make(chan struct{})}
}

func (f *fakeAdapter) Send(ctx context.Context, out backendadapter.Outbound) error {
	f.sent = append(f.sent, out)
	return nil
}
func (f *fakeAdapter) Events() <-chan backendadapter.Inbound { return f.events }
func (f *fakeAdapter) Closed() <-chan struct{}               { return f.closed }
func (f *fakeAdapter) Close() error                          { close(f.closed); return nil }

func newTestSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, Outbound: make(chan models.Envelope, 32)}
}

func drain(t *testing.T, ch <-chan models.Envelope, n int) []models.Envelope {
	t.Helper()
	out := make([]models.Envelope, 0, n)
	for i := 0; i < n; i++ {
		select {
		case env := <-ch:
			out = append(out, env)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for envelope %d/%d", i+1, n)
		}
	}
	return out
}

func TestBridgeAssignsMonotonicSeq(t *testing.T) {
	adapter := newFakeAdapter()
	b := New("sess1", adapter, nil, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := newTestSubscriber("sub1")
	b.Subscribe(sub)

	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundAssistant, Raw: []byte(`{"text":"hi"}`)}
	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundAssistant, Raw: []byte(`{"text":"there"}`)}

	envs := drain(t, sub.Outbound, 2)
	assert.Equal(t, int64(1), envs[0].Seq)
	assert.Equal(t, int64(2), envs[1].Seq)
}

func TestBridgePermissionAutoDecidedByPlugin(t *testing.T) {
	bus := pluginbus.New(t.TempDir() + "/plugins.json")
	bus.Register(&models.PluginDefinition{
		ID: "auto-allow", Events: []string{"permission_request"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		Capabilities: map[models.Capability]bool{models.CapPermissionAutoDecide: true},
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			return models.PluginResult{PermissionDecision: &models.PermissionDecision{Behavior: models.PermissionAllow}}, nil
		},
	})
	require.NoError(t, bus.SetGrant("auto-allow", models.CapPermissionAutoDecide, true))

	adapter := newFakeAdapter()
	b := New("sess1", adapter, bus, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := newTestSubscriber("sub1")
	b.Subscribe(sub)

	req := models.PermissionRequest{RequestID: "req1", ToolName: "bash", ToolUseID: "tu1"}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundPermissionRequest, Raw: data}

	// First the permission_request broadcast, then permission_resolved.
	envs := drain(t, sub.Outbound, 2)
	assert.Equal(t, "permission_request", envs[0].Name)
	assert.Equal(t, "permission_resolved", envs[1].Name)

	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "permission_response", adapter.sent[0].Type)
}

func TestBridgePermissionAwaitsBrowserWhenNoPluginDecides(t *testing.T) {
	adapter := newFakeAdapter()
	b := New("sess1", adapter, nil, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := newTestSubscriber("sub1")
	b.Subscribe(sub)

	req := models.PermissionRequest{RequestID: "req1", ToolName: "bash", ToolUseID: "tu1"}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundPermissionRequest, Raw: data}
	drain(t, sub.Outbound, 1)
	assert.Empty(t, adapter.sent)

	responseData, err := json.Marshal(map[string]any{
		"requestId": "req1",
		"decision":  models.PermissionDecision{Behavior: models.PermissionDeny},
	})
	require.NoError(t, err)
	b.Commands() <- BrowserCommand{SubscriberID: "sub1", Type: "permission_response", Data: responseData}

	drain(t, sub.Outbound, 1) // permission_resolved
	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "permission_response", adapter.sent[0].Type)
}

func TestBridgeOutboundDedupSuppressesRepeatedClientMsgID(t *testing.T) {
	adapter := newFakeAdapter()
	b := New("sess1", adapter, nil, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	cmd := BrowserCommand{SubscriberID: "sub1", Type: "interrupt", ClientMsgID: "dup-1", Data: []byte(`{}`)}
	b.Commands() <- cmd
	b.Commands() <- cmd

	// Give the loop time to process both before asserting.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, adapter.sent, 1)
}

func TestBridgeClearsToolProgressOnResult(t *testing.T) {
	adapter := newFakeAdapter()
	b := New("sess1", adapter, nil, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := newTestSubscriber("sub1")
	b.Subscribe(sub)

	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundToolProgress, Raw: []byte(`{"toolUseId":"tu1","line":"running..."}`)}
	drain(t, sub.Outbound, 1)
	require.Len(t, b.ActiveToolProgress(), 1)

	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundResult, Raw: []byte(`{}`)}
	drain(t, sub.Outbound, 1)

	assert.Empty(t, b.ActiveToolProgress())
}

func TestBridgeResumeFallsBackToHistoryWhenSeqOutOfRange(t *testing.T) {
	adapter := newFakeAdapter()
	b := New("sess1", adapter, nil, "/host", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := newTestSubscriber("sub1")
	b.Subscribe(sub)
	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundAssistant, Raw: []byte(`{}`)}
	drain(t, sub.Outbound, 1)

	subscribeData, err := json.Marshal(map[string]any{"lastSeq": int64(9999)})
	require.NoError(t, err)
	b.Commands() <- BrowserCommand{SubscriberID: "sub1", Type: "session_subscribe", Data: subscribeData}

	env := drain(t, sub.Outbound, 1)[0]
	assert.Equal(t, "message_history", env.Name)
}

func TestBridgeRewritesContainerizedCwd(t *testing.T) {
	adapter := newFakeAdapter()
	b := New("sess1", adapter, nil, "/home/me/project", "/workspace")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := newTestSubscriber("sub1")
	b.Subscribe(sub)

	adapter.events <- backendadapter.Inbound{Kind: backendadapter.InboundSessionUpdate, Raw: []byte(`{"cwd":"/workspace/src"}`)}
	env := drain(t, sub.Outbound, 1)[0]

	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "/home/me/project/src", body["cwd"])
}
