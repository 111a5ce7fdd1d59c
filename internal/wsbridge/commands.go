package wsbridge

import (
	"context"
	"encoding/json"

	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/pkg/models"
)

// idempotentCommands lists the browser command types that must be
// deduplicated by clientMsgId: a browser retrying a send after a
// dropped ack must never cause the backend to see it twice.
var idempotentCommands = map[string]bool{
	"user_message":        true,
	"permission_response": true,
	"interrupt":           true,
	"set_model":           true,
	"set_permission_mode": true,
	"mcp_get_status":      true,
	"mcp_toggle":          true,
	"mcp_reconnect":       true,
	"mcp_set_servers":     true,
}

// handleCommand processes one browser-originated command, from Run's
// single goroutine.
func (b *Bridge) handleCommand(ctx context.Context, cmd BrowserCommand) {
	if idempotentCommands[cmd.Type] && cmd.ClientMsgID != "" {
		if b.seenOutbound(cmd.ClientMsgID) {
			return
		}
		b.rememberOutbound(cmd.ClientMsgID)
	}

	switch cmd.Type {
	case "session_subscribe":
		b.handleSessionSubscribe(cmd)
	case "session_ack":
		b.handleSessionAck(cmd)
	case "permission_response":
		b.handleBrowserPermissionResponse(ctx, cmd)
	case "user_message":
		b.handleUserMessage(ctx, cmd)
	default:
		b.forwardToBackend(ctx, cmd)
	}
}

// seenOutbound reports whether clientMsgID has already been processed
// within the bridge's dedup window.
func (b *Bridge) seenOutbound(clientMsgID string) bool {
	for _, seen := range b.outboundSeen {
		if seen == clientMsgID {
			return true
		}
	}
	return false
}

func (b *Bridge) rememberOutbound(clientMsgID string) {
	b.outboundSeen = append(b.outboundSeen, clientMsgID)
	if len(b.outboundSeen) > outboundDedupWindow {
		b.outboundSeen = b.outboundSeen[len(b.outboundSeen)-outboundDedupWindow:]
	}
}

// handleSessionSubscribe registers sub (if not already registered via
// Subscribe) is not needed here: BrowserGateway calls Subscribe before
// routing commands. This only answers the resume question by sending
// history or a replay directly to the requesting subscriber.
func (b *Bridge) handleSessionSubscribe(cmd BrowserCommand) {
	var body struct {
		LastSeq int64 `json:"lastSeq"`
	}
	_ = json.Unmarshal(cmd.Data, &body)

	sub, ok := b.subscribers[cmd.SubscriberID]
	if !ok {
		return
	}

	tail, rehydrated := b.resumeLocked(body.LastSeq)
	kind := "event_replay"
	if rehydrated {
		kind = "message_history"
	}
	data, err := json.Marshal(map[string]any{"events": tail})
	if err != nil {
		return
	}
	env := models.NewEnvelope(models.SourceWsBridge, kind, b.sessionID, data)
	select {
	case sub.Outbound <- env:
	default:
	}
}

// resumeLocked is Resume's body without the RLock, for use from inside
// the single fan-in goroutine where no lock is needed against itself.
func (b *Bridge) resumeLocked(lastSeq int64) (tail []models.Envelope, rehydrated bool) {
	if lastSeq == 0 || !b.ring.Contains(lastSeq) {
		return b.ring.Tail(50), true
	}
	return b.ring.Since(lastSeq), false
}

func (b *Bridge) handleSessionAck(cmd BrowserCommand) {
	var body struct {
		LastSeq int64 `json:"lastSeq"`
	}
	if err := json.Unmarshal(cmd.Data, &body); err != nil {
		return
	}
	if sub, ok := b.subscribers[cmd.SubscriberID]; ok {
		sub.lastSeq = body.LastSeq
	}
}

// handleBrowserPermissionResponse resolves a pending request if the
// browser beat the plugin bus to it, or is a no-op if a plugin already
// auto-decided (resolvePermission is idempotent per requestID).
func (b *Bridge) handleBrowserPermissionResponse(ctx context.Context, cmd BrowserCommand) {
	var body struct {
		RequestID string                     `json:"requestId"`
		Decision  models.PermissionDecision `json:"decision"`
	}
	if err := json.Unmarshal(cmd.Data, &body); err != nil {
		log.WithError(err).Warn("malformed permission_response from browser")
		return
	}
	b.resolvePermission(ctx, body.RequestID, body.Decision)
}

// handleUserMessage runs the mutation chain through the plugin bus
// before the message ever reaches the backend, so every granted
// plugin's rewrite is applied in priority order.
func (b *Bridge) handleUserMessage(ctx context.Context, cmd BrowserCommand) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(cmd.Data, &body); err != nil {
		log.WithError(err).Warn("malformed user_message from browser")
		return
	}

	content := body.Content
	var insights []models.Insight
	if b.plugins != nil {
		env := models.NewEnvelope(models.SourceWsBridge, "user.message.before_send", b.sessionID, cmd.Data)
		content, insights = b.plugins.DispatchMutationChain(ctx, env, content)
	}
	if len(insights) > 0 {
		data, err := json.Marshal(map[string]any{"insights": insights})
		if err == nil {
			env := models.NewEnvelope(models.SourcePluginBus, "plugin_insight", b.sessionID, data)
			env.Seq = b.nextSeq()
			b.ring.Append(env)
			b.broadcast(env)
		}
	}

	out, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return
	}
	if err := b.adapter.Send(ctx, backendadapter.Outbound{Type: "user_message", Data: out}); err != nil {
		log.WithError(err).Warn("failed to forward user_message to backend")
	}
}

// forwardToBackend passes every other command type straight through to
// the adapter unchanged.
func (b *Bridge) forwardToBackend(ctx context.Context, cmd BrowserCommand) {
	if err := b.adapter.Send(ctx, backendadapter.Outbound{Type: cmd.Type, Data: cmd.Data}); err != nil {
		log.WithError(err).WithField("type", cmd.Type).Warn("failed to forward command to backend")
	}
}
