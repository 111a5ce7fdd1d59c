package wsbridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/grovetools/companion/internal/backendadapter"
	"github.com/grovetools/companion/pkg/models"
)

// handleInbound is invoked once per backend event, from Run's single
// goroutine. It assigns seq, applies session-state bookkeeping specific
// to the event kind, runs the plugin bus, appends to the ring, and
// fans out to subscribers.
func (b *Bridge) handleInbound(ctx context.Context, ev backendadapter.Inbound) {
	switch ev.Kind {
	case backendadapter.InboundPermissionRequest:
		b.handlePermissionRequest(ctx, ev)
	case backendadapter.InboundPermissionCancelled:
		b.handlePermissionCancelled(ev)
	case backendadapter.InboundToolProgress:
		b.handleToolProgress(ctx, ev)
	case backendadapter.InboundResult:
		b.handleResult(ctx, ev)
	case backendadapter.InboundSessionUpdate:
		b.handleSessionUpdate(ctx, ev)
	default:
		b.deliver(ctx, b.envelopeFrom(ev), true)
	}
}

// envelopeFrom wraps one backend inbound event in the common envelope
// shape, leaving Seq unset for deliver to stamp.
func (b *Bridge) envelopeFrom(ev backendadapter.Inbound) models.Envelope {
	return models.NewEnvelope(models.SourceBackendAdapter, string(ev.Kind), b.sessionID, ev.Raw)
}

// deliver stamps seq, optionally runs the plugin bus for insights,
// appends to the ring, and broadcasts to every subscriber.
func (b *Bridge) deliver(ctx context.Context, env models.Envelope, runPlugins bool) models.Envelope {
	env.Seq = b.nextSeq()
	if runPlugins && b.plugins != nil {
		result := b.plugins.Dispatch(ctx, env, b.asyncInsight)
		if len(result.Insights) > 0 {
			b.appendInsights(env, result.Insights)
		}
	}
	b.ring.Append(env)
	b.broadcast(env)
	return env
}

func (b *Bridge) asyncInsight(pluginID string, insight models.Insight) {
	data, err := json.Marshal(map[string]any{"pluginId": pluginID, "insight": insight})
	if err != nil {
		return
	}
	env := models.NewEnvelope(models.SourcePluginBus, "plugin_insight", b.sessionID, data)
	env.Seq = b.nextSeq()
	b.ring.Append(env)
	b.broadcast(env)
}

func (b *Bridge) appendInsights(source models.Envelope, insights []models.Insight) {
	data, err := json.Marshal(map[string]any{"forEventId": source.Meta.EventID, "insights": insights})
	if err != nil {
		return
	}
	env := models.NewEnvelope(models.SourcePluginBus, "plugin_insight", b.sessionID, data)
	env.Seq = b.nextSeq()
	b.ring.Append(env)
	b.broadcast(env)
}

// handlePermissionRequest stores the pending request, broadcasts it,
// and runs the plugin bus synchronously: a granted auto-decide plugin
// resolves it immediately without ever reaching a browser.
func (b *Bridge) handlePermissionRequest(ctx context.Context, ev backendadapter.Inbound) {
	var req models.PermissionRequest
	if err := json.Unmarshal(ev.Raw, &req); err != nil {
		log.WithError(err).Warn("failed to parse permission_request")
		return
	}
	b.pendingPermissions[req.RequestID] = req

	env := b.envelopeFrom(ev)
	env.Seq = b.nextSeq()
	b.ring.Append(env)
	b.broadcast(env)

	if b.plugins == nil {
		return
	}
	result := b.plugins.Dispatch(ctx, env, b.asyncInsight)
	if len(result.Insights) > 0 {
		b.appendInsights(env, result.Insights)
	}
	if result.PermissionDecision != nil {
		b.resolvePermission(ctx, req.RequestID, *result.PermissionDecision)
	}
}

func (b *Bridge) handlePermissionCancelled(ev backendadapter.Inbound) {
	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(ev.Raw, &body); err == nil {
		delete(b.pendingPermissions, body.RequestID)
	}
	b.deliver(context.Background(), b.envelopeFrom(ev), false)
}

// resolvePermission sends exactly one decision back to the backend for
// requestID and removes it from the pending set; a second call for the
// same requestID after the first is a no-op since it is no longer pending.
func (b *Bridge) resolvePermission(ctx context.Context, requestID string, decision models.PermissionDecision) {
	if _, ok := b.pendingPermissions[requestID]; !ok {
		return
	}
	delete(b.pendingPermissions, requestID)

	data, err := json.Marshal(map[string]any{"requestId": requestID, "decision": decision})
	if err != nil {
		return
	}
	if err := b.adapter.Send(ctx, backendadapter.Outbound{Type: "permission_response", Data: data}); err != nil {
		log.WithError(err).Warn("failed to send permission_response to backend")
	}

	env := models.NewEnvelope(models.SourceWsBridge, "permission_resolved", b.sessionID, data)
	env.Seq = b.nextSeq()
	b.ring.Append(env)
	b.broadcast(env)
}

// handleToolProgress tracks the in-flight tool_use so the bridge can
// later answer "what's still running" without replaying the full ring,
// then broadcasts the progress line itself like any other event.
func (b *Bridge) handleToolProgress(ctx context.Context, ev backendadapter.Inbound) {
	var body struct {
		ToolUseID string `json:"toolUseId"`
		Line      string `json:"line"`
	}
	if err := json.Unmarshal(ev.Raw, &body); err == nil && body.ToolUseID != "" {
		tp, ok := b.toolProgress[body.ToolUseID]
		if !ok {
			tp = &toolProgress{startedAt: timeNow()}
			b.toolProgress[body.ToolUseID] = tp
		}
		tp.lastLine = body.Line
	}
	b.deliver(ctx, b.envelopeFrom(ev), true)
}

// handleResult clears all in-flight tool-progress state: a result event
// marks the end of one assistant turn, after which any tool_use that
// never got an explicit completion is considered stale.
func (b *Bridge) handleResult(ctx context.Context, ev backendadapter.Inbound) {
	b.toolProgress = make(map[string]*toolProgress)
	b.deliver(ctx, b.envelopeFrom(ev), true)
}

// handleSessionUpdate rewrites any containerized cwd back to its host
// equivalent before the browser ever sees it.
func (b *Bridge) handleSessionUpdate(ctx context.Context, ev backendadapter.Inbound) {
	raw := ev.Raw
	if b.containerCwd != "" {
		if rewritten, ok := rewriteCwd(raw, b.containerCwd, b.hostCwd); ok {
			raw = rewritten
		}
	}
	env := models.NewEnvelope(models.SourceBackendAdapter, string(ev.Kind), b.sessionID, raw)
	b.deliver(ctx, env, true)
}

// rewriteCwd replaces a "cwd" field that starts with containerPath with
// the equivalent host path, leaving every other field untouched.
func rewriteCwd(raw json.RawMessage, containerPath, hostPath string) (json.RawMessage, bool) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return raw, false
	}
	cwd, ok := body["cwd"].(string)
	if !ok || !strings.HasPrefix(cwd, containerPath) {
		return raw, false
	}
	body["cwd"] = hostPath + strings.TrimPrefix(cwd, containerPath)
	rewritten, err := json.Marshal(body)
	if err != nil {
		return raw, false
	}
	return rewritten, true
}
