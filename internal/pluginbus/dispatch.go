package pluginbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grovetools/companion/pkg/models"
)

// DispatchResult is what one Dispatch call produces after capability
// gating and mutation composition.
type DispatchResult struct {
	Insights           []models.Insight
	PermissionDecision *models.PermissionDecision
	MutatedContent     *string
	Aborted            bool
}

// InsightCallback receives insights produced by non-blocking plugins,
// delivered asynchronously as each completes.
type InsightCallback func(pluginID string, insight models.Insight)

// Dispatch runs every enabled plugin subscribed to event.Name against
// event, in priority-descending order. Blocking plugins are awaited in
// order; non-blocking plugins are fired and their results delivered
// later through onInsight. The first permission decision wins, and so
// does the first granted message mutation: plugins here do not see each
// other's mutations. DispatchMutationChain is the pass that composes
// mutations.
func (b *Bus) Dispatch(ctx context.Context, event models.Envelope, onInsight InsightCallback) DispatchResult {
	plugins := b.matchingPlugins(event.Name)

	result := DispatchResult{}
	var content *string

	for _, entry := range plugins {
		if result.Aborted {
			entry.mu.Lock()
			entry.state.Health.RecordAborted()
			entry.mu.Unlock()
			continue
		}

		entry.mu.Lock()
		cfg := entry.state.Config
		blocking := entry.def.Blocking
		grants := entry.state.Grants
		entry.mu.Unlock()

		if !blocking {
			b.pool.Submit(func() {
				b.runNonBlocking(ctx, entry, event, cfg, grants, onInsight)
			})
			continue
		}

		out, err := b.runOne(ctx, entry, event, cfg)
		if err != nil {
			entry.mu.Lock()
			entry.state.Health.RecordFailure(err)
			failPolicy := entry.def.FailPolicy
			entry.mu.Unlock()

			result.Insights = append(result.Insights, models.Insight{
				Level:   models.InsightError,
				Message: fmt.Sprintf("plugin %s failed: %v", entry.def.ID, err),
			})
			if failPolicy == models.FailPolicyAbortAction {
				result.Aborted = true
			}
			continue
		}

		entry.mu.Lock()
		entry.state.Health.RecordSuccess()
		entry.mu.Unlock()

		result.Insights = append(result.Insights, gateInsights(entry.def.ID, grants, out.Insights)...)

		if out.PermissionDecision != nil && result.PermissionDecision == nil {
			if grants[models.CapPermissionAutoDecide] {
				result.PermissionDecision = out.PermissionDecision
			} else {
				result.Insights = append(result.Insights, capabilityBlockedInsight(entry.def.ID, models.CapPermissionAutoDecide))
			}
		}

		if out.UserMessageMutation != nil {
			if grants[models.CapMessageMutate] {
				if content == nil {
					content = out.UserMessageMutation
				}
			} else {
				result.Insights = append(result.Insights, capabilityBlockedInsight(entry.def.ID, models.CapMessageMutate))
			}
		}
	}

	result.MutatedContent = content
	return result
}

func (b *Bus) runOne(ctx context.Context, entry *pluginEntry, event models.Envelope, cfg map[string]any) (models.PluginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, entry.def.EffectiveTimeout())
	defer cancel()

	resultCh := make(chan models.PluginResult, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("plugin panic: %v", r)
			}
		}()
		out, err := entry.def.OnEvent(ctx, event, cfg)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case <-ctx.Done():
		return models.PluginResult{}, fmt.Errorf("plugin %s timed out", entry.def.ID)
	case err := <-errCh:
		return models.PluginResult{}, err
	case out := <-resultCh:
		return out, nil
	}
}

func (b *Bus) runNonBlocking(ctx context.Context, entry *pluginEntry, event models.Envelope, cfg map[string]any, grants map[models.Capability]bool, onInsight InsightCallback) {
	out, err := b.runOne(ctx, entry, event, cfg)

	entry.mu.Lock()
	if err != nil {
		entry.state.Health.RecordFailure(err)
	} else {
		entry.state.Health.RecordSuccess()
	}
	entry.mu.Unlock()

	if onInsight == nil {
		return
	}
	if err != nil {
		onInsight(entry.def.ID, models.Insight{Level: models.InsightError, Message: fmt.Sprintf("plugin %s failed: %v", entry.def.ID, err)})
		return
	}
	// Non-blocking plugins never contribute permission decisions or
	// mutations, per the spec; only their insights are surfaced.
	for _, insight := range gateInsights(entry.def.ID, grants, out.Insights) {
		onInsight(entry.def.ID, insight)
	}
}

func gateInsights(pluginID string, grants map[models.Capability]bool, insights []models.Insight) []models.Insight {
	gated := make([]models.Insight, 0, len(insights))
	for _, ins := range insights {
		if ins.Channel == "" || grants[ins.Channel] {
			gated = append(gated, ins)
			continue
		}
		gated = append(gated, capabilityBlockedInsight(pluginID, ins.Channel))
	}
	return gated
}

func capabilityBlockedInsight(pluginID string, cap models.Capability) models.Insight {
	return models.Insight{
		Level:   models.InsightWarn,
		Message: fmt.Sprintf("plugin %s: capability %s blocked", pluginID, cap),
	}
}

// messageContent is the convention user.message.before_send events use
// to carry the text plugins with message:mutate may rewrite.
type messageContent struct {
	Content string `json:"content"`
}

// DispatchMutationChain runs every enabled, message:mutate-granted,
// blocking plugin subscribed to event.Name in ascending priority
// order, feeding each plugin the content the previous one produced —
// so the highest-priority plugin is the last to run and sees every
// lower-priority mutation already applied. Call this instead of
// Dispatch for user.message.before_send, where mutation order matters;
// Dispatch's descending-priority, first-wins composition is for
// permission decisions, not mutation chains.
func (b *Bus) DispatchMutationChain(ctx context.Context, event models.Envelope, content string) (string, []models.Insight) {
	plugins := b.matchingPlugins(event.Name)
	// matchingPlugins sorts descending; mutation composition needs ascending.
	for i, j := 0, len(plugins)-1; i < j; i, j = i+1, j-1 {
		plugins[i], plugins[j] = plugins[j], plugins[i]
	}

	var insights []models.Insight
	for _, entry := range plugins {
		entry.mu.Lock()
		cfg := entry.state.Config
		blocking := entry.def.Blocking
		canMutate := entry.state.HasGrant(models.CapMessageMutate)
		entry.mu.Unlock()

		if !blocking || !canMutate {
			continue
		}

		data, err := json.Marshal(messageContent{Content: content})
		if err != nil {
			continue
		}
		stepEvent := event
		stepEvent.Data = data

		out, err := b.runOne(ctx, entry, stepEvent, cfg)
		entry.mu.Lock()
		if err != nil {
			entry.state.Health.RecordFailure(err)
		} else {
			entry.state.Health.RecordSuccess()
		}
		entry.mu.Unlock()

		if err != nil {
			insights = append(insights, models.Insight{Level: models.InsightError, Message: fmt.Sprintf("plugin %s failed: %v", entry.def.ID, err)})
			continue
		}
		if out.UserMessageMutation != nil {
			content = *out.UserMessageMutation
		}
		insights = append(insights, out.Insights...)
	}
	return content, insights
}

// DryRun executes a single plugin synchronously against event without
// mutating persistent health counters — used for plugin-author debugging.
func (b *Bus) DryRun(ctx context.Context, id string, event models.Envelope) (models.PluginResult, error) {
	b.mu.RLock()
	entry, ok := b.entries[id]
	b.mu.RUnlock()
	if !ok {
		return models.PluginResult{}, fmt.Errorf("unknown plugin %q", id)
	}

	entry.mu.Lock()
	cfg := entry.state.Config
	entry.mu.Unlock()

	return b.runOne(ctx, entry, event, cfg)
}
