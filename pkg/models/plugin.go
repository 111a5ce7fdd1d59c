package models

import (
	"context"
	"time"
)

// Capability is a fine-grained permission a plugin must be granted
// before its side-effects of that kind are allowed to surface.
type Capability string

const (
	CapInsightToast         Capability = "insight:toast"
	CapInsightSound         Capability = "insight:sound"
	CapInsightDesktop       Capability = "insight:desktop"
	CapPermissionAutoDecide Capability = "permission:auto-decide"
	CapMessageMutate        Capability = "message:mutate"
)

// FailPolicy selects what happens to the remaining dispatch chain when
// a plugin invocation fails or times out.
type FailPolicy string

const (
	FailPolicyContinue    FailPolicy = "continue"
	FailPolicyAbortAction FailPolicy = "abort_current_action"
)

// HealthStatus is a plugin's rolling health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// InsightLevel is the severity of a plugin-produced notification.
type InsightLevel string

const (
	InsightInfo  InsightLevel = "info"
	InsightWarn  InsightLevel = "warn"
	InsightError InsightLevel = "error"
)

// Insight is a plugin-produced notification record with a level and an
// optional channel hint (which insight capability it belongs to).
type Insight struct {
	Level   InsightLevel `json:"level"`
	Message string       `json:"message"`
	Channel Capability   `json:"channel,omitempty"`
}

// PluginResult is the small record every onEvent invocation returns:
// optional insights, at most one permission decision, at most one
// user-message mutation. Composition of mutations happens in the
// plugin bus (pluginbus.DispatchMutationChain), not here.
type PluginResult struct {
	Insights             []Insight            `json:"insights,omitempty"`
	PermissionDecision   *PermissionDecision  `json:"permissionDecision,omitempty"`
	UserMessageMutation  *string              `json:"userMessageMutation,omitempty"`
}

// PluginHandler is the plugin's event callback. config is the plugin's
// resolved effective configuration (defaults merged with persisted
// overrides, already validated).
type PluginHandler func(ctx context.Context, event Envelope, config map[string]any) (PluginResult, error)

// ConfigValidator checks a candidate config map before it is persisted
// as a plugin's effective configuration.
type ConfigValidator func(config map[string]any) error

// PluginDefinition is the static, append-only-at-boot description of
// one plugin.
type PluginDefinition struct {
	ID      string
	Version string

	// Events this plugin subscribes to; may include "*" for every event.
	Events []string

	Priority   int
	Blocking   bool
	TimeoutMs  int
	FailPolicy FailPolicy

	DefaultEnabled bool
	DefaultConfig  map[string]any
	ConfigValidator ConfigValidator

	Capabilities map[Capability]bool
	RiskLevel    string

	OnEvent PluginHandler
}

// MatchesEvent reports whether this plugin subscribes to the named event.
func (d *PluginDefinition) MatchesEvent(name string) bool {
	for _, e := range d.Events {
		if e == "*" || e == name {
			return true
		}
	}
	return false
}

// EffectiveTimeout returns the plugin's timeout, defaulting to 3s when
// unset (spec default for blocking plugin invocations).
func (d *PluginDefinition) EffectiveTimeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// PluginHealth is a plugin's rolling invocation counters.
type PluginHealth struct {
	Successes        int          `json:"successes"`
	Failures         int          `json:"failures"`
	Aborted          int          `json:"aborted"`
	LastError        string       `json:"lastError,omitempty"`
	Status           HealthStatus `json:"status"`
	consecutiveFails int
	sinceLastFail    int
}

// RecordSuccess updates health counters after a successful invocation.
// After ~100 invocations since the last failure, a degraded plugin
// returns to healthy.
func (h *PluginHealth) RecordSuccess() {
	h.Successes++
	h.consecutiveFails = 0
	h.sinceLastFail++
	if h.Status == HealthDegraded && h.sinceLastFail >= 100 {
		h.Status = HealthHealthy
	}
}

// RecordFailure updates health counters after a failed or timed-out
// invocation. Three consecutive failures mark the plugin degraded.
func (h *PluginHealth) RecordFailure(err error) {
	h.Failures++
	h.consecutiveFails++
	h.sinceLastFail = 0
	if err != nil {
		h.LastError = err.Error()
	}
	if h.consecutiveFails >= 3 {
		h.Status = HealthDegraded
	}
}

// RecordAborted counts an invocation skipped because an earlier plugin
// in the same dispatch aborted the event chain.
func (h *PluginHealth) RecordAborted() {
	h.Aborted++
}

// PluginRuntimeState is the per-plugin mutable state held by PluginBus:
// enabled flag, effective config, capability grants, and health.
type PluginRuntimeState struct {
	Enabled bool
	Config  map[string]any
	Grants  map[Capability]bool
	Health  PluginHealth
}

// HasGrant reports whether the plugin currently holds capability c.
func (s *PluginRuntimeState) HasGrant(c Capability) bool {
	return s.Grants != nil && s.Grants[c]
}

// PersistedPluginState is the on-disk plugins.json shape.
type PersistedPluginState struct {
	UpdatedAt time.Time                     `json:"updatedAt"`
	Enabled   map[string]bool               `json:"enabled"`
	Config    map[string]map[string]any     `json:"config"`
	Grants    map[string]map[Capability]bool `json:"grants"`
}
