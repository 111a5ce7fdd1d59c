package pluginbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/pkg/models"
)

func newTestBus(t *testing.T) *Bus {
	return New(t.TempDir() + "/plugins.json")
}

func sampleEvent(name string) models.Envelope {
	return models.NewEnvelope(models.SourceWsBridge, name, "sess1", []byte(`{}`))
}

func TestDispatchPriorityOrderFirstPermissionDecisionWins(t *testing.T) {
	b := newTestBus(t)

	b.Register(&models.PluginDefinition{
		ID: "low", Events: []string{"permission_request"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		Capabilities: map[models.Capability]bool{models.CapPermissionAutoDecide: true},
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			return models.PluginResult{PermissionDecision: &models.PermissionDecision{Behavior: "deny"}}, nil
		},
	})
	b.Register(&models.PluginDefinition{
		ID: "high", Events: []string{"permission_request"}, Priority: 10, Blocking: true, DefaultEnabled: true,
		Capabilities: map[models.Capability]bool{models.CapPermissionAutoDecide: true},
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			return models.PluginResult{PermissionDecision: &models.PermissionDecision{Behavior: "allow"}}, nil
		},
	})
	require.NoError(t, b.SetGrant("low", models.CapPermissionAutoDecide, true))
	require.NoError(t, b.SetGrant("high", models.CapPermissionAutoDecide, true))

	result := b.Dispatch(context.Background(), sampleEvent("permission_request"), nil)
	require.NotNil(t, result.PermissionDecision)
	assert.Equal(t, models.PermissionBehavior("allow"), result.PermissionDecision.Behavior)
}

func TestDispatchCapabilityGatingSuppressesUngrantedDecision(t *testing.T) {
	b := newTestBus(t)
	b.Register(&models.PluginDefinition{
		ID: "p1", Events: []string{"permission_request"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			return models.PluginResult{PermissionDecision: &models.PermissionDecision{Behavior: "allow"}}, nil
		},
	})
	// no grant for CapPermissionAutoDecide

	result := b.Dispatch(context.Background(), sampleEvent("permission_request"), nil)
	assert.Nil(t, result.PermissionDecision)
	assert.NotEmpty(t, result.Insights)
}

func TestDispatchAbortStopsRemainingPlugins(t *testing.T) {
	b := newTestBus(t)
	var ranSecond bool

	b.Register(&models.PluginDefinition{
		ID: "first", Events: []string{"assistant"}, Priority: 10, Blocking: true, DefaultEnabled: true,
		FailPolicy: models.FailPolicyAbortAction,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			return models.PluginResult{}, errors.New("boom")
		},
	})
	b.Register(&models.PluginDefinition{
		ID: "second", Events: []string{"assistant"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			ranSecond = true
			return models.PluginResult{}, nil
		},
	})

	result := b.Dispatch(context.Background(), sampleEvent("assistant"), nil)
	assert.True(t, result.Aborted)
	assert.False(t, ranSecond)
}

func TestDispatchTimesOutSlowPlugin(t *testing.T) {
	b := newTestBus(t)
	b.Register(&models.PluginDefinition{
		ID: "slow", Events: []string{"assistant"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		TimeoutMs: 10,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			time.Sleep(200 * time.Millisecond)
			return models.PluginResult{}, nil
		},
	})

	result := b.Dispatch(context.Background(), sampleEvent("assistant"), nil)
	require.Len(t, result.Insights, 1)
	assert.Equal(t, models.InsightError, result.Insights[0].Level)
}

func TestDispatchMutationChainAppliesHighestPriorityLast(t *testing.T) {
	b := newTestBus(t)
	var order []string

	b.Register(&models.PluginDefinition{
		ID: "low", Events: []string{"user.message.before_send"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			order = append(order, "low")
			mutated := "low:base"
			return models.PluginResult{UserMessageMutation: &mutated}, nil
		},
	})
	b.Register(&models.PluginDefinition{
		ID: "high", Events: []string{"user.message.before_send"}, Priority: 10, Blocking: true, DefaultEnabled: true,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			order = append(order, "high")
			mutated := "high:final"
			return models.PluginResult{UserMessageMutation: &mutated}, nil
		},
	})
	require.NoError(t, b.SetGrant("low", models.CapMessageMutate, true))
	require.NoError(t, b.SetGrant("high", models.CapMessageMutate, true))

	final, _ := b.DispatchMutationChain(context.Background(), sampleEvent("user.message.before_send"), "original")
	assert.Equal(t, []string{"low", "high"}, order)
	assert.Equal(t, "high:final", final)
}

func TestHealthDegradesAfterThreeConsecutiveFailures(t *testing.T) {
	b := newTestBus(t)
	b.Register(&models.PluginDefinition{
		ID: "flaky", Events: []string{"assistant"}, Priority: 1, Blocking: true, DefaultEnabled: true,
		OnEvent: func(ctx context.Context, e models.Envelope, cfg map[string]any) (models.PluginResult, error) {
			return models.PluginResult{}, errors.New("fail")
		},
	})

	for i := 0; i < 3; i++ {
		b.Dispatch(context.Background(), sampleEvent("assistant"), nil)
	}

	listed := b.List()
	require.Len(t, listed, 1)
	assert.Equal(t, models.HealthDegraded, listed[0].Health.Status)
}
