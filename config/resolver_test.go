package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/pipeline"
)

func TestResolverResolveReturnsClone(t *testing.T) {
	r := &Resolver{cfg: &EnvironmentsConfig{
		Version: "1",
		Environments: map[string]pipeline.EnvironmentProfile{
			"default": {Image: "some-image", Env: map[string]string{"A": "1"}},
		},
	}}

	profile, ok := r.Resolve("default")
	require.True(t, ok)
	profile.Env["A"] = "mutated"

	profile2, _ := r.Resolve("default")
	assert.Equal(t, "1", profile2.Env["A"])
}

func TestResolverResolveMissingProfile(t *testing.T) {
	r := &Resolver{cfg: &EnvironmentsConfig{Version: "1", Environments: map[string]pipeline.EnvironmentProfile{}}}
	_, ok := r.Resolve("missing")
	assert.False(t, ok)
}
