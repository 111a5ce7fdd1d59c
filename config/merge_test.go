package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/companion/internal/pipeline"
)

func TestMergeConfigsOverrideVersionWins(t *testing.T) {
	base := &EnvironmentsConfig{Version: "1", Environments: map[string]pipeline.EnvironmentProfile{}}
	override := &EnvironmentsConfig{Version: "2", Environments: map[string]pipeline.EnvironmentProfile{}}

	merged := MergeConfigs(base, override)
	assert.Equal(t, "2", merged.Version)
}

func TestMergeConfigsNewProfileIsAdded(t *testing.T) {
	base := &EnvironmentsConfig{Version: "1", Environments: map[string]pipeline.EnvironmentProfile{
		"default": {Image: "base-image"},
	}}
	override := &EnvironmentsConfig{Version: "1", Environments: map[string]pipeline.EnvironmentProfile{
		"extra": {Image: "extra-image"},
	}}

	merged := MergeConfigs(base, override)
	assert.Equal(t, "base-image", merged.Environments["default"].Image)
	assert.Equal(t, "extra-image", merged.Environments["extra"].Image)
}
