package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/companion/internal/containerruntime"
)

func TestMergeProfileOverrideFieldsReplaceBase(t *testing.T) {
	base := EnvironmentProfile{
		Image: "base-image",
		Ports: []int{39191},
		Env:   map[string]string{"A": "1"},
	}
	override := EnvironmentProfile{
		Image: "override-image",
		Env:   map[string]string{"B": "2"},
	}

	merged := MergeProfile(base, override)
	assert.Equal(t, "override-image", merged.Image)
	assert.Equal(t, []int{39191}, merged.Ports)
	assert.Equal(t, "1", merged.Env["A"])
	assert.Equal(t, "2", merged.Env["B"])
}

func TestMergeProfileEmptyOverrideLeavesBaseUntouched(t *testing.T) {
	base := EnvironmentProfile{Image: "base-image", InitScript: "echo hi"}
	merged := MergeProfile(base, EnvironmentProfile{})
	assert.Equal(t, base, merged)
}

func TestMergeProfileVolumesReplaceWhenSet(t *testing.T) {
	base := EnvironmentProfile{
		Volumes: []containerruntime.VolumeMount{{HostPath: "/a", ContainerPath: "/a"}},
	}
	override := EnvironmentProfile{
		Volumes: []containerruntime.VolumeMount{{HostPath: "/b", ContainerPath: "/b"}},
	}

	merged := MergeProfile(base, override)
	assert.Len(t, merged.Volumes, 1)
	assert.Equal(t, "/b", merged.Volumes[0].HostPath)
}

func TestMergeProfileDoesNotMutateBaseEnv(t *testing.T) {
	base := EnvironmentProfile{Env: map[string]string{"A": "1"}}
	override := EnvironmentProfile{Env: map[string]string{"B": "2"}}

	merged := MergeProfile(base, override)
	assert.Equal(t, "1", merged.Env["A"])
	assert.NotContains(t, base.Env, "B")
}
