package config

import "github.com/grovetools/companion/internal/pipeline"

// MergeConfigs layers override on top of base: override's version wins
// when set, and each named profile in override is merged onto the
// same-named profile in base via pipeline.MergeProfile — the same
// shallow-override shape the teacher's mergeConfigs/mergeAgent use for
// grove.yml's global/project/local layering, applied here per profile
// instead of per top-level config section.
func MergeConfigs(base, override *EnvironmentsConfig) *EnvironmentsConfig {
	if base == nil {
		return override.clone()
	}
	if override == nil {
		return base.clone()
	}

	merged := base.clone()
	if override.Version != "" {
		merged.Version = override.Version
	}
	for name, overrideProfile := range override.Environments {
		if basedProfile, ok := merged.Environments[name]; ok {
			merged.Environments[name] = pipeline.MergeProfile(basedProfile, overrideProfile)
		} else {
			merged.Environments[name] = cloneProfile(overrideProfile)
		}
	}
	return merged
}
