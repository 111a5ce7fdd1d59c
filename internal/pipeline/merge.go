package pipeline

import "github.com/mitchellh/mapstructure"

// MergeProfile overlays override onto base: any field override sets to
// a non-zero value replaces the matching field in base, everything
// else in base is left alone. The merge itself runs through
// mapstructure rather than a field-by-field switch, the same shape the
// teacher's config package uses to flow a decoded override map onto a
// decoded base struct — here the "map" is just override's non-zero
// fields, reflected out so CreateRequest.Overrides (an ordinary
// EnvironmentProfile value) doesn't have to be expressed as
// map[string]interface{} at the call site.
func MergeProfile(base, override EnvironmentProfile) EnvironmentProfile {
	merged := base

	overrideMap := nonZeroProfileFields(override)
	if len(overrideMap) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:     &merged,
			ZeroFields: false,
		})
		if err == nil {
			_ = decoder.Decode(overrideMap)
		}
	}

	// Env merges key by key rather than replacing wholesale, so a
	// request-level override can add or replace one variable without
	// clobbering the rest of the resolved profile's environment.
	if len(override.Env) > 0 {
		if merged.Env == nil {
			merged.Env = make(map[string]string, len(override.Env))
		} else {
			merged.Env = cloneEnv(merged.Env)
		}
		for k, v := range override.Env {
			merged.Env[k] = v
		}
	}

	return merged
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func nonZeroProfileFields(p EnvironmentProfile) map[string]interface{} {
	out := map[string]interface{}{}
	if p.Image != "" {
		out["Image"] = p.Image
	}
	if len(p.Ports) > 0 {
		out["Ports"] = p.Ports
	}
	if len(p.Volumes) > 0 {
		out["Volumes"] = p.Volumes
	}
	if p.InitScript != "" {
		out["InitScript"] = p.InitScript
	}
	return out
}
