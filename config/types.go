// Package config loads environments.yaml, the file format backing
// pipeline.Resolver: named, reusable EnvironmentProfiles a session
// creation request can reference by name instead of spelling out image,
// ports, volumes and init script every time.
package config

import (
	"github.com/grovetools/companion/internal/containerruntime"
	"github.com/grovetools/companion/internal/pipeline"
)

// SchemaVersion is the only "version" value this loader accepts.
const SchemaVersion = "1"

// EnvironmentsConfig is the root document shape of environments.yaml.
type EnvironmentsConfig struct {
	Version      string                                 `json:"version" yaml:"version"`
	Environments map[string]pipeline.EnvironmentProfile `json:"environments,omitempty" yaml:"environments,omitempty"`
}

// clone deep-copies c so callers holding a reference can't mutate state
// a Resolver has already handed out.
func (c *EnvironmentsConfig) clone() *EnvironmentsConfig {
	if c == nil {
		return nil
	}
	out := &EnvironmentsConfig{
		Version:      c.Version,
		Environments: make(map[string]pipeline.EnvironmentProfile, len(c.Environments)),
	}
	for name, profile := range c.Environments {
		out.Environments[name] = cloneProfile(profile)
	}
	return out
}

func cloneProfile(p pipeline.EnvironmentProfile) pipeline.EnvironmentProfile {
	out := p
	if p.Ports != nil {
		out.Ports = append([]int(nil), p.Ports...)
	}
	if p.Volumes != nil {
		out.Volumes = append([]containerruntime.VolumeMount(nil), p.Volumes...)
	}
	if p.Env != nil {
		out.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			out.Env[k] = v
		}
	}
	return out
}
