package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/grovetools/companion/internal/pipeline"
	"github.com/grovetools/companion/pkg/paths"
	"github.com/grovetools/companion/schema"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars substitutes ${VAR} references with the environment's
// value, leaving the reference untouched when the variable is unset —
// the same behavior the teacher's grove.yml loader uses, so a missing
// var surfaces as a literal string in the resolved profile rather than
// silently becoming empty.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

func expandProfileEnvVars(c *EnvironmentsConfig) {
	for name, profile := range c.Environments {
		profile.Image = expandEnvVars(profile.Image)
		for i := range profile.Volumes {
			profile.Volumes[i].HostPath = expandEnvVars(profile.Volumes[i].HostPath)
			profile.Volumes[i].ContainerPath = expandEnvVars(profile.Volumes[i].ContainerPath)
		}
		for k, v := range profile.Env {
			profile.Env[k] = expandEnvVars(v)
		}
		c.Environments[name] = profile
	}
}

// Load reads and validates the environments.yaml document at path. A
// missing file is not an error — it yields an empty config so a fresh
// install with no profiles defined still boots.
func Load(path string) (*EnvironmentsConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &EnvironmentsConfig{Version: SchemaVersion, Environments: map[string]pipeline.EnvironmentProfile{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg EnvironmentsConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compiling environments schema: %w", err)
	}
	if err := validator.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s failed schema validation: %w", path, err)
	}

	if cfg.Environments == nil {
		cfg.Environments = map[string]pipeline.EnvironmentProfile{}
	}
	expandProfileEnvVars(&cfg)
	return &cfg, nil
}

// LoadDefault loads environments.yaml from its standard XDG location,
// merging in environments.override.yaml from the same directory when
// present — the companion analogue of the teacher's global/project/
// local grove.yml layering, collapsed to two layers since companion has
// no per-repo config directory to search upward from.
func LoadDefault() (*EnvironmentsConfig, error) {
	base, err := Load(paths.EnvironmentsFile())
	if err != nil {
		return nil, err
	}

	overridePath := overridePathFor(paths.EnvironmentsFile())
	if _, err := os.Stat(overridePath); err != nil {
		return base, nil
	}
	override, err := Load(overridePath)
	if err != nil {
		return nil, err
	}
	return MergeConfigs(base, override), nil
}

func overridePathFor(path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return base + ".override" + ext
}
