package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, cfg.Version)
	assert.Empty(t, cfg.Environments)
}

func TestLoadParsesValidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environments.yaml")
	doc := `
version: "1"
environments:
  default:
    image: ghcr.io/grovetools/companion-runtime:latest
    ports: [39191]
    volumes:
      - hostPath: /tmp/cache
        containerPath: /cache
        readOnly: true
    env:
      FOO: bar
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Environments, "default")
	profile := cfg.Environments["default"]
	assert.Equal(t, "ghcr.io/grovetools/companion-runtime:latest", profile.Image)
	assert.Equal(t, []int{39191}, profile.Ports)
	require.Len(t, profile.Volumes, 1)
	assert.Equal(t, "/tmp/cache", profile.Volumes[0].HostPath)
	assert.True(t, profile.Volumes[0].ReadOnly)
	assert.Equal(t, "bar", profile.Env["FOO"])
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environments.yaml")
	doc := `
version: "1"
environments:
  default:
    bogusField: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandEnvVarsSubstitutesSetVariable(t *testing.T) {
	t.Setenv("COMPANION_TEST_TOKEN", "secret-value")
	assert.Equal(t, "bearer secret-value", expandEnvVars("bearer ${COMPANION_TEST_TOKEN}"))
}

func TestExpandEnvVarsLeavesUnsetReferenceLiteral(t *testing.T) {
	os.Unsetenv("COMPANION_TEST_UNSET")
	assert.Equal(t, "${COMPANION_TEST_UNSET}", expandEnvVars("${COMPANION_TEST_UNSET}"))
}
