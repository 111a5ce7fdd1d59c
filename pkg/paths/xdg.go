// Package paths provides XDG-compliant path resolution for the companion
// daemon's persisted state (spec §6).
//
// Resolution order:
//  1. COMPANION_HOME (portable root) → $COMPANION_HOME/{config,data,state,cache}
//  2. XDG env vars → $XDG_*_HOME/companion
//  3. Platform defaults → ~/.config/companion, ~/.local/share/companion, etc.
package paths

import (
	"os"
	"path/filepath"
)

func getConfigHome() string {
	if home := os.Getenv("COMPANION_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

func getDataHome() string {
	if home := os.Getenv("COMPANION_HOME"); home != "" {
		return filepath.Join(home, "data")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share")
	}
	return ""
}

func getStateHome() string {
	if home := os.Getenv("COMPANION_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return xdg
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

func getCacheHome() string {
	if home := os.Getenv("COMPANION_HOME"); home != "" {
		return filepath.Join(home, "cache")
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cache")
	}
	return ""
}

// ConfigDir returns the companion configuration directory.
// Holds environments.yaml (named environment profiles).
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "companion")
}

// DataDir returns the companion data directory.
func DataDir() string {
	base := getDataHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "companion")
}

// StateDir returns the companion state directory.
// Holds auth.json, settings.json, sessions.json, containers.json,
// linear-projects.json, plugins.json, and daemon logs (spec §6).
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "companion")
}

// CacheDir returns the companion cache directory.
func CacheDir() string {
	base := getCacheHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "companion")
}

// RuntimeDir returns the companion runtime directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir.
func RuntimeDir() string {
	if home := os.Getenv("COMPANION_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "companion")
	}
	return StateDir()
}

// LogDir returns the directory companion writes its own log files into.
func LogDir() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "logs")
}

// PidFilePath returns the path to the companion daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "companiond.pid")
}

// AuthFile returns the path to auth.json (bearer token).
func AuthFile() string { return filepath.Join(StateDir(), "auth.json") }

// SettingsFile returns the path to settings.json.
func SettingsFile() string { return filepath.Join(StateDir(), "settings.json") }

// SessionsFile returns the path to sessions.json (session index).
func SessionsFile() string { return filepath.Join(StateDir(), "sessions.json") }

// ContainersFile returns the path to containers.json (tracked container handles).
func ContainersFile() string { return filepath.Join(StateDir(), "containers.json") }

// LinearProjectsFile returns the path to linear-projects.json.
func LinearProjectsFile() string { return filepath.Join(StateDir(), "linear-projects.json") }

// PluginsFile returns the path to plugins.json (plugin persisted state).
func PluginsFile() string { return filepath.Join(StateDir(), "plugins.json") }

// WorktreeMappingsFile returns the path to worktrees.json (the
// session-id -> worktree mapping registry).
func WorktreeMappingsFile() string { return filepath.Join(StateDir(), "worktrees.json") }

// EnvironmentsFile returns the path to environments.yaml (environment profiles).
func EnvironmentsFile() string { return filepath.Join(ConfigDir(), "environments.yaml") }

// EnsureDirs creates all companion directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{ConfigDir(), DataDir(), StateDir(), CacheDir(), RuntimeDir(), LogDir()}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
