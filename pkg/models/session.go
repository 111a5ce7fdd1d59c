package models

import "time"

// BackendKind identifies which coding CLI a session is bound to.
type BackendKind string

const (
	BackendClaude BackendKind = "claude"
	BackendCodex  BackendKind = "codex"
)

// PermissionMode is the backend's current tool-approval policy.
type PermissionMode string

// Session is the persisted record of one backend CLI invocation bound
// to one working directory and its bridge state. A session is either
// live (its backend process is running, WsBridge fan-in active) or
// dormant (metadata only; reconnectable via relaunch).
type Session struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	ParentSessionID *string `json:"parentSessionId,omitempty"`

	Backend BackendKind `json:"backend"`
	Cwd     string      `json:"cwd"`

	ContainerID  *string `json:"containerId,omitempty"`
	WorktreePath *string `json:"worktreePath,omitempty"`

	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`

	// Last-known state, mutated by WsBridge on backend state updates.
	Model              string  `json:"model,omitempty"`
	PermissionMode     string  `json:"permissionMode,omitempty"`
	GitBranch          string  `json:"gitBranch,omitempty"`
	AheadCount         int     `json:"aheadCount"`
	BehindCount        int     `json:"behindCount"`
	LinesAdded         int     `json:"linesAdded"`
	LinesRemoved       int     `json:"linesRemoved"`
	NumTurns           int     `json:"numTurns"`
	CumulativeCostUSD  float64 `json:"cumulativeCostUsd"`
	ContextUsedPercent float64 `json:"contextUsedPercent"`

	// Live is not persisted: it reflects whether a WsBridge+adapter pair
	// currently own this session in this daemon process.
	Live bool `json:"live"`
}

// IsLive reports whether the session currently has a running backend
// process and active bridge fan-in.
func (s *Session) IsLive() bool {
	return s.Live && !s.Archived
}
