package gitruntime

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/atomicfile"
	"github.com/grovetools/companion/pkg/models"
	"github.com/grovetools/companion/util/pathutil"
)

var mappingsLog = logging.NewLogger("gitruntime.mappings")

// MappingRegistry is the persisted session-id -> WorktreeMapping index,
// the same mutex-guarded, atomically-persisted shape sessionstore.Store
// uses for sessions.json.
type MappingRegistry struct {
	mu       sync.RWMutex
	mappings map[string]*models.WorktreeMapping
	path     string
}

// NewMappingRegistry creates an empty registry that persists to path.
func NewMappingRegistry(path string) *MappingRegistry {
	return &MappingRegistry{mappings: make(map[string]*models.WorktreeMapping), path: path}
}

// Load restores the registry from its persisted file; a missing or
// corrupt file is treated as empty.
func (m *MappingRegistry) Load() error {
	data, err := atomicfile.ReadOrEmpty(m.path)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "reading worktree mappings")
	}
	if data == nil {
		return nil
	}

	var mappings []*models.WorktreeMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		mappingsLog.Warn("worktree mapping file is corrupt; treating as empty")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mapping := range mappings {
		m.mappings[mapping.SessionID] = mapping
	}
	return nil
}

// Upsert inserts or replaces a mapping. RepoRoot is normalized (no
// trailing slash) before storage and comparison; CreatedAt is
// preserved across an update to the same session id.
func (m *MappingRegistry) Upsert(mapping *models.WorktreeMapping) error {
	normalized := *mapping
	normalized.RepoRoot = strings.TrimRight(normalized.RepoRoot, "/")

	m.mu.Lock()
	if existing, ok := m.mappings[normalized.SessionID]; ok {
		normalized.CreatedAt = existing.CreatedAt
	}
	m.mappings[normalized.SessionID] = &normalized
	m.mu.Unlock()

	return m.persist()
}

// Get returns the mapping for sessionID, or nil if unknown.
func (m *MappingRegistry) Get(sessionID string) *models.WorktreeMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mappings[sessionID]
}

// RemoveBySession deletes the mapping for sessionID, if any.
func (m *MappingRegistry) RemoveBySession(sessionID string) error {
	m.mu.Lock()
	_, ok := m.mappings[sessionID]
	delete(m.mappings, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.persist()
}

// InUse reports whether worktreePath is referenced by any mapping
// other than excludeSessionID — used to decide whether removing a
// worktree on session delete would orphan a sibling session. Paths are
// compared via pathutil.ComparePaths rather than raw string equality,
// since two recorded paths can reach the same worktree through a
// symlinked home directory or differ only in filesystem case.
func (m *MappingRegistry) InUse(worktreePath, excludeSessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for sessionID, mapping := range m.mappings {
		if sessionID == excludeSessionID {
			continue
		}
		if mapping.WorktreePath == worktreePath {
			return true
		}
		if same, err := pathutil.ComparePaths(mapping.WorktreePath, worktreePath); err == nil && same {
			return true
		}
	}
	return false
}

func (m *MappingRegistry) persist() error {
	m.mu.RLock()
	mappings := make([]*models.WorktreeMapping, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		mappings = append(mappings, mapping)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(mappings, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encoding worktree mappings")
	}
	return atomicfile.Write(m.path, data, 0644)
}
