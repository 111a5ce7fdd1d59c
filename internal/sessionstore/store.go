// Package sessionstore is the persisted index of session metadata:
// thread-safe in-memory state, atomically persisted on every mutation,
// restored on daemon boot.
package sessionstore

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/atomicfile"
	"github.com/grovetools/companion/pkg/models"
)

var log = logging.NewLogger("sessionstore")

// Store is the thread-safe in-memory index of sessions, mirrored to
// sessions.json on every mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	path     string
}

// New creates an empty Store that persists to path.
func New(path string) *Store {
	return &Store{sessions: make(map[string]*models.Session), path: path}
}

// Load restores the store from its persisted file; a missing or
// corrupt file is treated as empty.
func (s *Store) Load() error {
	data, err := atomicfile.ReadOrEmpty(s.path)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "reading sessions.json")
	}
	if data == nil {
		return nil
	}

	var sessions []*models.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Warn("sessions.json is corrupt; treating as empty")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range sessions {
		sess.Live = false // nothing is live immediately after boot; CreationPipeline/relaunch sets this
		s.sessions[sess.ID] = sess
	}
	return nil
}

// Upsert inserts or replaces a session and persists the store.
func (s *Store) Upsert(sess *models.Session) error {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return s.persist()
}

// Get returns the session with id, or nil if unknown.
func (s *Store) Get(id string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// List returns all sessions, most recently created first.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// Archive marks a session archived and persists the store.
func (s *Store) Archive(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.Archived = true
		sess.Live = false
	}
	s.mu.Unlock()
	if !ok {
		return errors.NotFound("session", id)
	}
	return s.persist()
}

// Delete removes all state for a session and persists the store.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return errors.NotFound("session", id)
	}
	return s.persist()
}

func (s *Store) persist() error {
	s.mu.RLock()
	sessions := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encoding sessions.json")
	}
	return atomicfile.Write(s.path, data, 0644)
}
