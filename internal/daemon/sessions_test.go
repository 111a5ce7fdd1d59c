package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/sessionstore"
	"github.com/grovetools/companion/pkg/models"
)

func newSessionDaemon(t *testing.T) *Daemon {
	t.Helper()
	dir := t.TempDir()
	return &Daemon{
		Sessions: sessionstore.New(filepath.Join(dir, "sessions.json")),
		live:     make(map[string]*liveSession),
	}
}

func TestRenameSessionUpdatesName(t *testing.T) {
	d := newSessionDaemon(t)
	require.NoError(t, d.Sessions.Upsert(&models.Session{ID: "sess-1", Cwd: "/tmp"}))

	require.NoError(t, d.RenameSession("sess-1", "new-name"))
	assert.Equal(t, "new-name", d.Sessions.Get("sess-1").Name)
}

func TestRenameSessionMissingReturnsNotFound(t *testing.T) {
	d := newSessionDaemon(t)
	err := d.RenameSession("missing", "x")
	assert.Error(t, err)
}

func TestUnarchiveSessionClearsFlag(t *testing.T) {
	d := newSessionDaemon(t)
	require.NoError(t, d.Sessions.Upsert(&models.Session{ID: "sess-1", Cwd: "/tmp", Archived: true}))

	require.NoError(t, d.UnarchiveSession("sess-1"))
	assert.False(t, d.Sessions.Get("sess-1").Archived)
}

func TestUnarchiveSessionMissingReturnsNotFound(t *testing.T) {
	d := newSessionDaemon(t)
	assert.Error(t, d.UnarchiveSession("missing"))
}

func TestKillSessionMissingReturnsNotFound(t *testing.T) {
	d := newSessionDaemon(t)
	err := d.KillSession(t.Context(), "missing")
	assert.Error(t, err)
}
