package daemon

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/authgate"
	"github.com/grovetools/companion/internal/sessionstore"
	"github.com/grovetools/companion/pkg/models"
)

func newTestDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()

	gate, err := authgate.Open(filepath.Join(dir, "auth.json"))
	require.NoError(t, err)

	d := &Daemon{
		AuthGate: gate,
		Sessions: sessionstore.New(filepath.Join(dir, "sessions.json")),
		live:     make(map[string]*liveSession),
	}
	return d, gate.Token()
}

func TestHandleListSessionsRequiresAuth(t *testing.T) {
	d, _ := newTestDaemon(t)
	mux := d.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleListSessionsReturnsEmptyList(t *testing.T) {
	d, token := newTestDaemon(t)
	mux := d.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleGetSessionNotFound(t *testing.T) {
	d, token := newTestDaemon(t)
	mux := d.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRenameSessionUpdatesName(t *testing.T) {
	d, token := newTestDaemon(t)
	require.NoError(t, d.Sessions.Upsert(&models.Session{ID: "sess-1", Cwd: "/tmp"}))
	mux := d.NewMux()

	body := bytes.NewBufferString(`{"name":"renamed"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/name", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "renamed", d.Sessions.Get("sess-1").Name)
}

func TestHandleAuthAutoRejectsNonLoopback(t *testing.T) {
	d, _ := newTestDaemon(t)
	mux := d.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/auth/auto", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
