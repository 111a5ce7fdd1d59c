package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/internal/authgate"
)

// NewMux builds the full HTTP surface: session CRUD and lifecycle,
// the two creation routes (buffered JSON and streaming SSE), process
// management inside a session's container, the auth endpoints, and
// the browser WebSocket upgrade — one http.ServeMux using Go's
// method-and-wildcard route patterns, the same shape the teacher's
// server.go registers its /api/* handlers with, just with patterns
// instead of a manual switch on r.Method.
func (d *Daemon) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions/create", d.handleCreateSession)
	mux.HandleFunc("POST /sessions/create-stream", d.handleCreateSessionStream)
	mux.HandleFunc("GET /sessions", d.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", d.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", d.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/kill", d.handleKillSession)
	mux.HandleFunc("POST /sessions/{id}/archive", d.handleArchiveSession)
	mux.HandleFunc("POST /sessions/{id}/unarchive", d.handleUnarchiveSession)
	mux.HandleFunc("POST /sessions/{id}/relaunch", d.handleRelaunchSession)
	mux.HandleFunc("POST /sessions/{id}/name", d.handleRenameSession)
	mux.HandleFunc("POST /sessions/{id}/processes/{taskId}/kill", d.handleKillProcess)
	mux.HandleFunc("POST /sessions/{id}/processes/kill-all", d.handleKillAllProcesses)
	mux.HandleFunc("GET /sessions/{id}/processes/system", d.handleListSystemProcesses)

	mux.HandleFunc("GET /auth/qr", d.handleAuthQR)
	mux.HandleFunc("POST /auth/verify", d.handleAuthVerify)
	mux.HandleFunc("GET /auth/auto", d.handleAuthAuto)

	mux.HandleFunc("GET /ws/browser/{sessionId}", d.handleWsBrowser)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a CompanionError (or any error, wrapped as internal)
// to its §7 HTTP status and a {"error": ...} body.
func writeError(w http.ResponseWriter, err error) {
	ce := errors.AsCompanionError(err)
	writeJSON(w, errors.HTTPStatus(ce.Kind), map[string]string{"error": ce.Message, "kind": string(ce.Kind)})
}

func (d *Daemon) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if !d.AuthGate.Authenticate(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

func (d *Daemon) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", err.Error()))
		return
	}

	reporter := NewJSONReporter()
	sess, err := d.CreateSession(r.Context(), req, reporter)
	if err != nil {
		if ce := reporter.Err(); ce != nil {
			writeJSON(w, ce.HTTPStatus, map[string]string{"error": ce.Message, "step": ce.Step})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (d *Daemon) handleCreateSessionStream(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reporter, err := NewSSEReporter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess, err := d.CreateSession(r.Context(), req, reporter)
	if err != nil {
		return // SSEReporter already emitted the "error" frame via pipeline.Run
	}
	reporter.Done(sess)
}

func (d *Daemon) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, d.Sessions.List())
}

func (d *Daemon) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	sess := d.Sessions.Get(r.PathValue("id"))
	if sess == nil {
		writeError(w, errors.NotFound("session", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (d *Daemon) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	if err := d.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleKillSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	if err := d.KillSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	if err := d.ArchiveSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleUnarchiveSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	if err := d.UnarchiveSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleRelaunchSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	reporter := NewJSONReporter()
	sess, err := d.RelaunchSession(r.Context(), r.PathValue("id"), reporter)
	if err != nil {
		if ce := reporter.Err(); ce != nil {
			writeJSON(w, ce.HTTPStatus, map[string]string{"error": ce.Message, "step": ce.Step})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (d *Daemon) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", err.Error()))
		return
	}
	if err := d.RenameSession(r.PathValue("id"), body.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	if err := d.KillProcess(r.Context(), r.PathValue("id"), r.PathValue("taskId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleKillAllProcesses(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	if err := d.KillAllProcesses(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleListSystemProcesses(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	procs, err := d.ListSystemProcesses(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (d *Daemon) handleAuthQR(w http.ResponseWriter, r *http.Request) {
	if !d.requireAuth(w, r) {
		return
	}
	base := r.URL.Query().Get("base")
	if base == "" {
		base = "http://" + r.Host
	}
	writeJSON(w, http.StatusOK, d.AuthGate.PairingURL(base))
}

func (d *Daemon) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if !d.AuthGate.Authenticate(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthAuto hands the bearer token to a loopback caller without
// requiring it to already have one — the same-machine bootstrap path
// a local CLI companion uses before it ever shows a pairing URL.
func (d *Daemon) handleAuthAuto(w http.ResponseWriter, r *http.Request) {
	if !authgate.IsLoopback(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "loopback only"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": d.AuthGate.Token()})
}

func (d *Daemon) handleWsBrowser(w http.ResponseWriter, r *http.Request) {
	d.Gateway.ServeSession(w, r, r.PathValue("sessionId"))
}
