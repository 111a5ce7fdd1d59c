package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/grovetools/companion/internal/pipeline"
)

// progressEvent is the wire shape for one step update, shared by
// JSONReporter's final payload and SSEReporter's "progress" frames.
type progressEvent struct {
	Step   string `json:"step"`
	Label  string `json:"label"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type errorEvent struct {
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`
	Step       string `json:"step"`
}

// JSONReporter accumulates progress silently and only matters for its
// first reported error — /sessions/create returns one response at the
// end, not a stream, so intermediate steps are discarded.
type JSONReporter struct {
	mu  sync.Mutex
	err *errorEvent
}

func NewJSONReporter() *JSONReporter { return &JSONReporter{} }

func (j *JSONReporter) Progress(step pipeline.Step, label string, status pipeline.StepStatus, detail string) {}

func (j *JSONReporter) Error(msg string, httpStatus int, step pipeline.Step) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		j.err = &errorEvent{Message: msg, HTTPStatus: httpStatus, Step: string(step)}
	}
}

// Err returns the first reported error, or nil.
func (j *JSONReporter) Err() *errorEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

var _ pipeline.ProgressReporter = (*JSONReporter)(nil)

// SSEReporter streams "progress", "done", and "error" Server-Sent
// Events frames for /sessions/create-stream — the same flush-per-event
// pattern the teacher's server.go uses for its workspace feed, here
// fed directly from CreationPipeline's step callbacks instead of a
// store subscription.
type SSEReporter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEReporter prepares w for event-stream output and sends the
// initial comment frame clients use to confirm the connection is live.
func NewSSEReporter(w http.ResponseWriter) (*SSEReporter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	r := &SSEReporter{w: w, flusher: flusher}
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()
	return r, nil
}

func (s *SSEReporter) write(event string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

func (s *SSEReporter) Progress(step pipeline.Step, label string, status pipeline.StepStatus, detail string) {
	s.write("progress", progressEvent{Step: string(step), Label: label, Status: string(status), Detail: detail})
}

func (s *SSEReporter) Error(msg string, httpStatus int, step pipeline.Step) {
	s.write("error", errorEvent{Message: msg, HTTPStatus: httpStatus, Step: string(step)})
}

// Done sends the terminal "done" frame once the pipeline returns
// successfully; the route handler calls this itself since Run's
// Result isn't visible to ProgressReporter.
func (s *SSEReporter) Done(payload interface{}) {
	s.write("done", payload)
}

var _ pipeline.ProgressReporter = (*SSEReporter)(nil)
