package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/grovetools/companion/logging"
)

// StepEvent is one reported step transition, the JSON shape both
// reporter implementations emit.
type StepEvent struct {
	Step   Step       `json:"step"`
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// ErrorEvent is the single fatal-error payload, shaped for the HTTP
// surface's {error, step?} response.
type ErrorEvent struct {
	Error      string `json:"error"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Step       Step   `json:"step,omitempty"`
}

// JSONReporter buffers progress until the run ends, then renders one
// JSON document: the final step events plus an error field if the
// pipeline failed. POST /sessions/create uses internal/daemon's own
// JSONReporter, not this one.
type JSONReporter struct {
	Steps []StepEvent `json:"steps"`
	Err   *ErrorEvent `json:"error,omitempty"`
}

// NewJSONReporter creates an empty JSONReporter.
func NewJSONReporter() *JSONReporter {
	return &JSONReporter{}
}

func (r *JSONReporter) Progress(step Step, label string, status StepStatus, detail string) {
	r.Steps = append(r.Steps, StepEvent{Step: step, Label: label, Status: status, Detail: detail})
}

func (r *JSONReporter) Error(msg string, httpStatus int, step Step) {
	r.Err = &ErrorEvent{Error: msg, HTTPStatus: httpStatus, Step: step}
}

// WriteTo renders the buffered report as the HTTP response.
func (r *JSONReporter) WriteTo(w http.ResponseWriter) {
	status := http.StatusOK
	if r.Err != nil {
		status = r.Err.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(r)
}

var sseLog = logging.NewLogger("pipeline.sse")

// SSEReporter writes one Server-Sent Events frame per call, flushing
// immediately — the teacher's handleStreamState shape applied to
// pipeline progress instead of daemon state updates. POST
// /sessions/create-stream uses internal/daemon's own SSEReporter, not
// this one.
type SSEReporter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEReporter prepares w for SSE and writes the required headers. It
// returns an error if w doesn't support flushing.
func NewSSEReporter(w http.ResponseWriter) (*SSEReporter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported{}
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEReporter{w: w, flusher: flusher}, nil
}

func (r *SSEReporter) Progress(step Step, label string, status StepStatus, detail string) {
	data, err := json.Marshal(StepEvent{Step: step, Label: label, Status: status, Detail: detail})
	if err != nil {
		sseLog.WithError(err).Error("failed to marshal progress event")
		return
	}
	eventName := "progress"
	if status == StatusDone && step == StepBookkeeping {
		eventName = "done"
	}
	writeSSEFrame(r.w, eventName, data)
	r.flusher.Flush()
}

func (r *SSEReporter) Error(msg string, httpStatus int, step Step) {
	data, err := json.Marshal(ErrorEvent{Error: msg, HTTPStatus: httpStatus, Step: step})
	if err != nil {
		sseLog.WithError(err).Error("failed to marshal error event")
		return
	}
	writeSSEFrame(r.w, "error", data)
	r.flusher.Flush()
}

func writeSSEFrame(w http.ResponseWriter, event string, data []byte) {
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

type errStreamingUnsupported struct{}

func (errStreamingUnsupported) Error() string { return "streaming not supported" }
