// Package models defines the shared record types that flow between
// BackendAdapter, WsBridge, PluginBus, and BrowserGateway: the uniform
// envelope, session metadata, container/worktree handles, permission
// requests, and plugin definitions/state.
package models

import (
	"encoding/json"
	"time"
)

// EventVersion is the current envelope schema version. Bumped only when
// the {name, meta, data} shape itself changes, not per event kind.
const EventVersion = 2

// Source identifies which component produced an envelope.
type Source string

const (
	SourceRoutes         Source = "routes"
	SourceWsBridge       Source = "ws-bridge"
	SourceBackendAdapter Source = "backend-adapter"
	SourcePluginBus      Source = "plugin-bus"
)

// EnvelopeMeta carries the fields every envelope needs for routing and
// correlation, independent of its payload shape.
type EnvelopeMeta struct {
	EventID       string    `json:"eventId"`
	EventVersion  int       `json:"eventVersion"`
	Timestamp     time.Time `json:"timestamp"`
	Source        Source    `json:"source"`
	SessionID     string    `json:"sessionId,omitempty"`
	BackendType   string    `json:"backendType,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Envelope is the uniform message shape crossing every fan-out boundary.
// Seq is assigned by WsBridge, never by the producer; it is the zero
// value until the bridge stamps it.
type Envelope struct {
	Seq  int64           `json:"seq,omitempty"`
	Name string          `json:"name"`
	Meta EnvelopeMeta    `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope with a fresh eventId and the given
// source/name/data; Seq is left unset for the bridge to stamp.
func NewEnvelope(source Source, name string, sessionID string, data json.RawMessage) Envelope {
	return Envelope{
		Name: name,
		Meta: EnvelopeMeta{
			EventID:      newEventID(),
			EventVersion: EventVersion,
			Timestamp:    time.Now(),
			Source:       source,
			SessionID:    sessionID,
		},
		Data: data,
	}
}

// WithCorrelation returns a copy of the envelope tagged with a
// correlation id, used to thread a browser command to its eventual
// backend-originated response.
func (e Envelope) WithCorrelation(correlationID string) Envelope {
	e.Meta.CorrelationID = correlationID
	return e
}
