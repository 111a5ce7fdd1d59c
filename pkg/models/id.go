package models

import (
	"crypto/rand"
	"encoding/hex"
)

// newEventID mints a random 16-byte hex id. Used wherever a component
// needs an opaque unique identifier without pulling in a UUID library
// (the pack carries no UUID dependency; crypto/rand-backed hex matches
// auth.json's existing token convention).
func newEventID() string {
	return randomHex(16)
}

// randomHex returns n random bytes rendered as a hex string.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// NewID mints a new opaque identifier for sessions, requests, and
// client-generated message ids.
func NewID() string {
	return randomHex(16)
}
