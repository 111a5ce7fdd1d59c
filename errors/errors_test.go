package errors

import (
	"fmt"
	"testing"
)

func TestCompanionError(t *testing.T) {
	err := New(KindNotFound, "session not found")
	if err.Kind != KindNotFound {
		t.Errorf("expected kind %s, got %s", KindNotFound, err.Kind)
	}

	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, KindInternal, "command failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	if !Is(wrapped, KindInternal) {
		t.Error("Is should return true for matching kind")
	}
	if Is(wrapped, KindNotFound) {
		t.Error("Is should return false for non-matching kind")
	}

	detailed := err.WithDetail("session", "abc").WithDetail("port", 8080)
	if detailed.Details["session"] != "abc" {
		t.Error("WithDetail should add details")
	}
}

func TestErrorConstructors(t *testing.T) {
	err := NotFound("session", "abc123")
	if err.Kind != KindNotFound {
		t.Errorf("expected kind %s, got %s", KindNotFound, err.Kind)
	}
	if err.Details["id"] != "abc123" {
		t.Error("NotFound should include id detail")
	}

	err = PortConflict(8080)
	if err.Kind != KindInvalidInput {
		t.Errorf("expected kind %s, got %s", KindInvalidInput, err.Kind)
	}
	if err.Details["port"] != 8080 {
		t.Error("PortConflict should include port detail")
	}
}

func TestGetKindUnwraps(t *testing.T) {
	inner := New(KindTimeout, "plugin timed out")
	outer := fmt.Errorf("dispatch failed: %w", inner)

	if GetKind(outer) != KindTimeout {
		t.Errorf("expected GetKind to unwrap to %s, got %s", KindTimeout, GetKind(outer))
	}
}
