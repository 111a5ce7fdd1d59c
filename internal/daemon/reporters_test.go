package daemon

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/internal/pipeline"
)

func TestJSONReporterKeepsFirstError(t *testing.T) {
	r := NewJSONReporter()
	r.Progress(pipeline.Step("resolve-env"), "Resolving environment", pipeline.StatusInProgress, "")
	r.Error("first failure", 500, pipeline.Step("resolve-env"))
	r.Error("second failure", 400, pipeline.Step("launch"))

	got := r.Err()
	require.NotNil(t, got)
	assert.Equal(t, "first failure", got.Message)
	assert.Equal(t, 500, got.HTTPStatus)
	assert.Equal(t, "resolve-env", got.Step)
}

func TestJSONReporterNilWhenNoError(t *testing.T) {
	r := NewJSONReporter()
	assert.Nil(t, r.Err())
}

func TestSSEReporterWritesConnectedFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := NewSSEReporter(rec)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": connected")
}

func TestSSEReporterProgressAndDoneFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	r, err := NewSSEReporter(rec)
	require.NoError(t, err)

	r.Progress(pipeline.Step("launch"), "Launching", pipeline.StatusInProgress, "")
	r.Done(map[string]string{"sessionId": "sess-1"})

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: progress"))
	assert.True(t, strings.Contains(body, "event: done"))
	assert.True(t, strings.Contains(body, "sess-1"))
}

func TestSSEReporterErrorFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	r, err := NewSSEReporter(rec)
	require.NoError(t, err)

	r.Error("boom", 500, pipeline.Step("launch"))
	assert.Contains(t, rec.Body.String(), "event: error")
	assert.Contains(t, rec.Body.String(), "boom")
}
