package backendadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioAdapterRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := NewStdioAdapter(ctx, []string{"cat"}, t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Send(ctx, Outbound{Type: "ping"}))

	select {
	case ev, ok := <-a.Events():
		require.True(t, ok)
		assert.Equal(t, InboundKind("ping"), ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echoed event")
	}
}

func TestStdioAdapterClosesEventsOnExit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := NewStdioAdapter(ctx, []string{"true"}, t.TempDir())
	require.NoError(t, err)

	select {
	case <-a.Closed():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for process exit")
	}

	_, ok := <-a.Events()
	assert.False(t, ok)
}

func TestStdioAdapterRejectsEmptyArgv(t *testing.T) {
	_, err := NewStdioAdapter(context.Background(), nil, t.TempDir())
	require.Error(t, err)
}
