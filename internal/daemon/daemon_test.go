package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/companion/internal/wsbridge"
	"github.com/grovetools/companion/pkg/models"
)

func TestHostCwdForPrefersWorktreePath(t *testing.T) {
	wt := "/home/user/.worktrees/sess-1"
	sess := &models.Session{Cwd: "/home/user/project", WorktreePath: &wt}
	assert.Equal(t, wt, hostCwdFor(sess))
}

func TestHostCwdForFallsBackToCwd(t *testing.T) {
	sess := &models.Session{Cwd: "/home/user/project"}
	assert.Equal(t, "/home/user/project", hostCwdFor(sess))
}

func TestTrackAndResolveBridge(t *testing.T) {
	d := &Daemon{live: make(map[string]*liveSession)}
	bridge := &wsbridge.Bridge{}

	_, ok := d.ResolveBridge("sess-1")
	assert.False(t, ok)

	d.trackLive("sess-1", &liveSession{bridge: bridge})
	resolved, ok := d.ResolveBridge("sess-1")
	assert.True(t, ok)
	assert.Same(t, bridge, resolved)
}

func TestUntrackLiveRemovesEntry(t *testing.T) {
	d := &Daemon{live: make(map[string]*liveSession)}
	d.trackLive("sess-1", &liveSession{})

	ls, ok := d.untrackLive("sess-1")
	assert.True(t, ok)
	assert.NotNil(t, ls)

	_, ok = d.ResolveBridge("sess-1")
	assert.False(t, ok)

	_, ok = d.untrackLive("sess-1")
	assert.False(t, ok)
}
