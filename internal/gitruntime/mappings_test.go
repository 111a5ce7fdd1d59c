package gitruntime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/companion/pkg/models"
)

func TestMappingRegistryUpsertGetRoundTrip(t *testing.T) {
	reg := NewMappingRegistry(t.TempDir() + "/worktrees.json")

	created := time.Now().Add(-time.Hour)
	err := reg.Upsert(&models.WorktreeMapping{
		SessionID: "sess1", RepoRoot: "/repo/", RequestedBranch: "feat/x",
		ActualBranch: "feat/x", WorktreePath: "/wt/sess1", CreatedAt: created,
	})
	require.NoError(t, err)

	got := reg.Get("sess1")
	require.NotNil(t, got)
	assert.Equal(t, "/repo", got.RepoRoot) // trailing slash normalized
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestMappingRegistryPreservesCreatedAtOnUpdate(t *testing.T) {
	reg := NewMappingRegistry(t.TempDir() + "/worktrees.json")
	created := time.Now().Add(-24 * time.Hour)

	require.NoError(t, reg.Upsert(&models.WorktreeMapping{SessionID: "sess1", RepoRoot: "/repo", ActualBranch: "main", CreatedAt: created}))
	require.NoError(t, reg.Upsert(&models.WorktreeMapping{SessionID: "sess1", RepoRoot: "/repo", ActualBranch: "feat/y", CreatedAt: time.Now()}))

	got := reg.Get("sess1")
	require.NotNil(t, got)
	assert.Equal(t, "feat/y", got.ActualBranch)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestMappingRegistryRemoveBySession(t *testing.T) {
	reg := NewMappingRegistry(t.TempDir() + "/worktrees.json")
	require.NoError(t, reg.Upsert(&models.WorktreeMapping{SessionID: "sess1", RepoRoot: "/repo", ActualBranch: "main"}))

	require.NoError(t, reg.RemoveBySession("sess1"))
	assert.Nil(t, reg.Get("sess1"))
}

func TestMappingRegistryInUseDetectsSharedWorktree(t *testing.T) {
	reg := NewMappingRegistry(t.TempDir() + "/worktrees.json")
	require.NoError(t, reg.Upsert(&models.WorktreeMapping{SessionID: "sess1", RepoRoot: "/repo", WorktreePath: "/wt/shared"}))
	require.NoError(t, reg.Upsert(&models.WorktreeMapping{SessionID: "sess2", RepoRoot: "/repo", WorktreePath: "/wt/shared"}))

	assert.True(t, reg.InUse("/wt/shared", "sess1"))
	require.NoError(t, reg.RemoveBySession("sess2"))
	assert.False(t, reg.InUse("/wt/shared", "sess1"))
}
