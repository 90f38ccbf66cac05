package branch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/config"
	"github.com/alegrigoriev/svn2git/pathmap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{
		Vars: map[string][]string{"Trunk": {"trunk"}, "Branches": {"branches"}},
		MapPaths: []config.MapPath{
			{Path: "trunk", Refname: "refs/heads/main"},
			{Path: "branches/*", Refname: "refs/heads/$1"},
		},
	}
	mapper, err := pathmap.NewMapper(cfg)
	require.NoError(t, err)
	return NewManager(mapper, NewArena())
}

func TestOnDirectoryAddedCreatesBranch(t *testing.T) {
	m := testManager(t)
	b, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, "refs/heads/main", b.Refname)
}

func TestOnDirectoryAddedUnmappedPathReturnsNil(t *testing.T) {
	m := testManager(t)
	b, err := m.OnDirectoryAdded("vendor")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestOnDirectoryAddedIsIdempotentForSamePath(t *testing.T) {
	m := testManager(t)
	b1, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	b2, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	require.Same(t, b1, b2)
}

func TestBranchUnderUnmappedDirHasNoMergeParent(t *testing.T) {
	m := testManager(t)
	_, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	feat, err := m.OnDirectoryAdded("branches/feat")
	require.NoError(t, err)
	require.NotNil(t, feat)
	require.Nil(t, feat.MergeParent) // "branches" itself is unmapped, not a branch
}

func TestDeleteThenReAddBumpsIndexSeq(t *testing.T) {
	m := testManager(t)
	b1, err := m.OnDirectoryAdded("branches/feat")
	require.NoError(t, err)
	require.Equal(t, 0, b1.IndexSeq)

	deleted := m.OnDirectoryDeleted("branches/feat")
	require.Len(t, deleted, 1)
	require.True(t, deleted[0].Deleted)

	b2, err := m.OnDirectoryAdded("branches/feat")
	require.NoError(t, err)
	require.NotSame(t, b1, b2)
	require.Equal(t, 1, b2.IndexSeq)
}

func TestArenaLinksRevisionsInOrder(t *testing.T) {
	m := testManager(t)
	b, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)

	r1 := m.Arena().New(b, 1)
	r2 := m.Arena().New(b, 2)
	require.Equal(t, NoBranchRev, r1.PrevRev)
	require.Equal(t, r2.ID, r1.NextRev)
	require.Equal(t, r1.ID, r2.PrevRev)
	require.Equal(t, r2.ID, b.HeadID)
	require.Equal(t, []BranchRevID{r1.ID, r2.ID}, b.Revisions)
}

func TestDedupeRefSuffixesCollision(t *testing.T) {
	cfg := &config.Config{
		MapPaths: []config.MapPath{
			{Path: "a", Refname: "refs/heads/shared"},
			{Path: "b", Refname: "refs/heads/shared"},
		},
	}
	mapper, err := pathmap.NewMapper(cfg)
	require.NoError(t, err)
	m := NewManager(mapper, NewArena())
	ba, err := m.OnDirectoryAdded("a")
	require.NoError(t, err)
	bb, err := m.OnDirectoryAdded("b")
	require.NoError(t, err)
	require.Equal(t, "refs/heads/shared", ba.Refname)
	require.Equal(t, "refs/heads/shared___1", bb.Refname)
}
