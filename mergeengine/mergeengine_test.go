package mergeengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/branch"
	"github.com/alegrigoriev/svn2git/config"
	"github.com/alegrigoriev/svn2git/mergeinfo"
	"github.com/alegrigoriev/svn2git/pathmap"
)

func testManager(t *testing.T) *branch.Manager {
	t.Helper()
	cfg := &config.Config{
		MapPaths: []config.MapPath{
			{Path: "trunk", Refname: "refs/heads/main"},
			{Path: "branches/*", Refname: "refs/heads/$1"},
		},
	}
	mapper, err := pathmap.NewMapper(cfg)
	require.NoError(t, err)
	return branch.NewManager(mapper, branch.NewArena())
}

func TestReconstructFullMergeBecomesStructuralParent(t *testing.T) {
	m := testManager(t)
	trunk, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	feat, err := m.OnDirectoryAdded("branches/feat")
	require.NoError(t, err)

	m.Arena().New(trunk, 1)
	f2 := m.Arena().New(feat, 2)
	f3 := m.Arena().New(feat, 3)
	t4 := m.Arena().New(trunk, 4)

	t4.Mergeinfo = mergeinfo.Mergeinfo{"/branches/feat": mergeinfo.Ranges{{Lo: 2, Hi: 3}}}
	prev := mergeinfo.Mergeinfo{}

	rec := NewReconstructor(m)
	notes := rec.Reconstruct(t4, prev)
	require.Empty(t, notes)
	require.Equal(t, []branch.BranchRevID{f3.ID}, t4.Parents)
	_, ok := t4.HasMerged(feat, f2.Rev)
	require.True(t, ok)
}

func TestReconstructGapBecomesCherryPick(t *testing.T) {
	m := testManager(t)
	trunk, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	feat, err := m.OnDirectoryAdded("branches/feat")
	require.NoError(t, err)

	m.Arena().New(trunk, 1)
	m.Arena().New(feat, 2)
	f3 := m.Arena().New(feat, 3)
	t4 := m.Arena().New(trunk, 4)

	// Only revision 3 is claimed merged; revision 2 is an unexplained
	// gap, so this must fall back to a cherry-pick, not a parent.
	t4.Mergeinfo = mergeinfo.Mergeinfo{"/branches/feat": mergeinfo.Ranges{{Lo: 3, Hi: 3}}}
	prev := mergeinfo.Mergeinfo{}

	rec := NewReconstructor(m)
	rec.Reconstruct(t4, prev)
	require.Empty(t, t4.Parents)
	require.Equal(t, []uint64{3}, t4.CherryPickRevs)
	at, ok := t4.HasMerged(feat, 3)
	require.True(t, ok)
	require.Equal(t, f3.ID, at)
}

func TestReconstructUnmappedSourceProducesNote(t *testing.T) {
	m := testManager(t)
	trunk, err := m.OnDirectoryAdded("trunk")
	require.NoError(t, err)
	m.Arena().New(trunk, 1)
	t2 := m.Arena().New(trunk, 2)

	t2.Mergeinfo = mergeinfo.Mergeinfo{"/vendor/lib": mergeinfo.Ranges{{Lo: 1, Hi: 1}}}
	rec := NewReconstructor(m)
	notes := rec.Reconstruct(t2, mergeinfo.Mergeinfo{})
	require.Len(t, notes, 1)
	require.Equal(t, "/vendor/lib", notes[0].SourcePath)
}
