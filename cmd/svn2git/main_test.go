package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/branch"
	"github.com/alegrigoriev/svn2git/config"
	"github.com/alegrigoriev/svn2git/mergeengine"
	"github.com/alegrigoriev/svn2git/mergeinfo"
	"github.com/alegrigoriev/svn2git/pathmap"
)

func testRunContext(t *testing.T) (*runContext, *branch.Manager) {
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
	manager := branch.NewManager(mapper, branch.NewArena())
	return &runContext{manager: manager, cfg: cfg}, manager
}

func TestCommitMessageJoinsLogFragments(t *testing.T) {
	ctx, _ := testRunContext(t)
	br := &branch.BranchRev{Log: [][]byte{[]byte("first"), []byte("second")}}
	require.Equal(t, "first\n\nsecond", commitMessage(ctx, &branch.Branch{}, br, nil))
}

func TestCommitMessageSingleFragment(t *testing.T) {
	ctx, _ := testRunContext(t)
	br := &branch.BranchRev{Log: [][]byte{[]byte("only")}}
	require.Equal(t, "only", commitMessage(ctx, &branch.Branch{}, br, nil))
}

func TestCommitMessageRendersCherryPickTrailer(t *testing.T) {
	ctx, manager := testRunContext(t)
	feat, err := manager.OnDirectoryAdded("branches/feat")
	require.NoError(t, err)
	main, err := manager.OnDirectoryAdded("trunk")
	require.NoError(t, err)

	featRev5 := manager.Arena().New(feat, 5)
	featRev5.Commit = "feat-r5-commit"

	mainRev7 := manager.Arena().New(main, 7)
	mainRev7.Log = [][]byte{[]byte("merge feat")}
	mainRev7.CherryPickRevs = []uint64{5}
	mainRev7.RecordMerge(feat, 5, featRev5.ID)

	got := commitMessage(ctx, main, mainRev7, nil)
	require.Equal(t, "merge feat\n\nCherry-picked-from: feat-r5-commit feat;5", got)
}

func TestCommitMessageRendersMergedPathNotes(t *testing.T) {
	ctx, _ := testRunContext(t)
	br := &branch.BranchRev{Log: [][]byte{[]byte("msg")}}
	notes := []mergeengine.Note{
		{SourcePath: "/vendor/lib", Range: mergeinfo.Range{Lo: 3, Hi: 3}},
		{SourcePath: "/vendor/other", Range: mergeinfo.Range{Lo: 4, Hi: 9}},
	}
	got := commitMessage(ctx, &branch.Branch{}, br, notes)
	require.Equal(t, "msg\n\nMerged-path: /vendor/lib r3\nMerged-path: /vendor/other r4-9", got)
}

func TestCommitMessageRendersChangeIDTrailer(t *testing.T) {
	ctx, _ := testRunContext(t)
	br := &branch.BranchRev{Log: [][]byte{[]byte("msg")}, ChangeID: "I1234"}
	got := commitMessage(ctx, &branch.Branch{}, br, nil)
	require.Equal(t, "msg\n\nChange-Id: I1234", got)
}

func TestCommitMessageAppliesEditMsgRules(t *testing.T) {
	cfg, err := config.Unmarshal([]byte(`
edit_msg:
  - match: 'JIRA-(\d+)'
    replace: '#$1'
`))
	require.NoError(t, err)
	ctx := &runContext{cfg: cfg}
	br := &branch.BranchRev{Log: [][]byte{[]byte("fixes JIRA-42")}}
	got := commitMessage(ctx, &branch.Branch{Refname: "refs/heads/main"}, br, nil)
	require.Equal(t, "fixes #42", got)
}

func TestIndexPathForIsStableAndSanitized(t *testing.T) {
	b := &branch.Branch{Refname: "refs/heads/feature/odd name!"}
	p1 := indexPathFor("/repo", b)
	p2 := indexPathFor("/repo", b)
	require.Equal(t, p1, p2)
	require.Equal(t, filepath.Join("/repo", ".git", "svn2git-index-refs_heads_feature_odd_name_"), p1)
}
