package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/gitrepo"
)

func TestBuildGraphEmitsParentAndMergeEdges(t *testing.T) {
	records := []gitrepo.CommitRecord{
		{Commit: "aaaaaaaa1111", Branch: "refs/heads/trunk", Revision: 1},
		{Commit: "bbbbbbbb2222", Parents: []string{"aaaaaaaa1111"}, Branch: "refs/heads/trunk", Revision: 2},
		{Commit: "cccccccc3333", Parents: []string{"aaaaaaaa1111"}, Branch: "refs/heads/dev", Revision: 3},
		{Commit: "dddddddd4444", Parents: []string{"bbbbbbbb2222", "cccccccc3333"}, Branch: "refs/heads/trunk", Revision: 4},
	}

	dot := buildGraph(records, false).String()
	require.Equal(t, 4, strings.Count(dot, "->"))
	require.Contains(t, dot, `"p"`)
	require.Contains(t, dot, `"m"`)
}

func TestBuildGraphSquashesStraightLineChain(t *testing.T) {
	records := []gitrepo.CommitRecord{
		{Commit: "a", Branch: "refs/heads/trunk", Revision: 1},
		{Commit: "b", Parents: []string{"a"}, Branch: "refs/heads/trunk", Revision: 2},
		{Commit: "c", Parents: []string{"b"}, Branch: "refs/heads/trunk", Revision: 3},
	}

	dot := buildGraph(records, true).String()
	require.Equal(t, 2, strings.Count(dot, "->"))
	require.Contains(t, dot, `"p1"`)
}

func TestSkipChainStopsAtBranchBoundary(t *testing.T) {
	byCommit := map[string]*graphCommit{
		"a": {rec: gitrepo.CommitRecord{Commit: "a", Branch: "trunk"}},
		"b": {rec: gitrepo.CommitRecord{Commit: "b", Branch: "dev", Parents: []string{"a"}}},
	}
	start := byCommit["b"]
	start.rec.Branch = "dev"

	skipped, end := skipChain(byCommit, start)
	require.Equal(t, 0, skipped)
	require.Same(t, start, end)
}
