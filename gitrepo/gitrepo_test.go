package gitrepo

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testCollaborator(t *testing.T) *Collaborator {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	c, err := New(t.TempDir(), logger)
	require.NoError(t, err)
	return c
}

func TestHashObjectWritesBlob(t *testing.T) {
	c := testCollaborator(t)
	sha1, err := c.HashObject([]byte("hello world\n"))
	require.NoError(t, err)
	require.Len(t, sha1, 40)

	data, err := c.Show(sha1)
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(data))
}

func TestWriteTreeAndCommitTree(t *testing.T) {
	c := testCollaborator(t)
	sha1, err := c.HashObject([]byte("content\n"))
	require.NoError(t, err)

	index := filepath.Join(t.TempDir(), "index")
	require.NoError(t, c.UpdateIndex(index, []IndexEntry{{Mode: ModeRegular, SHA1: sha1, Path: "a.txt"}}))

	tree, err := c.WriteTree(index)
	require.NoError(t, err)
	require.Len(t, tree, 40)

	entries, err := c.LsTree(tree)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Path)

	commit, err := c.CommitTree(tree, nil, "initial\n", "Tester <tester@example.com>", "2020-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, commit, 40)
}

func TestQueueAndCommitRefsUpdate(t *testing.T) {
	c := testCollaborator(t)
	sha1, err := c.HashObject([]byte("x"))
	require.NoError(t, err)
	index := filepath.Join(t.TempDir(), "index")
	require.NoError(t, c.UpdateIndex(index, []IndexEntry{{Mode: ModeRegular, SHA1: sha1, Path: "f"}}))
	tree, err := c.WriteTree(index)
	require.NoError(t, err)
	commit, err := c.CommitTree(tree, nil, "msg\n", "Tester <tester@example.com>", "2020-01-01T00:00:00Z")
	require.NoError(t, err)

	c.QueueUpdateRef("refs/heads/main", commit, "")
	require.NoError(t, c.CommitRefsUpdate())

	refs, err := c.ForEachRef("refs/heads/*")
	require.NoError(t, err)
	require.Equal(t, commit, refs["refs/heads/main"])
}
