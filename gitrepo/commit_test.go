package gitrepo

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/branch"
	"github.com/alegrigoriev/svn2git/objstore"
)

func testStore(t *testing.T) *objstore.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := objstore.NewStore(logger, 1)
	t.Cleanup(store.Close)
	return store
}

func finalize(t *testing.T, store *objstore.Store, o *objstore.Object) *objstore.Object {
	t.Helper()
	fo, err := store.Finalize(o)
	require.NoError(t, err)
	return fo
}

func TestDiffTreesDetectsAddChangeDelete(t *testing.T) {
	store := testStore(t)

	unchanged := finalize(t, store, objstore.NewBlob([]byte("same"), nil, false, ""))
	oldA := finalize(t, store, objstore.NewBlob([]byte("old-a"), nil, false, ""))
	oldTree := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "same.txt", Child: unchanged},
		{Name: "a.txt", Child: oldA},
		{Name: "gone.txt", Child: finalize(t, store, objstore.NewBlob([]byte("bye"), nil, false, ""))},
	}, nil, false))

	newA := finalize(t, store, objstore.NewBlob([]byte("new-a"), nil, false, ""))
	newTree := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "same.txt", Child: unchanged},
		{Name: "a.txt", Child: newA},
		{Name: "new.txt", Child: finalize(t, store, objstore.NewBlob([]byte("fresh"), nil, false, ""))},
	}, nil, false))

	diff := DiffTrees(oldTree, newTree, nil, nil)

	byPath := map[string]DiffEntry{}
	for _, d := range diff {
		byPath[d.Path] = d
	}
	require.Len(t, diff, 3)
	require.True(t, byPath["gone.txt"].Deleted)
	require.False(t, byPath["a.txt"].Deleted)
	require.NotNil(t, byPath["new.txt"].New)
	_, hasSame := byPath["same.txt"]
	require.False(t, hasSame)
}

func TestDiffTreesSkipsIgnoredDirs(t *testing.T) {
	store := testStore(t)
	inner := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "f.txt", Child: finalize(t, store, objstore.NewBlob([]byte("x"), nil, false, ""))},
	}, nil, false))
	newTree := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "vendor", Child: inner},
	}, nil, false))

	diff := DiffTrees(nil, newTree, []string{"vendor"}, nil)
	require.Empty(t, diff)
}

func TestDiffTreesSkipsHiddenObjects(t *testing.T) {
	store := testStore(t)
	hidden := finalize(t, store, objstore.NewBlob([]byte("secret"), nil, true, ""))
	newTree := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "h.txt", Child: hidden},
	}, nil, false))

	diff := DiffTrees(nil, newTree, nil, nil)
	require.Empty(t, diff)
}

func TestDiffTreesMaterializesEmptyDirPlaceholder(t *testing.T) {
	store := testStore(t)
	empty := finalize(t, store, objstore.NewTree(nil, nil, false))
	newTree := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "empty", Child: empty},
	}, nil, false))

	diff := DiffTrees(nil, newTree, nil, nil)
	require.Len(t, diff, 1)
	require.Equal(t, "empty/"+EmptyDirPlaceholder, diff[0].Path)
}

func TestChooseStagingBaseUsesHeadWhenPresent(t *testing.T) {
	store := testStore(t)
	tree := finalize(t, store, objstore.NewBlob([]byte("h"), nil, false, ""))
	head := &branch.BranchRev{CommittedTree: tree}
	require.Same(t, head, ChooseStagingBase(head, nil, tree))
}

func TestChooseStagingBaseFallsBackToSimilarParent(t *testing.T) {
	store := testStore(t)
	base := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "a.txt", Child: finalize(t, store, objstore.NewBlob([]byte("a"), nil, false, ""))},
		{Name: "b.txt", Child: finalize(t, store, objstore.NewBlob([]byte("b"), nil, false, ""))},
	}, nil, false))
	newTree := finalize(t, store, objstore.NewTree([]objstore.TreeEntry{
		{Name: "a.txt", Child: finalize(t, store, objstore.NewBlob([]byte("a"), nil, false, ""))},
		{Name: "b.txt", Child: finalize(t, store, objstore.NewBlob([]byte("b2"), nil, false, ""))},
	}, nil, false))
	parent := &branch.BranchRev{CommittedTree: base}

	chosen := ChooseStagingBase(nil, []*branch.BranchRev{parent}, newTree)
	require.Same(t, parent, chosen)
}

func TestFastForwardCollapseRequiresMatchingTreeAndAncestry(t *testing.T) {
	require.False(t, FastForwardCollapse(nil, nil, true))
}

func TestDeletedBranchTagFormat(t *testing.T) {
	require.Equal(t, "feature_deleted@r42", DeletedBranchTag("refs/heads/feature", 42))
}
