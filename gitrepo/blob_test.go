package gitrepo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/objstore"
)

func TestModeFromFlags(t *testing.T) {
	require.Equal(t, ModeRegular, ModeFromFlags(false, false, ""))
	require.Equal(t, ModeExecutable, ModeFromFlags(true, false, ""))
	require.Equal(t, ModeSymlink, ModeFromFlags(false, true, ""))
	require.Equal(t, ModeSymlink, ModeFromFlags(true, true, "")) // symlink wins over executable
	require.Equal(t, FileMode("100664"), ModeFromFlags(false, false, "100664"))
}

func TestExpandKeywordsRevisionAnchor(t *testing.T) {
	data := []byte("hello $Id$ world")
	out := ExpandKeywords(data, 42, []string{"Id"})
	require.Equal(t, "hello $Id: 42 $ world", string(out))
}

func TestExpandKeywordsLeavesDisabledKeywordsAlone(t *testing.T) {
	data := []byte("text $Author$ more")
	out := ExpandKeywords(data, 1, []string{"Rev"})
	require.Equal(t, string(data), string(out))
}

func TestExpandKeywordsNoKeywordsIsNoop(t *testing.T) {
	data := []byte("plain text, no anchors")
	out := ExpandKeywords(data, 7, nil)
	require.Equal(t, string(data), string(out))
}

func TestSymlinkTargetStripsPrefix(t *testing.T) {
	target, ok := SymlinkTarget([]byte("link ../shared/lib.so\n"))
	require.True(t, ok)
	require.Equal(t, "../shared/lib.so", string(target))
}

func TestSymlinkTargetRejectsRegularContent(t *testing.T) {
	_, ok := SymlinkTarget([]byte("not a symlink"))
	require.False(t, ok)
}

func TestPrepareSymlinkDataStripsPrefixIntoPrettyData(t *testing.T) {
	o := objstore.NewBlob([]byte("link ../shared/lib.so\n"), nil, false, "")
	PrepareSymlinkData(o)
	require.Equal(t, "../shared/lib.so", string(o.PrettyData()))
}

func TestPrepareSymlinkDataLeavesRegularContentAlone(t *testing.T) {
	o := objstore.NewBlob([]byte("regular content"), nil, false, "")
	PrepareSymlinkData(o)
	require.Nil(t, o.PrettyData())
}
