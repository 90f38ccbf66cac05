package dumpfile

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

const sampleDump = `SVN-fs-dump-format-version: 3

UUID: 12345678-1234-1234-1234-123456789abc

Revision-number: 0
Prop-content-length: 10
Content-length: 10

PROPS-END

Revision-number: 1
Prop-content-length: 76
Content-length: 76

K 7
svn:log
V 5
hello
K 10
svn:author
V 5
alice
K 8
svn:date
V 0

PROPS-END

Node-path: trunk
Node-kind: dir
Node-action: add
Prop-content-length: 10
Content-length: 10

PROPS-END

Node-path: trunk/a.txt
Node-kind: file
Node-action: add
Prop-content-length: 10
Text-content-length: 6
Text-content-md5: b1946ac92492d2347c6235b4d2611184
Content-length: 16

PROPS-END
hello
`

func TestReadRevisionBasic(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleDump), testLogger())
	require.NoError(t, err)
	require.Equal(t, 3, r.Version)
	require.Equal(t, "12345678-1234-1234-1234-123456789abc", r.UUID)

	rev0, err := r.ReadRevision()
	require.NoError(t, err)
	require.Equal(t, uint64(0), rev0.Number)

	rev1, err := r.ReadRevision()
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev1.Number)
	require.Equal(t, "alice", rev1.Author)
	require.Len(t, rev1.Nodes, 2)
	require.Equal(t, "trunk", rev1.Nodes[0].Path)
	require.Equal(t, KindDir, rev1.Nodes[0].Kind)
	require.Equal(t, "trunk/a.txt", rev1.Nodes[1].Path)
	require.Equal(t, KindFile, rev1.Nodes[1].Kind)
	require.True(t, rev1.Nodes[1].HasText)

	_, err = r.ReadRevision()
	require.Equal(t, io.EOF, err)
}

func TestReadRevisionMalformedHeader(t *testing.T) {
	bad := "SVN-fs-dump-format-version: 3\n\nRevision-number: notanumber\nProp-content-length: 0\nContent-length: 0\n\n"
	r, err := NewReader(strings.NewReader(bad), testLogger())
	require.NoError(t, err)
	_, err = r.ReadRevision()
	require.Error(t, err)
}

func TestUnsupportedVersion(t *testing.T) {
	_, err := NewReader(strings.NewReader("SVN-fs-dump-format-version: 9\n\n"), testLogger())
	require.Error(t, err)
}
