package main

import (
	"bytes"
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

func TestFilterStripsBlobBodies(t *testing.T) {
	var out bytes.Buffer
	n, err := filter(strings.NewReader(sampleDump), &out, []byte("REDACTED\n"), 0, testLogger())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NotContains(t, out.String(), "hello")
	require.Contains(t, out.String(), "Node-path: trunk/a.txt")
	require.Contains(t, out.String(), "REDACTED")
}

func TestFilterStopsAtMaxRevisions(t *testing.T) {
	var out bytes.Buffer
	n, err := filter(strings.NewReader(sampleDump), &out, []byte("REDACTED\n"), 1, testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
