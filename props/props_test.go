package props

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func block(pairs ...string) []byte {
	var b []byte
	for i := 0; i+1 < len(pairs); i += 2 {
		k, v := pairs[i], pairs[i+1]
		b = append(b, []byte("K "+itoa(len(k))+"\n"+k+"\n")...)
		b = append(b, []byte("V "+itoa(len(v))+"\n"+v+"\n")...)
	}
	b = append(b, []byte("PROPS-END\n")...)
	return b
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestDecodeBasic(t *testing.T) {
	p, err := Decode(block("svn:log", "hello", "svn:author", "alice"))
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	v, ok := p.Get("svn:log")
	require.True(t, ok)
	require.Equal(t, "hello", string(v))
	require.Equal(t, []string{"svn:log", "svn:author"}, p.Names())
}

func TestDecodeEmpty(t *testing.T) {
	p, err := Decode([]byte("PROPS-END\n"))
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())
}

func TestApplyDeltaSetAndDelete(t *testing.T) {
	base, err := Decode(block("a", "1", "b", "2"))
	require.NoError(t, err)

	var delta []byte
	delta = append(delta, []byte("D 1\na\n")...)
	delta = append(delta, []byte("K 1\nc\nV 1\n3\n")...)
	delta = append(delta, []byte("PROPS-END\n")...)

	out, err := ApplyDelta(base, delta)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	_, ok := out.Get("a")
	require.False(t, ok)
	v, ok := out.Get("c")
	require.True(t, ok)
	require.Equal(t, "3", string(v))

	// base must be untouched (copy-on-write).
	require.Equal(t, 2, base.Len())
	_, ok = base.Get("a")
	require.True(t, ok)
}

func TestApplyDeltaUnknownKeyDelete(t *testing.T) {
	base := New()
	var delta []byte
	delta = append(delta, []byte("D 1\nx\n")...)
	delta = append(delta, []byte("PROPS-END\n")...)
	_, err := ApplyDelta(base, delta)
	require.Error(t, err)
}

func TestMapEqualIgnoresOrder(t *testing.T) {
	a, _ := Decode(block("x", "1", "y", "2"))
	b, _ := Decode(block("y", "2", "x", "1"))
	require.True(t, a.Equal(b))
}
