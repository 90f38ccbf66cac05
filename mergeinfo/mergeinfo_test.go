package mergeinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRangesRoundTrip(t *testing.T) {
	r, err := ParseRanges("1-3,5,7-9")
	require.NoError(t, err)
	require.Equal(t, "1-3,5,7-9", r.String())
}

func TestCombineIdempotentAndCommutative(t *testing.T) {
	a, _ := ParseRanges("1-3,8")
	b, _ := ParseRanges("2-5")
	ab := Combine(a, b)
	ba := Combine(b, a)
	require.Equal(t, ab.String(), ba.String())
	require.Equal(t, ab.String(), Combine(ab, a).String())
}

func TestSubtractCombineIsEmpty(t *testing.T) {
	a, _ := ParseRanges("1-5")
	b, _ := ParseRanges("3-9")
	combined := Combine(a, b)
	require.Empty(t, Subtract(a, combined))
}

func TestSubtractSplitsRange(t *testing.T) {
	a, _ := ParseRanges("1-10")
	b, _ := ParseRanges("4-6")
	got := Subtract(a, b)
	require.Equal(t, "1-3,7-10", got.String())
}

func TestContains(t *testing.T) {
	r, _ := ParseRanges("1-3,7-9")
	require.True(t, r.Contains(2))
	require.True(t, r.Contains(7))
	require.False(t, r.Contains(5))
}

func TestMergeinfoParseNormalizesLeadingSlash(t *testing.T) {
	m, err := Parse("branches/feat:4-5\n/trunk:1-3\n")
	require.NoError(t, err)
	require.Contains(t, m, "/branches/feat")
	require.Contains(t, m, "/trunk")
}

func TestMergeinfoDiffDetectsNewMerges(t *testing.T) {
	prev, _ := Parse("/branches/feat:1-3\n")
	cur, _ := Parse("/branches/feat:1-5\n")
	diff := cur.Diff(prev)
	require.Equal(t, "4-5", diff["/branches/feat"].String())
}

func TestMergeinfoDiffEmptyWhenUnchanged(t *testing.T) {
	m, _ := Parse("/branches/feat:1-5\n")
	require.Empty(t, m.Diff(m))
}

func TestTreeMergeinfoNormalizeRemovesRedundantChildRanges(t *testing.T) {
	rootMI, _ := Parse("/branches/feat:1-10\n")
	childMI, _ := Parse("/branches/feat:1-10\n")
	tm := TreeMergeinfo{
		"":        rootMI,
		"subdir":  childMI,
	}
	norm := tm.Normalize()
	require.Empty(t, norm["subdir"]["/branches/feat"])
	require.Equal(t, "1-10", norm[""]["/branches/feat"].String())
}

func TestBuildMergeinfoDiffWithItselfIsEmpty(t *testing.T) {
	rootMI, _ := Parse("/branches/feat:1-10\n")
	tm := TreeMergeinfo{"": rootMI}
	built := tm.Build(true)
	require.Empty(t, built.Diff(built))
}
