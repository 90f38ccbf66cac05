package objstore

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alegrigoriev/svn2git/props"
)

func testStore() *Store {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewStore(l, 2)
}

func TestFinalizeInterningIdentity(t *testing.T) {
	s := testStore()
	defer s.Close()

	b1 := NewBlob([]byte("hello"), nil, false, "")
	b2 := NewBlob([]byte("hello"), nil, false, "")

	f1, err := s.Finalize(b1)
	require.NoError(t, err)
	f2, err := s.Finalize(b2)
	require.NoError(t, err)
	require.Same(t, f1, f2, "equal blobs must intern to the same instance")
}

func TestPropertyOrderDoesNotAffectFingerprint(t *testing.T) {
	s := testStore()
	defer s.Close()

	p1 := props.New()
	p1.Set("a", []byte("1"))
	p1.Set("b", []byte("2"))

	p2 := props.New()
	p2.Set("b", []byte("2"))
	p2.Set("a", []byte("1"))

	b1, err := s.Finalize(NewBlob([]byte("x"), p1, false, ""))
	require.NoError(t, err)
	b2, err := s.Finalize(NewBlob([]byte("x"), p2, false, ""))
	require.NoError(t, err)
	require.Equal(t, b1.Fingerprint(), b2.Fingerprint())
}

func TestTreeChildOrderDoesNotAffectFingerprint(t *testing.T) {
	s := testStore()
	defer s.Close()

	fa, _ := s.Finalize(NewBlob([]byte("a"), nil, false, ""))
	fb, _ := s.Finalize(NewBlob([]byte("b"), nil, false, ""))

	t1, err := s.Finalize(NewTree([]TreeEntry{{Name: "a", Child: fa}, {Name: "b", Child: fb}}, nil, false))
	require.NoError(t, err)
	t2, err := s.Finalize(NewTree([]TreeEntry{{Name: "b", Child: fb}, {Name: "a", Child: fa}}, nil, false))
	require.NoError(t, err)
	require.Equal(t, t1.Fingerprint(), t2.Fingerprint())
}

func TestCopyOnWriteDoesNotMutateAncestor(t *testing.T) {
	s := testStore()
	defer s.Close()

	fa, _ := s.Finalize(NewBlob([]byte("a"), nil, false, ""))
	tree, err := s.Finalize(NewTree([]TreeEntry{{Name: "a", Child: fa}}, nil, false))
	require.NoError(t, err)
	origFP := tree.Fingerprint()

	fb, _ := s.Finalize(NewBlob([]byte("b"), nil, false, ""))
	mutated := tree.WithEntry(s, "a", fb)
	mutated, err = s.Finalize(mutated)
	require.NoError(t, err)

	require.Equal(t, origFP, tree.Fingerprint(), "original tree must be unaffected")
	require.NotEqual(t, origFP, mutated.Fingerprint())
}

func TestHiddenAffectsFingerprint(t *testing.T) {
	s := testStore()
	defer s.Close()

	visible, _ := s.Finalize(NewBlob([]byte("x"), nil, false, ""))
	hidden, _ := s.Finalize(NewBlob([]byte("x"), nil, true, ""))
	require.NotEqual(t, visible.Fingerprint(), hidden.Fingerprint())
}
