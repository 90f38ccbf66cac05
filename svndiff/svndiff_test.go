package svndiff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func varint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var tmp []byte
	for v > 0 {
		tmp = append([]byte{byte(v & 0x7f)}, tmp...)
		v >>= 7
	}
	for i := 0; i < len(tmp)-1; i++ {
		tmp[i] |= 0x80
	}
	return tmp
}

func window(sourceOffset, sourceViewLen, targetViewLen uint64, instructions, data []byte) []byte {
	var w []byte
	w = append(w, varint(sourceOffset)...)
	w = append(w, varint(sourceViewLen)...)
	w = append(w, varint(targetViewLen)...)
	w = append(w, varint(uint64(len(instructions)))...)
	w = append(w, varint(uint64(len(data)))...)
	w = append(w, instructions...)
	w = append(w, data...)
	return w
}

func TestApplyCopySourceWholeBuffer(t *testing.T) {
	base := []byte("hello world")
	instr := []byte{byte(opCopyFromSource | 0)}
	instr = append(instr, varint(uint64(len(base)))...)
	instr = append(instr, varint(0)...)
	delta := append([]byte("SVN\x00"), window(0, uint64(len(base)), uint64(len(base)), instr, nil)...)

	out, err := Apply(base, delta, nil)
	require.NoError(t, err)
	require.Equal(t, base, out)
}

func TestApplySelfOverlappingCopyTarget(t *testing.T) {
	// base "ab"; copy immediate "x", then copy-target offset=0 len=5:
	// after the immediate, target is "x"; copying 5 bytes starting at
	// offset 0 must re-read bytes as they are produced, yielding
	// "xxxxxx" (1 immediate + 5 self-overlap copies).
	base := []byte("ab")
	var instr []byte
	instr = append(instr, byte(opCopyImmediate|1))
	instr = append(instr, byte(opCopyFromTarget|5))
	instr = append(instr, varint(0)...)
	data := []byte("x")
	delta := append([]byte("SVN\x00"), window(0, 0, 6, instr, data)...)

	out, err := Apply(base, delta, nil)
	require.NoError(t, err)
	require.Equal(t, "xxxxxx", string(out))
}

func TestApplyCopyFromTargetAtProducedEndRejected(t *testing.T) {
	// copy-immediate "x" produces 1 byte of target; copy-from-target at
	// offset 1 (== bytes produced so far) with a nonzero length reads
	// past the end of what exists yet and must be rejected rather than
	// looping forever trying to copy zero bytes per pass.
	base := []byte("ab")
	var instr []byte
	instr = append(instr, byte(opCopyImmediate|1))
	instr = append(instr, byte(opCopyFromTarget|5))
	instr = append(instr, varint(1)...)
	data := []byte("x")
	delta := append([]byte("SVN\x00"), window(0, 0, 6, instr, data)...)

	_, err := Apply(base, delta, nil)
	require.Error(t, err)
}

func TestApplyCopyFromSourceBounds(t *testing.T) {
	base := []byte("short")
	instr := []byte{byte(opCopyFromSource | 10)}
	instr = append(instr, varint(0)...)
	delta := append([]byte("SVN\x00"), window(0, uint64(len(base)), 10, instr, nil)...)

	_, err := Apply(base, delta, nil)
	require.Error(t, err)
}

func TestApplyUnknownVersion(t *testing.T) {
	_, err := Apply(nil, []byte("SVN\x03"), nil)
	require.Error(t, err)
}

func TestApplyTrivialStats(t *testing.T) {
	base := []byte("hello world")
	instr := []byte{byte(opCopyFromSource | 0)}
	instr = append(instr, varint(uint64(len(base)))...)
	instr = append(instr, varint(0)...)
	delta := append([]byte("SVN\x00"), window(0, uint64(len(base)), uint64(len(base)), instr, nil)...)

	var st Stats
	_, err := Apply(base, delta, &st)
	require.NoError(t, err)
	require.Equal(t, 1, st.Windows)
	require.Equal(t, 1, st.TrivialWindows)
}

func TestApplyMultipleWindows(t *testing.T) {
	base := []byte("0123456789")
	instr1 := []byte{byte(opCopyFromSource | 5)}
	instr1 = append(instr1, varint(0)...)
	w1 := window(0, 5, 5, instr1, nil)

	instr2 := []byte{byte(opCopyFromSource | 5)}
	instr2 = append(instr2, varint(5)...)
	w2 := window(0, 10, 5, instr2, nil)

	delta := append([]byte("SVN\x00"), append(w1, w2...)...)
	out, err := Apply(base, delta, nil)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(out))
}
