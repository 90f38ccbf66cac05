// Package svndiff decodes svndiff0/1/2 binary deltas against a base
// buffer, per the SVN delta format: an "SVN" + version byte header
// followed by a sequence of windows, each with a source view, an
// instruction section and a data section. Version 1 windows may
// zlib-compress their instruction/data sections; version 2 windows may
// LZ4-frame-compress them.
package svndiff

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Stats accumulates decode statistics across one or more Apply calls,
// per the "explicit Stats value" design note — never a package global.
type Stats struct {
	Windows        int
	TrivialWindows int
	ZlibBytesIn    int64
	ZlibBytesOut   int64
	LZ4BytesIn     int64
	LZ4BytesOut    int64
}

// opcode tags for the three instruction kinds.
const (
	opCopyFromSource = 0x00
	opCopyFromTarget = 0x40
	opCopyImmediate  = 0x80
	opKindMask       = 0xc0
	opLenMask        = 0x3f
)

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) getInt() (uint64, error) {
	var v uint64
	for {
		if r.pos >= len(r.b) {
			return 0, fmt.Errorf("svndiff: truncated varint")
		}
		b := r.b[r.pos]
		r.pos++
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

func (r *byteReader) take(n uint64) ([]byte, error) {
	if n > uint64(len(r.b)-r.pos) {
		return nil, fmt.Errorf("svndiff: truncated section, need %d have %d", n, len(r.b)-r.pos)
	}
	out := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

// Apply decodes delta against base, appending stats of the operation to
// st (st may be nil to discard statistics). The delta must begin with
// "SVN" followed by a single version byte 0, 1 or 2. Each window's
// source_offset/source_view_len address the original base buffer, not
// a rolling cursor over previously produced target bytes.
func Apply(base, delta []byte, st *Stats) ([]byte, error) {
	if len(delta) < 4 || delta[0] != 'S' || delta[1] != 'V' || delta[2] != 'N' {
		return nil, fmt.Errorf("svndiff: missing SVN magic header")
	}
	version := delta[3]
	if version > 2 {
		return nil, fmt.Errorf("svndiff: unsupported version %d", version)
	}
	r := &byteReader{b: delta, pos: 4}
	var out bytes.Buffer
	for r.pos < len(r.b) {
		target, err := applyWindow(base, r, version, st)
		if err != nil {
			return nil, err
		}
		out.Write(target)
	}
	return out.Bytes(), nil
}

func applyWindow(origBase []byte, r *byteReader, version byte, st *Stats) ([]byte, error) {
	sourceOffset, err := r.getInt()
	if err != nil {
		return nil, err
	}
	sourceViewLen, err := r.getInt()
	if err != nil {
		return nil, err
	}
	targetViewLen, err := r.getInt()
	if err != nil {
		return nil, err
	}
	instrLen, err := r.getInt()
	if err != nil {
		return nil, err
	}
	dataLen, err := r.getInt()
	if err != nil {
		return nil, err
	}

	var instructions, data []byte
	if version == 0 {
		if instructions, err = r.take(instrLen); err != nil {
			return nil, err
		}
		if data, err = r.take(dataLen); err != nil {
			return nil, err
		}
	} else {
		if instructions, err = readCompressedSection(r, instrLen, version, st); err != nil {
			return nil, fmt.Errorf("svndiff: instructions section: %w", err)
		}
		if data, err = readCompressedSection(r, dataLen, version, st); err != nil {
			return nil, fmt.Errorf("svndiff: data section: %w", err)
		}
	}

	if sourceOffset+sourceViewLen > uint64(len(origBase)) {
		return nil, fmt.Errorf("svndiff: source view [%d,%d) out of bounds of %d-byte base", sourceOffset, sourceOffset+sourceViewLen, len(origBase))
	}
	sourceView := origBase[sourceOffset : sourceOffset+sourceViewLen]

	target, trivial, err := applyInstructions(sourceView, instructions, data, targetViewLen)
	if err != nil {
		return nil, err
	}
	if st != nil {
		st.Windows++
		if trivial {
			st.TrivialWindows++
		}
	}
	return target, nil
}

// readCompressedSection reads, from the secLen-byte section starting at
// r.pos, a leading varint giving the section's uncompressed length,
// then the remaining compressed (or verbatim, if lengths match) bytes.
func readCompressedSection(r *byteReader, secLen uint64, version byte, st *Stats) ([]byte, error) {
	start := r.pos
	uncompressedLen, err := r.getInt()
	if err != nil {
		return nil, err
	}
	consumedForLen := uint64(r.pos - start)
	if secLen < consumedForLen {
		return nil, fmt.Errorf("section length %d shorter than its own length prefix", secLen)
	}
	raw, err := r.take(secLen - consumedForLen)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) == uncompressedLen {
		return raw, nil
	}
	switch version {
	case 1:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		out := make([]byte, uncompressedLen)
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		if st != nil {
			st.ZlibBytesIn += int64(len(raw))
			st.ZlibBytesOut += int64(len(out))
		}
		return out, nil
	case 2:
		lr := lz4.NewReader(bytes.NewReader(raw))
		out := make([]byte, uncompressedLen)
		if _, err := io.ReadFull(lr, out); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if st != nil {
			st.LZ4BytesIn += int64(len(raw))
			st.LZ4BytesOut += int64(len(out))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compressed section in version %d window", version)
	}
}

// applyInstructions runs the instruction stream against sourceView and
// the data section, producing exactly targetViewLen bytes. trivial is
// true when the whole window is a single instruction consuming the
// entire data section (used only for statistics).
func applyInstructions(sourceView, instructions, data []byte, targetViewLen uint64) (target []byte, trivial bool, err error) {
	out := make([]byte, 0, targetViewLen)
	ir := &byteReader{b: instructions}
	dataPos := 0
	count := 0
	for ir.pos < len(ir.b) {
		count++
		opByte := ir.b[ir.pos]
		ir.pos++
		kind := opByte & opKindMask
		length := uint64(opByte & opLenMask)
		if length == 0 {
			if length, err = ir.getInt(); err != nil {
				return nil, false, err
			}
		}
		switch kind {
		case opCopyFromSource:
			offset, gerr := ir.getInt()
			if gerr != nil {
				return nil, false, gerr
			}
			if offset+length > uint64(len(sourceView)) {
				return nil, false, fmt.Errorf("svndiff: copy-from-source [%d,%d) out of bounds of %d-byte source view", offset, offset+length, len(sourceView))
			}
			out = append(out, sourceView[offset:offset+length]...)
		case opCopyFromTarget:
			offset, gerr := ir.getInt()
			if gerr != nil {
				return nil, false, gerr
			}
			if offset > uint64(len(out)) || (offset == uint64(len(out)) && length > 0) {
				return nil, false, fmt.Errorf("svndiff: copy-from-target offset %d beyond %d produced bytes", offset, len(out))
			}
			// May self-overlap: copy in chunks bounded by the bytes
			// produced so far, so newly appended bytes become visible
			// to later reads within the same instruction. This is what
			// lets a short base expand into a repeating pattern.
			remaining := length
			o := int(offset)
			for remaining > 0 {
				toCopy := uint64(len(out)) - uint64(o)
				if toCopy > remaining {
					toCopy = remaining
				}
				out = append(out, out[o:o+int(toCopy)]...)
				o += int(toCopy)
				remaining -= toCopy
			}
		case opCopyImmediate:
			if uint64(dataPos)+length > uint64(len(data)) {
				return nil, false, fmt.Errorf("svndiff: copy-immediate overruns %d-byte data section", len(data))
			}
			out = append(out, data[dataPos:dataPos+int(length)]...)
			dataPos += int(length)
		default:
			return nil, false, fmt.Errorf("svndiff: unknown opcode 0x%02x", opByte)
		}
	}
	if uint64(len(out)) != targetViewLen {
		return nil, false, fmt.Errorf("svndiff: window produced %d bytes, expected %d", len(out), targetViewLen)
	}
	trivial = count == 1 && dataPos == len(data)
	return out, trivial, nil
}
