// Package props decodes SVN's K/V/D length-framed property blocks and
// applies property deltas to them, preserving insertion order the way
// the dump itself presents properties.
package props

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/alegrigoriev/svn2git/svnerr"
)

// Map is an insertion-ordered name -> value property set.
type Map struct {
	m *linkedhashmap.Map
}

// New returns an empty, ordered property map.
func New() *Map {
	return &Map{m: linkedhashmap.New()}
}

// Get returns the raw value for name and whether it is present.
func (p *Map) Get(name string) ([]byte, bool) {
	v, found := p.m.Get(name)
	if !found {
		return nil, false
	}
	return v.([]byte), true
}

// Set inserts or replaces name's value.
func (p *Map) Set(name string, value []byte) {
	p.m.Put(name, value)
}

// Delete removes name, reporting whether it was present.
func (p *Map) Delete(name string) bool {
	_, found := p.m.Get(name)
	p.m.Remove(name)
	return found
}

// Len reports the number of properties.
func (p *Map) Len() int { return p.m.Size() }

// Names returns property names in insertion order.
func (p *Map) Names() []string {
	keys := p.m.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}

// SortedNames returns property names sorted lexically, the order used
// for structural fingerprinting (spec §3).
func (p *Map) SortedNames() []string {
	out := p.Names()
	sort.Strings(out)
	return out
}

// Clone returns an independent copy; values are shared (never mutated
// in place once read, by convention of callers in this module).
func (p *Map) Clone() *Map {
	c := New()
	it := p.m.Iterator()
	for it.Next() {
		c.m.Put(it.Key(), it.Value())
	}
	return c
}

// Equal reports whether p and o contain the same (name, value) pairs,
// independent of insertion order.
func (p *Map) Equal(o *Map) bool {
	if p.Len() != o.Len() {
		return false
	}
	for _, n := range p.Names() {
		v1, _ := p.Get(n)
		v2, ok := o.Get(n)
		if !ok || !bytes.Equal(v1, v2) {
			return false
		}
	}
	return true
}

// Decode parses a full (non-delta) property block: zero or more K/V
// pairs terminated by "PROPS-END\n". raw must contain exactly the
// property block bytes (no trailing content).
func Decode(raw []byte) (*Map, error) {
	p := New()
	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		tag, n, err := readFrameHeader(r)
		if err != nil {
			return nil, err
		}
		if tag == "END" {
			return p, nil
		}
		if tag != "K" {
			return nil, svnerr.New(svnerr.DumpParse, "property block: expected K or PROPS-END, got %q", tag)
		}
		name, err := readFramedBytes(r, n)
		if err != nil {
			return nil, err
		}
		vtag, vn, err := readFrameHeader(r)
		if err != nil {
			return nil, err
		}
		if vtag != "V" {
			return nil, svnerr.New(svnerr.DumpParse, "property block: expected V after K %q, got %q", name, vtag)
		}
		value, err := readFramedBytes(r, vn)
		if err != nil {
			return nil, err
		}
		p.Set(string(name), value)
	}
}

// ApplyDelta applies a delta property block (K/V and D entries) onto a
// clone of base, returning the resulting map. base is never mutated
// (copy-on-write, matching the object store's own discipline).
func ApplyDelta(base *Map, raw []byte) (*Map, error) {
	p := base.Clone()
	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		tag, n, err := readFrameHeader(r)
		if err != nil {
			return nil, err
		}
		if tag == "END" {
			return p, nil
		}
		switch tag {
		case "K":
			name, err := readFramedBytes(r, n)
			if err != nil {
				return nil, err
			}
			vtag, vn, err := readFrameHeader(r)
			if err != nil {
				return nil, err
			}
			if vtag != "V" {
				return nil, svnerr.New(svnerr.DumpParse, "property delta: expected V after K %q, got %q", name, vtag)
			}
			value, err := readFramedBytes(r, vn)
			if err != nil {
				return nil, err
			}
			p.Set(string(name), value)
		case "D":
			name, err := readFramedBytes(r, n)
			if err != nil {
				return nil, err
			}
			if !p.Delete(string(name)) {
				return nil, svnerr.New(svnerr.DumpParse, "property delta: UnknownKey %q", name)
			}
		default:
			return nil, svnerr.New(svnerr.DumpParse, "property delta: expected K, D or PROPS-END, got %q", tag)
		}
	}
}

// readFrameHeader reads a line of the form "<TAG> <n>\n" (or the
// literal line "PROPS-END\n", reported as tag "END", n 0).
func readFrameHeader(r *bufio.Reader) (tag string, n int, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", 0, svnerr.Wrap(svnerr.DumpParse, err, "property block: reading frame header")
	}
	line = line[:len(line)-1]
	if line == "PROPS-END" {
		return "END", 0, nil
	}
	var tagStr, lenStr string
	if _, err := fmt.Sscanf(line, "%s %s", &tagStr, &lenStr); err != nil {
		return "", 0, svnerr.New(svnerr.DumpParse, "property block: malformed frame header %q", line)
	}
	n, err = strconv.Atoi(lenStr)
	if err != nil {
		return "", 0, svnerr.New(svnerr.DumpParse, "property block: non-decimal length in %q", line)
	}
	return tagStr, n, nil
}

// readFramedBytes reads exactly n bytes followed by a trailing newline.
func readFramedBytes(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return nil, svnerr.Wrap(svnerr.DumpParse, err, "property block: reading %d-byte value", n)
	}
	nl, err := r.ReadByte()
	if err != nil || nl != '\n' {
		return nil, svnerr.New(svnerr.DumpParse, "property block: missing newline terminator after %d-byte value", n)
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
