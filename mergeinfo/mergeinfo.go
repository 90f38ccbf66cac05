// Package mergeinfo implements the revision-range algebra and the
// Mergeinfo/TreeMergeinfo data model used to parse, combine, diff and
// normalize svn:mergeinfo property values.
package mergeinfo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alegrigoriev/svn2git/svnerr"
)

// Range is a closed, inclusive revision interval [Lo, Hi].
type Range struct {
	Lo, Hi uint64
}

// Ranges is a sorted list of disjoint, non-adjacent Range values.
type Ranges []Range

// ParseRanges parses the "lo-hi,lo-hi,lo,..." syntax used within one
// svn:mergeinfo path entry.
func ParseRanges(s string) (Ranges, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out Ranges
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Revisions may carry a trailing "*" marking a non-inheritable
		// range in real SVN mergeinfo; this converter treats
		// inheritability as already resolved by the time it reaches
		// here and simply strips the marker.
		part = strings.TrimSuffix(part, "*")
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			lo, err := strconv.ParseUint(part[:idx], 10, 64)
			if err != nil {
				return nil, svnerr.New(svnerr.DumpParse, "mergeinfo: bad range %q", part)
			}
			hi, err := strconv.ParseUint(part[idx+1:], 10, 64)
			if err != nil {
				return nil, svnerr.New(svnerr.DumpParse, "mergeinfo: bad range %q", part)
			}
			if lo > hi {
				return nil, svnerr.New(svnerr.DumpParse, "mergeinfo: range %q has lo > hi", part)
			}
			out = append(out, Range{Lo: lo, Hi: hi})
		} else {
			v, err := strconv.ParseUint(part, 10, 64)
			if err != nil {
				return nil, svnerr.New(svnerr.DumpParse, "mergeinfo: bad revision %q", part)
			}
			out = append(out, Range{Lo: v, Hi: v})
		}
	}
	return normalize(out), nil
}

func normalize(r Ranges) Ranges {
	if len(r) == 0 {
		return nil
	}
	cp := make(Ranges, len(r))
	copy(cp, r)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Lo < cp[j].Lo })
	out := Ranges{cp[0]}
	for _, r := range cp[1:] {
		last := &out[len(out)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
		} else {
			out = append(out, r)
		}
	}
	return out
}

// String renders ranges in "lo-hi,lo,..." form, single revisions
// rendered without a dash.
func (r Ranges) String() string {
	parts := make([]string, len(r))
	for i, rg := range r {
		if rg.Lo == rg.Hi {
			parts[i] = strconv.FormatUint(rg.Lo, 10)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", rg.Lo, rg.Hi)
		}
	}
	return strings.Join(parts, ",")
}

// Combine returns the union of a and b, merged and sorted.
func Combine(a, b Ranges) Ranges {
	return normalize(append(append(Ranges{}, a...), b...))
}

// Subtract returns a with every revision present in b removed.
func Subtract(a, b Ranges) Ranges {
	if len(b) == 0 {
		return append(Ranges{}, a...)
	}
	var out Ranges
	for _, ra := range a {
		cur := []Range{ra}
		for _, rb := range b {
			var next []Range
			for _, c := range cur {
				if rb.Hi < c.Lo || rb.Lo > c.Hi {
					next = append(next, c)
					continue
				}
				if rb.Lo > c.Lo {
					next = append(next, Range{Lo: c.Lo, Hi: rb.Lo - 1})
				}
				if rb.Hi < c.Hi {
					next = append(next, Range{Lo: rb.Hi + 1, Hi: c.Hi})
				}
			}
			cur = next
		}
		out = append(out, cur...)
	}
	return normalize(out)
}

// Contains reports whether revision n falls within any range of r.
func (r Ranges) Contains(n uint64) bool {
	for _, rg := range r {
		if n >= rg.Lo && n <= rg.Hi {
			return true
		}
	}
	return false
}

// Mergeinfo maps a source path to its merged revision ranges. Paths
// are normalized to carry a leading '/'.
type Mergeinfo map[string]Ranges

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// Parse parses a full svn:mergeinfo property value: one "path:ranges"
// entry per line.
func Parse(raw string) (Mergeinfo, error) {
	m := Mergeinfo{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ':')
		if idx < 0 {
			return nil, svnerr.New(svnerr.DumpParse, "mergeinfo: malformed line %q", line)
		}
		path := normalizePath(line[:idx])
		ranges, err := ParseRanges(line[idx+1:])
		if err != nil {
			return nil, err
		}
		m[path] = Combine(m[path], ranges)
	}
	return m, nil
}

// String renders m back to svn:mergeinfo property syntax, paths in
// sorted order for determinism.
func (m Mergeinfo) String() string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	lines := make([]string, len(paths))
	for i, p := range paths {
		lines[i] = p + ":" + m[p].String()
	}
	return strings.Join(lines, "\n")
}

// Clone returns an independent copy of m.
func (m Mergeinfo) Clone() Mergeinfo {
	c := make(Mergeinfo, len(m))
	for k, v := range m {
		c[k] = append(Ranges{}, v...)
	}
	return c
}

// Add merges other into m in place (union per path).
func (m Mergeinfo) Add(other Mergeinfo) {
	for p, r := range other {
		m[p] = Combine(m[p], r)
	}
}

// Equal reports whether m and o describe the same path->ranges map.
func (m Mergeinfo) Equal(o Mergeinfo) bool {
	if len(m) != len(o) {
		return false
	}
	for p, r := range m {
		or, ok := o[p]
		if !ok || r.String() != or.String() {
			return false
		}
	}
	return true
}

// Diff computes, for every path, the ranges present in m but not in
// prev: this is the "new merges since prev" set used by the merge
// reconstructor to detect newly-merged revisions (mergeinfo.py's
// get_diff). Paths absent from prev contribute their full range set.
func (m Mergeinfo) Diff(prev Mergeinfo) Mergeinfo {
	out := Mergeinfo{}
	for p, r := range m {
		newRanges := Subtract(r, prev[p])
		if len(newRanges) > 0 {
			out[p] = newRanges
		}
	}
	return out
}

// TreeMergeinfo maps a subpath to its own Mergeinfo record, with
// sentinel keys "" (the branch root's own svn:mergeinfo) and ".."
// (mergeinfo inherited from an ancestor directory outside the
// branch's subtree).
type TreeMergeinfo map[string]Mergeinfo

const (
	SelfKey      = ""
	InheritedKey = ".."
)

// Get returns the Mergeinfo recorded at subpath, or nil.
func (t TreeMergeinfo) Get(subpath string) Mergeinfo { return t[subpath] }

// Set replaces the Mergeinfo recorded at subpath.
func (t TreeMergeinfo) Set(subpath string, m Mergeinfo) { t[subpath] = m }

// AddMergeinfo unions m into whatever is already recorded at subpath.
func (t TreeMergeinfo) AddMergeinfo(subpath string, m Mergeinfo) {
	existing, ok := t[subpath]
	if !ok {
		existing = Mergeinfo{}
		t[subpath] = existing
	}
	existing.Add(m)
}

// Clone returns an independent deep copy, the copy-on-write primitive
// branch-rev snapshots use when only one subpath changes.
func (t TreeMergeinfo) Clone() TreeMergeinfo {
	c := make(TreeMergeinfo, len(t))
	for k, v := range t {
		c[k] = v.Clone()
	}
	return c
}

// FindInherited walks subpath's ancestor directory chain (most-specific
// first) looking for the nearest recorded Mergeinfo, per
// mergeinfo.py's find_mergeinfo. It does not consult SelfKey/
// InheritedKey of subpath itself, only strict ancestors.
func (t TreeMergeinfo) FindInherited(subpath string) (Mergeinfo, string, bool) {
	dir := parentOf(subpath)
	for {
		if m, ok := t[dir]; ok {
			return m, dir, true
		}
		if dir == "" {
			return nil, "", false
		}
		dir = parentOf(dir)
	}
}

func parentOf(p string) string {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// Build flattens every per-subpath Mergeinfo in t into one unified
// Mergeinfo (mergeinfo.py's build_mergeinfo), optionally normalizing
// redundant child ranges against ancestor ranges first.
func (t TreeMergeinfo) Build(doNormalize bool) Mergeinfo {
	src := t
	if doNormalize {
		src = t.Normalize()
	}
	out := Mergeinfo{}
	for _, m := range src {
		out.Add(m)
	}
	return out
}

// Normalize returns a copy of t in which no child subpath's ranges
// intersect its ancestor's ranges for the same source path: ranges
// already implied by an ancestor are redundant and are removed from
// the descendant, per testable property 6.
func (t TreeMergeinfo) Normalize() TreeMergeinfo {
	subpaths := make([]string, 0, len(t))
	for p := range t {
		subpaths = append(subpaths, p)
	}
	sort.Strings(subpaths) // ancestors sort before descendants lexically for "/"-prefixed paths
	out := t.Clone()
	for _, sp := range subpaths {
		if sp == InheritedKey {
			continue
		}
		ancestorRanges := Mergeinfo{}
		for _, anc := range subpaths {
			if anc == sp || anc == InheritedKey {
				continue
			}
			if anc == "" || strings.HasPrefix(sp, anc+"/") {
				ancestorRanges.Add(out[anc])
			}
		}
		if len(ancestorRanges) == 0 {
			continue
		}
		m := out[sp]
		for path, ranges := range m {
			m[path] = Subtract(ranges, ancestorRanges[path])
			if len(m[path]) == 0 {
				delete(m, path)
			}
		}
	}
	return out
}
