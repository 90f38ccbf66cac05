// Package mergeengine reconstructs merge parents and cherry-picks from
// svn:mergeinfo changes, per spec.md §4.9: diffing each branch-rev's
// flattened mergeinfo against its predecessor, classifying every newly
// merged range as a structural merge parent, a cherry-pick, or (when
// the source path is unmapped) a textual note. Each range of the diff
// is classified once: ranges that a newly accepted parent covers
// transitively are not re-examined.
package mergeengine

import (
	"sort"
	"strings"

	"github.com/alegrigoriev/svn2git/branch"
	"github.com/alegrigoriev/svn2git/mergeinfo"
)

// maxFixedPointPasses caps the pass loop in Reconstruct. The first pass
// sets prevMergeinfo to br.Mergeinfo, so a second pass always sees an
// empty diff and stops; the cap is never reached.
const maxFixedPointPasses = 8

// Note is a textual "Merged-path" record for a merge whose source path
// does not map to a known branch (spec.md §4.9 step 3, second bullet).
type Note struct {
	SourcePath string
	Range      mergeinfo.Range
}

// Reconstructor applies the merge-reconstruction algorithm against one
// Manager's branch set.
type Reconstructor struct {
	manager *branch.Manager
}

func NewReconstructor(m *branch.Manager) *Reconstructor {
	return &Reconstructor{manager: m}
}

func normalizeMergePath(p string) string {
	return strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
}

// branchRevAtRev finds b's own BranchRev whose Rev equals rev, if any.
func branchRevAtRev(m *branch.Manager, b *branch.Branch, rev uint64) *branch.BranchRev {
	for _, id := range b.Revisions {
		br := m.Arena().Get(id)
		if br.Rev == rev {
			return br
		}
	}
	return nil
}

// revisionsInRange returns every rev of b's own history within [lo,hi].
func revisionsInRange(m *branch.Manager, b *branch.Branch, r mergeinfo.Range) []uint64 {
	var out []uint64
	for _, id := range b.Revisions {
		br := m.Arena().Get(id)
		if br.Rev >= r.Lo && br.Rev <= r.Hi {
			out = append(out, br.Rev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reconstruct applies spec.md §4.9 steps 3-4 to br, whose Mergeinfo and
// TreeMergeinfo fields must already be updated (steps 1-2, driven by
// the caller from the current revision's svn:mergeinfo property
// changes and copy-source inheritance) for the current revision.
// prevMergeinfo is the flattened mergeinfo of br's own predecessor
// revision. It returns the textual notes for unmapped merge sources.
func (r *Reconstructor) Reconstruct(br *branch.BranchRev, prevMergeinfo mergeinfo.Mergeinfo) []Note {
	var notes []Note
	for pass := 0; pass < maxFixedPointPasses; pass++ {
		diff := br.Mergeinfo.Diff(prevMergeinfo)
		if len(diff) == 0 {
			break
		}
		progressed := false
		for srcPath, ranges := range diff {
			normPath := normalizeMergePath(srcPath)
			srcBranch, ok := r.manager.BranchAt(normPath)
			if !ok || srcBranch.Path != normPath {
				for _, rg := range ranges {
					notes = append(notes, Note{SourcePath: srcPath, Range: rg})
				}
				continue
			}
			for _, rg := range ranges {
				if r.classifyRange(br, srcBranch, rg) {
					progressed = true
				}
			}
		}
		// Every range of br.Mergeinfo now counts as seen, so the next
		// pass's diff is empty and the loop ends.
		prevMergeinfo = br.Mergeinfo.Clone()
		if !progressed {
			break
		}
	}
	return notes
}

// classifyRange handles one added range against one known source
// branch, returning true if it added a parent or cherry-pick (i.e. the
// pass made progress).
func (r *Reconstructor) classifyRange(br *branch.BranchRev, srcBranch *branch.Branch, rg mergeinfo.Range) bool {
	srcAtHi := branchRevAtRev(r.manager, srcBranch, rg.Hi)
	if srcAtHi == nil {
		// The range's upper bound isn't a revision the source branch
		// actually has recorded; fall back to cherry-picking every
		// in-range revision that is.
		return r.recordCherryPicks(br, srcBranch, rg)
	}
	// Gap check: every srcBranch revision strictly before rg.Lo must
	// already be a known ancestor of br, so this range's upper bound
	// explains srcBranch's entire unmerged history up to Hi with no
	// hole left for a human to have merged by hand.
	gap := false
	for _, id := range srcBranch.Revisions {
		sbr := r.manager.Arena().Get(id)
		if sbr.Rev >= rg.Lo {
			continue
		}
		if _, already := br.HasMerged(srcBranch, sbr.Rev); !already {
			gap = true
			break
		}
	}

	unmerged := revisionsInRange(r.manager, srcBranch, rg)
	if len(unmerged) == 0 {
		return false
	}

	if !gap {
		br.Parents = append(br.Parents, srcAtHi.ID)
		for _, rev := range unmerged {
			br.RecordMerge(srcBranch, rev, srcAtHi.ID)
		}
		return true
	}
	return r.recordCherryPicks(br, srcBranch, rg)
}

func (r *Reconstructor) recordCherryPicks(br *branch.BranchRev, srcBranch *branch.Branch, rg mergeinfo.Range) bool {
	progressed := false
	for _, rev := range revisionsInRange(r.manager, srcBranch, rg) {
		if _, already := br.HasMerged(srcBranch, rev); already {
			continue
		}
		br.CherryPickRevs = append(br.CherryPickRevs, rev)
		if at := branchRevAtRev(r.manager, srcBranch, rev); at != nil {
			br.RecordMerge(srcBranch, rev, at.ID)
		}
		progressed = true
	}
	if progressed {
		sort.Slice(br.CherryPickRevs, func(i, j int) bool { return br.CherryPickRevs[i] < br.CherryPickRevs[j] })
	}
	return progressed
}
