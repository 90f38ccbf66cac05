package gitrepo

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alegrigoriev/svn2git/branch"
	"github.com/alegrigoriev/svn2git/objstore"
)

// DiffEntry is one stage operation produced by diffing a branch-rev's
// tree against its staging base, per spec.md §4.10 step 2.
type DiffEntry struct {
	Path    string
	New     *objstore.Object // nil means delete
	Deleted bool
}

// EmptyDirPlaceholder is the file name materialized for an
// otherwise-empty directory (spec.md §4.10 step 3). DiffTrees always
// uses this constant; Config.EmptyDirPlaceholder is not consulted.
const EmptyDirPlaceholder = ".gitkeep"

// ignoreMatch reports whether name matches any of the glob patterns in
// patterns, using the same shell-glob semantics SVN's own ignore
// properties use.
func ignoreMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// DiffTrees walks oldTree and newTree (either may be nil, meaning
// empty) and returns the flat set of path-level changes, skipping
// paths under any of ignoreDirs and files matching ignoreFiles, and
// skipping hidden objects on either side (spec.md §4.10 step 2: "skip
// ignore_dirs and ignore_file matches and hidden objects").
func DiffTrees(oldTree, newTree *objstore.Object, ignoreDirs, ignoreFiles []string) []DiffEntry {
	var out []DiffEntry
	diffWalk("", oldTree, newTree, ignoreDirs, ignoreFiles, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func diffWalk(prefix string, oldTree, newTree *objstore.Object, ignoreDirs, ignoreFiles []string, out *[]DiffEntry) {
	oldEntries := map[string]*objstore.Object{}
	if oldTree != nil && oldTree.Kind() == objstore.Tree {
		for _, e := range oldTree.Entries() {
			oldEntries[e.Name] = e.Child
		}
	}
	newEntries := map[string]*objstore.Object{}
	if newTree != nil && newTree.Kind() == objstore.Tree {
		for _, e := range newTree.Entries() {
			newEntries[e.Name] = e.Child
		}
	}

	names := map[string]bool{}
	for n := range oldEntries {
		names[n] = true
	}
	for n := range newEntries {
		names[n] = true
	}

	for name := range names {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		oldChild := oldEntries[name]
		newChild := newEntries[name]

		if newChild != nil && ignoreMatch(ignoreDirs, full) {
			continue
		}

		switch {
		case oldChild == nil && newChild == nil:
			continue
		case newChild == nil:
			// Deleted. If it was a tree, recurse to delete every leaf; a
			// directory itself has no Git object to remove.
			if oldChild.Kind() == objstore.Tree {
				diffWalk(full, oldChild, nil, ignoreDirs, ignoreFiles, out)
			} else if !oldChild.Hidden() {
				*out = append(*out, DiffEntry{Path: full, Deleted: true})
			}
		case newChild.Hidden():
			if oldChild != nil && !oldChild.Hidden() {
				*out = append(*out, DiffEntry{Path: full, Deleted: true})
			}
		case newChild.Kind() == objstore.Tree:
			if ignoreMatch(ignoreFiles, name) {
				continue
			}
			if isEmptyTree(newChild) {
				*out = append(*out, DiffEntry{Path: path.Join(full, EmptyDirPlaceholder), New: objstore.NewBlob(nil, nil, false, "")})
				continue
			}
			var oldSub *objstore.Object
			if oldChild != nil && oldChild.Kind() == objstore.Tree {
				oldSub = oldChild
			}
			diffWalk(full, oldSub, newChild, ignoreDirs, ignoreFiles, out)
		default:
			if ignoreMatch(ignoreFiles, name) {
				continue
			}
			if oldChild != nil && oldChild.Kind() == objstore.Blob && sameBlob(oldChild, newChild) {
				continue
			}
			*out = append(*out, DiffEntry{Path: full, New: newChild})
		}
	}
}

func isEmptyTree(o *objstore.Object) bool {
	for _, e := range o.Entries() {
		if !e.Child.Hidden() {
			return false
		}
	}
	return true
}

func sameBlob(a, b *objstore.Object) bool {
	return a.Fingerprint() == b.Fingerprint()
}

// StageChanges hashes and applies a diff entry list into indexFile via
// collab, reusing blobs already hashed this run, per spec.md §4.10
// steps 3-4.
func StageChanges(collab *Collaborator, blobs *BlobWriter, indexFile string, diff []DiffEntry, rev uint64, modeOf func(path string, o *objstore.Object) FileMode) error {
	var add []IndexEntry
	var remove []string
	for _, d := range diff {
		if d.Deleted || d.New == nil {
			remove = append(remove, d.Path)
			continue
		}
		mode := ModeRegular
		if modeOf != nil {
			mode = modeOf(d.Path, d.New)
		}
		if mode == ModeSymlink {
			PrepareSymlinkData(d.New)
		} else {
			PreparePrettyData(d.New, rev, BlobMeta{})
		}
		sha1, err := blobs.Write(d.New, "", d.Path)
		if err != nil {
			return fmt.Errorf("staging %s: %w", d.Path, err)
		}
		add = append(add, IndexEntry{Mode: mode, SHA1: sha1, Path: d.Path})
	}
	if err := collab.RemoveFromIndex(indexFile, remove); err != nil {
		return err
	}
	return collab.UpdateIndex(indexFile, add)
}

// ModeForBlob derives the Git file mode for a blob from its SVN
// properties, per spec.md §6's recognized-properties table.
func ModeForBlob(o *objstore.Object, chmodOverride string) FileMode {
	executable := false
	if v, ok := o.Props().Get("svn:executable"); ok && v != nil {
		executable = true
	}
	symlink := false
	if _, ok := o.Props().Get("svn:special"); ok {
		if _, isLink := SymlinkTarget(o.Data()); isLink {
			symlink = true
		}
	}
	return ModeFromFlags(executable, symlink, chmodOverride)
}

// similarPathCount compares two trees' flat path sets for the
// staging-base heuristic of spec.md §4.10 step 1
// (added+deleted < identical+different).
func similarPathCount(a, b *objstore.Object) (identical, different, added, deleted int) {
	aPaths := flattenPaths("", a)
	bPaths := flattenPaths("", b)
	for p, af := range aPaths {
		bf, ok := bPaths[p]
		if !ok {
			deleted++
			continue
		}
		if af == bf {
			identical++
		} else {
			different++
		}
	}
	for p := range bPaths {
		if _, ok := aPaths[p]; !ok {
			added++
		}
	}
	return
}

func flattenPaths(prefix string, o *objstore.Object) map[string][20]byte {
	out := map[string][20]byte{}
	if o == nil {
		return out
	}
	if o.Kind() == objstore.Blob {
		out[prefix] = o.Fingerprint()
		return out
	}
	for _, e := range o.Entries() {
		if e.Child.Hidden() {
			continue
		}
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		for k, v := range flattenPaths(full, e.Child) {
			out[k] = v
		}
	}
	return out
}

// ChooseStagingBase implements spec.md §4.10 step 1: normally the
// branch's own HEAD tree; if HEAD has no staged tree yet and exactly
// one merge parent is sufficiently similar to newTree, that parent's
// committed tree becomes the staging base instead.
func ChooseStagingBase(head *branch.BranchRev, parents []*branch.BranchRev, newTree *objstore.Object) *branch.BranchRev {
	if head != nil && head.CommittedTree != nil {
		return head
	}
	var best *branch.BranchRev
	bestScore := -1
	count := 0
	for _, p := range parents {
		if p == nil || p.CommittedTree == nil {
			continue
		}
		identical, different, added, deleted := similarPathCount(p.CommittedTree, newTree)
		if added+deleted >= identical+different {
			continue
		}
		count++
		score := identical - different - added - deleted
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	if count == 1 {
		return best
	}
	return nil
}

// FastForwardCollapse reports whether a two-parent commit can collapse
// to its first parent, per spec.md §4.10 step 5: the second parent's
// tree equals ours and the first parent already transitively contains
// it.
func FastForwardCollapse(ourTree *objstore.Object, second *branch.BranchRev, firstAlreadyContainsSecond bool) bool {
	if second == nil || second.CommittedTree == nil || ourTree == nil {
		return false
	}
	return second.CommittedTree.Fingerprint() == ourTree.Fingerprint() && firstAlreadyContainsSecond
}

// DeletedBranchTag formats the tag name used to preserve a deleted
// branch's pending log message, per spec.md §4.10's skip-commit policy.
func DeletedBranchTag(refname string, rev uint64) string {
	short := strings.TrimPrefix(refname, "refs/heads/")
	return fmt.Sprintf("%s_deleted@r%d", short, rev)
}
