// Package branch implements the branch model of spec.md §3/§4.8: a
// PathTree mapping SVN directory paths to Branch records, and an
// arena of BranchRev snapshots addressed by index rather than pointer
// (Design Notes §9 — the original's cyclic prev_rev/next_rev/
// orphan_branch pointer web becomes a flat slice plus integer links,
// which is trivially safe to grow and to walk without reference
// cycles tripping up a garbage collector or a naive deep-copy).
package branch

import (
	"fmt"
	"strings"

	"github.com/alegrigoriev/svn2git/config"
	"github.com/alegrigoriev/svn2git/mergeinfo"
	"github.com/alegrigoriev/svn2git/objstore"
	"github.com/alegrigoriev/svn2git/pathmap"
)

// BranchRevID indexes into an Arena. NoBranchRev is the sentinel for
// "no such revision" (an empty prev/next link, or a copy source that
// wasn't tracked).
type BranchRevID int

const NoBranchRev BranchRevID = -1

// CopySource records a copy operation landing on a branch-rev, per
// spec.md §4.8: "Copy operations ... record a copy_source on the
// destination branch-rev, which contributes both to merge parent
// selection and to mergeinfo inheritance propagation."
type CopySource struct {
	DestPath   string
	FromBranch *Branch
	FromRev    BranchRevID
	FromPath   string
}

// mergedKey is the (branch, seq) key of BranchRev.MergedRevisions.
type mergedKey struct {
	Branch *Branch
	Seq    uint64
}

type mergedEntry struct {
	At BranchRevID
}

// BranchRev is one revision's snapshot of a branch's subtree, per
// spec.md §3's Types list.
type BranchRev struct {
	ID     BranchRevID
	Rev    uint64
	Branch *Branch
	Tree   *objstore.Object

	PrevRev, NextRev BranchRevID
	Parents          []BranchRevID

	Commit        string
	CommittedTree *objstore.Object

	mergedRevisions map[mergedKey]mergedEntry
	Mergeinfo       mergeinfo.Mergeinfo
	TreeMergeinfo   mergeinfo.TreeMergeinfo

	Author string
	Date   string
	Log    [][]byte // one fragment per contributing revision, oldest first

	CherryPickRevs []uint64
	CopySources    []CopySource
	ChangeID       string

	NeedCommit        bool
	AnyChangesPresent bool
	SkipCommit        bool
	IndexSeq          int
}

// RecordMerge records that (srcBranch, seq) entered ancestry at atID.
func (br *BranchRev) RecordMerge(srcBranch *Branch, seq uint64, atID BranchRevID) {
	if br.mergedRevisions == nil {
		br.mergedRevisions = map[mergedKey]mergedEntry{}
	}
	br.mergedRevisions[mergedKey{srcBranch, seq}] = mergedEntry{At: atID}
}

// HasMerged reports whether (srcBranch, seq) is already a known ancestor.
func (br *BranchRev) HasMerged(srcBranch *Branch, seq uint64) (BranchRevID, bool) {
	e, ok := br.mergedRevisions[mergedKey{srcBranch, seq}]
	return e.At, ok
}

// Arena owns every BranchRev ever created, addressed by stable index.
type Arena struct {
	revs []*BranchRev
}

func NewArena() *Arena { return &Arena{} }

// New appends a BranchRev for branch at rev, linking it after branch's
// current HEAD, and returns it. The caller fills in Tree/Mergeinfo/etc.
func (a *Arena) New(b *Branch, rev uint64) *BranchRev {
	id := BranchRevID(len(a.revs))
	br := &BranchRev{ID: id, Rev: rev, Branch: b, PrevRev: NoBranchRev, NextRev: NoBranchRev, IndexSeq: b.IndexSeq}
	if b.HeadID != NoBranchRev {
		head := a.Get(b.HeadID)
		head.NextRev = id
		br.PrevRev = b.HeadID
	}
	a.revs = append(a.revs, br)
	b.HeadID = id
	b.Revisions = append(b.Revisions, id)
	if b.FirstRevision == 0 {
		b.FirstRevision = rev
	}
	return br
}

func (a *Arena) Get(id BranchRevID) *BranchRev {
	if id == NoBranchRev {
		return nil
	}
	return a.revs[id]
}

// Branch is the persistent per-branch record, per spec.md §3.
type Branch struct {
	Path           string
	Refname        string
	AltRefname     string
	RevisionsRef   string
	Cfg            *config.MapPath
	HeadID         BranchRevID
	StagingID      BranchRevID
	IgnoreDirs     []string
	IgnoreFiles    []string
	ChildMergeDirs []string
	MergeParent    *Branch
	InjectFiles    []string
	EditMsgList    []config.EditMsg
	SkipCommitList []uint64
	OrphanParent   *Branch
	FirstRevision  uint64
	Revisions      []BranchRevID
	IndexSeq       int
	Deleted        bool

	// Filled in by the gitrepo layer once the branch has a working
	// directory and index file of its own.
	WorkDir   string
	IndexPath string
}

// pathTreeNode is one trie node of the PathTree, keyed by '/'-separated
// path segments (adapted from node/node.go's file trie: same recursive
// child-map shape, but case-sensitive per SVN semantics and carrying a
// *Branch payload plus an explicit-unmap flag instead of a file marker).
type pathTreeNode struct {
	name     string
	children map[string]*pathTreeNode
	branch   *Branch
	unmapped bool
}

func newPathTreeNode(name string) *pathTreeNode {
	return &pathTreeNode{name: name, children: map[string]*pathTreeNode{}}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (n *pathTreeNode) walk(parts []string, create bool) *pathTreeNode {
	cur := n
	for _, seg := range parts {
		child, ok := cur.children[seg]
		if !ok {
			if !create {
				return nil
			}
			child = newPathTreeNode(seg)
			cur.children[seg] = child
		}
		cur = child
	}
	return cur
}

// Manager ties the PathTree, the Arena and the path mapper together,
// per spec.md §4.8: it decides, for each newly added directory,
// whether a Branch is created, and keeps deletions from letting a
// re-added path inherit a dead branch's history.
type Manager struct {
	mapper  *pathmap.Mapper
	arena   *Arena
	root    *pathTreeNode
	byPath  map[string]*Branch
	refsUse map[string]*Branch
}

func NewManager(mapper *pathmap.Mapper, arena *Arena) *Manager {
	return &Manager{
		mapper:  mapper,
		arena:   arena,
		root:    newPathTreeNode(""),
		byPath:  map[string]*Branch{},
		refsUse: map[string]*Branch{},
	}
}

func (m *Manager) Arena() *Arena { return m.arena }

// BranchAt returns the branch owning path, or the nearest ancestor
// branch if path itself isn't a branch root (used to find a new
// branch's enclosing merge_parent).
func (m *Manager) BranchAt(path string) (*Branch, bool) {
	parts := splitPath(path)
	node := m.root
	var last *Branch
	for _, seg := range parts {
		child, ok := node.children[seg]
		if !ok {
			break
		}
		node = child
		if node.branch != nil {
			last = node.branch
		}
	}
	return last, last != nil
}

// OnDirectoryAdded consults the mapper for a newly added directory and,
// on first match, creates its Branch. It returns (nil, nil) when the
// path is unmapped or does not match any rule.
func (m *Manager) OnDirectoryAdded(path string) (*Branch, error) {
	if existing, ok := m.byPath[path]; ok && !existing.Deleted {
		return existing, nil
	}
	match, ok := m.mapper.Match(path)
	if !ok || match.Unmapped {
		if ok && match.Unmapped {
			node := m.root.walk(splitPath(path), true)
			node.unmapped = true
		}
		return nil, nil
	}

	refname := m.dedupeRef(match.Refname)
	b := &Branch{
		Path:         path,
		Refname:      refname,
		AltRefname:   match.AltRefname,
		RevisionsRef: match.RevisionRef,
	}
	if parent, ok := m.BranchAt(parentPath(path)); ok {
		b.MergeParent = parent
	}
	if prev, ok := m.byPath[path]; ok && prev.Deleted {
		b.IndexSeq = prev.IndexSeq + 1
		b.OrphanParent = prev.OrphanParent
	}

	m.byPath[path] = b
	node := m.root.walk(splitPath(path), true)
	node.branch = b
	node.unmapped = false
	return b, nil
}

// OnDirectoryDeleted marks every branch rooted at or below path as
// deleted, per spec.md §4.8: "further additions at that path get a new
// index_seq, ensuring re-added branches never share history."
func (m *Manager) OnDirectoryDeleted(path string) []*Branch {
	node := m.root.walk(splitPath(path), false)
	if node == nil {
		return nil
	}
	var deleted []*Branch
	markDeleted(node, &deleted)
	return deleted
}

func markDeleted(n *pathTreeNode, out *[]*Branch) {
	if n.branch != nil && !n.branch.Deleted {
		n.branch.Deleted = true
		*out = append(*out, n.branch)
	}
	for _, c := range n.children {
		markDeleted(c, out)
	}
}

// RecordCopy attaches a CopySource to destBranchRev, the first step in
// merge-parent selection and mergeinfo inheritance per spec.md §4.8.
func (m *Manager) RecordCopy(destBranchRev *BranchRev, destPath string, fromBranch *Branch, fromRev BranchRevID, fromPath string) {
	destBranchRev.CopySources = append(destBranchRev.CopySources, CopySource{
		DestPath:   destPath,
		FromBranch: fromBranch,
		FromRev:    fromRev,
		FromPath:   fromPath,
	})
}

// Branches returns the latest branch created at each path: a branch
// that was deleted and later re-added at the same path appears only as
// its newest instance. The order is not defined; callers that need
// deterministic order should sort by FirstRevision/Path.
func (m *Manager) Branches() []*Branch {
	out := make([]*Branch, 0, len(m.byPath))
	seen := map[*Branch]bool{}
	for _, b := range m.byPath {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// dedupeRef applies the "___<n>" suffixing rule of pathmap.Dedupe
// incrementally, since branches are created one at a time rather than
// as one batch.
func (m *Manager) dedupeRef(ref string) string {
	if _, used := m.refsUse[ref]; !used {
		m.refsUse[ref] = nil
		return ref
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s___%d", ref, n)
		if _, used := m.refsUse[candidate]; !used {
			m.refsUse[candidate] = nil
			return candidate
		}
	}
}

func parentPath(path string) string {
	idx := strings.LastIndex(strings.TrimRight(path, "/"), "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// SubtreeAt resolves the object rooted at path within tree, for
// extracting a branch's own subtree out of a revtree.Revision.Tree.
func SubtreeAt(tree *objstore.Object, path string) (*objstore.Object, bool) {
	cur := tree
	for _, seg := range splitPath(path) {
		if cur.Kind() != objstore.Tree {
			return nil, false
		}
		child, ok := cur.Find(seg)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}
