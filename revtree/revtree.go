// Package revtree builds, for every SVN revision, a full content-
// addressed directory tree by applying that revision's dump nodes to
// the previous revision's tree (spec §4.5). Unaffected subtrees are
// never re-hashed: objstore.Store.Finalize short-circuits any subtree
// that is already interned, so structural sharing falls out of the
// path-copy-on-write walk for free.
package revtree

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alegrigoriev/svn2git/dumpfile"
	"github.com/alegrigoriev/svn2git/objstore"
	"github.com/alegrigoriev/svn2git/props"
	"github.com/alegrigoriev/svn2git/svndiff"
	"github.com/alegrigoriev/svn2git/svnerr"
)

func verifySHA1(data []byte, advertised string) error {
	sum := sha1.Sum(data)
	if hex.EncodeToString(sum[:]) != advertised {
		return svnerr.New(svnerr.DumpParse, "data hash mismatch: got %x, expected %s", sum, advertised)
	}
	return nil
}

// Revision is the C5 output per spec §3: a full tree plus the
// metadata and raw node list a revision carried.
type Revision struct {
	Number uint64
	Author string
	Date   string
	Log    []byte
	Tree   *objstore.Object
	Nodes  []*dumpfile.Node
}

// Builder applies dump revisions in increasing order, keeping every
// revision's root tree addressable by number so later copyfrom-rev
// references can resolve against any earlier revision, not just the
// immediately preceding one.
type Builder struct {
	store  *objstore.Store
	logger *logrus.Logger
	trees  map[uint64]*objstore.Object

	VerifyDataHash bool
	DeltaStats     svndiff.Stats
}

func NewBuilder(store *objstore.Store, logger *logrus.Logger) *Builder {
	return &Builder{store: store, logger: logger, trees: map[uint64]*objstore.Object{}}
}

// Tree returns the already-built root tree for revision number, if any.
func (b *Builder) Tree(number uint64) (*objstore.Object, bool) {
	t, ok := b.trees[number]
	return t, ok
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Apply builds and interns the full tree for rev, seeded from the
// previous revision's tree (an empty tree if this is the first).
func (b *Builder) Apply(rev *dumpfile.Revision) (*Revision, error) {
	prev, ok := b.trees[rev.Number-1]
	if !ok {
		empty, err := b.store.Finalize(objstore.NewTree(nil, nil, false))
		if err != nil {
			return nil, err
		}
		prev = empty
	}
	tree := prev
	for _, node := range rev.Nodes {
		var err error
		tree, err = b.applyNode(tree, node, rev.Number)
		if err != nil {
			return nil, err
		}
	}
	finalized, err := b.store.Finalize(tree)
	if err != nil {
		return nil, err
	}
	b.trees[rev.Number] = finalized
	return &Revision{
		Number: rev.Number,
		Author: rev.Author,
		Date:   rev.Date,
		Log:    rev.Log,
		Tree:   finalized,
		Nodes:  rev.Nodes,
	}, nil
}

// getAtPath reads the object at parts within tree, without mutation.
func getAtPath(tree *objstore.Object, parts []string) (*objstore.Object, bool) {
	cur := tree
	for _, name := range parts {
		if cur.Kind() != objstore.Tree {
			return nil, false
		}
		child, ok := cur.Find(name)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// setAtPath returns a copy-on-write tree equal to tree except that the
// object at parts has been replaced by transform's result (nil to
// delete). Every directory on the path must already exist.
func setAtPath(store *objstore.Store, tree *objstore.Object, parts []string, node *dumpfile.Node, rev uint64, transform func(existing *objstore.Object, ok bool) (*objstore.Object, error)) (*objstore.Object, error) {
	if len(parts) == 0 {
		return nil, svnerr.New(svnerr.HistoryParse, "empty node path").WithRevision(rev).WithPath(node.Path)
	}
	name := parts[0]
	if len(parts) == 1 {
		existing, ok := tree.Find(name)
		newChild, err := transform(existing, ok)
		if err != nil {
			return nil, err
		}
		return tree.WithEntry(store, name, newChild), nil
	}
	child, ok := tree.Find(name)
	if !ok || child.Kind() != objstore.Tree {
		return nil, svnerr.New(svnerr.HistoryParse, "parent directory %q does not exist", name).WithRevision(rev).WithPath(node.Path)
	}
	newChild, err := setAtPath(store, child, parts[1:], node, rev, transform)
	if err != nil {
		return nil, err
	}
	return tree.WithEntry(store, name, newChild), nil
}

func (b *Builder) applyNode(tree *objstore.Object, node *dumpfile.Node, rev uint64) (*objstore.Object, error) {
	parts := splitPath(node.Path)

	switch node.Action {
	case dumpfile.ActionDelete:
		return setAtPath(b.store, tree, parts, node, rev, func(existing *objstore.Object, ok bool) (*objstore.Object, error) {
			if !ok {
				return nil, svnerr.New(svnerr.HistoryParse, "delete of non-existent path").WithRevision(rev).WithPath(node.Path)
			}
			return nil, nil
		})

	case dumpfile.ActionAdd, dumpfile.ActionReplace:
		return setAtPath(b.store, tree, parts, node, rev, func(existing *objstore.Object, ok bool) (*objstore.Object, error) {
			if ok && node.Action == dumpfile.ActionAdd && !existing.Hidden() {
				return nil, svnerr.New(svnerr.HistoryParse, "add over existing path").WithRevision(rev).WithPath(node.Path)
			}
			return b.buildAddedObject(node, rev)
		})

	case dumpfile.ActionChange:
		return setAtPath(b.store, tree, parts, node, rev, func(existing *objstore.Object, ok bool) (*objstore.Object, error) {
			if !ok {
				return nil, svnerr.New(svnerr.HistoryParse, "change of non-existent path").WithRevision(rev).WithPath(node.Path)
			}
			return b.buildChangedObject(existing, node, rev)
		})

	case dumpfile.ActionHide:
		return setAtPath(b.store, tree, parts, node, rev, func(existing *objstore.Object, ok bool) (*objstore.Object, error) {
			if !ok {
				return nil, svnerr.New(svnerr.HistoryParse, "hide of non-existent path").WithRevision(rev).WithPath(node.Path)
			}
			return b.store.WithHidden(existing, true), nil
		})

	default:
		return nil, svnerr.New(svnerr.HistoryParse, "unsupported node action").WithRevision(rev).WithPath(node.Path)
	}
}

// resolveCopySource fetches the object a copyfrom reference points to.
func (b *Builder) resolveCopySource(node *dumpfile.Node, rev uint64) (*objstore.Object, error) {
	srcTree, ok := b.trees[node.CopyFromRev]
	if !ok {
		return nil, svnerr.New(svnerr.HistoryParse, "copyfrom references missing revision %d", node.CopyFromRev).WithRevision(rev).WithPath(node.Path)
	}
	srcObj, ok := getAtPath(srcTree, splitPath(node.CopyFromPath))
	if !ok {
		return nil, svnerr.New(svnerr.HistoryParse, "copyfrom path %q does not exist at r%d", node.CopyFromPath, node.CopyFromRev).WithRevision(rev).WithPath(node.Path)
	}
	return srcObj, nil
}

func (b *Builder) buildAddedObject(node *dumpfile.Node, rev uint64) (*objstore.Object, error) {
	var source *objstore.Object
	if node.HasCopyFrom {
		var err error
		source, err = b.resolveCopySource(node, rev)
		if err != nil {
			return nil, err
		}
	}

	if node.Kind == dumpfile.KindDir {
		if source != nil {
			dir := b.store.WithHidden(source, false)
			if node.HasProps {
				newProps, err := b.decodeNodeProps(node, source.Props(), rev)
				if err != nil {
					return nil, err
				}
				dir = b.store.WithProps(dir, newProps)
			}
			return dir, nil
		}
		p := props.New()
		if node.HasProps {
			var err error
			p, err = b.decodeNodeProps(node, props.New(), rev)
			if err != nil {
				return nil, err
			}
		}
		return objstore.NewTree(nil, p, false), nil
	}

	// File.
	var baseData []byte
	baseProps := props.New()
	if source != nil {
		if source.Kind() != objstore.Blob {
			return nil, svnerr.New(svnerr.HistoryParse, "copyfrom source %q is a directory, node is a file", node.CopyFromPath).WithRevision(rev).WithPath(node.Path)
		}
		baseData = source.Data()
		baseProps = source.Props()
	}

	data := baseData
	if node.HasText {
		if node.TextDelta {
			decoded, err := svndiff.Apply(baseData, node.TextPayload, &b.DeltaStats)
			if err != nil {
				return nil, svnerr.Wrap(svnerr.DumpParse, err, "applying text delta").WithRevision(rev).WithPath(node.Path)
			}
			data = decoded
		} else {
			data = node.TextPayload
		}
	}
	if b.VerifyDataHash && node.TextContentSHA1 != "" && !node.TextDelta {
		if err := verifySHA1(data, node.TextContentSHA1); err != nil {
			return nil, svnerr.Wrap(svnerr.DumpParse, err, "verifying text content hash").WithRevision(rev).WithPath(node.Path)
		}
	}

	newProps := baseProps
	if node.HasProps {
		var err error
		newProps, err = b.decodeNodeProps(node, baseProps, rev)
		if err != nil {
			return nil, err
		}
	}
	return objstore.NewBlob(data, newProps, false, node.TextContentSHA1), nil
}

func (b *Builder) buildChangedObject(existing *objstore.Object, node *dumpfile.Node, rev uint64) (*objstore.Object, error) {
	switch node.Kind {
	case dumpfile.KindDir:
		if existing.Kind() != objstore.Tree {
			return nil, svnerr.New(svnerr.HistoryParse, "change action kind mismatch: not a directory").WithRevision(rev).WithPath(node.Path)
		}
		if !node.HasProps {
			return existing, nil
		}
		newProps, err := b.decodeNodeProps(node, existing.Props(), rev)
		if err != nil {
			return nil, err
		}
		return b.store.WithProps(existing, newProps), nil
	default:
		if existing.Kind() != objstore.Blob {
			return nil, svnerr.New(svnerr.HistoryParse, "change action kind mismatch: not a file").WithRevision(rev).WithPath(node.Path)
		}
		newProps := existing.Props()
		if node.HasProps {
			var err error
			newProps, err = b.decodeNodeProps(node, existing.Props(), rev)
			if err != nil {
				return nil, err
			}
		}
		data := existing.Data()
		if node.HasText {
			if node.TextDelta {
				decoded, err := svndiff.Apply(existing.Data(), node.TextPayload, &b.DeltaStats)
				if err != nil {
					return nil, svnerr.Wrap(svnerr.DumpParse, err, "applying text delta").WithRevision(rev).WithPath(node.Path)
				}
				data = decoded
			} else {
				data = node.TextPayload
			}
			if b.VerifyDataHash && node.TextContentSHA1 != "" {
				if err := verifySHA1(data, node.TextContentSHA1); err != nil {
					return nil, svnerr.Wrap(svnerr.DumpParse, err, "verifying text content hash").WithRevision(rev).WithPath(node.Path)
				}
			}
			return objstore.NewBlob(data, newProps, false, node.TextContentSHA1), nil
		}
		if node.HasProps {
			return b.store.WithProps(existing, newProps), nil
		}
		return existing, nil
	}
}

func (b *Builder) decodeNodeProps(node *dumpfile.Node, base *props.Map, rev uint64) (*props.Map, error) {
	if node.PropDelta {
		p, err := props.ApplyDelta(base, node.RawProps)
		if err != nil {
			return nil, wrapRevPath(err, rev, node.Path)
		}
		return p, nil
	}
	p, err := props.Decode(node.RawProps)
	if err != nil {
		return nil, wrapRevPath(err, rev, node.Path)
	}
	return p, nil
}

func wrapRevPath(err error, rev uint64, path string) error {
	if se, ok := err.(*svnerr.Error); ok {
		return se.WithRevision(rev).WithPath(path)
	}
	return svnerr.Wrap(svnerr.DumpParse, err, "").WithRevision(rev).WithPath(path)
}
