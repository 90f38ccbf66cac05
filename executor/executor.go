// Package executor implements the dependency-DAG scheduler of
// spec.md §5: a single-threaded driver pulling runnable nodes and
// dispatching CPU-bound work (BlobHash) to a bounded worker pool and
// stateful index operations (ReadTree/StageChanges/WriteTree/Commit/
// UpdateRef) to a single serialized worker, grounded on the teacher's
// pond-based worker pool construction (objstore.Store's own
// background-verification pool follows the same pond.New(size, 0)
// shape).
package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/alegrigoriev/svn2git/svnerr"
)

// NodeKind tags a DAG node per spec.md §5's node list.
type NodeKind int

const (
	BlobHash NodeKind = iota
	ReadTree
	StageChanges
	WriteTree
	Commit
	UpdateRef
	LogSerialize
)

func (k NodeKind) String() string {
	switch k {
	case BlobHash:
		return "BlobHash"
	case ReadTree:
		return "ReadTree"
	case StageChanges:
		return "StageChanges"
	case WriteTree:
		return "WriteTree"
	case Commit:
		return "Commit"
	case UpdateRef:
		return "UpdateRef"
	case LogSerialize:
		return "LogSerialize"
	default:
		return "Unknown"
	}
}

// NodeID identifies a node within one Graph.
type NodeID int

// Node is one unit of work in the DAG. Run executes the work; it must
// be safe to call from a pool goroutine.
type Node struct {
	ID       NodeID
	Kind     NodeKind
	Label    string
	Deps     []NodeID
	Run      func() error
	Revision uint64
}

// Graph is a builder for one run's dependency DAG.
type Graph struct {
	nodes []*Node
}

func NewGraph() *Graph { return &Graph{} }

// Add appends a node and returns its ID for use as a dependency of
// later nodes.
func (g *Graph) Add(kind NodeKind, label string, revision uint64, deps []NodeID, run func() error) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{ID: id, Kind: kind, Label: label, Deps: deps, Run: run, Revision: revision})
	return id
}

// indexWorkerKinds are serialized on the single stateful-index worker,
// since they read/write one branch's on-disk index file and therefore
// cannot safely run concurrently against it (spec.md §5: "serializing
// all write-tree invocations on a single worker").
func isIndexKind(k NodeKind) bool {
	switch k {
	case ReadTree, StageChanges, WriteTree, Commit, UpdateRef:
		return true
	default:
		return false
	}
}

// Executor drives one Graph to completion.
type Executor struct {
	hashPool  *pond.WorkerPool
	indexPool *pond.WorkerPool
	logger    *logrus.Logger
}

// New constructs an Executor with a bounded pool of size hashPoolSize
// for CPU-bound BlobHash nodes, and a single serialized worker for
// stateful index nodes.
func New(logger *logrus.Logger, hashPoolSize int) *Executor {
	if hashPoolSize < 1 {
		hashPoolSize = 1
	}
	return &Executor{
		hashPool:  pond.New(hashPoolSize, 0),
		indexPool: pond.New(1, 0),
		logger:    logger,
	}
}

func (e *Executor) Close() {
	e.hashPool.StopAndWait()
	e.indexPool.StopAndWait()
}

type nodeResult struct {
	id  NodeID
	err error
}

// Run executes every node of g to completion or the first failure.
// Nodes become runnable once every dependency has completed; LogSerialize
// nodes and plain CPU work run inline on the driver thread (their cost
// is dominated by already-parallelized upstream work), BlobHash nodes
// dispatch to the bounded pool, and index-kind nodes dispatch to the
// single serialized worker so two write-trees against the same index
// file can never race.
//
// On the first error classified as DumpParse/HistoryParse, Run stops
// dispatching new nodes, waits for in-flight ones to settle, and
// returns the error annotated with the failing node's revision/label
// (spec.md §5's cancellation policy).
func (e *Executor) Run(g *Graph) error {
	n := len(g.nodes)
	remaining := make([]int, n)
	dependents := make([][]NodeID, n)
	for _, node := range g.nodes {
		remaining[node.ID] = len(node.Deps)
		for _, d := range node.Deps {
			dependents[d] = append(dependents[d], node.ID)
		}
	}

	results := make(chan nodeResult, n)
	inFlight := 0
	var firstErr error
	cancelled := false

	dispatch := func(node *Node) {
		inFlight++
		run := func() {
			var err error
			if node.Run != nil {
				err = node.Run()
			}
			results <- nodeResult{id: node.ID, err: err}
		}
		switch {
		case node.Kind == BlobHash:
			e.hashPool.Submit(run)
		case isIndexKind(node.Kind):
			e.indexPool.Submit(run)
		default:
			run()
		}
	}

	ready := make([]NodeID, 0, n)
	for _, node := range g.nodes {
		if remaining[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	for _, id := range ready {
		if cancelled {
			break
		}
		dispatch(g.nodes[id])
	}
	ready = nil

	completed := 0
	for completed < n {
		if inFlight == 0 {
			break
		}
		res := <-results
		inFlight--
		completed++
		node := g.nodes[res.id]
		if res.err != nil {
			wrapped := wrapNodeError(res.err, node)
			if firstErr == nil {
				firstErr = wrapped
			}
			if isCancelling(res.err) {
				cancelled = true
			}
			continue
		}
		if cancelled {
			continue
		}
		for _, dep := range dependents[res.id] {
			remaining[dep]--
			if remaining[dep] == 0 {
				dispatch(g.nodes[dep])
			}
		}
	}
	return firstErr
}

func isCancelling(err error) bool {
	return svnerr.Is(err, svnerr.DumpParse) || svnerr.Is(err, svnerr.HistoryParse)
}

func wrapNodeError(err error, node *Node) error {
	return fmt.Errorf("executor: node %s %q (rev %d): %w", node.Kind, node.Label, node.Revision, err)
}

// LogSerializer reorders out-of-order per-revision log fragments back
// into strict ascending sequence order before handing them to emit,
// per spec.md §5: "Log output is serialized via a chained
// LogSerializer so that per-revision log fragments appear in strict
// ascending order even though preceded work may complete out of
// order."
type LogSerializer struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]string
	emit    func(seq uint64, text string)
}

// NewLogSerializer starts expecting seq startSeq first.
func NewLogSerializer(startSeq uint64, emit func(seq uint64, text string)) *LogSerializer {
	return &LogSerializer{next: startSeq, pending: map[uint64]string{}, emit: emit}
}

// Submit records text for seq, flushing every now-contiguous run
// starting at the serializer's current expected sequence number.
func (l *LogSerializer) Submit(seq uint64, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[seq] = text
	for {
		text, ok := l.pending[l.next]
		if !ok {
			return
		}
		delete(l.pending, l.next)
		l.emit(l.next, text)
		l.next++
	}
}
