// Command svn2git converts a serialized SVN dumpstream into a Git
// commit graph: it reads a dump, builds per-revision content trees,
// classifies paths into branches, reconstructs merge topology from
// svn:mergeinfo, and materializes the result as commits in a real Git
// repository (grounded on the teacher's main() shape: kingpin flag
// declarations, a logrus logger gated by --debug, a version banner,
// and a commented-out profiling hook for future use).
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/alegrigoriev/svn2git/branch"
	"github.com/alegrigoriev/svn2git/config"
	"github.com/alegrigoriev/svn2git/dumpfile"
	"github.com/alegrigoriev/svn2git/executor"
	"github.com/alegrigoriev/svn2git/gitrepo"
	"github.com/alegrigoriev/svn2git/internal/version"
	"github.com/alegrigoriev/svn2git/mergeengine"
	"github.com/alegrigoriev/svn2git/mergeinfo"
	"github.com/alegrigoriev/svn2git/objstore"
	"github.com/alegrigoriev/svn2git/pathmap"
	"github.com/alegrigoriev/svn2git/revtree"
)

// Uncomment to profile a large conversion run:
// import "github.com/pkg/profile"
// defer profile.Start(profile.MemProfile).Stop()

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"YAML configuration file describing path-to-ref mapping rules.",
		).Default("svn2git.yaml").Short('c').String()
		dumpFile = kingpin.Arg(
			"dumpfile",
			"SVN dump file to process (reads stdin if omitted).",
		).String()
		repoDir = kingpin.Flag(
			"repo",
			"Target Git repository directory (created if absent).",
		).Default(".").Short('r').String()
		verifyHash = kingpin.Flag(
			"verify-hash",
			"Verify each node's advertised text SHA-1 against its reconstructed content.",
		).Bool()
		maxRevisions = kingpin.Flag(
			"max.revisions",
			"Stop after this many revisions (0 means no limit).",
		).Int()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svn2git")).Author("svn2git contributors")
	kingpin.CommandLine.Help = "Converts an SVN dumpstream into a Git commit graph.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Errorf("error loading config file: %v", err)
		os.Exit(1)
	}

	startTime := time.Now()
	logger.Infof("%v", version.Print("svn2git"))
	logger.Infof("starting %s, dumpfile=%q, repo=%q", startTime.Format(time.RFC3339), *dumpFile, *repoDir)

	in := os.Stdin
	if *dumpFile != "" {
		f, err := os.Open(*dumpFile)
		if err != nil {
			logger.Errorf("opening dump file: %v", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if err := run(cfg, in, *repoDir, *verifyHash, *maxRevisions, logger); err != nil {
		logger.Errorf("conversion failed: %v", err)
		os.Exit(1)
	}
	logger.Infof("finished in %s", time.Since(startTime))
}

func run(cfg *config.Config, in *os.File, repoDir string, verifyHash bool, maxRevisions int, logger *logrus.Logger) error {
	reader, err := dumpfile.NewReader(in, logger)
	if err != nil {
		return fmt.Errorf("opening dumpstream: %w", err)
	}

	store := objstore.NewStore(logger, 4)
	defer store.Close()

	builder := revtree.NewBuilder(store, logger)
	builder.VerifyDataHash = verifyHash

	mapper, err := pathmap.NewMapper(cfg)
	if err != nil {
		return fmt.Errorf("compiling path map: %w", err)
	}
	manager := branch.NewManager(mapper, branch.NewArena())
	reconstructor := mergeengine.NewReconstructor(manager)

	collab, err := gitrepo.New(repoDir, logger)
	if err != nil {
		return fmt.Errorf("opening git repository: %w", err)
	}

	cachePath := cfg.ContentHashCacheFile
	if cachePath == "" {
		cachePath = filepath.Join(repoDir, ".svn2git-cache")
	}
	sidecar, err := gitrepo.OpenSidecar(cachePath, cfg.AuthorsFile)
	if err != nil {
		return fmt.Errorf("opening content-hash cache: %w", err)
	}
	defer sidecar.Close()

	blobs := gitrepo.NewBlobWriter(collab, sidecar)

	commitLog, err := gitrepo.OpenCommitLog(filepath.Join(repoDir, ".svn2git-commits.jsonl"))
	if err != nil {
		return fmt.Errorf("opening commit log: %w", err)
	}
	defer commitLog.Close()

	exec := executor.New(logger, 4)
	defer exec.Close()

	ctx := &runContext{
		manager:       manager,
		reconstructor: reconstructor,
		collab:        collab,
		blobs:         blobs,
		sidecar:       sidecar,
		commitLog:     commitLog,
		executor:      exec,
		repoDir:       repoDir,
		cfg:           cfg,
		logger:        logger,
		treeGitSHA:    map[*objstore.Object]string{},
	}

	count := 0
	for {
		if maxRevisions > 0 && count >= maxRevisions {
			break
		}
		rev, err := reader.ReadRevision()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading revision: %w", err)
		}
		applied, err := builder.Apply(rev)
		if err != nil {
			return fmt.Errorf("applying revision %d: %w", rev.Number, err)
		}
		if err := processRevision(ctx, applied, rev); err != nil {
			return fmt.Errorf("processing revision %d: %w", rev.Number, err)
		}
		count++
	}

	if err := collab.CommitRefsUpdate(); err != nil {
		return fmt.Errorf("flushing ref updates: %w", err)
	}
	logger.Infof("processed %d revisions", count)
	return nil
}

// runContext carries the collaborators processRevision and
// commitBranchRev thread a conversion run through, grouped into one
// struct rather than a long, ever-growing parameter list as the
// per-revision pipeline gained mergeinfo reconstruction and commit
// finalization beyond the original branch-bookkeeping-only cut.
type runContext struct {
	manager       *branch.Manager
	reconstructor *mergeengine.Reconstructor
	collab        *gitrepo.Collaborator
	blobs         *gitrepo.BlobWriter
	sidecar       *gitrepo.Sidecar
	commitLog     *gitrepo.CommitLog
	executor      *executor.Executor
	repoDir       string
	cfg           *config.Config
	logger        *logrus.Logger

	// treeGitSHA remembers the Git tree SHA-1 write-tree produced for
	// a given committed objstore tree, since objstore.Object only
	// tracks a Git SHA-1 for blobs (gitrepo.BlobWriter's memoization
	// target), not for trees.
	treeGitSHA map[*objstore.Object]string
}

var indexFileSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// indexPathFor assigns each branch its own on-disk index file under
// the repository's .git directory, per spec.md §4.10/§5: "each branch
// owns its own on-disk index file", lazily created on first use.
func indexPathFor(repoDir string, b *branch.Branch) string {
	if b.IndexPath == "" {
		name := indexFileSanitizer.ReplaceAllString(b.Refname, "_")
		b.IndexPath = filepath.Join(repoDir, ".git", "svn2git-index-"+name)
	}
	return b.IndexPath
}

// processRevision discovers newly added directories as candidate
// branch roots, records deletions, then for every branch the revision
// actually touched builds a BranchRev snapshot, reconstructs its merge
// parents from svn:mergeinfo (spec.md §4.9), and drives that
// branch-rev's tree through the commit pipeline (§4.10).
func processRevision(ctx *runContext, applied *revtree.Revision, rev *dumpfile.Revision) error {
	touched := map[*branch.Branch]bool{}
	for _, node := range applied.Nodes {
		if node.Kind == dumpfile.KindDir {
			switch node.Action {
			case dumpfile.ActionAdd, dumpfile.ActionReplace:
				b, err := ctx.manager.OnDirectoryAdded(node.Path)
				if err != nil {
					return err
				}
				if b != nil {
					touched[b] = true
				}
			case dumpfile.ActionDelete:
				for _, b := range ctx.manager.OnDirectoryDeleted(node.Path) {
					if b.HeadID != branch.NoBranchRev {
						touched[b] = true
					}
				}
				continue
			}
		}
		if b, ok := ctx.manager.BranchAt(node.Path); ok && !b.Deleted {
			touched[b] = true
		}
	}

	branches := make([]*branch.Branch, 0, len(touched))
	for b := range touched {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Path < branches[j].Path })

	// Each branch's commit work (index read/stage/write-tree, commit,
	// ref queue) is dispatched as one index-kind node, so the executor's
	// single serialized worker enforces spec.md §5's guarantee that no
	// two branches' index-file mutations ever run concurrently, even
	// though the branches themselves are independent of each other.
	g := executor.NewGraph()
	for _, b := range branches {
		b := b
		g.Add(executor.Commit, b.Refname, rev.Number, nil, func() error {
			return processBranchRevision(ctx, b, applied, rev)
		})
	}
	return ctx.executor.Run(g)
}

// processBranchRevision builds and commits one branch's snapshot of
// the current revision.
func processBranchRevision(ctx *runContext, b *branch.Branch, applied *revtree.Revision, rev *dumpfile.Revision) error {
	subtree, ok := branch.SubtreeAt(applied.Tree, b.Path)
	if !ok {
		if b.Deleted {
			return nil
		}
		subtree = nil
	}

	prevHeadID := b.HeadID
	var prevHead *branch.BranchRev
	if prevHeadID != branch.NoBranchRev {
		prevHead = ctx.manager.Arena().Get(prevHeadID)
	}

	br := ctx.manager.Arena().New(b, rev.Number)
	br.Tree = subtree
	br.Author = ctx.sidecar.AuthorIdentity(rev.Author)
	br.Date = rev.Date
	br.Log = [][]byte{rev.Log}
	br.AnyChangesPresent = true
	br.NeedCommit = true

	br.TreeMergeinfo = mergeinfo.TreeMergeinfo{}
	if prevHead != nil {
		br.TreeMergeinfo = prevHead.TreeMergeinfo.Clone()
		br.Parents = append(br.Parents, prevHeadID)
	}
	var own mergeinfo.Mergeinfo
	if subtree != nil {
		if raw, ok := subtree.Props().Get("svn:mergeinfo"); ok {
			parsed, err := mergeinfo.Parse(string(raw))
			if err != nil {
				return err
			}
			own = parsed
		}
	}
	br.TreeMergeinfo.Set(mergeinfo.SelfKey, own)
	br.Mergeinfo = br.TreeMergeinfo.Build(true)

	prevMergeinfo := mergeinfo.Mergeinfo{}
	if prevHead != nil {
		prevMergeinfo = prevHead.Mergeinfo
	}
	notes := ctx.reconstructor.Reconstruct(br, prevMergeinfo)

	// §4.9 Change-Id inheritance tie-break: a branch-rev with exactly
	// one recorded cherry-pick inherits that source commit's Change-Id.
	if len(br.CherryPickRevs) == 1 {
		if _, srcRev, ok := cherryPickSource(ctx, br, br.CherryPickRevs[0]); ok && srcRev.ChangeID != "" {
			br.ChangeID = srcRev.ChangeID
		}
	}

	return commitBranchRev(ctx, b, br, notes)
}

// cherryPickSource locates the source branch and branch-rev mergeengine
// recorded for one of br's cherry-picked revisions. br.CherryPickRevs
// only carries the bare source revision number, so every known branch
// is probed via BranchRev.HasMerged to find the one that matches.
func cherryPickSource(ctx *runContext, br *branch.BranchRev, rev uint64) (*branch.Branch, *branch.BranchRev, bool) {
	for _, srcBranch := range ctx.manager.Branches() {
		if atID, ok := br.HasMerged(srcBranch, rev); ok {
			return srcBranch, ctx.manager.Arena().Get(atID), true
		}
	}
	return nil, nil, false
}

// branchShortName strips the refs/heads/ prefix for a trailer's
// branch;rev suffix (spec.md §8-S4: "feat;5", not "refs/heads/feat;5").
func branchShortName(refname string) string {
	return strings.TrimPrefix(refname, "refs/heads/")
}

// commitBranchRev stages br's tree against its chosen staging base and
// materializes the result as a Git commit, per spec.md §4.10: pick a
// staging base (step 1), diff against it (step 2), stage the changes
// into the branch's own index file, write the resulting tree and
// commit it on top of the branch-rev's parents, then queue the branch
// ref update for the batched flush at the end of the run.
func commitBranchRev(ctx *runContext, b *branch.Branch, br *branch.BranchRev, notes []mergeengine.Note) error {
	parents := make([]*branch.BranchRev, 0, len(br.Parents))
	for _, id := range br.Parents {
		parents = append(parents, ctx.manager.Arena().Get(id))
	}
	var head *branch.BranchRev
	if len(parents) > 0 {
		head = parents[0]
	}

	base := gitrepo.ChooseStagingBase(head, parents, br.Tree)
	var baseTree *objstore.Object
	if base != nil {
		baseTree = base.CommittedTree
	}

	diff := gitrepo.DiffTrees(baseTree, br.Tree, b.IgnoreDirs, b.IgnoreFiles)
	if len(diff) == 0 && base != nil {
		br.Commit = base.Commit
		br.CommittedTree = base.CommittedTree
		br.SkipCommit = true
		return nil
	}

	indexFile := indexPathFor(ctx.repoDir, b)
	if base != nil && base.CommittedTree != nil {
		if baseSHA := ctx.treeGitSHA[base.CommittedTree]; baseSHA != "" {
			if err := ctx.collab.ReadTree(indexFile, baseSHA); err != nil {
				return err
			}
		}
	}

	modeOf := func(path string, o *objstore.Object) gitrepo.FileMode {
		return gitrepo.ModeForBlob(o, "")
	}
	if err := gitrepo.StageChanges(ctx.collab, ctx.blobs, indexFile, diff, br.Rev, modeOf); err != nil {
		return err
	}

	treeSHA, err := ctx.collab.WriteTree(indexFile)
	if err != nil {
		return err
	}
	br.CommittedTree = br.Tree
	ctx.treeGitSHA[br.Tree] = treeSHA

	parentSHAs := make([]string, 0, len(parents))
	for _, p := range parents {
		if p != nil && p.Commit != "" {
			parentSHAs = append(parentSHAs, p.Commit)
		}
	}

	message := commitMessage(ctx, b, br, notes)
	commitSHA, err := ctx.collab.CommitTree(treeSHA, parentSHAs, message, br.Author, br.Date)
	if err != nil {
		return err
	}
	br.Commit = commitSHA

	var oldSHA string
	if head != nil {
		oldSHA = head.Commit
	}
	ctx.collab.QueueUpdateRef(b.Refname, commitSHA, oldSHA)

	return ctx.commitLog.Append(gitrepo.CommitRecord{
		Commit:   commitSHA,
		Parents:  parentSHAs,
		Branch:   b.Refname,
		Revision: br.Rev,
	})
}

// commitMessage renders br's finalized commit message: its accumulated
// log fragments, one Cherry-picked-from trailer per recorded
// cherry-pick (spec.md §4.9/§8-S4), one Merged-path note per unmapped
// merge source, a Change-Id trailer when one was inherited, and
// finally any configured edit_msg rewrites.
func commitMessage(ctx *runContext, b *branch.Branch, br *branch.BranchRev, notes []mergeengine.Note) string {
	var msg []byte
	for i, frag := range br.Log {
		if i > 0 {
			msg = append(msg, '\n', '\n')
		}
		msg = append(msg, frag...)
	}

	var trailers []string
	for _, rev := range br.CherryPickRevs {
		srcBranch, srcRev, ok := cherryPickSource(ctx, br, rev)
		if !ok || srcRev.Commit == "" {
			continue
		}
		trailers = append(trailers, fmt.Sprintf("Cherry-picked-from: %s %s;%d", srcRev.Commit, branchShortName(srcBranch.Refname), rev))
	}
	for _, n := range notes {
		if n.Range.Lo == n.Range.Hi {
			trailers = append(trailers, fmt.Sprintf("Merged-path: %s r%d", n.SourcePath, n.Range.Lo))
		} else {
			trailers = append(trailers, fmt.Sprintf("Merged-path: %s r%d-%d", n.SourcePath, n.Range.Lo, n.Range.Hi))
		}
	}
	if br.ChangeID != "" {
		trailers = append(trailers, "Change-Id: "+br.ChangeID)
	}
	if len(trailers) > 0 {
		msg = append(msg, '\n', '\n')
		msg = append(msg, []byte(strings.Join(trailers, "\n"))...)
	}

	if ctx.cfg == nil {
		return string(msg)
	}
	return ctx.cfg.ApplyEditMsgs(b.Refname, br.Rev, string(msg))
}
