// Package gitrepo is the Git collaborator of spec.md §6: a thin
// plumbing layer over the real `git` binary (shelled out via os/exec,
// the same way the teacher's test harness drives external commands —
// see the "/bin/bash -c" + logrus.Debugf shape of runCmd in the
// teacher's main_test.go) exposing exactly the operations the commit
// finalizer needs: hash_object, update_index, read_tree, write_tree,
// commit_tree, tag, queue_update_ref/queue_delete_ref/
// commit_refs_update, for_each_ref, ls_tree and show.
package gitrepo

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alegrigoriev/svn2git/svnerr"
)

// RefUpdate is one queued ref change, flushed in one batch at the end
// of a run per spec.md §5 ("exposes an async queue for ref updates,
// flushed once at the end").
type RefUpdate struct {
	Ref    string
	NewSHA string // empty means delete
	OldSHA string // expected current value; empty means "don't care"
}

// Collaborator drives one Git repository's plumbing commands.
type Collaborator struct {
	workDir string
	logger  *logrus.Logger
	queue   []RefUpdate
}

// New opens (or initializes, if absent) a bare or worktree Git
// repository at dir as the target of the conversion.
func New(dir string, logger *logrus.Logger) (*Collaborator, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, svnerr.Wrap(svnerr.IoError, err, "creating repo dir %s", dir)
		}
		c := &Collaborator{workDir: dir, logger: logger}
		if _, err := c.run("init", "-q"); err != nil {
			return nil, err
		}
		return c, nil
	}
	return &Collaborator{workDir: dir, logger: logger}, nil
}

func (c *Collaborator) run(args ...string) (string, error) {
	c.logger.Debugf("gitrepo: git %s", strings.Join(args, " "))
	cmd := exec.Command("git", args...)
	cmd.Dir = c.workDir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", svnerr.Wrap(svnerr.IoError, err, "git %s: %s", strings.Join(args, " "), errBuf.String())
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

func (c *Collaborator) runStdin(stdin []byte, args ...string) (string, error) {
	c.logger.Debugf("gitrepo: git %s (%d bytes stdin)", strings.Join(args, " "), len(stdin))
	cmd := exec.Command("git", args...)
	cmd.Dir = c.workDir
	cmd.Stdin = bytes.NewReader(stdin)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", svnerr.Wrap(svnerr.IoError, err, "git %s: %s", strings.Join(args, " "), errBuf.String())
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// HashObject writes data as a blob object and returns its SHA-1.
func (c *Collaborator) HashObject(data []byte) (string, error) {
	return c.runStdin(data, "hash-object", "-w", "--stdin")
}

// FileMode is a Git tree entry mode (e.g. "100644", "100755", "120000").
type FileMode string

const (
	ModeRegular    FileMode = "100644"
	ModeExecutable FileMode = "100755"
	ModeSymlink    FileMode = "120000"
	ModeTree       FileMode = "040000"
)

// IndexEntry is one `update-index --index-info` line.
type IndexEntry struct {
	Mode FileMode
	SHA1 string
	Path string
}

// UpdateIndex stages entries into indexFile via `git update-index
// --add --index-info`, adding them to whatever the index already holds
// (the file is created if it does not exist).
func (c *Collaborator) UpdateIndex(indexFile string, entries []IndexEntry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s blob %s\t%s\n", e.Mode, e.SHA1, e.Path)
	}
	env := append(os.Environ(), "GIT_INDEX_FILE="+indexFile)
	args := []string{"update-index", "--add", "--index-info"}
	c.logger.Debugf("gitrepo: git %s (index=%s, %d entries)", strings.Join(args, " "), indexFile, len(entries))
	cmd := exec.Command("git", args...)
	cmd.Dir = c.workDir
	cmd.Env = env
	cmd.Stdin = &buf
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "git update-index: %s", errBuf.String())
	}
	return nil
}

// RemoveFromIndex unstages paths from indexFile.
func (c *Collaborator) RemoveFromIndex(indexFile string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, p := range paths {
		fmt.Fprintf(&buf, "%s\n", p)
	}
	env := append(os.Environ(), "GIT_INDEX_FILE="+indexFile)
	cmd := exec.Command("git", "update-index", "--force-remove", "--stdin")
	cmd.Dir = c.workDir
	cmd.Env = env
	cmd.Stdin = &buf
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "git update-index --force-remove: %s", errBuf.String())
	}
	return nil
}

// ReadTree loads treeSHA into indexFile, per spec.md §4.10 step 1's
// staging-base selection ("that parent becomes the staging base and
// its index is read into the index file").
func (c *Collaborator) ReadTree(indexFile, treeSHA string) error {
	env := append(os.Environ(), "GIT_INDEX_FILE="+indexFile)
	cmd := exec.Command("git", "read-tree", treeSHA)
	cmd.Dir = c.workDir
	cmd.Env = env
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "git read-tree: %s", errBuf.String())
	}
	return nil
}

// WriteTree writes indexFile's staged contents as a tree object.
func (c *Collaborator) WriteTree(indexFile string) (string, error) {
	env := append(os.Environ(), "GIT_INDEX_FILE="+indexFile)
	cmd := exec.Command("git", "write-tree")
	cmd.Dir = c.workDir
	cmd.Env = env
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", svnerr.Wrap(svnerr.IoError, err, "git write-tree: %s", errBuf.String())
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// CommitTree creates a commit object with the given tree, parents,
// message and author/committer identity/date.
func (c *Collaborator) CommitTree(tree string, parents []string, message, author, date string) (string, error) {
	args := []string{"commit-tree", tree}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	env := append(os.Environ(),
		"GIT_AUTHOR_NAME="+author, "GIT_AUTHOR_EMAIL="+author,
		"GIT_COMMITTER_NAME="+author, "GIT_COMMITTER_EMAIL="+author,
		"GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date,
	)
	cmd := exec.Command("git", args...)
	cmd.Dir = c.workDir
	cmd.Env = env
	cmd.Stdin = strings.NewReader(message)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", svnerr.Wrap(svnerr.IoError, err, "git commit-tree: %s", errBuf.String())
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// Tag creates an annotated tag object pointing at target.
func (c *Collaborator) Tag(name, target, message, tagger, date string) error {
	env := append(os.Environ(), "GIT_COMMITTER_NAME="+tagger, "GIT_COMMITTER_EMAIL="+tagger, "GIT_COMMITTER_DATE="+date)
	cmd := exec.Command("git", "tag", "-a", "-m", message, name, target)
	cmd.Dir = c.workDir
	cmd.Env = env
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "git tag: %s", errBuf.String())
	}
	return nil
}

// QueueUpdateRef enqueues a ref creation/update for the next
// CommitRefsUpdate flush.
func (c *Collaborator) QueueUpdateRef(ref, newSHA, oldSHA string) {
	c.queue = append(c.queue, RefUpdate{Ref: ref, NewSHA: newSHA, OldSHA: oldSHA})
}

// QueueDeleteRef enqueues a ref deletion.
func (c *Collaborator) QueueDeleteRef(ref, oldSHA string) {
	c.queue = append(c.queue, RefUpdate{Ref: ref, OldSHA: oldSHA})
}

// CommitRefsUpdate flushes every queued ref change in one
// `git update-ref --stdin` transaction.
func (c *Collaborator) CommitRefsUpdate() error {
	if len(c.queue) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("start\n")
	for _, u := range c.queue {
		if u.NewSHA == "" {
			fmt.Fprintf(&buf, "delete %s %s\n", u.Ref, u.OldSHA)
		} else if u.OldSHA == "" {
			fmt.Fprintf(&buf, "update %s %s\n", u.Ref, u.NewSHA)
		} else {
			fmt.Fprintf(&buf, "update %s %s %s\n", u.Ref, u.NewSHA, u.OldSHA)
		}
	}
	buf.WriteString("prepare\n")
	buf.WriteString("commit\n")
	if _, err := c.runStdin(buf.Bytes(), "update-ref", "--stdin"); err != nil {
		return err
	}
	c.queue = nil
	return nil
}

// ForEachRef lists refs matching pattern (e.g. "refs/heads/*").
func (c *Collaborator) ForEachRef(pattern string) (map[string]string, error) {
	out, err := c.run("for-each-ref", "--format=%(objectname) %(refname)", pattern)
	if err != nil {
		return nil, err
	}
	refs := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) == 2 {
			refs[parts[1]] = parts[0]
		}
	}
	return refs, nil
}

// LsTreeEntry is one line of `git ls-tree`.
type LsTreeEntry struct {
	Mode FileMode
	Type string
	SHA1 string
	Path string
}

// LsTree lists tree's immediate entries (non-recursive).
func (c *Collaborator) LsTree(tree string) ([]LsTreeEntry, error) {
	out, err := c.run("ls-tree", tree)
	if err != nil {
		return nil, err
	}
	var entries []LsTreeEntry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		fields := strings.Fields(line[:tab])
		if len(fields) != 3 {
			continue
		}
		entries = append(entries, LsTreeEntry{Mode: FileMode(fields[0]), Type: fields[1], SHA1: fields[2], Path: line[tab+1:]})
	}
	return entries, nil
}

// Show returns the raw content of a blob object.
func (c *Collaborator) Show(sha1 string) ([]byte, error) {
	cmd := exec.Command("git", "cat-file", "blob", sha1)
	cmd.Dir = c.workDir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, svnerr.Wrap(svnerr.IoError, err, "git cat-file blob %s: %s", sha1, errBuf.String())
	}
	return out.Bytes(), nil
}

// ModeFromFlags computes the Git file mode for a blob per spec.md §6's
// recognized properties table. A config chmod override that parses as
// octal wins and is returned as given; otherwise svn:special starting
// "link " -> 120000, svn:executable -> 100755, else the default 100644.
func ModeFromFlags(executable, symlink bool, chmodOverride string) FileMode {
	if chmodOverride != "" {
		if _, err := strconv.ParseUint(chmodOverride, 8, 32); err == nil {
			return FileMode(chmodOverride)
		}
	}
	if symlink {
		return ModeSymlink
	}
	if executable {
		return ModeExecutable
	}
	return ModeRegular
}
