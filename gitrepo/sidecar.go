package gitrepo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/alegrigoriev/svn2git/svnerr"
)

// CommitRecord is one persisted commit/branch mapping entry, written
// by the commit finalizer and read back by cmd/svn2graph to draw the
// resulting commit graph without needing a live Git repository.
type CommitRecord struct {
	Commit   string   `json:"commit"`
	Parents  []string `json:"parents,omitempty"`
	Branch   string   `json:"branch"`
	Revision uint64   `json:"revision"`
}

// CommitLog appends CommitRecords to an on-disk JSON-lines file.
type CommitLog struct {
	mu sync.Mutex
	w  *bufio.Writer
	f  *os.File
}

// OpenCommitLog opens path for appending, creating it if absent.
func OpenCommitLog(path string) (*CommitLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IoError, err, "opening commit log %s", path)
	}
	return &CommitLog{w: bufio.NewWriter(f), f: f}, nil
}

// Append writes one record, flushing immediately so a mid-run failure
// leaves a valid prefix (spec.md §5's "log fragments appear in strict
// ascending order" — callers are expected to have already serialized
// records via executor.LogSerializer before calling Append).
func (l *CommitLog) Append(rec CommitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(data); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "writing commit log")
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "writing commit log")
	}
	return l.w.Flush()
}

func (l *CommitLog) Close() error {
	return l.f.Close()
}

// ReadCommitLog loads every record from an on-disk commit log.
func ReadCommitLog(path string) ([]CommitRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IoError, err, "opening commit log %s", path)
	}
	defer f.Close()
	var out []CommitRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec CommitRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, svnerr.Wrap(svnerr.HistoryParse, err, "parsing commit log entry")
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, svnerr.Wrap(svnerr.IoError, err, "reading commit log %s", path)
	}
	return out, nil
}

// CacheKey builds the composite key a blob hash is memoized under:
// the structural fingerprint of its content, the fingerprint of
// whatever .gitattributes/formatter rules applied, and the tree path
// (keyword expansion like $Id$ bakes the path into the expanded text).
func CacheKey(structFingerprint, gitAttrsFingerprint, path string) string {
	return structFingerprint + "\x00" + gitAttrsFingerprint + "\x00" + path
}

// Sidecar is the on-disk content-hash cache of spec.md §6: a sorted
// text file of "key sha1" lines, the authoritative source of truth
// across runs, fronted by a bounded in-memory cache (ristretto) so a
// single run's repeated lookups for the same key don't re-scan the
// file (adapted from the teacher's journal.go: a struct wrapping one
// append-only writer plus one record-per-line format, generalized from
// P4 rev/integ records to cache-key/sha1 pairs).
type Sidecar struct {
	mu       sync.Mutex
	path     string
	entries  map[string]string
	front    *ristretto.Cache[string, string]
	dirty    bool
	authors  map[string]string
	authorPt string
}

// OpenSidecar loads cachePath (if it exists) into memory and wires a
// bounded front cache over it. authorsPath, if non-empty, loads an
// SVN-author -> Git-identity JSON map.
func OpenSidecar(cachePath, authorsPath string) (*Sidecar, error) {
	s := &Sidecar{path: cachePath, entries: map[string]string{}, authorPt: authorsPath}
	if f, err := os.Open(cachePath); err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			idx := strings.LastIndexByte(line, ' ')
			if idx < 0 {
				continue
			}
			s.entries[line[:idx]] = line[idx+1:]
		}
		if err := sc.Err(); err != nil {
			return nil, svnerr.Wrap(svnerr.IoError, err, "reading content-hash cache %s", cachePath)
		}
	} else if !os.IsNotExist(err) {
		return nil, svnerr.Wrap(svnerr.IoError, err, "opening content-hash cache %s", cachePath)
	}

	front, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IoError, err, "constructing content-hash front cache")
	}
	s.front = front

	s.authors = map[string]string{}
	if authorsPath != "" {
		if data, err := os.ReadFile(authorsPath); err == nil {
			if err := json.Unmarshal(data, &s.authors); err != nil {
				return nil, svnerr.Wrap(svnerr.ConfigParse, err, "parsing authors map %s", authorsPath)
			}
		} else if !os.IsNotExist(err) {
			return nil, svnerr.Wrap(svnerr.IoError, err, "opening authors map %s", authorsPath)
		}
	}
	return s, nil
}

// Lookup returns the Git SHA-1 previously stored for key.
func (s *Sidecar) Lookup(key string) (string, bool) {
	if v, ok := s.front.Get(key); ok {
		return v, true
	}
	s.mu.Lock()
	v, ok := s.entries[key]
	s.mu.Unlock()
	if ok {
		s.front.Set(key, v, int64(len(v)))
	}
	return v, ok
}

// Store records sha1 under key, both in the front cache and the
// authoritative in-memory table to be flushed by Close.
func (s *Sidecar) Store(key, sha1 string) {
	s.front.Set(key, sha1, int64(len(sha1)))
	s.mu.Lock()
	s.entries[key] = sha1
	s.dirty = true
	s.mu.Unlock()
}

// AuthorIdentity maps an SVN author name to its configured Git
// "Name <email>" identity, falling back to the bare SVN name (spec.md
// §6's recognized-properties table: svn:author populates revision
// metadata, and the authors map is the conventional place to translate
// it into a Git identity).
func (s *Sidecar) AuthorIdentity(svnAuthor string) string {
	if id, ok := s.authors[svnAuthor]; ok {
		return id
	}
	return svnAuthor
}

// Close flushes the in-memory table back to disk as a sorted, stable
// text file when dirty.
func (s *Sidecar) Close() error {
	s.front.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.path == "" {
		return nil
	}
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "creating content-hash cache %s", tmp)
	}
	w := bufio.NewWriter(f)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %s\n", k, s.entries[k]); err != nil {
			f.Close()
			return svnerr.Wrap(svnerr.IoError, err, "writing content-hash cache")
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return svnerr.Wrap(svnerr.IoError, err, "flushing content-hash cache")
	}
	if err := f.Close(); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "closing content-hash cache")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return svnerr.Wrap(svnerr.IoError, err, "renaming content-hash cache into place")
	}
	s.dirty = false
	return nil
}
