// Package dumpfile parses the SVN dumpstream record format: a header
// block of "Key: value" lines terminated by a blank line, optionally
// followed by an exact-length binary payload and a trailing blank
// line. The first record is a format-version record, optionally
// followed by a UUID record; everything after that is a sequence of
// revision records, each followed by zero or more node records.
package dumpfile

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alegrigoriev/svn2git/props"
	"github.com/alegrigoriev/svn2git/svnerr"
)

// NodeKind identifies whether a node record describes a file or a
// directory. A delete action may omit the kind entirely.
type NodeKind int

const (
	KindNone NodeKind = iota
	KindFile
	KindDir
)

// NodeAction identifies the operation a node record performs.
type NodeAction int

const (
	ActionAdd NodeAction = iota
	ActionChange
	ActionDelete
	ActionReplace
	ActionHide
)

func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "none"
	}
}

func (a NodeAction) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionChange:
		return "change"
	case ActionDelete:
		return "delete"
	case ActionReplace:
		return "replace"
	case ActionHide:
		return "hide"
	default:
		return "unknown"
	}
}

// Node is one Node-path block within a revision record.
type Node struct {
	Path   string
	Kind   NodeKind
	Action NodeAction

	HasCopyFrom  bool
	CopyFromPath string
	CopyFromRev  uint64

	HasProps          bool
	PropDelta         bool
	PropContentLength int64
	RawProps          []byte // raw property block bytes, undecoded

	HasText           bool
	TextDelta         bool
	TextContentLength int64
	TextContentSHA1   string
	TextContentMD5    string
	TextDeltaBaseSHA1 string
	TextDeltaBaseMD5  string
	TextPayload       []byte // raw bytes: literal content, or an svndiff delta when TextDelta

	// Header holds every "Key: value" line seen, for headers this
	// reader does not otherwise interpret (warned, not fatal, per
	// spec §7's "unknown dump header keys are warned" rule).
	Header map[string]string
}

// Revision is one Revision-number block plus its node records.
type Revision struct {
	Number uint64
	Props  *props.Map
	Author string
	Date   string
	Log    []byte
	Nodes  []*Node
}

// Stats accumulates parse statistics for one Reader's lifetime.
type Stats struct {
	Revisions         int
	Nodes             int
	BytesRead         int64
	DeltaWindows      int
	TrivialDeltaWindows int
}

// Reader parses a dumpstream from an underlying io.Reader.
type Reader struct {
	r       *bufio.Reader
	logger  *logrus.Logger
	Version int
	UUID    string
	Stats   Stats

	seenKeysWarned map[string]bool
}

var uuidRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// NewReader constructs a Reader and immediately parses the leading
// format-version record and optional UUID record.
func NewReader(r io.Reader, logger *logrus.Logger) (*Reader, error) {
	d := &Reader{r: bufio.NewReaderSize(r, 64*1024), logger: logger, seenKeysWarned: map[string]bool{}}
	hdr, err := d.readHeaderBlock()
	if err != nil {
		return nil, err
	}
	verStr, ok := hdr["SVN-fs-dump-format-version"]
	if !ok {
		return nil, svnerr.New(svnerr.DumpParse, "missing SVN-fs-dump-format-version header")
	}
	ver, err := strconv.Atoi(strings.TrimSpace(verStr))
	if err != nil || (ver != 2 && ver != 3) {
		return nil, svnerr.New(svnerr.DumpParse, "unsupported dump format version %q", verStr)
	}
	d.Version = ver

	// Optional UUID record: "UUID: <uuid>\n\n". readHeaderBlock already
	// consumes both the version record's and its own terminating blank
	// line, so no separate skipBlankLine call is needed here.
	if peek, err := d.r.Peek(5); err == nil && string(peek) == "UUID:" {
		hdr, err := d.readHeaderBlock()
		if err != nil {
			return nil, err
		}
		d.UUID = strings.TrimSpace(hdr["UUID"])
		if d.UUID != "" && !uuidRE.MatchString(d.UUID) {
			d.logger.Warnf("dumpfile: UUID %q is not in canonical 8-4-4-4-12 form", d.UUID)
		}
	}
	return d, nil
}

// readHeaderBlock reads "Key: value" lines until a blank line,
// returning EOF if the stream ends before any header line is read.
func (d *Reader) readHeaderBlock() (map[string]string, error) {
	hdr := map[string]string{}
	any := false
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && !any && line == "" {
				return nil, io.EOF
			}
			return nil, svnerr.Wrap(svnerr.DumpParse, err, "reading header block")
		}
		d.Stats.BytesRead += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return hdr, nil
		}
		any = true
		idx := strings.Index(line, ": ")
		if idx < 0 {
			return nil, svnerr.New(svnerr.DumpParse, "malformed header line %q", line)
		}
		key, val := line[:idx], line[idx+2:]
		if _, dup := hdr[key]; dup {
			d.logger.Warnf("dumpfile: duplicate header key %q", key)
		}
		hdr[key] = val
	}
}

func (d *Reader) skipBlankLine() error {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimRight(line, "\r\n") != "" {
		return svnerr.New(svnerr.DumpParse, "expected blank line, got %q", line)
	}
	return nil
}

func decodeInt(hdr map[string]string, key string) (int64, bool, error) {
	v, ok := hdr[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, true, svnerr.New(svnerr.DumpParse, "non-decimal value for %s: %q", key, v)
	}
	return n, true, nil
}

func decodeUint(hdr map[string]string, key string) (uint64, bool, error) {
	v, ok := hdr[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, true, svnerr.New(svnerr.DumpParse, "non-decimal value for %s: %q", key, v)
	}
	return n, true, nil
}

// ReadRevision reads the next revision record, including its trailing
// node records, returning io.EOF once the stream is exhausted.
func (d *Reader) ReadRevision() (*Revision, error) {
	hdr, err := d.readHeaderBlock()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	revStr, ok := hdr["Revision-number"]
	if !ok {
		return nil, svnerr.New(svnerr.DumpParse, "expected Revision-number record, got %v", hdr)
	}
	revNum, err := strconv.ParseUint(strings.TrimSpace(revStr), 10, 64)
	if err != nil {
		return nil, svnerr.New(svnerr.DumpParse, "non-decimal Revision-number %q", revStr)
	}

	propLen, _, err := decodeInt(hdr, "Prop-content-length")
	if err != nil {
		return nil, err.(*svnerr.Error).WithRevision(revNum)
	}
	rev := &Revision{Number: revNum}

	if propLen > 0 {
		raw := make([]byte, propLen)
		if _, err := io.ReadFull(d.r, raw); err != nil {
			return nil, svnerr.Wrap(svnerr.DumpParse, err, "reading revision props").WithRevision(revNum)
		}
		d.Stats.BytesRead += propLen
		p, err := props.Decode(raw)
		if err != nil {
			return nil, wrapErr(err, revNum)
		}
		rev.Props = p
	} else {
		rev.Props = props.New()
	}
	if err := d.skipBlankLine(); err != nil && err != io.EOF {
		return nil, svnerr.Wrap(svnerr.DumpParse, err, "after revision props").WithRevision(revNum)
	}

	if v, ok := rev.Props.Get("svn:author"); ok {
		rev.Author = string(v)
	}
	if v, ok := rev.Props.Get("svn:date"); ok {
		rev.Date = string(v)
	}
	if v, ok := rev.Props.Get("svn:log"); ok {
		rev.Log = v
	}

	d.Stats.Revisions++

	for {
		peek, err := d.r.Peek(10)
		if err == io.EOF && len(peek) == 0 {
			break
		}
		if !strings.HasPrefix(string(peek), "Node-path:") {
			break
		}
		node, err := d.readNode(revNum)
		if err != nil {
			return nil, err
		}
		rev.Nodes = append(rev.Nodes, node)
		d.Stats.Nodes++
	}
	return rev, nil
}

func wrapErr(err error, revNum uint64) error {
	if se, ok := err.(*svnerr.Error); ok {
		return se.WithRevision(revNum)
	}
	return svnerr.Wrap(svnerr.DumpParse, err, "").WithRevision(revNum)
}

func (d *Reader) readNode(revNum uint64) (*Node, error) {
	hdr, err := d.readHeaderBlock()
	if err != nil {
		return nil, wrapErr(err, revNum)
	}
	n := &Node{Header: hdr, Path: hdr["Node-path"]}
	known := map[string]bool{"Node-path": true, "Node-kind": true, "Node-action": true, "Node-copyfrom-rev": true,
		"Node-copyfrom-path": true, "Prop-content-length": true, "Text-content-length": true, "Content-length": true,
		"Text-content-md5": true, "Text-content-sha1": true, "Text-delta": true, "Prop-delta": true,
		"Text-delta-base-md5": true, "Text-delta-base-sha1": true, "Text-copy-source-md5": true, "Text-copy-source-sha1": true}
	for key := range hdr {
		if !known[key] && !d.seenKeysWarned[key] {
			d.seenKeysWarned[key] = true
			d.logger.Warnf("dumpfile: unknown node header key %q", key)
		}
	}

	switch hdr["Node-kind"] {
	case "file":
		n.Kind = KindFile
	case "dir":
		n.Kind = KindDir
	case "":
		n.Kind = KindNone
	default:
		return nil, svnerr.New(svnerr.DumpParse, "unknown Node-kind %q", hdr["Node-kind"]).WithRevision(revNum).WithPath(n.Path)
	}

	switch hdr["Node-action"] {
	case "add":
		n.Action = ActionAdd
	case "change":
		n.Action = ActionChange
	case "delete":
		n.Action = ActionDelete
	case "replace":
		n.Action = ActionReplace
	case "hide":
		n.Action = ActionHide
	default:
		return nil, svnerr.New(svnerr.DumpParse, "unknown Node-action %q", hdr["Node-action"]).WithRevision(revNum).WithPath(n.Path)
	}

	if cr, ok, err := decodeUint(hdr, "Node-copyfrom-rev"); err != nil {
		return nil, wrapErr(err, revNum)
	} else if ok {
		n.HasCopyFrom = true
		n.CopyFromRev = cr
		n.CopyFromPath = hdr["Node-copyfrom-path"]
	}

	// Semantic validation per spec §4.1/§4.5.
	if n.Kind == KindDir && n.Action != ActionDelete {
		if _, ok := hdr["Text-content-length"]; ok {
			return nil, svnerr.New(svnerr.DumpParse, "directory node has Text-content-length").WithRevision(revNum).WithPath(n.Path)
		}
	}
	if n.Action == ActionDelete {
		if n.HasCopyFrom || hdr["Text-content-length"] != "" || hdr["Prop-content-length"] != "" {
			return nil, svnerr.New(svnerr.DumpParse, "delete node carries content or copyfrom").WithRevision(revNum).WithPath(n.Path)
		}
	}
	if n.Action == ActionChange && n.HasCopyFrom {
		return nil, svnerr.New(svnerr.DumpParse, "change action with copyfrom").WithRevision(revNum).WithPath(n.Path)
	}

	n.TextContentSHA1 = hdr["Text-content-sha1"]
	n.TextContentMD5 = hdr["Text-content-md5"]
	n.TextDeltaBaseSHA1 = hdr["Text-delta-base-sha1"]
	n.TextDeltaBaseMD5 = hdr["Text-delta-base-md5"]
	n.TextDelta = hdr["Text-delta"] == "true"
	n.PropDelta = hdr["Prop-delta"] == "true"

	propLen, hasPropLen, err := decodeInt(hdr, "Prop-content-length")
	if err != nil {
		return nil, wrapErr(err, revNum)
	}
	textLen, hasTextLen, err := decodeInt(hdr, "Text-content-length")
	if err != nil {
		return nil, wrapErr(err, revNum)
	}
	contentLen, hasContentLen, err := decodeInt(hdr, "Content-length")
	if err != nil {
		return nil, wrapErr(err, revNum)
	}
	if hasContentLen {
		expect := int64(0)
		if hasPropLen {
			expect += propLen
		}
		if hasTextLen {
			expect += textLen
		}
		if expect != contentLen {
			return nil, svnerr.New(svnerr.DumpParse, "Content-length %d does not match Prop-content-length+Text-content-length %d", contentLen, expect).WithRevision(revNum).WithPath(n.Path)
		}
	}

	if hasPropLen {
		n.HasProps = true
		n.PropContentLength = propLen
		n.RawProps = make([]byte, propLen)
		if _, err := io.ReadFull(d.r, n.RawProps); err != nil {
			return nil, svnerr.Wrap(svnerr.DumpParse, err, "reading node props").WithRevision(revNum).WithPath(n.Path)
		}
		d.Stats.BytesRead += propLen
	}
	if hasTextLen {
		n.HasText = true
		n.TextContentLength = textLen
		n.TextPayload = make([]byte, textLen)
		if _, err := io.ReadFull(d.r, n.TextPayload); err != nil {
			return nil, svnerr.Wrap(svnerr.DumpParse, err, "reading node text").WithRevision(revNum).WithPath(n.Path)
		}
		d.Stats.BytesRead += textLen
	}
	if hasPropLen || hasTextLen {
		if err := d.skipBlankLine(); err != nil && err != io.EOF {
			return nil, svnerr.Wrap(svnerr.DumpParse, err, "after node payload").WithRevision(revNum).WithPath(n.Path)
		}
	}
	return n, nil
}

// String renders a node as the diagnostic form used in error context
// per spec §7: "NODE <kind> Path:<p>, action:<a>, copyfrom:<p2>;<r>".
func (n *Node) String() string {
	cf := ""
	if n.HasCopyFrom {
		cf = fmt.Sprintf("%s;%d", n.CopyFromPath, n.CopyFromRev)
	}
	return fmt.Sprintf("NODE %s Path:%s, action:%s, copyfrom:%s", n.Kind, n.Path, n.Action, cf)
}
