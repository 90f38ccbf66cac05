// Package svnerr defines the typed error taxonomy used across the
// converter: DumpParse, HistoryParse, ConfigParse, IoError and Interrupt.
// Most errors that cross a package boundary are one of these, wrapped
// with revision and node path context where known, so they can be
// logged once at the top level; svndiff and config return plain errors.
package svnerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the taxonomy.
type Kind int

const (
	// DumpParse covers malformed dumpstream syntax, bad record framing,
	// and delta/content hash mismatches.
	DumpParse Kind = iota
	// HistoryParse covers errors reconstructing revision trees, branches
	// or merges from an otherwise well-formed dump.
	HistoryParse
	// ConfigParse covers malformed or inconsistent configuration.
	ConfigParse
	// IoError covers filesystem, subprocess and pipe failures.
	IoError
	// Interrupt covers operator-requested cancellation (SIGINT/SIGTERM
	// or a context cancellation).
	Interrupt
)

func (k Kind) String() string {
	switch k {
	case DumpParse:
		return "DumpParse"
	case HistoryParse:
		return "HistoryParse"
	case ConfigParse:
		return "ConfigParse"
	case IoError:
		return "IoError"
	case Interrupt:
		return "Interrupt"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type. Revision and Path are filled in as
// the error propagates outward through layers that have that context;
// either may be zero/empty.
type Error struct {
	Kind     Kind
	Revision uint64
	HaveRev  bool
	Path     string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.HaveRev {
		s += fmt.Sprintf(" r%d", e.Revision)
	}
	if e.Path != "" {
		s += " " + e.Path
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithRevision returns a copy of e annotated with a revision number.
func (e *Error) WithRevision(rev uint64) *Error {
	c := *e
	c.Revision = rev
	c.HaveRev = true
	return &c
}

// WithPath returns a copy of e annotated with a node path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// Is reports whether err is an *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
