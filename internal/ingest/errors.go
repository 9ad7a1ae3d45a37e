package ingest

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
)

// FormatError reports an unrecognised upload format tag. Nothing has been
// parsed or persisted when it is returned.
type FormatError struct {
	Format string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unknown upload format %q (expected one of: %s)", e.Format, strings.Join(FormatTags(), ", "))
}

// ParseError reports a malformed row or record. Record holds the raw record
// rendered for the message (CSV line, timeslot title, JSON key).
type ParseError struct {
	Format Format
	Record string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Format, e.Reason)
	if e.Record != "" {
		msg += " in record " + e.Record
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimeParseError reports a date/time combination that could not be resolved
// to an instant in the requested zone. Layout is the notation the input was
// expected in; empty means LayoutDateTime.
type TimeParseError struct {
	Date    string
	Time    string
	Zone    string
	Context string
	Layout  string
	Err     error
}

func (e *TimeParseError) Error() string {
	value := strings.TrimSpace(e.Date + " " + e.Time)
	msg := fmt.Sprintf("invalid time %q in zone %q", value, e.Zone)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	layout := e.Layout
	if layout == "" {
		layout = LayoutDateTime
	}
	return msg + "; use the format " + layout
}

func (e *TimeParseError) Unwrap() error { return e.Err }

// ConsistencyError reports structurally valid input that violates a
// cross-entity invariant. Subjects names the conflicting identifiers.
type ConsistencyError struct {
	Subjects []string
	Reason   string
}

func (e *ConsistencyError) Error() string {
	return "inconsistent program: " + e.Reason
}

// PersistenceError wraps a failed store operation during a reconciliation
// stage. Stages completed before the failure stay applied.
type PersistenceError struct {
	Kind    program.Kind
	Op      string
	Records int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %d %s record(s): %v", e.Op, e.Records, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func consistencyf(subjects []string, format string, args ...any) error {
	return &ConsistencyError{Subjects: subjects, Reason: fmt.Sprintf(format, args...)}
}

// UnknownRoomError reports a room stream row naming a room the conference
// does not have.
type UnknownRoomError struct {
	Name string
}

func (e *UnknownRoomError) Error() string {
	return fmt.Sprintf("unable to find room %q", e.Name)
}
