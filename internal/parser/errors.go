package parser

import (
	"fmt"
)

// MalformedRecordError reports a record whose fields do not fit its grammar.
// It is record-level: the line is skipped and parsing continues.
type MalformedRecordError struct {
	Line   int
	Raw    string
	Kind   RecordKind
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("line %d: malformed %s record: %s", e.Line, e.Kind, e.Reason)
}

// UnknownUnitError reports an unrecognized unit token. The resolver has
// already fallen back to millimeters when it is returned.
type UnknownUnitError struct {
	Token string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown units %q, defaulting to MM", e.Token)
}

// ContourState is a state of the contour assembly machine.
type ContourState int

const (
	StateOutside ContourState = iota
	StateInSurface
	StateInPolygon
)

func (s ContourState) String() string {
	switch s {
	case StateOutside:
		return "outside"
	case StateInSurface:
		return "in-surface"
	case StateInPolygon:
		return "in-polygon"
	}
	return "invalid"
}

// StructuralError reports a nesting or closure violation. It aborts the
// parse of the file it was found in.
type StructuralError struct {
	Line     int
	Raw      string
	Expected string
	Actual   ContourState
	Reason   string
}

func (e *StructuralError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("line %d: %s (expected %s, state %s)", e.Line, e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("line %d: %s (state %s)", e.Line, e.Reason, e.Actual)
}
