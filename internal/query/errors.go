package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind classifies a failed query.
type ErrorKind int

const (
	Evaluation ErrorKind = iota
	UnknownRelation
	Syntax
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownRelation:
		return "unknown relation"
	case Syntax:
		return "syntax error"
	default:
		return "evaluation error"
	}
}

var errEmptyQuery = errors.New("empty query")

// QueryError is reported to the operator; the session keeps running.
type QueryError struct {
	Kind     ErrorKind
	Relation string   // missing table name, for UnknownRelation
	Known    []string // registered tables at the time of the query
	Err      error
}

func (e *QueryError) Error() string {
	if e.Kind == UnknownRelation {
		known := "none registered"
		if len(e.Known) > 0 {
			known = "registered: " + strings.Join(e.Known, ", ")
		}
		return fmt.Sprintf("unknown table %q (%s)", e.Relation, known)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

var noSuchTable = regexp.MustCompile(`no such table: ([^\s()]+)`)

// classify maps an engine error to a QueryError using the messages
// SQLite reports.
func classify(err error, known []string) *QueryError {
	msg := err.Error()
	if m := noSuchTable.FindStringSubmatch(msg); m != nil {
		return &QueryError{
			Kind:     UnknownRelation,
			Relation: strings.TrimPrefix(m[1], "main."),
			Known:    known,
			Err:      err,
		}
	}
	for _, marker := range []string{"syntax error", "incomplete input", "unrecognized token"} {
		if strings.Contains(msg, marker) {
			return &QueryError{Kind: Syntax, Known: known, Err: err}
		}
	}
	return &QueryError{Kind: Evaluation, Known: known, Err: err}
}
