package domain

import "fmt"

// FileAccessError is fatal for an ingestion: the source could not be
// opened, so no records (and no partial table) are produced.
type FileAccessError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// RecordParseError marks one malformed record. Ingestion skips it.
type RecordParseError struct {
	Index int // 1-based position in the container
	Err   error
}

func (e *RecordParseError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordParseError) Unwrap() error { return e.Err }

// FieldErrorKind separates unresolved paths from failed coercions.
type FieldErrorKind int

const (
	FieldExtraction FieldErrorKind = iota
	FieldCoercion
)

func (k FieldErrorKind) String() string {
	if k == FieldCoercion {
		return "coercion"
	}
	return "extraction"
}

// FieldError is field-scoped and recoverable: the default policy was
// applied and the row still proceeded.
type FieldError struct {
	Field string
	Kind  FieldErrorKind
	Err   error
}

func (e *FieldError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("field %s: %s failed", e.Field, e.Kind)
	}
	return fmt.Sprintf("field %s: %s failed: %v", e.Field, e.Kind, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }
