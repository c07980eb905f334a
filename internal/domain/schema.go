package domain

import (
	"fmt"
	"strings"
)

// ── Schema ─────────────────────────────────────────────────
// Declarative description of the columns pulled out of every record.
// Swapping the Schema value is how the table layout evolves; the
// mapping code never changes per variant.

// FieldType is the declared column type of a field.
type FieldType string

const (
	TypeUint64 FieldType = "uint64"
	TypeString FieldType = "string"
)

// DefaultPolicy decides what a field holds when its path does not
// resolve or its value cannot be coerced to the declared type.
type DefaultPolicy string

const (
	DefaultNull        DefaultPolicy = "use-null"
	DefaultEmptyString DefaultPolicy = "use-empty-string"
	// DefaultDropRow is recognised so that schema files using it fail
	// validation with a clear message instead of an unknown-policy error.
	DefaultDropRow DefaultPolicy = "drop-row"
)

// FieldSpec describes a single column in a table.
type FieldSpec struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	// Path is the ordered key sequence into the record's field tree.
	Path []string `json:"path,omitempty"`
	// Alternates are tried in order when Path does not resolve.
	Alternates [][]string `json:"alternates,omitempty"`

	Nullable bool          `json:"nullable"`
	Default  DefaultPolicy `json:"default"`

	// RecordID fields are filled from RawRecord.ID and never defaulted.
	RecordID bool `json:"recordId,omitempty"`
}

// Paths returns Path followed by the alternates, in lookup order.
func (f *FieldSpec) Paths() [][]string {
	paths := make([][]string, 0, 1+len(f.Alternates))
	if len(f.Path) > 0 {
		paths = append(paths, f.Path)
	}
	for _, alt := range f.Alternates {
		if len(alt) > 0 {
			paths = append(paths, alt)
		}
	}
	return paths
}

// Schema is an ordered list of field specs. Field order is column order.
type Schema struct {
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.Fields) }

// Validate checks the schema can always produce aligned rows.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q: no fields", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	recordIDs := 0
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema %q: field %d has no name", s.Name, i)
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[key] = true

		if f.Type != TypeUint64 && f.Type != TypeString {
			return fmt.Errorf("schema %q: field %q: unknown type %q", s.Name, f.Name, f.Type)
		}

		if f.RecordID {
			recordIDs++
			if recordIDs > 1 {
				return fmt.Errorf("schema %q: more than one record id field", s.Name)
			}
			if f.Type != TypeUint64 {
				return fmt.Errorf("schema %q: record id field %q must be %s", s.Name, f.Name, TypeUint64)
			}
			if f.Nullable {
				return fmt.Errorf("schema %q: record id field %q cannot be nullable", s.Name, f.Name)
			}
			continue
		}

		if len(f.Paths()) == 0 {
			return fmt.Errorf("schema %q: field %q has no extraction path", s.Name, f.Name)
		}

		switch f.Default {
		case DefaultNull:
			if !f.Nullable {
				return fmt.Errorf("schema %q: field %q uses %s but is not nullable", s.Name, f.Name, f.Default)
			}
		case DefaultEmptyString:
			if f.Type != TypeString {
				return fmt.Errorf("schema %q: field %q: %s only applies to %s fields", s.Name, f.Name, f.Default, TypeString)
			}
		case DefaultDropRow:
			return fmt.Errorf("schema %q: field %q: %s would break column alignment, use %s or %s",
				s.Name, f.Name, f.Default, DefaultNull, DefaultEmptyString)
		default:
			return fmt.Errorf("schema %q: field %q: unknown default policy %q", s.Name, f.Name, f.Default)
		}
	}
	return nil
}

// ParsePath splits a dotted extraction path ("Event.System.EventID").
func ParsePath(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
