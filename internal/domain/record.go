package domain

import "strconv"

// RawRecord is one decoded event from a log container.
// Fields is the nested field tree (maps terminating in scalars).
type RawRecord struct {
	ID     uint64
	Fields map[string]any
}

// Lookup walks the field tree along path. A nil leaf is reported as
// unresolved so a JSON null never masquerades as a value.
func (r *RawRecord) Lookup(path []string) (any, bool) {
	if len(path) == 0 || r.Fields == nil {
		return nil, false
	}
	var current any = r.Fields
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// Value is a single typed cell. Only the field matching Type is read.
type Value struct {
	Type FieldType
	Null bool

	Uint uint64 // for TypeUint64
	Str  string // for TypeString
}

// NullValue returns the typed null for t.
func NullValue(t FieldType) Value {
	return Value{Type: t, Null: true}
}

// UintValue wraps v as a non-null uint64 cell.
func UintValue(v uint64) Value {
	return Value{Type: TypeUint64, Uint: v}
}

// StringValue wraps s as a non-null string cell.
func StringValue(s string) Value {
	return Value{Type: TypeString, Str: s}
}

// String renders the cell for diagnostics.
func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	if v.Type == TypeUint64 {
		return strconv.FormatUint(v.Uint, 10)
	}
	return v.Str
}

// Row holds one Value per schema field, in schema order.
type Row []Value
