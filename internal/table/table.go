// Package table holds ingested, immutable columnar tables and the
// session registry that names them.
package table

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"aev/internal/domain"
)

// Table is a schema plus one Arrow column per field. Every column has
// exactly NumRows entries, nulls included. Tables are immutable.
type Table struct {
	schema  domain.Schema
	arrow   *arrow.Schema
	columns []arrow.Array
	rows    int
}

// ArrowType maps a declared field type to its Arrow column type.
func ArrowType(t domain.FieldType) (arrow.DataType, error) {
	switch t {
	case domain.TypeUint64:
		return arrow.PrimitiveTypes.Uint64, nil
	case domain.TypeString:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("no column type for field type %q", t)
	}
}

// ArrowSchema derives the Arrow schema for s.
func ArrowSchema(s *domain.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		dt, err := ArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

// New assembles a table and checks the alignment invariant:
// one column per field, each exactly rows long, of the declared type.
func New(s domain.Schema, columns []arrow.Array, rows int) (*Table, error) {
	as, err := ArrowSchema(&s)
	if err != nil {
		return nil, err
	}
	if len(columns) != len(s.Fields) {
		return nil, fmt.Errorf("table has %d columns for %d fields", len(columns), len(s.Fields))
	}
	for i, col := range columns {
		if col.Len() != rows {
			return nil, fmt.Errorf("column %q has %d entries, want %d", s.Fields[i].Name, col.Len(), rows)
		}
		if !arrow.TypeEqual(col.DataType(), as.Field(i).Type) {
			return nil, fmt.Errorf("column %q is %s, want %s", s.Fields[i].Name, col.DataType(), as.Field(i).Type)
		}
	}
	return &Table{schema: s, arrow: as, columns: columns, rows: rows}, nil
}

// Schema returns the declared schema.
func (t *Table) Schema() domain.Schema { return t.schema }

// ArrowSchema returns the Arrow view of the schema.
func (t *Table) ArrowSchema() *arrow.Schema { return t.arrow }

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.columns) }

// Column returns column i.
func (t *Table) Column(i int) arrow.Array { return t.columns[i] }

// Value reads one cell.
func (t *Table) Value(col, row int) domain.Value {
	ft := t.schema.Fields[col].Type
	arr := t.columns[col]
	if arr.IsNull(row) {
		return domain.NullValue(ft)
	}
	switch a := arr.(type) {
	case *array.Uint64:
		return domain.UintValue(a.Value(row))
	case *array.String:
		return domain.StringValue(a.Value(row))
	default:
		return domain.NullValue(ft)
	}
}

// Row reads one full row in schema order.
func (t *Table) Row(row int) domain.Row {
	out := make(domain.Row, len(t.columns))
	for c := range t.columns {
		out[c] = t.Value(c, row)
	}
	return out
}
