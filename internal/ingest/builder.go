package ingest

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"aev/internal/domain"
	"aev/internal/table"
)

var errBuilderFinished = errors.New("builder already finished")

// Builder accumulates mapped rows into one Arrow column per field and
// assembles an immutable table. A Builder is single-use.
type Builder struct {
	schema   domain.Schema
	columns  []array.Builder
	rows     int
	finished bool
}

// NewBuilder creates a builder for schema. A nil alloc uses the default
// Go allocator.
func NewBuilder(schema domain.Schema, alloc memory.Allocator) (*Builder, error) {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	as, err := table.ArrowSchema(&schema)
	if err != nil {
		return nil, err
	}

	b := &Builder{schema: schema, columns: make([]array.Builder, len(schema.Fields))}
	for i := range schema.Fields {
		b.columns[i] = array.NewBuilder(alloc, as.Field(i).Type)
	}
	return b, nil
}

// Rows returns the number of rows appended so far.
func (b *Builder) Rows() int { return b.rows }

// Append adds one row. Rows come from Map, so a width or type mismatch
// is a programming error and nothing is appended.
func (b *Builder) Append(row domain.Row) error {
	if b.finished {
		return errBuilderFinished
	}
	if len(row) != len(b.schema.Fields) {
		return fmt.Errorf("row has %d values for %d fields", len(row), len(b.schema.Fields))
	}
	for i, v := range row {
		if v.Type != b.schema.Fields[i].Type {
			return fmt.Errorf("field %q: value is %s, want %s", b.schema.Fields[i].Name, v.Type, b.schema.Fields[i].Type)
		}
	}

	for i, v := range row {
		if v.Null {
			b.columns[i].AppendNull()
			continue
		}
		switch cb := b.columns[i].(type) {
		case *array.Uint64Builder:
			cb.Append(v.Uint)
		case *array.StringBuilder:
			cb.Append(v.Str)
		}
	}
	b.rows++
	return nil
}

// Finish builds the columns and returns the table. The builder cannot
// be used afterwards.
func (b *Builder) Finish() (*table.Table, error) {
	if b.finished {
		return nil, errBuilderFinished
	}
	b.finished = true

	cols := make([]arrow.Array, len(b.columns))
	for i, cb := range b.columns {
		cols[i] = cb.NewArray()
		cb.Release()
	}
	return table.New(b.schema, cols, b.rows)
}
