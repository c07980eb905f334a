package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned by Lookup for unregistered names.
var ErrNotFound = errors.New("table not found")

// Registry binds table names to tables for one session. Names match
// case-insensitively, as SQL identifiers do, and keep the spelling of the
// latest registration. It has a single writer (the session); readers take
// a Snapshot, so it is not locked.
type Registry struct {
	tables map[string]binding // keyed by folded name
}

type binding struct {
	name  string
	table *Table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]binding)}
}

func fold(name string) string { return strings.ToLower(name) }

// Register binds name to t, replacing any previous binding of the same
// name in any letter case.
func (r *Registry) Register(name string, t *Table) {
	r.tables[fold(name)] = binding{name: name, table: t}
}

// Lookup returns the table bound to name.
func (r *Registry) Lookup(name string) (*Table, error) {
	b, ok := r.tables[fold(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return b.table, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tables))
	for _, b := range r.tables {
		names = append(names, b.name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tables.
func (r *Registry) Len() int { return len(r.tables) }

// Snapshot copies the current bindings.
func (r *Registry) Snapshot() map[string]*Table {
	out := make(map[string]*Table, len(r.tables))
	for _, b := range r.tables {
		out[b.name] = b.table
	}
	return out
}
