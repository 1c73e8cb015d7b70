package model

import (
	"sort"
	"strings"
)

// Schema is the catalog shape callers pass in: table name to field names.
type Schema map[string][]string

// SchemaCtx represents the loaded database schema context.
// Lookups are case-insensitive.
type SchemaCtx struct {
	Tables map[string]*Table
}

type Table struct {
	Name    string
	Columns map[string]*Column
	Indexes []*Index
}

type Column struct {
	Name string
	Type string // Simplified type representation
}

type Index struct {
	Name    string
	Columns []string // Ordered list of column names in the index
	Unique  bool
}

// NewSchemaCtx builds a schema context from a plain table to fields map.
// A nil schema yields nil, meaning "no catalog available".
func NewSchemaCtx(schema Schema) *SchemaCtx {
	if schema == nil {
		return nil
	}
	ctx := &SchemaCtx{Tables: make(map[string]*Table, len(schema))}
	for name, fields := range schema {
		t := &Table{Name: name, Columns: make(map[string]*Column, len(fields))}
		for _, f := range fields {
			t.Columns[f] = &Column{Name: f}
		}
		ctx.Tables[name] = t
	}
	return ctx
}

// Table looks a table up by name, ignoring case.
func (s *SchemaCtx) Table(name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	if t, ok := s.Tables[name]; ok {
		return t, true
	}
	for k, t := range s.Tables {
		if strings.EqualFold(k, name) {
			return t, true
		}
	}
	return nil, false
}

// TableNames returns the sorted table names.
func (s *SchemaCtx) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Fields returns the schema flattened to table name to sorted field names.
func (s *SchemaCtx) Fields() map[string][]string {
	if s == nil {
		return nil
	}
	out := make(map[string][]string, len(s.Tables))
	for _, t := range s.Tables {
		out[t.Name] = t.ColumnNames()
	}
	return out
}

// Column looks a column up by name, ignoring case.
func (t *Table) Column(name string) (*Column, bool) {
	if c, ok := t.Columns[name]; ok {
		return c, true
	}
	for k, c := range t.Columns {
		if strings.EqualFold(k, name) {
			return c, true
		}
	}
	return nil, false
}

// ColumnNames returns the sorted column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
