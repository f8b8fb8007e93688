package schema

import (
	"sort"
	"strings"

	"github.com/hurou927/xmlshred/internal/datatype"
)

// Repository objects shared by every shredded schema.
const (
	DefaultSchema   = "public"
	DocumentsTable  = "document_infos"
	NamesTable      = "original_names"
	PropertiesTable = "repository_properties"
	VariablesTable  = "variables"
	DocVarsTable    = "document_variables"
)

// Reserved column names.
const (
	IdentityColumn    = "id"
	DocumentIDColumn  = "document_id"
	ParentTableColumn = "parent_table"
	ParentIDColumn    = "parent_id"
)

// Schema is a named group of tables.
type Schema struct {
	Name    string
	Created bool
	Tables  []*Table
}

// Table finds a registered table by name, ignoring case.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// Register adds t to the schema unless it is already present. It reports
// whether t was added.
func (s *Schema) Register(t *Table) bool {
	for _, existing := range s.Tables {
		if existing == t {
			return false
		}
	}
	s.Tables = append(s.Tables, t)
	return true
}

// Model is the in-memory picture of every shredded schema plus the staged
// rows of the current batch.
type Model struct {
	Schemas []*Schema
	// Names collects generated-name mappings for the original names table.
	Names *Table
}

// NewModel returns an empty model.
func NewModel() *Model {
	names := &Table{
		Schema: DefaultSchema,
		Name:   NamesTable,
		State:  Created,
	}
	for i, name := range []string{"table_name", "column_name", "original_name"} {
		names.Columns = append(names.Columns, &Column{
			Name:       name,
			Kind:       datatype.Text,
			MaxLength:  Unbounded,
			OrdPos:     i + 1,
			State:      Created,
			StoredKind: datatype.Text,
		})
	}
	return &Model{Names: names}
}

// Load adds tables read from the repository. They are marked created.
func (m *Model) Load(tables []*Table) {
	sorted := append([]*Table(nil), tables...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Schema != sorted[j].Schema {
			return sorted[i].Schema < sorted[j].Schema
		}
		return sorted[i].Name < sorted[j].Name
	})

	for _, t := range sorted {
		s := m.EnsureSchema(t.Schema)
		s.Created = true
		t.State = Created
		t.HasContent = true
		for _, c := range t.Columns {
			c.State = Created
			c.StoredKind = c.Kind
			c.Provisional = c.Kind == datatype.Text && c.MaxLength == MinTextLength && c.Nullable
		}
		for _, fk := range t.ForeignKeys {
			fk.State = Created
		}
		s.Tables = append(s.Tables, t)
	}
}

// Schema finds a schema by name.
func (m *Model) Schema(name string) *Schema {
	for _, s := range m.Schemas {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// EnsureSchema returns the named schema, adding it when missing.
func (m *Model) EnsureSchema(name string) *Schema {
	if s := m.Schema(name); s != nil {
		return s
	}
	s := &Schema{Name: name}
	m.Schemas = append(m.Schemas, s)
	return s
}

// AddOriginalName records that a generated name differs from the XML name.
// column is empty for table names.
func (m *Model) AddOriginalName(table, column, original string) {
	m.Names.Rows = append(m.Names.Rows, Row{
		"table_name":    table,
		"column_name":   column,
		"original_name": original,
	})
}

// Commit marks everything in the model as persisted and drops staged rows.
// Call it only after the repository transaction committed.
func (m *Model) Commit() {
	for _, s := range m.Schemas {
		s.Created = true
		for _, t := range s.Tables {
			t.State = Created
			t.Rows = nil
			for _, c := range t.Columns {
				c.State = Created
				c.StoredKind = c.Kind
			}
			for _, fk := range t.ForeignKeys {
				fk.State = Created
			}
		}
	}
	m.Names.Rows = nil
}

// RowCount returns the number of staged rows across all tables.
func (m *Model) RowCount() int {
	n := len(m.Names.Rows)
	for _, s := range m.Schemas {
		for _, t := range s.Tables {
			n += len(t.Rows)
		}
	}
	return n
}
