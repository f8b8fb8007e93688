package schema

import (
	"strings"

	"github.com/hurou927/xmlshred/internal/datatype"
)

// PersistenceState tracks whether an object exists in the repository.
type PersistenceState int

const (
	NotCreated PersistenceState = iota
	PendingChanges
	Created
)

func (s PersistenceState) String() string {
	switch s {
	case NotCreated:
		return "not-created"
	case PendingChanges:
		return "pending-changes"
	default:
		return "created"
	}
}

// Text column widths.
const (
	// Unbounded is the MaxLength of a text column without a length limit.
	Unbounded = -1
	// MinTextLength is the width of a new text column and the headroom
	// added above the longest observed value.
	MinTextLength = 100
	// BoundedTextLimit is the widest bounded text column.
	BoundedTextLimit = 4000
)

// Column represents a table column.
type Column struct {
	Name      string
	Kind      datatype.Kind
	MaxLength int // text kinds only
	Nullable  bool
	Identity  bool
	Unique    bool
	OrdPos    int // ordinal position (1-based)

	// Provisional marks a text column that has only seen null values; its
	// kind is re-inferred from scratch by the next value.
	Provisional bool

	State PersistenceState
	// StoredKind is the kind the repository currently holds.
	StoredKind datatype.Kind
}

// PrimaryKey represents a table's primary key.
type PrimaryKey struct {
	Columns []string
}

// ForeignKey represents a foreign key constraint.
type ForeignKey struct {
	Name          string
	ChildSchema   string
	ChildTable    string
	ChildColumns  []string
	ParentSchema  string
	ParentTable   string
	ParentColumns []string
	IsSelfRef     bool
	State         PersistenceState
}

// Row is a staged row keyed by column name.
type Row map[string]any

// Table represents a table with its columns, PK, FKs and staged rows.
type Table struct {
	Schema      string
	Name        string
	Columns     []*Column
	PrimaryKey  *PrimaryKey
	ForeignKeys []*ForeignKey
	State       PersistenceState

	// HasContent is set once the table holds a column beyond its own
	// identity and document link.
	HasContent bool
	Rows       []Row

	// LastID is the highest identity value handed out so far.
	LastID int64
}

// FullName returns schema-qualified table name.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// ColumnNames returns all column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PKColumnNames returns the primary key column names, or nil if no PK.
func (t *Table) PKColumnNames() []string {
	if t.PrimaryKey == nil {
		return nil
	}
	return t.PrimaryKey.Columns
}

// Column finds a column by name, ignoring case.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// AddColumn appends c as a column that does not exist in the repository yet.
func (t *Table) AddColumn(c *Column) *Column {
	c.OrdPos = len(t.Columns) + 1
	c.State = NotCreated
	t.Columns = append(t.Columns, c)
	return c
}

// AddForeignKey registers a constraint owned by t.
func (t *Table) AddForeignKey(fk *ForeignKey) {
	fk.ChildSchema = t.Schema
	fk.ChildTable = t.Name
	fk.IsSelfRef = fk.ChildSchema == fk.ParentSchema && fk.ChildTable == fk.ParentTable
	t.ForeignKeys = append(t.ForeignKeys, fk)
}

// NextID returns the next identity value.
func (t *Table) NextID() int64 {
	t.LastID++
	return t.LastID
}

// Values returns the staged rows in column order.
func (t *Table) Values() [][]any {
	out := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		vals := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			vals[j] = row[c.Name]
		}
		out[i] = vals
	}
	return out
}

// Pending reports whether t or any of its columns or constraints differ
// from the repository.
func (t *Table) Pending() bool {
	if t.State != Created {
		return true
	}
	for _, c := range t.Columns {
		if c.State != Created {
			return true
		}
	}
	for _, fk := range t.ForeignKeys {
		if fk.State != Created {
			return true
		}
	}
	return false
}

// Variable is a path-keyed value slot shared by all documents.
type Variable struct {
	XPath              string
	Kind               string
	LongestValueLength int
	Saved              bool
}

// DocumentVariable is one document's value for a Variable.
type DocumentVariable struct {
	DocumentID string
	Variable   *Variable
	Value      *string
}
