package shred

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/hurou927/xmlshred/internal/datatype"
	"github.com/hurou927/xmlshred/internal/ddl"
	"github.com/hurou927/xmlshred/internal/graph"
	"github.com/hurou927/xmlshred/internal/names"
	"github.com/hurou927/xmlshred/internal/repository"
	"github.com/hurou927/xmlshred/internal/schema"
	"github.com/hurou927/xmlshred/internal/xmldoc"
)

// Options configures a shredder.
type Options struct {
	UseForeignKeys bool
	MaxNameLength  int
	NamePolicy     names.Policy
	Lists          xmldoc.ListPolicy
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxNameLength < 1 {
		o.MaxNameLength = 63
	}
	if o.Lists == nil {
		o.Lists = xmldoc.PluralHeuristic{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// linkSuffix is appended to a parent table name to form its link column.
const linkSuffix = "_" + schema.IdentityColumn

// Validate checks that the name length leaves room for table names.
func (o Options) Validate() error {
	reserve := 0
	if o.UseForeignKeys {
		reserve = len(linkSuffix)
	}
	return names.CheckLength(o.MaxNameLength, reserve)
}

var reservedColumns = []string{
	schema.DocumentIDColumn,
	schema.IdentityColumn,
	schema.ParentTableColumn,
	schema.ParentIDColumn,
}

// Hierarchical maps every element name to a table of its provider's
// schema. Attributes and leaf children become columns, nested children
// become rows of child tables linked to their parent row.
type Hierarchical struct {
	opts  Options
	log   *zap.Logger
	model *schema.Model

	// drafts holds tables that have no content yet, keyed by
	// schema and lower-cased name.
	drafts map[string]*schema.Table
}

// NewHierarchical returns an uninitialized hierarchical shredder.
func NewHierarchical(opts Options) *Hierarchical {
	opts = opts.withDefaults()
	return &Hierarchical{
		opts:   opts,
		log:    opts.Logger,
		drafts: make(map[string]*schema.Table),
	}
}

func (h *Hierarchical) Model() string { return ModelHierarchical }

func (h *Hierarchical) Infrastructure() []string { return ddl.HierarchicalInfrastructure() }

// Initialize loads the shredded schemas already in the repository.
func (h *Hierarchical) Initialize(ctx context.Context, catalog Catalog) error {
	tables, err := catalog.LoadTables(ctx)
	if err != nil {
		return fmt.Errorf("loading repository tables: %w", err)
	}
	h.model = schema.NewModel()
	h.model.Load(tables)
	h.log.Debug("loaded repository tables", zap.Int("count", len(tables)))
	return nil
}

// SchemaName derives the schema of a provider's documents.
func SchemaName(provider string) (string, error) {
	name := strings.ReplaceAll(provider, "#", "")
	lower := strings.ToLower(name)
	if strings.TrimSpace(name) == "" || lower == schema.DefaultSchema || lower == "information_schema" ||
		lower == "pg_catalog" || strings.HasPrefix(lower, "pg_") {
		return "", fmt.Errorf("the provider name %q is not valid (it is a reserved name)", provider)
	}
	return name, nil
}

func (h *Hierarchical) Import(provider, documentID string, root *etree.Element) error {
	if h.model == nil {
		return fmt.Errorf("hierarchical shredder is not initialized")
	}
	schemaName, err := SchemaName(provider)
	if err != nil {
		return err
	}
	h.model.EnsureSchema(schemaName)
	_, err = h.importElement(schemaName, nil, root, documentID)
	return err
}

func (h *Hierarchical) importElement(schemaName string, parent *staged, e *etree.Element, documentID string) (*staged, error) {
	xmlName := sqlName(xmldoc.Name(e))
	budget := h.opts.MaxNameLength
	if h.opts.UseForeignKeys {
		budget -= len(linkSuffix)
	}
	if budget < 1 {
		return nil, &names.InvalidNameError{Name: xmlName, MaxLength: budget}
	}
	tableName, err := names.Resolve(xmlName, budget, h.opts.NamePolicy)
	if err != nil {
		return nil, err
	}

	t := h.findOrCreateTable(schemaName, tableName, parent == nil)
	if graph.IsDocumentTable(t) != (parent == nil) {
		return nil, fmt.Errorf("element <%s> maps to table %s.%s, which already holds %s",
			xmldoc.Name(e), schemaName, tableName, tableRole(t))
	}

	row := &staged{table: t, row: schema.Row{schema.IdentityColumn: t.NextID()}}
	h.addParentLinks(parent, row)
	if parent == nil {
		row.row[schema.DocumentIDColumn] = documentID
	}

	for _, a := range xmldoc.Attributes(e) {
		if err := h.addValue(t, row.row, a.FullKey(), a.Value, false); err != nil {
			return nil, err
		}
	}

	var nested []*etree.Element
	isList := h.opts.Lists.IsList(e)
	for _, n := range xmldoc.Nodes(e) {
		switch {
		case n.Element == nil:
			err = h.addValue(t, row.row, n.Name(), n.Text, false)
		case isList || xmldoc.HasNested(n.Element):
			nested = append(nested, n.Element)
		default:
			if attrs := xmldoc.Attributes(n.Element); len(attrs) > 0 {
				h.log.Warn("attributes of a leaf element are not stored",
					zap.String("document_id", documentID), zap.String("element", n.Name()),
					zap.Int("attributes", len(attrs)))
			}
			err = h.addValue(t, row.row, n.Name(), xmldoc.InnerText(n.Element), xmldoc.IsNull(n.Element))
		}
		if err != nil {
			return nil, err
		}
	}
	t.Rows = append(t.Rows, row.row)

	if len(nested) > 0 || t.HasContent {
		h.register(t, xmlName)
	}

	for _, child := range nested {
		if _, err := h.importElement(schemaName, row, child, documentID); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// staged is a row together with its table.
type staged struct {
	table *schema.Table
	row   schema.Row
}

func draftKey(schemaName, table string) string {
	return schemaName + "." + strings.ToLower(table)
}

func (h *Hierarchical) findOrCreateTable(schemaName, name string, root bool) *schema.Table {
	if t := h.model.Schema(schemaName).Table(name); t != nil {
		return t
	}
	if t, ok := h.drafts[draftKey(schemaName, name)]; ok {
		return t
	}

	t := &schema.Table{Schema: schemaName, Name: name}
	t.AddColumn(&schema.Column{
		Name:     schema.IdentityColumn,
		Kind:     datatype.Int,
		Identity: true,
		Unique:   true,
	})
	if root {
		t.AddColumn(&schema.Column{
			Name:      schema.DocumentIDColumn,
			Kind:      datatype.Text,
			MaxLength: schema.Unbounded,
		})
		t.PrimaryKey = &schema.PrimaryKey{Columns: []string{schema.DocumentIDColumn}}
		t.AddForeignKey(&schema.ForeignKey{
			Name:          "fk_" + name + "_" + schema.DocumentsTable,
			ChildColumns:  []string{schema.DocumentIDColumn},
			ParentSchema:  schema.DefaultSchema,
			ParentTable:   schema.DocumentsTable,
			ParentColumns: []string{schema.DocumentIDColumn},
		})
	} else {
		t.PrimaryKey = &schema.PrimaryKey{Columns: []string{schema.IdentityColumn}}
	}
	h.drafts[draftKey(schemaName, name)] = t
	h.log.Debug("new table", zap.String("schema", schemaName), zap.String("table", name))
	return t
}

func tableRole(t *schema.Table) string {
	if graph.IsDocumentTable(t) {
		return "document root elements"
	}
	return "nested elements"
}

func (h *Hierarchical) register(t *schema.Table, xmlName string) {
	if !h.model.Schema(t.Schema).Register(t) {
		return
	}
	delete(h.drafts, draftKey(t.Schema, t.Name))
	if t.Name != xmlName {
		h.model.AddOriginalName(t.Name, "", xmlName)
	}
}

// addValue stages one attribute or leaf value. Blank values are skipped
// unless the element is explicitly null.
func (h *Hierarchical) addValue(t *schema.Table, data schema.Row, rawName, value string, isNull bool) error {
	if strings.TrimSpace(value) == "" && !isNull {
		return nil
	}
	c, err := h.columnFor(t, rawName, value)
	if err != nil {
		return err
	}
	if err := AdjustColumn(t, c, value); err != nil {
		return err
	}
	v, err := datatype.ConvertTo(c.Kind, nullPreferred(value))
	if err != nil {
		return fmt.Errorf("%s.%s: %w", t.FullName(), c.Name, err)
	}
	data[c.Name] = v
	return nil
}

func (h *Hierarchical) columnFor(t *schema.Table, rawName, value string) (*schema.Column, error) {
	proposed := BuildColumnName(t.Name, rawName)
	name, err := names.Resolve(proposed, h.opts.MaxNameLength, h.opts.NamePolicy)
	if err != nil {
		return nil, err
	}
	if c := t.Column(name); c != nil {
		return c, nil
	}

	c := &schema.Column{Name: name, Nullable: true}
	c.Kind = datatype.SuggestType(datatype.None, nullPreferred(value))
	if c.Kind == datatype.None {
		c.Kind = datatype.Text
	}
	if c.Kind == datatype.Text {
		c.MaxLength = schema.MinTextLength
		c.Provisional = true
	}
	t.AddColumn(c)
	t.HasContent = true
	h.log.Debug("new column", zap.String("table", t.FullName()), zap.String("column", name), zap.Stringer("kind", c.Kind))

	if name != proposed {
		h.model.AddOriginalName(t.Name, name, proposed)
	}
	return c, nil
}

// BuildColumnName derives a column name from an attribute or element name
// of table: a leading table name and dash are dropped and reserved names
// are prefixed with "provider_".
func BuildColumnName(table, rawName string) string {
	full := strings.TrimSpace(sqlName(rawName))
	name := full
	if len(name) >= len(table) && strings.EqualFold(name[:len(table)], table) {
		name = name[len(table):]
	}
	name = strings.TrimPrefix(name, "-")
	if name == "" {
		name = full
	}
	for _, reserved := range reservedColumns {
		if strings.EqualFold(name, reserved) {
			return "provider_" + name
		}
	}
	return name
}

// AdjustColumn widens c so that value fits. A kind change rewrites the
// staged values of c; any change to a created column marks it pending.
func AdjustColumn(t *schema.Table, c *schema.Column, value string) error {
	current := c.Kind
	if c.Provisional {
		current = datatype.None
	}

	changed := false
	suggested := datatype.SuggestType(current, nullPreferred(value))
	if suggested != datatype.None && suggested != current {
		if err := changeKind(t, c, suggested); err != nil {
			return err
		}
		changed = true
	}

	if c.Kind == datatype.Text && widen(c, len([]rune(nullPreferred(value)))) {
		changed = true
	}
	if strings.TrimSpace(value) != "" {
		c.Provisional = false
	}

	if changed && c.State == schema.Created {
		c.State = schema.PendingChanges
	}
	return nil
}

func changeKind(t *schema.Table, c *schema.Column, kind datatype.Kind) error {
	c.Kind = kind
	c.MaxLength = 0

	for _, row := range t.Rows {
		v, ok := row[c.Name]
		if !ok || v == nil {
			continue
		}
		raw := datatype.Format(v)
		converted, err := datatype.ConvertTo(kind, raw)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", t.FullName(), c.Name, err)
		}
		row[c.Name] = converted
		if kind == datatype.Text {
			widen(c, len([]rune(raw)))
		}
	}
	return nil
}

// widen grows a text column to hold a value of n characters. It reports
// whether the width changed.
func widen(c *schema.Column, n int) bool {
	if c.MaxLength == schema.Unbounded {
		return false
	}
	width := max(n+schema.MinTextLength, c.MaxLength)
	if width > schema.BoundedTextLimit {
		width = schema.Unbounded
	}
	if width == c.MaxLength {
		return false
	}
	c.MaxLength = width
	return true
}

func (h *Hierarchical) addParentLinks(parent, row *staged) {
	if parent == nil {
		return
	}
	t := row.table
	if h.opts.UseForeignKeys {
		name := parent.table.Name + linkSuffix
		if t.Column(name) == nil {
			t.AddColumn(&schema.Column{Name: name, Kind: datatype.Int, Nullable: true})
			t.AddForeignKey(&schema.ForeignKey{
				Name:          "fk_" + t.Name + "_" + parent.table.Name,
				ChildColumns:  []string{name},
				ParentSchema:  parent.table.Schema,
				ParentTable:   parent.table.Name,
				ParentColumns: []string{schema.IdentityColumn},
			})
			t.HasContent = true
		}
		row.row[t.Column(name).Name] = parent.row[schema.IdentityColumn]
		return
	}

	if t.Column(schema.ParentTableColumn) == nil {
		t.AddColumn(&schema.Column{Name: schema.ParentTableColumn, Kind: datatype.Text, MaxLength: schema.MinTextLength})
		t.AddColumn(&schema.Column{Name: schema.ParentIDColumn, Kind: datatype.Int})
	}
	row.row[schema.ParentTableColumn] = parent.table.Name
	row.row[schema.ParentIDColumn] = parent.row[schema.IdentityColumn]
}

// SaveChanges writes the DDL for every pending schema change, then the
// staged rows parent tables first, then the original names.
func (h *Hierarchical) SaveChanges(ctx context.Context, tx repository.Tx) error {
	for _, batch := range ddl.Synthesize(h.model) {
		for _, stmt := range batch.Statements {
			if err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed while executing:\n%s\n%w", stmt, err)
			}
		}
		h.log.Debug("schema changes applied", zap.String("schema", batch.Schema), zap.Int("count", len(batch.Statements)))
	}

	for _, s := range h.model.Schemas {
		for _, t := range graph.Ordered(s) {
			n, err := tx.CopyRows(ctx, t.Schema, t.Name, t.ColumnNames(), t.Values())
			if err != nil {
				return err
			}
			if n > 0 {
				h.log.Debug("rows written", zap.String("table", t.FullName()), zap.Int64("count", n))
			}
		}
	}

	names := h.model.Names
	_, err := tx.CopyRows(ctx, names.Schema, names.Name, names.ColumnNames(), names.Values())
	return err
}

// Commit marks the model persisted and drops draft tables with their rows.
func (h *Hierarchical) Commit() {
	h.model.Commit()
	clear(h.drafts)
}

// Tables returns the registered tables of schemaName.
func (h *Hierarchical) Tables(schemaName string) []*schema.Table {
	if h.model == nil {
		return nil
	}
	s := h.model.Schema(schemaName)
	if s == nil {
		return nil
	}
	return s.Tables
}

// SchemaModel returns the schema model.
func (h *Hierarchical) SchemaModel() *schema.Model {
	return h.model
}

func sqlName(name string) string {
	return strings.ReplaceAll(name, "#", "")
}

func nullPreferred(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return value
}
