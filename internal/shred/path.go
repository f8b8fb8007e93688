package shred

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/hurou927/xmlshred/internal/datatype"
	"github.com/hurou927/xmlshred/internal/ddl"
	"github.com/hurou927/xmlshred/internal/repository"
	"github.com/hurou927/xmlshred/internal/schema"
	"github.com/hurou927/xmlshred/internal/xmldoc"
)

// Variable kinds of the path model.
const (
	KindText   = "text"
	KindDate   = "date"
	KindUUID   = "unique id"
	KindNumber = "number"
	KindBool   = "true/false"
)

// KindName maps a data kind onto the path model's kinds. Integers are numbers.
func KindName(k datatype.Kind) string {
	switch k {
	case datatype.DateTime:
		return KindDate
	case datatype.UUID:
		return KindUUID
	case datatype.Int, datatype.BigInt, datatype.Float:
		return KindNumber
	case datatype.Bool:
		return KindBool
	}
	return KindText
}

// KindOf is the inverse of KindName. An empty name has no kind.
func KindOf(name string) datatype.Kind {
	switch name {
	case "":
		return datatype.None
	case KindDate:
		return datatype.DateTime
	case KindUUID:
		return datatype.UUID
	case KindNumber:
		return datatype.Float
	case KindBool:
		return datatype.Bool
	}
	return datatype.Text
}

var documentVariableColumns = []string{schema.DocumentIDColumn, "variable_name", "value"}

// Path flattens documents into values keyed by their element path, such
// as /order/item[2]/@sku. Variables are shared by all documents.
type Path struct {
	log *zap.Logger

	variables map[string]*schema.Variable
	values    []schema.DocumentVariable
	lists     xmldoc.ListPolicy
}

// NewPath returns an uninitialized path shredder.
func NewPath(opts Options) *Path {
	opts = opts.withDefaults()
	return &Path{log: opts.Logger, lists: opts.Lists}
}

func (p *Path) Model() string { return ModelKeyValue }

func (p *Path) Infrastructure() []string { return ddl.PathInfrastructure() }

// Initialize loads the known variables.
func (p *Path) Initialize(ctx context.Context, catalog Catalog) error {
	vars, err := catalog.LoadVariables(ctx)
	if err != nil {
		return fmt.Errorf("loading variables: %w", err)
	}
	p.variables = make(map[string]*schema.Variable, len(vars))
	for _, v := range vars {
		v.Saved = true
		p.variables[v.XPath] = v
	}
	p.values = nil
	p.log.Debug("loaded variables", zap.Int("count", len(vars)))
	return nil
}

func (p *Path) Import(_, documentID string, root *etree.Element) error {
	if p.variables == nil {
		return fmt.Errorf("path shredder is not initialized")
	}
	rootPath := "/" + xmldoc.Name(root)
	p.addAttributes(documentID, root, rootPath)
	p.importChildren(documentID, rootPath, root)
	return nil
}

func (p *Path) importChildren(documentID, parentPath string, e *etree.Element) {
	isList := p.lists.IsList(e)
	sequences := make(map[string]int)

	for _, child := range e.ChildElements() {
		isValue := !xmldoc.HasNested(child)
		if isValue && xmldoc.IsEmpty(child) {
			continue
		}

		path := parentPath + "/" + xmldoc.Name(child)
		if isList {
			key := strings.ToLower(xmldoc.Name(child))
			sequences[key]++
			path += "[" + strconv.Itoa(sequences[key]) + "]"
		}

		p.addAttributes(documentID, child, path)
		if isValue {
			p.addValue(documentID, path, xmldoc.InnerText(child))
		} else {
			p.importChildren(documentID, path, child)
		}
	}
}

func (p *Path) addAttributes(documentID string, e *etree.Element, path string) {
	for _, a := range xmldoc.Attributes(e) {
		p.addValue(documentID, path+"/@"+a.FullKey(), a.Value)
	}
}

func (p *Path) addValue(documentID, path, raw string) {
	v, ok := p.variables[path]
	if !ok {
		v = &schema.Variable{XPath: path}
		p.variables[path] = v
	}

	value := nullPreferred(raw)
	if suggested := datatype.SuggestType(KindOf(v.Kind), value); suggested != datatype.None {
		if name := KindName(suggested); name != v.Kind {
			v.Kind = name
			v.Saved = false
		}
	}
	if n := len([]rune(value)); n > v.LongestValueLength {
		v.LongestValueLength = n
		v.Saved = false
	}

	dv := schema.DocumentVariable{DocumentID: documentID, Variable: v}
	if value != "" {
		dv.Value = &value
	}
	p.values = append(p.values, dv)
}

// Variables returns the known variables.
func (p *Path) Variables() map[string]*schema.Variable {
	return p.variables
}

// Pending returns the staged document values.
func (p *Path) Pending() []schema.DocumentVariable {
	return p.values
}

func (p *Path) dirty() []*schema.Variable {
	var vars []*schema.Variable
	for _, v := range p.variables {
		if !v.Saved {
			if v.Kind == "" {
				v.Kind = KindText
			}
			vars = append(vars, v)
		}
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].XPath < vars[j].XPath })
	return vars
}

// SaveChanges upserts new and changed variables, then appends the staged
// document values.
func (p *Path) SaveChanges(ctx context.Context, tx repository.Tx) error {
	dirty := p.dirty()
	if err := tx.SaveVariables(ctx, dirty); err != nil {
		return err
	}

	rows := make([][]any, len(p.values))
	for i, dv := range p.values {
		var value any
		if dv.Value != nil {
			value = *dv.Value
		}
		rows[i] = []any{dv.DocumentID, dv.Variable.XPath, value}
	}
	n, err := tx.CopyRows(ctx, schema.DefaultSchema, schema.DocVarsTable, documentVariableColumns, rows)
	if err != nil {
		return err
	}
	p.log.Debug("document variables written", zap.Int("variables", len(dirty)), zap.Int64("values", n))
	return nil
}

// Commit marks every variable saved and drops the staged values.
func (p *Path) Commit() {
	for _, v := range p.variables {
		v.Saved = true
	}
	p.values = nil
}
