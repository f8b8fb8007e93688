package repository

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hurou927/xmlshred/internal/output"
	"github.com/hurou927/xmlshred/internal/schema"
)

// ScriptTx is a Tx that writes a psql script instead of touching a
// database. The script is wrapped in BEGIN and COMMIT.
type ScriptTx struct {
	w      *output.Writer
	opened bool
	closed bool
}

// NewScriptTx returns a Tx writing to w.
func NewScriptTx(w io.Writer) *ScriptTx {
	return &ScriptTx{w: output.NewWriter(w)}
}

func (t *ScriptTx) open() error {
	if t.closed {
		return fmt.Errorf("script transaction already finished")
	}
	if t.opened {
		return nil
	}
	t.opened = true
	return t.w.WriteHeader()
}

func (t *ScriptTx) Exec(_ context.Context, sql string) error {
	if err := t.open(); err != nil {
		return err
	}
	return t.w.WriteStatement(sql)
}

func (t *ScriptTx) CopyRows(_ context.Context, schemaName, table string, columns []string, rows [][]any) (int64, error) {
	if err := t.open(); err != nil {
		return 0, err
	}
	if err := t.w.WriteTableData(schemaName, table, columns, rows); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (t *ScriptTx) SaveVariables(ctx context.Context, vars []*schema.Variable) error {
	for _, v := range vars {
		stmt := strings.Replace(upsertVariable, "($1, $2, $3)", fmt.Sprintf("(%s, %s, %d)",
			output.EscapeLiteral(v.XPath), output.EscapeLiteral(v.Kind), v.LongestValueLength), 1)
		if err := t.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (t *ScriptTx) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = output.EscapeLiteral(id)
	}
	return t.Exec(ctx, "UPDATE "+documentsTable+" SET processed = true, processed_at = now() WHERE document_id IN ("+
		strings.Join(quoted, ", ")+")")
}

func (t *ScriptTx) SetProperty(ctx context.Context, name, value string) error {
	return t.Exec(ctx, "INSERT INTO "+propertiesTable+" (name, value) VALUES ("+
		output.EscapeLiteral(name)+", "+output.EscapeLiteral(value)+
		") ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value")
}

func (t *ScriptTx) Commit(context.Context) error {
	if err := t.open(); err != nil {
		return err
	}
	t.closed = true
	return t.w.WriteFooter()
}

// Rollback ends an open script with ROLLBACK so psql discards the
// statements already written.
func (t *ScriptTx) Rollback(context.Context) error {
	if t.closed || !t.opened {
		t.closed = true
		return nil
	}
	t.closed = true
	return t.w.WriteRollback()
}

// FormatProperty renders a property value the way it is stored.
func FormatProperty(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
