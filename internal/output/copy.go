// Package output renders repository changes as a psql script.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Writer writes a transactional SQL script made of plain statements and
// COPY blocks.
type Writer struct {
	w io.Writer
}

// NewWriter creates a new script writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader opens the script transaction.
func (sw *Writer) WriteHeader() error {
	_, err := fmt.Fprintln(sw.w, "BEGIN;")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(sw.w)
	return err
}

// WriteFooter commits the script transaction.
func (sw *Writer) WriteFooter() error {
	_, err := fmt.Fprintln(sw.w, "COMMIT;")
	return err
}

// WriteRollback aborts the script transaction.
func (sw *Writer) WriteRollback() error {
	_, err := fmt.Fprintln(sw.w, "ROLLBACK;")
	return err
}

// WriteStatement writes one statement terminated by a semicolon.
func (sw *Writer) WriteStatement(stmt string) error {
	stmt = strings.TrimRight(strings.TrimSpace(stmt), ";")
	_, err := fmt.Fprintf(sw.w, "%s;\n\n", stmt)
	return err
}

// WriteTableData writes a COPY block for the rows of one table.
func (sw *Writer) WriteTableData(schemaName, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	_, err := fmt.Fprintf(sw.w, "COPY %s (%s) FROM stdin;\n",
		pgx.Identifier{schemaName, table}.Sanitize(), strings.Join(quoted, ", "))
	if err != nil {
		return err
	}

	for _, row := range rows {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = EscapeCopyValue(v)
		}
		_, err := fmt.Fprintln(sw.w, strings.Join(vals, "\t"))
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(sw.w, `\.`)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(sw.w)
	return err
}
