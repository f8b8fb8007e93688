package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cast"
	_ "modernc.org/sqlite"
)

// Dialect describes how a source database quotes names and binds parameters.
type Dialect struct {
	Driver        string
	Quote         rune
	DefaultSchema string
	Numbered      bool // $1 instead of ?
}

var dialects = map[string]Dialect{
	"postgres": {Driver: "pgx", Quote: '"', DefaultSchema: "public", Numbered: true},
	"mysql":    {Driver: "mysql", Quote: '`'},
	"sqlite":   {Driver: "sqlite", Quote: '"', DefaultSchema: "main"},
}

// ParseURL splits a driver://dsn source URL into its dialect and the DSN
// handed to the driver.
func ParseURL(url string) (Dialect, string, error) {
	if url == "" {
		return Dialect{}, "", errors.New("source url is required")
	}
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return dialects["postgres"], url, nil
	case strings.HasPrefix(url, "mysql://"):
		return dialects["mysql"], strings.TrimPrefix(url, "mysql://"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return dialects["sqlite"], strings.TrimPrefix(url, "sqlite://"), nil
	}
	return Dialect{}, "", fmt.Errorf("invalid source url scheme (must start with postgres://, mysql:// or sqlite://)")
}

func (d Dialect) placeholder(n int) string {
	if d.Numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d Dialect) quoteIdent(name string) string {
	q := string(d.Quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

var selectQuery = regexp.MustCompile(`(?is)SELECT.+?FROM`)

// IsSelectQuery reports whether spec is a query rather than a table name.
func IsSelectQuery(spec string) bool {
	return selectQuery.MatchString(spec)
}

// BuildFromClause turns a source specification into a FROM clause. A
// query is wrapped as a subquery; anything else is treated as a possibly
// qualified table name and quoted part by part.
func BuildFromClause(spec string, d Dialect) string {
	if IsSelectQuery(spec) {
		return "(" + spec + ") AS src"
	}

	parts := splitObjectName(spec)
	if len(parts) == 1 && d.DefaultSchema != "" {
		parts = []string{d.DefaultSchema, parts[0]}
	}
	quoted := make([]string, 0, len(parts))
	for i, p := range parts {
		if p == "" && i < len(parts)-1 {
			if d.DefaultSchema == "" {
				continue
			}
			p = d.DefaultSchema
		}
		quoted = append(quoted, d.quoteIdent(p))
	}
	return strings.Join(quoted, ".")
}

// splitObjectName splits a dotted name. Parts may be delimited with
// brackets, double quotes or backticks to contain dots.
func splitObjectName(spec string) []string {
	var (
		parts  []string
		cur    strings.Builder
		closer rune
	)
	for _, r := range strings.TrimSpace(spec) {
		switch {
		case closer != 0:
			if r == closer {
				closer = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '[':
			closer = ']'
		case r == '"' || r == '`':
			closer = r
		case r == '.':
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, strings.TrimSpace(cur.String()))
}

// Query serves documents from a table or query of a relational database.
// The specification must expose document_id, provider_name, subject_id,
// generation_date and xml columns.
type Query struct {
	url     string
	spec    string
	timeout time.Duration

	dialect Dialect
	db      *sql.DB
}

// NewQuery returns a query source. spec is a table name, a SELECT
// statement, or the path of a file holding either.
func NewQuery(url, spec string, timeout time.Duration) (*Query, error) {
	d, _, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	spec, err = resolveSpecification(spec)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("source specification is required for a query source")
	}
	return &Query{url: url, spec: spec, timeout: timeout, dialect: d}, nil
}

func resolveSpecification(spec string) (string, error) {
	info, err := os.Stat(spec)
	if err != nil || info.IsDir() {
		return spec, nil
	}
	data, err := os.ReadFile(spec)
	if err != nil {
		return "", fmt.Errorf("reading source specification: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (q *Query) Open(ctx context.Context) error {
	if q.db != nil {
		return errors.New("source connection already open")
	}
	_, dsn, err := ParseURL(q.url)
	if err != nil {
		return err
	}
	db, err := sql.Open(q.dialect.Driver, dsn)
	if err != nil {
		return &UnavailableError{Location: q.dialect.Driver, Err: err}
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &UnavailableError{Location: q.dialect.Driver, Err: err}
	}
	q.db = db
	return nil
}

func (q *Query) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, q.timeout)
}

func (q *Query) from() string {
	return BuildFromClause(q.spec, q.dialect)
}

func (q *Query) DocumentMetadata(ctx context.Context) ([]DocumentInfo, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rows, err := q.db.QueryContext(ctx,
		"SELECT document_id, provider_name, subject_id, generation_date FROM "+q.from())
	if err != nil {
		return nil, fmt.Errorf("querying document metadata: %w", err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var (
			id, provider        any
			subject, generation any
		)
		if err := rows.Scan(&id, &provider, &subject, &generation); err != nil {
			return nil, fmt.Errorf("scanning document metadata: %w", err)
		}
		doc := DocumentInfo{ID: cast.ToString(asText(id)), Provider: cast.ToString(asText(provider))}
		if doc.Provider == "" {
			doc.Provider = DefaultProvider
		}
		if subject != nil {
			n, err := cast.ToInt64E(asText(subject))
			if err != nil {
				return nil, fmt.Errorf("document %s: subject_id: %w", doc.ID, err)
			}
			doc.SubjectID = &n
		}
		if generation != nil {
			ts, err := cast.ToTimeE(asText(generation))
			if err != nil {
				return nil, fmt.Errorf("document %s: generation_date: %w", doc.ID, err)
			}
			doc.GenerationDate = &ts
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (q *Query) PriorityItems(ctx context.Context, provider string) ([]string, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rows, err := q.db.QueryContext(ctx,
		"SELECT document_id FROM "+q.from()+" WHERE provider_name = "+q.dialect.placeholder(1), provider)
	if err != nil {
		return nil, fmt.Errorf("querying priority items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, cast.ToString(asText(id)))
	}
	return ids, rows.Err()
}

func (q *Query) Content(ctx context.Context, ids []string) ([]Content, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = q.dialect.placeholder(i + 1)
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx,
		"SELECT document_id, provider_name, xml FROM "+q.from()+
			" WHERE document_id IN ("+strings.Join(marks, ", ")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("querying document content: %w", err)
	}
	defer rows.Close()

	var out []Content
	for rows.Next() {
		var id, provider, xml any
		if err := rows.Scan(&id, &provider, &xml); err != nil {
			return nil, err
		}
		c := Content{
			ID:       cast.ToString(asText(id)),
			Provider: cast.ToString(asText(provider)),
			XML:      cast.ToString(asText(xml)),
		}
		if c.Provider == "" {
			c.Provider = DefaultProvider
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Query) Close() error {
	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	return err
}

// asText turns driver byte slices into strings so cast can read them.
func asText(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
