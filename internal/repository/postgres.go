package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hurou927/xmlshred/internal/schema"
)

var (
	documentsTable  = pgx.Identifier{schema.DefaultSchema, schema.DocumentsTable}.Sanitize()
	propertiesTable = pgx.Identifier{schema.DefaultSchema, schema.PropertiesTable}.Sanitize()
	variablesTable  = pgx.Identifier{schema.DefaultSchema, schema.VariablesTable}.Sanitize()
)

// Postgres is a Repository backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. Close releases it.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) Exists(ctx context.Context, query string) (bool, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if rows.Next() {
		return true, nil
	}
	return false, rows.Err()
}

func (p *Postgres) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT to_regclass($1) IS NOT NULL",
		pgx.Identifier{schemaName, table}.Sanitize(),
	).Scan(&exists)
	return exists, err
}

func (p *Postgres) Properties(ctx context.Context) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT name, value FROM "+propertiesTable)
	if err != nil {
		return nil, fmt.Errorf("reading repository properties: %w", err)
	}
	props := make(map[string]string)
	var name, value string
	_, err = pgx.ForEachRow(rows, []any{&name, &value}, func() error {
		props[name] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading repository properties: %w", err)
	}
	return props, nil
}

// LoadTables introspects every shredded schema.
func (p *Postgres) LoadTables(ctx context.Context) ([]*schema.Table, error) {
	tables, err := schema.Introspect(ctx, p.pool, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Table, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	return out, nil
}

type variableRow struct {
	XPath              string `db:"variable_name"`
	Kind               string `db:"data_kind"`
	LongestValueLength int    `db:"longest_value_length"`
}

func (p *Postgres) LoadVariables(ctx context.Context) ([]*schema.Variable, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT variable_name, data_kind, longest_value_length FROM "+variablesTable)
	if err != nil {
		return nil, fmt.Errorf("loading variables: %w", err)
	}
	loaded, err := pgx.CollectRows(rows, pgx.RowToStructByName[variableRow])
	if err != nil {
		return nil, fmt.Errorf("loading variables: %w", err)
	}
	vars := make([]*schema.Variable, len(loaded))
	for i, v := range loaded {
		vars[i] = &schema.Variable{
			XPath:              v.XPath,
			Kind:               v.Kind,
			LongestValueLength: v.LongestValueLength,
			Saved:              true,
		}
	}
	return vars, nil
}

// ImportDocuments adds documents missing from the queue and returns how
// many were new.
func (p *Postgres) ImportDocuments(ctx context.Context, docs []Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(
			"INSERT INTO "+documentsTable+` (document_id, provider_name, subject_id, generation_date)
			VALUES ($1, $2, $3, $4) ON CONFLICT (document_id) DO NOTHING`,
			d.ID, d.Provider, d.SubjectID, d.GenerationDate,
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	var inserted int64
	for range docs {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return inserted, fmt.Errorf("importing document metadata: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, results.Close()
}

// SetPriority moves ids to the front of the queue. An empty list resets
// every priority.
func (p *Postgres) SetPriority(ctx context.Context, ids []string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "UPDATE "+documentsTable+" SET priority = 0 WHERE priority <> 0"); err != nil {
			return fmt.Errorf("resetting priority: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, "UPDATE "+documentsTable+" SET priority = 1 WHERE document_id = ANY($1)", ids)
		if err != nil {
			return fmt.Errorf("setting priority: %w", err)
		}
		return nil
	})
}

// PendingBatch returns up to limit unprocessed document ids, highest
// priority first.
func (p *Postgres) PendingBatch(ctx context.Context, limit int) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT document_id FROM "+documentsTable+
			" WHERE NOT processed ORDER BY priority DESC, document_id LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("reading pending documents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("reading pending documents: %w", err)
	}
	return ids, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.Exec(ctx, sql)
	return err
}

func (t *pgTx) CopyRows(ctx context.Context, schemaName, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{schemaName, table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copying into %s.%s: %w", schemaName, table, err)
	}
	return n, nil
}

func (t *pgTx) SaveVariables(ctx context.Context, vars []*schema.Variable) error {
	if len(vars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range vars {
		batch.Queue(upsertVariable, v.XPath, v.Kind, v.LongestValueLength)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving variables: %w", err)
	}
	return nil
}

var upsertVariable = "INSERT INTO " + variablesTable + ` AS v (variable_name, data_kind, longest_value_length)
	VALUES ($1, $2, $3)
	ON CONFLICT (variable_name) DO UPDATE SET
		data_kind = EXCLUDED.data_kind,
		longest_value_length = GREATEST(v.longest_value_length, EXCLUDED.longest_value_length)`

func (t *pgTx) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		"UPDATE "+documentsTable+" SET processed = true, processed_at = now() WHERE document_id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("marking documents processed: %w", err)
	}
	return nil
}

func (t *pgTx) SetProperty(ctx context.Context, name, value string) error {
	_, err := t.tx.Exec(ctx, "INSERT INTO "+propertiesTable+` (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, name, value)
	if err != nil {
		return fmt.Errorf("setting property %s: %w", name, err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
