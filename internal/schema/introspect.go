package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hurou927/xmlshred/internal/datatype"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Introspect queries PostgreSQL catalogs and returns all tables with columns,
// PKs, FKs and their highest identity value. An empty schemas list selects
// every schema except public and the system schemas.
func Introspect(ctx context.Context, q Querier, schemas []string) (map[string]*Table, error) {
	tables, err := queryTablesAndColumns(ctx, q, schemas)
	if err != nil {
		return nil, fmt.Errorf("querying tables and columns: %w", err)
	}

	if err := queryPrimaryKeys(ctx, q, schemas, tables); err != nil {
		return nil, fmt.Errorf("querying primary keys: %w", err)
	}

	if err := queryForeignKeys(ctx, q, schemas, tables); err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}

	if err := queryIdentitySeeds(ctx, q, tables); err != nil {
		return nil, fmt.Errorf("querying identity values: %w", err)
	}

	return tables, nil
}

// schemaFilter restricts n.nspname to $1, or to user schemas when $1 is empty.
const schemaFilter = `
			AND (cardinality($1::text[]) = 0 AND n.nspname NOT IN ('public', 'information_schema') AND n.nspname NOT LIKE 'pg\_%'
				OR n.nspname = ANY($1))`

func queryTablesAndColumns(ctx context.Context, q Querier, schemas []string) (map[string]*Table, error) {
	query := `
		SELECT
			n.nspname AS schema_name,
			c.relname AS table_name,
			a.attname AS column_name,
			t.typname AS data_type,
			a.atttypmod AS type_modifier,
			NOT a.attnotnull AS is_nullable,
			a.attidentity <> '' AS is_identity,
			a.attnum AS ordinal_position
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid
		JOIN pg_type t ON t.oid = a.atttypid
		WHERE c.relkind = 'r'
			AND a.attnum > 0
			AND NOT a.attisdropped` + schemaFilter + `
		ORDER BY n.nspname, c.relname, a.attnum
	`

	rows, err := q.Query(ctx, query, nonNil(schemas))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]*Table)
	for rows.Next() {
		var schemaName, tableName, colName, dataType string
		var typmod int32
		var nullable, identity bool
		var ordPos int
		if err := rows.Scan(&schemaName, &tableName, &colName, &dataType, &typmod, &nullable, &identity, &ordPos); err != nil {
			return nil, err
		}

		key := schemaName + "." + tableName
		tbl, ok := tables[key]
		if !ok {
			tbl = &Table{
				Schema: schemaName,
				Name:   tableName,
			}
			tables[key] = tbl
		}
		kind, maxLength := kindOf(dataType, typmod)
		tbl.Columns = append(tbl.Columns, &Column{
			Name:      colName,
			Kind:      kind,
			MaxLength: maxLength,
			Nullable:  nullable,
			Identity:  identity,
			Unique:    identity,
			OrdPos:    ordPos,
		})
	}

	return tables, rows.Err()
}

// kindOf maps a pg_type name to a data kind and text width.
func kindOf(typname string, typmod int32) (datatype.Kind, int) {
	switch typname {
	case "bool":
		return datatype.Bool, 0
	case "uuid":
		return datatype.UUID, 0
	case "int2", "int4":
		return datatype.Int, 0
	case "int8":
		return datatype.BigInt, 0
	case "float4", "float8", "numeric":
		return datatype.Float, 0
	case "timestamp", "timestamptz", "date":
		return datatype.DateTime, 0
	case "varchar", "bpchar":
		if typmod > 4 {
			return datatype.Text, int(typmod - 4)
		}
	}
	return datatype.Text, Unbounded
}

func queryPrimaryKeys(ctx context.Context, q Querier, schemas []string, tables map[string]*Table) error {
	query := `
		SELECT
			n.nspname AS schema_name,
			c.relname AS table_name,
			a.attname AS column_name,
			u.ord AS key_position
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS u(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = u.attnum
		WHERE con.contype = 'p'` + schemaFilter + `
		ORDER BY n.nspname, c.relname, u.ord
	`

	rows, err := q.Query(ctx, query, nonNil(schemas))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, colName string
		var keyPos int
		if err := rows.Scan(&schemaName, &tableName, &colName, &keyPos); err != nil {
			return err
		}

		key := schemaName + "." + tableName
		tbl, ok := tables[key]
		if !ok {
			continue
		}
		if tbl.PrimaryKey == nil {
			tbl.PrimaryKey = &PrimaryKey{}
		}
		tbl.PrimaryKey.Columns = append(tbl.PrimaryKey.Columns, colName)
	}

	return rows.Err()
}

func queryForeignKeys(ctx context.Context, q Querier, schemas []string, tables map[string]*Table) error {
	query := `
		SELECT
			con.conname AS fk_name,
			n.nspname AS child_schema,
			cc.relname AS child_table,
			ca.attname AS child_column,
			pn.nspname AS parent_schema,
			pc.relname AS parent_table,
			pa.attname AS parent_column,
			u.ord AS key_position
		FROM pg_constraint con
		JOIN pg_class cc ON cc.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = cc.relnamespace
		JOIN pg_class pc ON pc.oid = con.confrelid
		JOIN pg_namespace pn ON pn.oid = pc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS u(child_attnum, parent_attnum, ord)
		JOIN pg_attribute ca ON ca.attrelid = cc.oid AND ca.attnum = u.child_attnum
		JOIN pg_attribute pa ON pa.attrelid = pc.oid AND pa.attnum = u.parent_attnum
		WHERE con.contype = 'f'` + schemaFilter + `
		ORDER BY n.nspname, cc.relname, con.conname, u.ord
	`

	rows, err := q.Query(ctx, query, nonNil(schemas))
	if err != nil {
		return err
	}
	defer rows.Close()

	// Collect FK columns grouped by owning table and constraint name
	type fkEntry struct {
		name         string
		childSchema  string
		childTable   string
		childCol     string
		parentSchema string
		parentTable  string
		parentCol    string
	}

	fksByName := make(map[string][]fkEntry)
	var fkOrder []string

	for rows.Next() {
		var e fkEntry
		var keyPos int
		if err := rows.Scan(&e.name, &e.childSchema, &e.childTable, &e.childCol,
			&e.parentSchema, &e.parentTable, &e.parentCol, &keyPos); err != nil {
			return err
		}
		key := e.childSchema + "." + e.childTable + "." + e.name
		if _, exists := fksByName[key]; !exists {
			fkOrder = append(fkOrder, key)
		}
		fksByName[key] = append(fksByName[key], e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, key := range fkOrder {
		entries := fksByName[key]
		first := entries[0]
		fk := &ForeignKey{
			Name:         first.name,
			ChildSchema:  first.childSchema,
			ChildTable:   first.childTable,
			ParentSchema: first.parentSchema,
			ParentTable:  first.parentTable,
		}
		for _, e := range entries {
			fk.ChildColumns = append(fk.ChildColumns, e.childCol)
			fk.ParentColumns = append(fk.ParentColumns, e.parentCol)
		}
		fk.IsSelfRef = fk.ChildSchema == fk.ParentSchema && fk.ChildTable == fk.ParentTable

		if tbl, ok := tables[fk.ChildSchema+"."+fk.ChildTable]; ok {
			tbl.ForeignKeys = append(tbl.ForeignKeys, fk)
		}
	}

	return nil
}

// queryIdentitySeeds loads the highest identity value of every table so new
// rows continue the sequence client side.
func queryIdentitySeeds(ctx context.Context, q Querier, tables map[string]*Table) error {
	for _, tbl := range tables {
		var identity *Column
		for _, c := range tbl.Columns {
			if c.Identity {
				identity = c
				break
			}
		}
		if identity == nil {
			continue
		}

		query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0)::bigint FROM %s",
			pgx.Identifier{identity.Name}.Sanitize(),
			pgx.Identifier{tbl.Schema, tbl.Name}.Sanitize())
		rows, err := q.Query(ctx, query)
		if err != nil {
			return err
		}
		last, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("%s: %w", tbl.FullName(), err)
		}
		tbl.LastID = last
	}
	return nil
}

func nonNil(schemas []string) []string {
	if schemas == nil {
		return []string{}
	}
	return schemas
}
