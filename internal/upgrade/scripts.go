package upgrade

import (
	"github.com/hurou927/xmlshred/internal/output"
	"github.com/hurou927/xmlshred/internal/repository"
)

// Early repositories keyed documents by integer.
var documentIDType = Upgrade{
	Name: "document-id-type",
	Check: `SELECT 1 FROM information_schema.columns
	WHERE table_schema = 'public' AND table_name = 'document_infos'
		AND column_name = 'document_id' AND data_type IN ('integer', 'bigint')`,
	Statements: []string{
		`CREATE TEMP TABLE document_id_references ON COMMIT DROP AS
	SELECT con.conname, n.nspname, c.relname, pg_get_constraintdef(con.oid) AS definition
	FROM pg_constraint con
	JOIN pg_class c ON c.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE con.contype = 'f' AND con.confrelid = 'public.document_infos'::regclass`,
		`DO $$
DECLARE
	r record;
BEGIN
	FOR r IN SELECT * FROM document_id_references LOOP
		EXECUTE format('ALTER TABLE %I.%I DROP CONSTRAINT %I', r.nspname, r.relname, r.conname);
	END LOOP;
	FOR r IN
		SELECT table_schema, table_name FROM information_schema.columns
		WHERE column_name = 'document_id' AND data_type IN ('integer', 'bigint')
			AND table_schema NOT IN ('pg_catalog', 'information_schema')
	LOOP
		EXECUTE format('ALTER TABLE %I.%I ALTER COLUMN document_id TYPE text USING document_id::text',
			r.table_schema, r.table_name);
	END LOOP;
	FOR r IN SELECT * FROM document_id_references LOOP
		EXECUTE format('ALTER TABLE %I.%I ADD CONSTRAINT %I %s', r.nspname, r.relname, r.conname, r.definition);
	END LOOP;
END
$$`,
	},
}

var longestValue = Upgrade{
	Name: "longest-value",
	Check: `SELECT 1 WHERE NOT EXISTS (
	SELECT 1 FROM information_schema.columns
	WHERE table_schema = 'public' AND table_name = 'variables' AND column_name = 'longest_value_length')`,
	Statements: []string{
		`ALTER TABLE public.variables ADD COLUMN IF NOT EXISTS longest_value_length integer NOT NULL DEFAULT 0`,
		`UPDATE public.variables AS v SET longest_value_length = s.longest
FROM (
	SELECT variable_name, MAX(length(value)) AS longest
	FROM public.document_variables
	GROUP BY variable_name
) AS s
WHERE s.variable_name = v.variable_name AND s.longest IS NOT NULL`,
	},
}

// numberSuspect selects number variables holding a value that is not a number.
const numberSuspect = `v.data_kind = 'number' AND EXISTS (
	SELECT 1 FROM public.document_variables AS dv
	WHERE dv.variable_name = v.variable_name
		AND dv.value !~ '^\s*[-+]?\s*[0-9][0-9,]*(\.[0-9]+)?\s*$')`

var numberToText = Upgrade{
	Name:       "number-to-text",
	Check:      `SELECT 1 FROM public.variables AS v WHERE ` + numberSuspect,
	Statements: []string{`UPDATE public.variables AS v SET data_kind = 'text' WHERE ` + numberSuspect},
}

// embeddedXML discards the shredded rows of the documents selected by
// query and queues them again so embedded XML is promoted on the next run.
// query must return a document_id column.
func embeddedXML(keyValue bool, query string) Upgrade {
	stmts := []string{
		`CREATE TEMP TABLE redo_documents ON COMMIT DROP AS
	SELECT DISTINCT q.document_id::text AS document_id FROM (` + query + `) AS q`,
	}
	if keyValue {
		stmts = append(stmts, `DELETE FROM public.document_variables
	WHERE document_id IN (SELECT document_id FROM redo_documents)`)
	} else {
		// child rows follow their root row through ON DELETE CASCADE
		stmts = append(stmts, `DO $$
DECLARE
	r record;
BEGIN
	FOR r IN
		SELECT table_schema, table_name FROM information_schema.columns
		WHERE column_name = 'document_id'
			AND table_schema NOT IN ('public', 'information_schema')
			AND table_schema NOT LIKE 'pg\_%'
	LOOP
		EXECUTE format('DELETE FROM %I.%I WHERE document_id IN (SELECT document_id FROM redo_documents)',
			r.table_schema, r.table_name);
	END LOOP;
END
$$`)
	}
	stmts = append(stmts,
		`UPDATE public.document_infos SET processed = false, processed_at = NULL
	WHERE document_id IN (SELECT document_id FROM redo_documents)`,
		`INSERT INTO public.repository_properties (name, value) VALUES (`+
			output.EscapeLiteral(repository.PropertyEmbeddedXML)+`, 'true') ON CONFLICT (name) DO NOTHING`,
	)
	return Upgrade{
		Name: "embedded-xml",
		Check: `SELECT 1 WHERE NOT EXISTS (
	SELECT 1 FROM public.repository_properties WHERE name = ` + output.EscapeLiteral(repository.PropertyEmbeddedXML) + `)`,
		Statements: stmts,
	}
}
