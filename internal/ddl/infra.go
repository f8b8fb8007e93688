package ddl

import "github.com/hurou927/xmlshred/internal/schema"

// Repository bookkeeping tables. The document queue and the properties
// table exist for both models; the names table belongs to the relational
// model and the variable tables to the path model.
var (
	documentsDDL = `CREATE TABLE IF NOT EXISTS ` + Quote(schema.DefaultSchema, schema.DocumentsTable) + ` (
	"document_id" text NOT NULL PRIMARY KEY,
	"provider_name" text NOT NULL,
	"subject_id" bigint,
	"generation_date" timestamp,
	"priority" integer NOT NULL DEFAULT 0,
	"processed" boolean NOT NULL DEFAULT false,
	"processed_at" timestamp
)`
	queueIndexDDL = `CREATE INDEX IF NOT EXISTS "document_infos_queue" ON ` +
		Quote(schema.DefaultSchema, schema.DocumentsTable) + ` ("processed", "priority" DESC, "document_id")`
	propertiesDDL = `CREATE TABLE IF NOT EXISTS ` + Quote(schema.DefaultSchema, schema.PropertiesTable) + ` (
	"name" text NOT NULL PRIMARY KEY,
	"value" text NOT NULL
)`
	namesDDL = `CREATE TABLE IF NOT EXISTS ` + Quote(schema.DefaultSchema, schema.NamesTable) + ` (
	"table_name" text NOT NULL,
	"column_name" text NOT NULL DEFAULT '',
	"original_name" text NOT NULL
)`
	variablesDDL = `CREATE TABLE IF NOT EXISTS ` + Quote(schema.DefaultSchema, schema.VariablesTable) + ` (
	"variable_name" text NOT NULL PRIMARY KEY,
	"data_kind" text NOT NULL DEFAULT 'text',
	"longest_value_length" integer NOT NULL DEFAULT 0
)`
	documentVariablesDDL = `CREATE TABLE IF NOT EXISTS ` + Quote(schema.DefaultSchema, schema.DocVarsTable) + ` (
	"document_id" text NOT NULL REFERENCES ` + Quote(schema.DefaultSchema, schema.DocumentsTable) + ` ("document_id") ON DELETE CASCADE,
	"variable_name" text NOT NULL REFERENCES ` + Quote(schema.DefaultSchema, schema.VariablesTable) + ` ("variable_name"),
	"value" text
)`
	documentVariablesIndexDDL = `CREATE INDEX IF NOT EXISTS "document_variables_document" ON ` +
		Quote(schema.DefaultSchema, schema.DocVarsTable) + ` ("document_id")`
)

// HierarchicalInfrastructure returns the bookkeeping DDL of a relational repository.
func HierarchicalInfrastructure() []string {
	return []string{documentsDDL, queueIndexDDL, propertiesDDL, namesDDL}
}

// PathInfrastructure returns the bookkeeping DDL of a path repository.
func PathInfrastructure() []string {
	return []string{documentsDDL, queueIndexDDL, propertiesDDL, variablesDDL, documentVariablesDDL, documentVariablesIndexDDL}
}
