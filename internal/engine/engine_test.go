package engine

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurou927/xmlshred/internal/repository"
	"github.com/hurou927/xmlshred/internal/schema"
	"github.com/hurou927/xmlshred/internal/shred"
	"github.com/hurou927/xmlshred/internal/source"
)

type memSource struct {
	opened bool
	closed bool
	docs   map[string]source.Content
}

func newMemSource(docs ...source.Content) *memSource {
	s := &memSource{docs: make(map[string]source.Content)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memSource) Open(context.Context) error {
	s.opened = true
	return nil
}

func (s *memSource) DocumentMetadata(context.Context) ([]source.DocumentInfo, error) {
	var infos []source.DocumentInfo
	for _, d := range s.docs {
		infos = append(infos, source.DocumentInfo{ID: d.ID, Provider: d.Provider})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (s *memSource) PriorityItems(_ context.Context, provider string) ([]string, error) {
	var ids []string
	for _, d := range s.docs {
		if d.Provider == provider {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

func (s *memSource) Content(_ context.Context, ids []string) ([]source.Content, error) {
	var out []source.Content
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memSource) Close() error {
	s.closed = true
	return nil
}

type queued struct {
	priority  int
	processed bool
}

// memRepo keeps the queue and the properties in memory and records every
// committed statement.
type memRepo struct {
	tables     map[string]bool
	props      map[string]string
	queue      map[string]*queued
	statements []string
	copied     map[string]int
	rollbacks  int
	failCopy   error
	closed     bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		tables: make(map[string]bool),
		props:  make(map[string]string),
		queue:  make(map[string]*queued),
		copied: make(map[string]int),
	}
}

func (r *memRepo) Begin(context.Context) (repository.Tx, error) {
	return &memTx{repo: r, props: make(map[string]string)}, nil
}

func (r *memRepo) Exists(context.Context, string) (bool, error) { return false, nil }

func (r *memRepo) TableExists(_ context.Context, schemaName, table string) (bool, error) {
	return r.tables[schemaName+"."+table], nil
}

func (r *memRepo) Properties(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out, nil
}

func (r *memRepo) LoadTables(context.Context) ([]*schema.Table, error) { return nil, nil }

func (r *memRepo) LoadVariables(context.Context) ([]*schema.Variable, error) { return nil, nil }

func (r *memRepo) ImportDocuments(_ context.Context, docs []repository.Document) (int64, error) {
	var n int64
	for _, d := range docs {
		if _, ok := r.queue[d.ID]; !ok {
			r.queue[d.ID] = &queued{}
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SetPriority(_ context.Context, ids []string) error {
	for _, q := range r.queue {
		q.priority = 0
	}
	for _, id := range ids {
		if q, ok := r.queue[id]; ok {
			q.priority = 1
		}
	}
	return nil
}

func (r *memRepo) PendingBatch(_ context.Context, limit int) ([]string, error) {
	var ids []string
	for id, q := range r.queue {
		if !q.processed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := r.queue[ids[i]].priority, r.queue[ids[j]].priority
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memRepo) Close() { r.closed = true }

func (r *memRepo) processed() []string {
	var ids []string
	for id, q := range r.queue {
		if q.processed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type memTx struct {
	repo       *memRepo
	statements []string
	copied     map[string]int
	processed  []string
	props      map[string]string
}

func (t *memTx) Exec(_ context.Context, sql string) error {
	t.statements = append(t.statements, sql)
	return nil
}

func (t *memTx) CopyRows(_ context.Context, schemaName, table string, _ []string, rows [][]any) (int64, error) {
	if t.repo.failCopy != nil {
		return 0, t.repo.failCopy
	}
	if t.copied == nil {
		t.copied = make(map[string]int)
	}
	t.copied[schemaName+"."+table] += len(rows)
	return int64(len(rows)), nil
}

func (t *memTx) SaveVariables(context.Context, []*schema.Variable) error { return nil }

func (t *memTx) MarkProcessed(_ context.Context, ids []string) error {
	t.processed = append(t.processed, ids...)
	return nil
}

func (t *memTx) SetProperty(_ context.Context, name, value string) error {
	t.props[name] = value
	return nil
}

func (t *memTx) Commit(context.Context) error {
	r := t.repo
	r.statements = append(r.statements, t.statements...)
	for _, stmt := range t.statements {
		if strings.Contains(stmt, `"public"."document_infos" (`) {
			r.tables[schema.DefaultSchema+"."+schema.DocumentsTable] = true
		}
	}
	for table, n := range t.copied {
		r.copied[table] += n
	}
	for _, id := range t.processed {
		if q, ok := r.queue[id]; ok {
			q.processed = true
		}
	}
	for k, v := range t.props {
		r.props[k] = v
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.repo.rollbacks++
	return nil
}

type recordingReporter struct {
	phases []string
	warns  []string
}

func (r *recordingReporter) Phase(name string)     { r.phases = append(r.phases, name) }
func (r *recordingReporter) Item(string, int, int) {}
func (r *recordingReporter) Warn(msg string)       { r.warns = append(r.warns, msg) }

func connectTo(repo *memRepo) Connector {
	return func(context.Context) (repository.Repository, error) { return repo, nil }
}

func orderDoc(id string) source.Content {
	return source.Content{ID: id, Provider: "acme", XML: `<order id="7"><item>widget</item><item>gadget</item></order>`}
}

func newEngine(t *testing.T, src source.Source, repo *memRepo, opts Options) *Engine {
	t.Helper()
	if opts.Model == "" {
		opts.Model = shred.ModelHierarchical
	}
	e, err := New(src, connectTo(repo), opts)
	require.NoError(t, err)
	return e
}

func TestNewRejectsUnknownModel(t *testing.T) {
	_, err := New(newMemSource(), connectTo(newMemRepo()), Options{Model: "graph"})
	assert.Error(t, err)
}

func TestNewRejectsNameLengthWithoutRoom(t *testing.T) {
	_, err := New(newMemSource(), connectTo(newMemRepo()),
		Options{Model: shred.ModelHierarchical, UseForeignKeys: true, MaxNameLength: 3})
	assert.Error(t, err)

	_, err = New(newMemSource(), connectTo(newMemRepo()),
		Options{Model: shred.ModelHierarchical, MaxNameLength: 64})
	assert.Error(t, err)
}

func TestInitializeCreatesRepository(t *testing.T) {
	ctx := context.Background()
	src := newMemSource(orderDoc("a.xml"), orderDoc("b.xml"))
	repo := newMemRepo()
	e := newEngine(t, src, repo, Options{UseForeignKeys: true})

	require.NoError(t, e.Initialize(ctx))
	assert.Equal(t, Ready, e.State())
	assert.True(t, src.opened)

	require.NotEmpty(t, repo.statements)
	assert.Contains(t, repo.statements[0], `CREATE TABLE IF NOT EXISTS "public"."document_infos"`)
	assert.Equal(t, map[string]string{
		repository.PropertyModel:          shred.ModelHierarchical,
		repository.PropertyUseForeignKeys: "true",
		repository.PropertyMaxNameLength:  "63",
		repository.PropertyEmbeddedXML:    "true",
	}, repo.props)
	assert.Len(t, repo.queue, 2)

	assert.Error(t, e.Initialize(ctx), "initialize twice")
}

func TestInitializeRejectsChangedSettings(t *testing.T) {
	repo := newMemRepo()
	repo.tables["public.document_infos"] = true
	repo.props[repository.PropertyModel] = shred.ModelHierarchical
	repo.props[repository.PropertyUseForeignKeys] = "false"

	e := newEngine(t, newMemSource(), repo, Options{UseForeignKeys: true})
	err := e.Initialize(context.Background())

	var conflict *SchemaConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, repository.PropertyUseForeignKeys, conflict.Setting)
	assert.Equal(t, "false", conflict.Stored)
	assert.Equal(t, Uninitialized, e.State())
}

func TestInitializeInfersModelOfOlderRepository(t *testing.T) {
	repo := newMemRepo()
	repo.tables["public.document_infos"] = true
	repo.tables["public.variables"] = true

	e := newEngine(t, newMemSource(), repo, Options{})
	var conflict *SchemaConflictError
	require.ErrorAs(t, e.Initialize(context.Background()), &conflict)
	assert.Equal(t, shred.ModelKeyValue, conflict.Stored)

	repo.props = make(map[string]string)
	e = newEngine(t, newMemSource(), repo, Options{Model: shred.ModelKeyValue})
	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, shred.ModelKeyValue, repo.props[repository.PropertyModel])
	assert.Equal(t, "false", repo.props[repository.PropertyUseForeignKeys])
}

func TestShredBatch(t *testing.T) {
	ctx := context.Background()
	broken := source.Content{ID: "c.xml", Provider: "acme", XML: `<order><item>x</order>`}
	src := newMemSource(orderDoc("a.xml"), orderDoc("b.xml"), broken)
	repo := newMemRepo()
	reporter := &recordingReporter{}
	e := newEngine(t, src, repo, Options{UseForeignKeys: true, Reporter: reporter})
	require.NoError(t, e.Initialize(ctx))

	n, err := e.Shred(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, reporter.warns, 1)
	assert.Contains(t, reporter.warns[0], "c.xml")
	assert.Equal(t, []string{"a.xml", "b.xml", "c.xml"}, repo.processed())
	assert.Contains(t, repo.statements, `CREATE SCHEMA IF NOT EXISTS "acme"`)
	assert.Equal(t, 2, repo.copied["acme.order"])
	assert.Equal(t, 4, repo.copied["acme.item"])

	n, err = e.Shred(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShredRollsBackAndReloads(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newEngine(t, newMemSource(orderDoc("a.xml")), repo, Options{})
	require.NoError(t, e.Initialize(ctx))

	repo.failCopy = errors.New("connection reset")
	_, err := e.Shred(ctx, 10)
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 1, repo.rollbacks)
	assert.Empty(t, repo.processed())
	assert.NotContains(t, repo.statements, `CREATE SCHEMA IF NOT EXISTS "acme"`)

	// the schema is rebuilt, so the DDL is produced again
	repo.failCopy = nil
	n, err := e.Shred(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, repo.statements, `CREATE SCHEMA IF NOT EXISTS "acme"`)
	assert.Equal(t, []string{"a.xml"}, repo.processed())
}

func TestShredRequiresInitialize(t *testing.T) {
	e := newEngine(t, newMemSource(), newMemRepo(), Options{})
	_, err := e.Shred(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRunRepeatsUntilEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newEngine(t, newMemSource(orderDoc("a.xml"), orderDoc("b.xml"), orderDoc("c.xml")), repo, Options{})
	require.NoError(t, e.Initialize(ctx))

	n, err := e.Run(ctx, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, repo.processed(), 3)
}

func TestRunOnceAndStop(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newEngine(t, newMemSource(orderDoc("a.xml"), orderDoc("b.xml")), repo, Options{})
	require.NoError(t, e.Initialize(ctx))

	n, err := e.Run(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e.Stop()
	n, err = e.Run(ctx, 1, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"a.xml"}, repo.processed())
}

func TestProviderPriority(t *testing.T) {
	ctx := context.Background()
	src := newMemSource(orderDoc("a.xml"), source.Content{ID: "z.xml", Provider: "rush", XML: `<order id="1"/>`})
	repo := newMemRepo()
	e := newEngine(t, src, repo, Options{Provider: "rush"})
	require.NoError(t, e.Initialize(ctx))

	n, err := e.Shred(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"z.xml"}, repo.processed())
}

func TestScriptMode(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	repo := newMemRepo()
	e := newEngine(t, newMemSource(orderDoc("a.xml"), orderDoc("b.xml")), repo, Options{Script: &buf})
	require.NoError(t, e.Initialize(ctx))

	n, err := e.Run(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, repo.processed())

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "BEGIN;"))
	assert.Contains(t, out, `CREATE SCHEMA IF NOT EXISTS "acme";`)
	assert.Contains(t, out, `COPY "acme"."order"`)
	assert.Contains(t, out, `WHERE document_id IN ('a.xml')`)
	assert.True(t, strings.HasSuffix(out, "COMMIT;\n"))
}

func TestScriptModeRepeatsSchemaChanges(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	repo := newMemRepo()
	e := newEngine(t, newMemSource(orderDoc("a.xml")), repo, Options{Script: &buf})
	require.NoError(t, e.Initialize(ctx))
	buf.Reset()

	_, err := e.Shred(ctx, 1)
	require.NoError(t, err)
	first := buf.String()
	require.Contains(t, first, `CREATE TABLE "acme"."order"`)

	buf.Reset()
	_, err = e.Shred(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, buf.String())
}

func TestClose(t *testing.T) {
	src := newMemSource()
	repo := newMemRepo()
	e := newEngine(t, src, repo, Options{})
	require.NoError(t, e.Initialize(context.Background()))

	require.NoError(t, e.Close())
	assert.Equal(t, Disposed, e.State())
	assert.True(t, src.closed)
	assert.True(t, repo.closed)
	_, err := e.Shred(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestWriteScripts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCreationScript(&buf, Options{Model: shred.ModelKeyValue}))
	out := buf.String()
	assert.Contains(t, out, `"public"."variables"`)
	assert.Contains(t, out, `VALUES ('model', 'key-value')`)
	assert.Contains(t, out, `VALUES ('max_name_length', '63')`)

	buf.Reset()
	require.NoError(t, WriteUpgradeScript(&buf, Options{Model: shred.ModelKeyValue}))
	assert.Contains(t, buf.String(), "longest_value_length")

	assert.Error(t, WriteUpgradeScript(&buf, Options{Model: "graph"}))
}
