// Package engine drives the shredding cycle: it prepares the repository,
// queues the source documents and shreds them batch by batch, each batch
// in one repository transaction.
package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hurou927/xmlshred/internal/names"
	"github.com/hurou927/xmlshred/internal/repository"
	"github.com/hurou927/xmlshred/internal/schema"
	"github.com/hurou927/xmlshred/internal/shred"
	"github.com/hurou927/xmlshred/internal/source"
	"github.com/hurou927/xmlshred/internal/upgrade"
	"github.com/hurou927/xmlshred/internal/xmldoc"
)

// State is the lifecycle state of an Engine.
type State int

const (
	Uninitialized State = iota
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return "disposed"
	}
}

// Connector opens the repository, creating its database when needed.
type Connector func(ctx context.Context) (repository.Repository, error)

// Options configures an Engine.
type Options struct {
	// Model is shred.ModelHierarchical or shred.ModelKeyValue.
	Model          string
	UseForeignKeys bool
	MaxNameLength  int
	NamePolicy     names.Policy
	Lists          xmldoc.ListPolicy

	// Provider gives the documents of one provider priority. Empty resets
	// every priority.
	Provider string
	// RedoQuery selects documents to reprocess after embedded XML
	// promotion. It must return a document_id column.
	RedoQuery string
	// Timeout bounds each batch transaction. Zero means no limit.
	Timeout time.Duration

	// Script, when set, receives each batch as a psql script instead of
	// writing it to the repository. Documents stay queued, so Run stops
	// after one batch.
	Script io.Writer

	Reporter Reporter
	Logger   *zap.Logger
}

// Engine shreds the documents of one source into one repository. An
// Engine is not safe for concurrent use, except for Stop.
type Engine struct {
	opts     Options
	src      source.Source
	connect  Connector
	reporter Reporter
	log      *zap.Logger

	repo     repository.Repository
	shredder shred.Shredder
	state    State
	stop     atomic.Bool
}

// New validates opts and returns an uninitialized engine.
func New(src source.Source, connect Connector, opts Options) (*Engine, error) {
	if opts.MaxNameLength == 0 {
		opts.MaxNameLength = 63
	}
	if opts.Reporter == nil {
		opts.Reporter = NopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	e := &Engine{
		opts:     opts,
		src:      src,
		connect:  connect,
		reporter: opts.Reporter,
		log:      opts.Logger.With(zap.String("model", opts.Model)),
	}
	if _, err := e.buildShredder(); err != nil {
		return nil, err
	}
	return e, nil
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// newShredder returns a fresh shredder. The options were checked by New.
func (e *Engine) newShredder() shred.Shredder {
	s, _ := e.buildShredder()
	return s
}

func (e *Engine) buildShredder() (shred.Shredder, error) {
	return shred.New(e.opts.Model, shred.Options{
		UseForeignKeys: e.opts.UseForeignKeys,
		MaxNameLength:  e.opts.MaxNameLength,
		NamePolicy:     e.opts.NamePolicy,
		Lists:          e.opts.Lists,
		Logger:         e.log,
	})
}

// Initialize opens the source and the repository, creates or upgrades the
// repository, checks its fixed settings and queues the source documents.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.state != Uninitialized {
		return fmt.Errorf("cannot initialize a %s engine", e.state)
	}

	e.reporter.Phase("Opening source")
	if err := e.src.Open(ctx); err != nil {
		return err
	}

	e.reporter.Phase("Connecting to repository")
	repo, err := e.connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to repository: %w", err)
	}
	e.repo = repo

	steps := []struct {
		phase string
		run   func(context.Context) error
	}{
		{"Preparing repository", e.prepare},
		{"Checking repository settings", e.checkSettings},
		{"Checking for upgrades", e.upgrade},
		{"Importing document list", e.importDocuments},
		{"Setting priorities", e.prioritize},
		{"Loading repository schema", e.loadShredder},
	}
	for _, step := range steps {
		e.reporter.Phase(step.phase)
		if err := step.run(ctx); err != nil {
			return err
		}
	}

	e.state = Ready
	e.log.Info("engine ready")
	return nil
}

// prepare creates the bookkeeping tables of a new repository and records
// its settings.
func (e *Engine) prepare(ctx context.Context) error {
	exists, err := e.repo.TableExists(ctx, schema.DefaultSchema, schema.DocumentsTable)
	if err != nil {
		return fmt.Errorf("checking repository: %w", err)
	}
	if exists {
		return nil
	}

	e.log.Info("creating repository infrastructure")
	return e.inTx(ctx, false, func(tx repository.Tx) error {
		return WriteCreation(ctx, tx, e.newShredder(), e.settings())
	})
}

// settings are the repository properties fixed at creation.
func (e *Engine) settings() map[string]string {
	return map[string]string{
		repository.PropertyModel:          e.opts.Model,
		repository.PropertyUseForeignKeys: repository.FormatProperty(e.opts.UseForeignKeys),
		repository.PropertyMaxNameLength:  strconv.Itoa(e.opts.MaxNameLength),
	}
}

func (e *Engine) upgrade(ctx context.Context) error {
	list := upgrade.For(e.opts.Model == shred.ModelKeyValue, e.opts.RedoQuery)
	pending, err := list.Pending(ctx, e.repo)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	e.log.Info("applying upgrades", zap.Strings("upgrades", pending.Names()))
	return e.inTx(ctx, false, func(tx repository.Tx) error {
		return pending.Apply(ctx, tx)
	})
}

var settingOrder = []string{
	repository.PropertyModel,
	repository.PropertyUseForeignKeys,
	repository.PropertyMaxNameLength,
}

// checkSettings compares the configured settings with the stored ones.
// Settings missing from an older repository are stored; the model of such
// a repository is inferred from its tables.
func (e *Engine) checkSettings(ctx context.Context) error {
	stored, err := e.repo.Properties(ctx)
	if err != nil {
		return fmt.Errorf("reading repository properties: %w", err)
	}
	if stored == nil {
		stored = make(map[string]string)
	}
	_, modelStored := stored[repository.PropertyModel]
	if !modelStored {
		keyValue, err := e.repo.TableExists(ctx, schema.DefaultSchema, schema.VariablesTable)
		if err != nil {
			return fmt.Errorf("checking repository: %w", err)
		}
		stored[repository.PropertyModel] = shred.ModelHierarchical
		if keyValue {
			stored[repository.PropertyModel] = shred.ModelKeyValue
		}
	}

	configured := e.settings()
	missing := make(map[string]string)
	for _, name := range settingOrder {
		value, ok := stored[name]
		if !ok {
			missing[name] = configured[name]
			continue
		}
		if value != configured[name] {
			return &SchemaConflictError{Setting: name, Stored: value, Configured: configured[name]}
		}
	}
	if !modelStored {
		missing[repository.PropertyModel] = stored[repository.PropertyModel]
	}
	if len(missing) == 0 {
		return nil
	}

	e.log.Info("storing repository settings", zap.Int("count", len(missing)))
	return e.inTx(ctx, false, func(tx repository.Tx) error {
		for _, name := range settingOrder {
			if value, ok := missing[name]; ok {
				if err := tx.SetProperty(ctx, name, value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (e *Engine) importDocuments(ctx context.Context) error {
	infos, err := e.src.DocumentMetadata(ctx)
	if err != nil {
		return fmt.Errorf("reading document list: %w", err)
	}
	docs := make([]repository.Document, len(infos))
	for i, info := range infos {
		docs[i] = repository.Document{
			ID:             info.ID,
			Provider:       info.Provider,
			SubjectID:      info.SubjectID,
			GenerationDate: info.GenerationDate,
		}
	}
	n, err := e.repo.ImportDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("importing document list: %w", err)
	}
	e.reporter.Item("New documents", int(n), len(docs))
	e.log.Info("documents queued", zap.Int64("count", n), zap.Int("available", len(docs)))
	return nil
}

func (e *Engine) prioritize(ctx context.Context) error {
	var ids []string
	if e.opts.Provider != "" {
		var err error
		ids, err = e.src.PriorityItems(ctx, e.opts.Provider)
		if err != nil {
			return fmt.Errorf("reading priority documents: %w", err)
		}
	}
	if err := e.repo.SetPriority(ctx, ids); err != nil {
		return fmt.Errorf("setting priorities: %w", err)
	}
	return nil
}

func (e *Engine) loadShredder(ctx context.Context) error {
	s := e.newShredder()
	if err := s.Initialize(ctx, e.repo); err != nil {
		return err
	}
	e.shredder = s
	return nil
}

// Shred processes up to batchSize queued documents and returns how many
// were taken from the queue. Zero means the queue is empty. Malformed
// documents are reported and marked processed without rows.
func (e *Engine) Shred(ctx context.Context, batchSize int) (int, error) {
	if e.state != Ready {
		return 0, ErrNotReady
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if e.shredder == nil {
		e.reporter.Phase("Reloading repository schema")
		if err := e.loadShredder(ctx); err != nil {
			return 0, err
		}
	}

	ids, err := e.repo.PendingBatch(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("reading document queue: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	log := e.log.With(zap.Int("batch_size", len(ids)))

	e.reporter.Phase("Reading documents")
	contents, err := e.src.Content(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("reading documents: %w", err)
	}

	e.reporter.Phase("Shredding documents")
	for i, c := range contents {
		root, err := xmldoc.Parse(c.XML)
		if err != nil {
			merr := &MalformedDocumentError{DocumentID: c.ID, Err: err}
			e.reporter.Warn(merr.Error())
			log.Warn("skipping document", zap.String("document_id", c.ID), zap.Error(err))
			continue
		}
		provider := c.Provider
		if provider == "" {
			provider = source.DefaultProvider
		}
		if err := e.shredder.Import(provider, c.ID, root); err != nil {
			e.shredder = nil
			return 0, fmt.Errorf("shredding document %s: %w", c.ID, err)
		}
		e.reporter.Item("Shredded", i+1, len(contents))
	}

	e.reporter.Phase("Saving changes")
	if err := e.save(ctx, ids); err != nil {
		e.shredder = nil
		return 0, err
	}
	if e.opts.Script != nil {
		// The database did not change; the next script must carry the DDL again.
		e.shredder = nil
	} else {
		e.shredder.Commit()
	}
	log.Info("batch saved")
	return len(ids), nil
}

func (e *Engine) save(ctx context.Context, ids []string) error {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	err := e.inTx(ctx, e.opts.Script != nil, func(tx repository.Tx) error {
		if err := e.shredder.SaveChanges(ctx, tx); err != nil {
			return err
		}
		return tx.MarkProcessed(ctx, ids)
	})
	if err != nil {
		return &TransactionError{Err: err}
	}
	return nil
}

// inTx runs fn in a repository transaction, or in a script block when
// script is set.
func (e *Engine) inTx(ctx context.Context, script bool, fn func(tx repository.Tx) error) error {
	var tx repository.Tx
	if script {
		tx = repository.NewScriptTx(e.opts.Script)
	} else {
		var err error
		if tx, err = e.repo.Begin(ctx); err != nil {
			return err
		}
	}

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			e.log.Error("rollback failed", zap.Error(rerr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Run calls Shred until the queue is empty, when repeat is set, or once
// otherwise. Stop ends the loop before the next batch. It returns the
// number of documents taken from the queue.
func (e *Engine) Run(ctx context.Context, batchSize int, repeat bool) (int, error) {
	total := 0
	for !e.stop.Load() {
		n, err := e.Shred(ctx, batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 || !repeat || e.opts.Script != nil {
			break
		}
	}
	return total, nil
}

// Stop asks Run to return before its next batch. It is safe to call from
// another goroutine.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// Close releases the source and the repository.
func (e *Engine) Close() error {
	if e.state == Disposed {
		return nil
	}
	e.state = Disposed
	e.shredder = nil
	if e.repo != nil {
		e.repo.Close()
	}
	return e.src.Close()
}

// WriteCreation writes the bookkeeping tables of s and the repository
// settings to tx.
func WriteCreation(ctx context.Context, tx repository.Tx, s shred.Shredder, settings map[string]string) error {
	for _, stmt := range s.Infrastructure() {
		if err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating repository: %w", err)
		}
	}
	for _, name := range settingOrder {
		if value, ok := settings[name]; ok {
			if err := tx.SetProperty(ctx, name, value); err != nil {
				return err
			}
		}
	}
	// a new repository only ever holds promoted embedded XML
	return tx.SetProperty(ctx, repository.PropertyEmbeddedXML, "true")
}

// WriteCreationScript writes the creation script of a repository for opts.
func WriteCreationScript(w io.Writer, opts Options) error {
	e, err := New(nil, nil, opts)
	if err != nil {
		return err
	}
	ctx := context.Background()
	tx := repository.NewScriptTx(w)
	if err := WriteCreation(ctx, tx, e.newShredder(), e.settings()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WriteUpgradeScript writes every upgrade that applies to opts. Each
// upgrade is safe to run on an up-to-date repository.
func WriteUpgradeScript(w io.Writer, opts Options) error {
	if _, err := New(nil, nil, opts); err != nil {
		return err
	}
	ctx := context.Background()
	tx := repository.NewScriptTx(w)
	if err := upgrade.For(opts.Model == shred.ModelKeyValue, opts.RedoQuery).Apply(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
