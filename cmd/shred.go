package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hurou927/xmlshred/internal/config"
	"github.com/hurou927/xmlshred/internal/db"
	"github.com/hurou927/xmlshred/internal/engine"
	"github.com/hurou927/xmlshred/internal/repository"
	"github.com/hurou927/xmlshred/internal/source"
)

var scriptPath string

var shredCmd = &cobra.Command{
	Use:   "shred",
	Short: "Shred queued documents into the repository",
	Long: `Queues the documents of the source, then shreds them batch by batch. Each
batch is written in one transaction. With several --config files every
repository is shredded in parallel. Ctrl-C stops after the current batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, cfg := range cfgs {
			if err := cfg.ValidateForShred(); err != nil {
				return err
			}
		}
		if scriptPath != "" && len(cfgs) > 1 {
			return fmt.Errorf("--script takes a single --config")
		}

		var script io.Writer
		if scriptPath != "" {
			f, err := os.Create(scriptPath)
			if err != nil {
				return fmt.Errorf("creating script file: %w", err)
			}
			defer f.Close()
			script = f
		}

		ctx := context.Background()
		var mu sync.Mutex
		engines := make([]*engine.Engine, len(cfgs))
		for i, cfg := range cfgs {
			prefix := ""
			if len(cfgs) > 1 {
				prefix = "[" + filepath.Base(cfgPaths[i]) + "] "
			}
			e, err := newEngine(cfg, script, newProgress(os.Stderr, &mu, prefix),
				logger.With(zap.String("config", cfgPaths[i])))
			if err != nil {
				return err
			}
			engines[i] = e
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		defer signal.Stop(interrupt)
		go func() {
			if _, ok := <-interrupt; ok {
				fmt.Fprintln(os.Stderr, "Stopping after the current batch...")
				for _, e := range engines {
					e.Stop()
				}
			}
		}()

		return runAll(ctx, len(engines), func(ctx context.Context, i int) error {
			e := engines[i]
			defer e.Close()
			if err := e.Initialize(ctx); err != nil {
				return err
			}
			n, err := e.Run(ctx, cfgs[i].Run.BatchSize, cfgs[i].Run.Repeat)
			mu.Lock()
			fmt.Fprintf(os.Stderr, "%s: %d documents processed\n", cfgPaths[i], n)
			mu.Unlock()
			return err
		})
	},
}

// runAll runs n jobs in parallel and returns the first error. A failing job
// does not cancel the others: each repository finishes its own batches.
func runAll(ctx context.Context, n int, job func(ctx context.Context, i int) error) error {
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error { return job(ctx, i) })
	}
	return g.Wait()
}

func init() {
	f := shredCmd.Flags()
	f.StringVar(&scriptPath, "script", "", "write one batch as a psql script to FILE instead of the repository")
	f.Int("batch-size", 0, "documents per batch (run.batch_size)")
	f.Bool("repeat", false, "repeat batches until the queue is empty (run.repeat)")
	f.String("provider", "", "shred the documents of this provider first (source.provider)")
	f.String("folder", "", "read documents from this folder (source.folder)")
	f.String("source-url", "", "read documents with a query, driver://dsn (source.url)")
	f.String("specification", "", "table, SELECT or SQL file of the source query (source.specification)")

	bindSettings(f, map[string]string{
		"batch-size":    "run.batch_size",
		"repeat":        "run.repeat",
		"provider":      "source.provider",
		"folder":        "source.folder",
		"source-url":    "source.url",
		"specification": "source.specification",
	})
	rootCmd.AddCommand(shredCmd)
}

// bindSettings lets each flag of f override the setting it maps to.
func bindSettings(f *pflag.FlagSet, settings map[string]string) {
	for flag, setting := range settings {
		if err := overlay.BindPFlag(setting, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// newEngine wires the source and the repository of cfg into an engine.
func newEngine(cfg *config.Config, script io.Writer, reporter engine.Reporter, log *zap.Logger) (*engine.Engine, error) {
	var src source.Source
	if cfg.Source.Folder != "" {
		fsrc, err := source.NewFilesystem(cfg.Source.Folder, cfg.Source.Pattern)
		if err != nil {
			return nil, err
		}
		src = fsrc
	} else {
		qsrc, err := source.NewQuery(cfg.Source.URL, cfg.Source.Specification, cfg.Source.Timeout)
		if err != nil {
			return nil, err
		}
		src = qsrc
	}

	repoCfg := cfg.Repository
	connect := func(ctx context.Context) (repository.Repository, error) {
		created, err := db.EnsureDatabase(ctx, &repoCfg)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info("created repository database", zap.String("database", repoCfg.Database))
		}
		pool, err := db.NewPool(ctx, &repoCfg)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgres(pool), nil
	}

	return engine.New(src, connect, engineOptions(cfg, script, reporter, log))
}

func engineOptions(cfg *config.Config, script io.Writer, reporter engine.Reporter, log *zap.Logger) engine.Options {
	return engine.Options{
		Model:          cfg.Model.Kind,
		UseForeignKeys: cfg.Model.UseForeignKeys,
		MaxNameLength:  cfg.Model.MaxNameLength,
		NamePolicy:     cfg.NamePolicy(),
		Provider:       cfg.Source.Provider,
		RedoQuery:      cfg.Source.RedoDocumentsQuery,
		Timeout:        cfg.Run.Timeout,
		Script:         script,
		Reporter:       reporter,
		Logger:         log,
	}
}
