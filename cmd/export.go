package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hurou927/xmlshred/internal/db"
	"github.com/hurou927/xmlshred/internal/export"
	"github.com/hurou927/xmlshred/internal/graph"
	"github.com/hurou927/xmlshred/internal/schema"
)

var (
	exportDocuments []string
	exportSchemas   []string
	exportOutput    string
	exportDryRun    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the rows shredded from documents",
	Long:  `Collects every row shredded from the given documents, parents before children, and writes them as a psql script of COPY blocks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(exportDocuments) == 0 {
			return fmt.Errorf("--document is required")
		}
		if len(cfgs) > 1 {
			return fmt.Errorf("export takes a single --config")
		}
		cfg := cfgs[0]
		ctx := context.Background()

		pool, err := db.NewPool(ctx, &cfg.Repository)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		tables, err := schema.Introspect(ctx, pool, exportSchemas)
		if err != nil {
			return fmt.Errorf("introspecting schema: %w", err)
		}

		exporter := export.New(pool, graph.Build(tables), logger, exportDryRun)

		w := os.Stdout
		if !exportDryRun && exportOutput != "" && exportOutput != "-" {
			w, err = os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer w.Close()
		}

		if err := exporter.Export(ctx, w, exportDocuments); err != nil {
			return err
		}

		if !exportDryRun {
			fmt.Fprintln(os.Stderr, "Export complete:")
			for _, line := range exporter.CollectedSummary() {
				fmt.Fprintln(os.Stderr, line)
			}
			if exportOutput != "" && exportOutput != "-" {
				fmt.Fprintf(os.Stderr, "Output written to: %s\n", exportOutput)
			}
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringArrayVar(&exportDocuments, "document", nil, "id of a document to export; repeatable")
	exportCmd.Flags().StringSliceVar(&exportSchemas, "schema", nil, "schemas to export from (default: every provider schema)")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file path (default: stdout)")
	exportCmd.Flags().BoolVar(&exportDryRun, "dry-run", false, "log the queries without running them; use with -v")
	rootCmd.AddCommand(exportCmd)
}
