package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hurou927/xmlshred/internal/db"
	"github.com/hurou927/xmlshred/internal/graph"
	"github.com/hurou927/xmlshred/internal/schema"
)

var (
	graphFormat  string
	graphSchemas []string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the tables shredded into the repository",
	Long:  `Connects to the repository, introspects the shredded schemas and prints their parent/child structure in the specified format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		for _, cfg := range cfgs {
			pool, err := db.NewPool(ctx, &cfg.Repository)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}

			tables, err := schema.Introspect(ctx, pool, graphSchemas)
			pool.Close()
			if err != nil {
				return fmt.Errorf("introspecting schema: %w", err)
			}

			g := graph.Build(tables)

			switch graphFormat {
			case "mermaid":
				err = graph.WriteMermaid(os.Stdout, g)
			case "text":
				err = graph.WriteText(os.Stdout, g)
			default:
				return fmt.Errorf("unknown format: %s (supported: mermaid, text)", graphFormat)
			}
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", "mermaid", "output format: mermaid or text")
	graphCmd.Flags().StringSliceVar(&graphSchemas, "schema", nil, "schemas to show (default: every provider schema)")
	rootCmd.AddCommand(graphCmd)
}
