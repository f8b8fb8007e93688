package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hurou927/xmlshred/internal/config"
	"github.com/hurou927/xmlshred/internal/engine"
)

var (
	creationPath string
	upgradePath  string
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Write the repository creation or upgrade script",
	Long: `Writes the psql script that creates an empty repository for the configured
model, or the script that upgrades a repository created by an older release,
instead of running it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (creationPath == "") == (upgradePath == "") {
			return fmt.Errorf("exactly one of --creation and --upgrade is required")
		}
		if len(cfgs) > 1 {
			return fmt.Errorf("script takes a single --config")
		}
		cfg := cfgs[0]

		if creationPath != "" {
			return writeScript(creationPath, cfg, engine.WriteCreationScript)
		}
		return writeScript(upgradePath, cfg, engine.WriteUpgradeScript)
	},
}

func writeScript(path string, cfg *config.Config, write func(io.Writer, engine.Options) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating script file: %w", err)
	}
	defer f.Close()

	if err := write(f, engineOptions(cfg, nil, nil, logger)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Script written to: %s\n", path)
	return f.Close()
}

func init() {
	scriptCmd.Flags().StringVar(&creationPath, "creation", "", "write the creation script to FILE")
	scriptCmd.Flags().StringVar(&upgradePath, "upgrade", "", "write the upgrade script to FILE")
	rootCmd.AddCommand(scriptCmd)
}
