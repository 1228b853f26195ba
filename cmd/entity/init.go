package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and storage",
	Long: `Init creates the configuration directory with a default config.yaml,
the schema directory and the data directory, then creates the tables of
every entity type found in the schema directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaDir, err := resolveSchemaDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(schemaDir, 0o755); err != nil {
			return fmt.Errorf("create schema dir: %w", err)
		}
		eng, err := openEngine(commandContext(cmd))
		if err != nil {
			return err
		}
		defer eng.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "entity store initialized")
		fmt.Fprintln(out, "  config:", configDir)
		fmt.Fprintln(out, "  schema:", schemaDir)
		fmt.Fprintln(out, "  data:  ", eng.Backend.Config().DataDir)
		fmt.Fprintln(out, "  types: ", len(eng.Registry.Types()))
		return nil
	},
}
