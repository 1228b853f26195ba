package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var exportCmd = &cobra.Command{
	Use:   "export <type> <file.jsonl>",
	Short: "Write all records of a type to a JSONL file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			t, err := eng.Registry.ResolveType(args[0])
			if err != nil {
				return err
			}
			n, err := eng.Backend.Store().Export(ctx, t, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d %s record(s) to %s\n", n, t.Name, args[1])
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <type> <file.jsonl>",
	Short: "Load records of a type from a JSONL file",
	Long: `Import inserts or replaces records by identity. Values are stored as
exported; they are not validated again.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			t, err := eng.Registry.ResolveType(args[0])
			if err != nil {
				return err
			}
			n, err := eng.Backend.Store().Import(ctx, t, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d %s record(s) from %s\n", n, t.Name, args[1])
			return nil
		})
	},
}
