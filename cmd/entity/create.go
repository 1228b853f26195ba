package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var createDataFile string

var createCmd = &cobra.Command{
	Use:   "create <type> [name=value ...]",
	Short: "Create a record",
	Long: `Create validates the given property values and stores a new record.

Example:
  entity create task title="Write report" done=false due_date=2024-06-01
  entity create task --data task.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			t, err := eng.Registry.ResolveType(args[0])
			if err != nil {
				return err
			}
			values, err := parseAssignments(t, args[1:])
			if err != nil {
				return err
			}
			if err := readDataFile(createDataFile, values); err != nil {
				return err
			}

			e, err := eng.Registry.New(ctx, t.Name)
			if err != nil {
				return err
			}
			if _, err := e.Create(ctx, values); err != nil {
				printValidation(os.Stderr, err)
				return err
			}
			return printRecord(cmd.OutOrStdout(), e)
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&createDataFile, "data", "", "JSON object of property values (- for stdin)")
}
