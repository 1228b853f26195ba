package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var updateDataFile string

var updateCmd = &cobra.Command{
	Use:   "update <type> <id> name=value ...",
	Short: "Change properties of a record",
	Long: `Update validates the given values and writes the properties that changed.
An empty value clears a property.

Example:
  entity update task 12 done=true
  entity update task 12 due_date=`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			e, err := eng.Registry.GetInstance(ctx, args[0], id)
			if err != nil {
				return err
			}
			values, err := parseAssignments(e.Type(), args[2:])
			if err != nil {
				return err
			}
			if err := readDataFile(updateDataFile, values); err != nil {
				return err
			}
			if len(values) == 0 {
				return fmt.Errorf("%w: nothing to update", errUsage)
			}
			if err := e.SetData(ctx, values); err != nil {
				printValidation(os.Stderr, err)
				return err
			}
			if _, err := e.Save(ctx); err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), e)
		})
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateDataFile, "data", "", "JSON object of property values (- for stdin)")
}
