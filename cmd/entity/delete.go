package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
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
			if err := e.Delete(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %d\n", args[0], id)
			return nil
		})
	},
}
