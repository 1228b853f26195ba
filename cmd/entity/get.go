package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var getCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "Show a record",
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
			return printRecord(cmd.OutOrStdout(), e)
		})
	},
}
