package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/susom/redcap-entity"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the entity version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "entity %s\nmodule: %s\n", version, modulePath)
	},
}
