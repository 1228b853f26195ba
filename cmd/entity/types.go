package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var typesCmd = &cobra.Command{
	Use:   "types [type]",
	Short: "List entity types or describe one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				all := eng.Registry.Types()
				if flagJSON {
					return printJSON(out, all)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Name", "Label", "Properties", "Versioned"})
				for _, t := range all {
					tw.AppendRow(table.Row{t.Name, t.Label, len(t.Properties), t.Versioned})
				}
				tw.Render()
				return nil
			}

			t, err := eng.Registry.ResolveType(args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(out, t)
			}
			roles := make(map[string]string, len(t.SpecialKeys))
			for role, prop := range t.SpecialKeys {
				roles[prop] = string(role)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.SetTitle(t.Label)
			tw.AppendHeader(table.Row{"Property", "Label", "Type", "Required", "Role"})
			for _, p := range t.Properties {
				typ := string(p.Type)
				if p.EntityType != "" {
					typ += " -> " + p.EntityType
				}
				tw.AppendRow(table.Row{p.Name, p.Label, typ, p.Required, roles[p.Name]})
			}
			tw.Render()
			return nil
		})
	},
}
