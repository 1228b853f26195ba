package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/sqlite"
)

var (
	listWhere   []string
	listOrder   string
	listDesc    bool
	listLimit   int
	listOffset  int
	listProject bool
)

// whereOps are the operators accepted in --where.
var whereOps = []string{"!=", "<=", ">=", "=", "<", ">", " like ", " in "}

var listCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "Query records of a type",
	Long: `List prints the records of a type, newest first unless --order is given.

Example:
  entity list task
  entity list task --where done=1 --where "priority>=2" --order due_date
  entity list task --where "title like %report%" --limit 10
  entity list task --where "priority in 1,2" --project-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			q, err := eng.Registry.Query(args[0])
			if err != nil {
				return err
			}
			for _, w := range listWhere {
				field, op, value, err := parseWhere(w)
				if err != nil {
					return err
				}
				q.Condition(field, value, op)
			}
			if listProject {
				q.ScopeToProject(ctx)
			}
			if listOrder != "" {
				q.OrderBy(listOrder, listDesc)
			}
			q.Limit(listLimit, listOffset)

			found, err := q.Execute(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flagJSON {
				return printJSON(out, found)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "No records found.")
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"ID", "Label", "Updated"})
			for _, e := range found {
				tw.AppendRow(table.Row{e.ID(), truncate(e.Label(), 50), e.Updated().Format("2006-01-02 15:04")})
			}
			tw.Render()
			fmt.Fprintf(out, "%d record(s)\n", len(found))
			return nil
		})
	},
}

func init() {
	f := listCmd.Flags()
	f.StringArrayVar(&listWhere, "where", nil, `condition such as done=1, "priority>=2", "title like a%" or "id in 1,2"`)
	f.StringVar(&listOrder, "order", "", "column to sort by")
	f.BoolVar(&listDesc, "desc", false, "sort descending")
	f.IntVar(&listLimit, "limit", 0, "maximum number of results (0 = no limit)")
	f.IntVar(&listOffset, "offset", 0, "results to skip")
	f.BoolVar(&listProject, "project-only", false, "only records of the configured project")
}

// parseWhere splits "field<op>value" at the leftmost operator, preferring
// the longer one on a tie. The value "null" with = or != tests for
// absence; "in" takes a comma-separated list.
func parseWhere(s string) (field, op string, value any, err error) {
	lower := strings.ToLower(s)
	at := -1
	for _, candidate := range whereOps {
		i := strings.Index(lower, candidate)
		if i <= 0 {
			continue
		}
		if at < 0 || i < at || (i == at && len(candidate) > len(op)) {
			at, op = i, candidate
		}
	}
	if at < 0 {
		return "", "", nil, fmt.Errorf("%w: condition %q", errUsage, s)
	}
	field = strings.TrimSpace(s[:at])
	raw := strings.TrimSpace(s[at+len(op):])
	op = strings.TrimSpace(op)
	switch {
	case op == "in":
		items := strings.Split(raw, ",")
		list := make([]any, len(items))
		for j, item := range items {
			list[j] = strings.TrimSpace(item)
		}
		return field, op, list, nil
	case raw == "null" && (op == "=" || op == "!="):
		return field, op, nil, nil
	default:
		return field, op, raw, nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
