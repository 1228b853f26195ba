package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	isqlite "github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/sqlite"
)

var (
	userEmail          string
	userSuperUser      bool
	userAccountManager bool
	projectTitle       string
	grantRevoke        bool
)

var directoryCmd = &cobra.Command{
	Use:     "directory",
	Aliases: []string{"dir"},
	Short:   "Manage users, projects and project records",
}

var userCmd = &cobra.Command{
	Use:   "user [username]",
	Short: "List users or add one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				u := isqlite.User{
					Username:       args[0],
					Email:          userEmail,
					SuperUser:      userSuperUser,
					AccountManager: userAccountManager,
				}
				if err := eng.Directory.AddUser(ctx, u); err != nil {
					return err
				}
				fmt.Fprintf(out, "saved user %s\n", u.Username)
				return nil
			}
			users, err := eng.Directory.Users(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(out, users)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Username", "Email", "Super user", "Account manager"})
			for _, u := range users {
				tw.AppendRow(table.Row{u.Username, u.Email, u.SuperUser, u.AccountManager})
			}
			tw.Render()
			return nil
		})
	},
}

var projectCmd = &cobra.Command{
	Use:   "project [project-id]",
	Short: "List projects or add one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				p := isqlite.Project{ID: args[0], Title: projectTitle}
				if err := eng.Directory.AddProject(ctx, p); err != nil {
					return err
				}
				fmt.Fprintf(out, "saved project %s\n", p.ID)
				return nil
			}
			projects, err := eng.Directory.Projects(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(out, projects)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Project", "Title"})
			for _, p := range projects {
				tw.AppendRow(table.Row{p.ID, p.Title})
			}
			tw.Render()
			return nil
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <project-id> <username>",
	Short: "Give a user access to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			if grantRevoke {
				if err := eng.Directory.Revoke(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from project %s\n", args[1], args[0])
				return nil
			}
			if err := eng.Directory.Grant(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s access to project %s\n", args[1], args[0])
			return nil
		})
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <project-id> <record-id>",
	Short: "Register a project record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			if err := eng.Directory.AddRecord(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved record %s in project %s\n", args[1], args[0])
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load users, projects, grants and records from YAML",
	Long: `Seed reads a file of the form

  users:
    - username: alice
      email: alice@example.org
  projects:
    - project_id: "17"
      title: Cohort
      users: [alice]
      records: ["1001"]

and writes it in one transaction. Existing entries are updated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *sqlite.Engine) error {
			users, projects, err := eng.Directory.Seed(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d user(s) and %d project(s)\n", users, projects)
			return nil
		})
	},
}

func init() {
	userCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCmd.Flags().BoolVar(&userSuperUser, "super-user", false, "bypass project access checks")
	userCmd.Flags().BoolVar(&userAccountManager, "account-manager", false, "bypass project access checks")
	projectCmd.Flags().StringVar(&projectTitle, "title", "", "project title")
	grantCmd.Flags().BoolVar(&grantRevoke, "revoke", false, "remove access instead")

	directoryCmd.AddCommand(userCmd, projectCmd, grantCmd, recordCmd, seedCmd)
}
