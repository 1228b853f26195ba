package main

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/susom/redcap-entity/internal/logging"
	"github.com/susom/redcap-entity/internal/paths"
)

// Global flag values.
var (
	flagConfigDir string
	flagDataDir   string
	flagSchemaDir string
	flagJSON      bool
)

// cfg holds config.yaml merged with ENTITY_* variables and bound flags.
// Set by PersistentPreRunE so every subcommand can read it.
var (
	cfg       *viper.Viper
	configDir string
	logger    hclog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "entity",
	Short:         "Schema-driven entity records",
	Long:          "entity stores records of schema-defined types in SQLite,\nvalidates their properties and serves them over HTTP.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, err := paths.ResolveConfigDir(flagConfigDir)
		if err != nil {
			return err
		}
		v, err := loadConfig(dir)
		if err != nil {
			return err
		}
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		configDir = dir
		cfg = v
		logger = logging.New(logging.Options{
			Level: cfg.GetString(cfgKeyLogLevel),
			JSON:  cfg.GetBool(cfgKeyLogJSON),
		})
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&flagDataDir, "data-dir", "", "data directory (default: $(CWD)/.entity-db)")
	pf.StringVar(&flagSchemaDir, "schema-dir", "", "entity type definitions (default: <config-dir>/schema)")
	pf.BoolVar(&flagJSON, "json", false, "output as JSON")
	pf.String("actor", "", "acting username")
	pf.String("project", "", "owning project id")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(directoryCmd)
	rootCmd.AddCommand(serveCmd)
}

// resolveDataDir follows --data-dir > config.yaml data_dir > ENTITY_DATA_DIR > $(CWD)/.entity-db.
func resolveDataDir() (string, error) {
	return paths.ResolveDataDir(flagDataDir, cfg.GetString(cfgKeyDataDir))
}

func resolveSchemaDir() (string, error) {
	return paths.ResolveSchemaDir(flagSchemaDir, cfg.GetString(cfgKeySchemaDir), configDir)
}

// commandContext returns the command's context, never nil.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
