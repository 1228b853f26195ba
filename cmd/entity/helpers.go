package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/pkg/entity"
	"github.com/susom/redcap-entity/pkg/sqlite"
	"github.com/susom/redcap-entity/pkg/types"
)

var errUsage = errors.New("usage")

// openEngine attaches the configured backend and loads the schema. The
// caller must Close the engine. Schema errors are logged, not fatal, so
// records of the types that did load stay reachable.
func openEngine(ctx context.Context) (*sqlite.Engine, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	schemaDir, err := resolveSchemaDir()
	if err != nil {
		return nil, fmt.Errorf("resolve schema dir: %w", err)
	}
	c := types.Config{
		Backend:     cfg.GetString(cfgKeyBackend),
		DataDir:     dataDir,
		TablePrefix: cfg.GetString(cfgKeyTablePrefix),
	}
	eng, err := sqlite.Open(ctx, c, schemaDir, logger)
	if err != nil && eng == nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}
	if err != nil {
		logger.Warn("some entity types failed to load", "error", err)
	}
	return eng, nil
}

// scopedContext carries the configured actor and project. Privilege
// flags come from the directory entry of the actor, or the super_user
// setting for local maintenance.
func scopedContext(ctx context.Context, eng *sqlite.Engine) (context.Context, error) {
	actor := cfg.GetString(cfgKeyActor)
	scope, err := eng.Directory.Scope(ctx, actor, cfg.GetString(cfgKeyProject))
	if err != nil {
		return nil, fmt.Errorf("actor %q: %w", actor, err)
	}
	scope.SuperUser = scope.SuperUser || cfg.GetBool(cfgKeySuperUser)
	return types.WithScope(ctx, scope), nil
}

// withEngine opens the engine, scopes the context and runs fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *sqlite.Engine) error) error {
	ctx := commandContext(cmd)
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()
	ctx, err = scopedContext(ctx, eng)
	if err != nil {
		return err
	}
	return fn(ctx, eng)
}

// parseAssignments turns name=value arguments into property values.
// An empty value clears the property. Boolean properties accept true and
// false as well as 1 and 0; json and data properties take JSON text.
func parseAssignments(t *types.EntityType, args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", errUsage, arg)
		}
		if raw == "" {
			values[name] = nil
			continue
		}
		values[name] = raw
		if p, ok := t.Property(name); ok && p.Type == types.PropertyBoolean {
			if b, err := strconv.ParseBool(raw); err == nil {
				values[name] = b
			}
		}
	}
	return values, nil
}

// readDataFile merges a JSON object from path ("-" for stdin) into values.
func readDataFile(path string, values map[string]any) error {
	if path == "" {
		return nil
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var data map[string]any
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("%w: data file: %v", errUsage, err)
	}
	for k, v := range data {
		if _, set := values[k]; !set {
			values[k] = v
		}
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errUsage, s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRecord writes one record as JSON or as a property table.
func printRecord(w io.Writer, e *entity.Entity) error {
	if flagJSON {
		return printJSON(w, e)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Property", "Value"})
	tw.AppendRow(table.Row{"id", e.ID()})
	tw.AppendRow(table.Row{"type", e.Type().Name})
	if e.Type().Versioned {
		tw.AppendRow(table.Row{"version", e.Version()})
	}
	tw.AppendRow(table.Row{"created", e.Created().Format("2006-01-02 15:04:05")})
	tw.AppendRow(table.Row{"updated", e.Updated().Format("2006-01-02 15:04:05")})
	tw.AppendSeparator()
	for _, name := range e.Type().PropertyNames() {
		v, _ := e.Get(name)
		tw.AppendRow(table.Row{name, formatValue(v)})
	}
	tw.Render()
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// printValidation renders per-property rejections.
func printValidation(w io.Writer, err error) {
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Property", "Problem"})
	for _, name := range sortedKeys(verr.Fields) {
		tw.AppendRow(table.Row{name, verr.Fields[name]})
	}
	tw.Render()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
