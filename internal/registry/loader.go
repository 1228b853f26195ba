package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/susom/redcap-entity/pkg/types"
)

// schemaFile is the YAML layout of a definition file:
//
//	types:
//	  - name: task
//	    properties:
//	      - {name: title, type: text, required: true}
//	    special_keys: {label: title}
type schemaFile struct {
	Types []types.EntityType `yaml:"types"`
}

// LoadFile parses a .yaml, .yml or .cue definition file and registers
// every type it declares. It returns the names registered.
func (r *Registry) LoadFile(path string) ([]string, error) {
	defs, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for i := range defs {
		if err := r.Register(&defs[i]); err != nil {
			return names, fmt.Errorf("%s: %w", path, err)
		}
		names = append(names, defs[i].Name)
	}
	r.logger.Info("loaded definitions", "path", path, "types", len(names))
	return names, nil
}

// LoadDir loads every definition file directly inside dir in lexical
// order. Failures do not stop the scan; they are returned together.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading schema dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	var names []string
	var result *multierror.Error
	for _, f := range files {
		loaded, err := r.LoadFile(f)
		names = append(names, loaded...)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return names, result.ErrorOrNil()
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// ParseFile decodes the type descriptors in a definition file without
// registering them.
func ParseFile(path string) ([]types.EntityType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(path, data)
	case ".cue":
		return parseCUE(path, data)
	default:
		return nil, fmt.Errorf("%s: unsupported definition format", path)
	}
}

func parseYAML(path string, data []byte) ([]types.EntityType, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Types, nil
}

// parseCUE reads the "entity" struct of a CUE file, one field per type:
//
//	entity: task: {
//		properties: [{name: "title", type: "text", required: true}]
//		special_keys: label: "title"
//	}
//
// The field label is the type name unless the body sets name itself.
func parseCUE(path string, data []byte) ([]types.EntityType, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", path, err)
	}

	entities := value.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, nil
	}
	iter, err := entities.Fields()
	if err != nil {
		return nil, fmt.Errorf("%s: iterating entity: %w", path, err)
	}

	var out []types.EntityType
	for iter.Next() {
		if err := iter.Value().Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("%s: entity.%s: %w", path, iter.Selector(), err)
		}
		raw, err := iter.Value().MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%s: entity.%s: %w", path, iter.Selector(), err)
		}
		var t types.EntityType
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%s: entity.%s: %w", path, iter.Selector(), err)
		}
		if t.Name == "" {
			t.Name = iter.Selector().String()
		}
		out = append(out, t)
	}
	return out, nil
}
