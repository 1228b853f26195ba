//go:build mage

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/susom/redcap-entity/internal/registry"
)

// schemaGlobs locate the type definition files shipped with the repo.
var schemaGlobs = []string{
	"internal/*/testdata/*.yaml",
	"internal/*/testdata/*.cue",
	"pkg/*/testdata/schema/*.yaml",
}

// Stats prints Go line counts and a summary of the bundled type
// definitions as one JSON object.
func Stats() error {
	prod, test, err := goLines()
	if err != nil {
		return err
	}
	types, props, byType, broken := schemaSummary()

	record := map[string]any{
		"go_loc_prod":       prod,
		"go_loc_test":       test,
		"go_loc":            prod + test,
		"schema_types":      types,
		"schema_properties": props,
		"schema_by_type":    byType,
		"schema_broken":     broken,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

func goLines() (prod, test int, err error) {
	err = filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch path {
			case "vendor", ".git", "_examples", "magefiles", binaryDir:
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		n, err := countLines(path)
		if err != nil {
			return nil
		}
		if strings.HasSuffix(path, "_test.go") {
			test += n
		} else {
			prod += n
		}
		return nil
	})
	return prod, test, err
}

// schemaSummary parses every bundled definition file. Files that fail to
// parse, such as deliberately broken fixtures, are counted, not fatal.
func schemaSummary() (types, props int, byType map[string]int, broken int) {
	byType = make(map[string]int)
	for _, pattern := range schemaGlobs {
		matches, _ := filepath.Glob(pattern)
		for _, path := range matches {
			defs, err := registry.ParseFile(path)
			if err != nil {
				broken++
				continue
			}
			for _, t := range defs {
				types++
				props += len(t.Properties)
				for _, p := range t.Properties {
					byType[string(p.Type)]++
				}
			}
		}
	}
	return types, props, byType, broken
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
