package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/susom/redcap-entity/pkg/types"
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail(fmt.Errorf("writing record: %w", err))
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(fmt.Errorf("writing newline: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flushing buffer: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Export writes every row of t to path as JSONL, one types.Row per line in
// identity order. The file is replaced atomically.
func (s *Store) Export(ctx context.Context, t *types.EntityType, path string) (int, error) {
	rows, err := s.Select(ctx, t, Filter{Order: []Order{{Field: types.ColumnID}}})
	if err != nil {
		return 0, err
	}
	records := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("encoding %s %d: %w", t.Name, row.ID, err)
		}
		records = append(records, b)
	}
	if err := writeJSONL(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Import loads rows written by Export into t's table, keeping their
// identities and timestamps. Rows with an existing identity are replaced.
// Values are written as stored; they are not revalidated. Loading is
// transactional and skips malformed lines and properties t no longer
// declares.
func (s *Store) Import(ctx context.Context, t *types.EntityType, path string) (int, error) {
	records, err := readJSONL(path)
	if err != nil {
		return 0, err
	}
	db, prefix, err := s.backend.conn()
	if err != nil {
		return 0, persistErr("import", t, err)
	}
	table, err := checkTable(t, prefix)
	if err != nil {
		return 0, err
	}

	cols := []string{quoteIdent(types.ColumnID)}
	for _, c := range metaColumns(t) {
		cols = append(cols, quoteIdent(c))
	}
	for _, p := range t.Properties {
		cols = append(cols, quoteIdent(p.Name))
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("import", t, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, persistErr("import", t, err)
	}
	defer stmt.Close()

	n := 0
	for _, rec := range records {
		var row types.Row
		if err := json.Unmarshal(rec, &row); err != nil || row.ID <= 0 {
			continue
		}
		args := []any{row.ID, row.Created, row.Updated}
		if t.Versioned {
			v := row.Version
			if v == 0 {
				v = 1
			}
			args = append(args, v)
		}
		for _, p := range t.Properties {
			v, err := toParam(row.Values[p.Name])
			if err != nil {
				v = nil
			}
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, persistErr("import", t, fmt.Errorf("row %d: %w", row.ID, err))
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErr("import", t, err)
	}
	s.backend.logger.Info("imported rows", "type", t.Name, "rows", n, "path", path)
	return n, nil
}
