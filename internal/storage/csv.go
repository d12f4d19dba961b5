package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"microdata/internal/domain"
	"microdata/internal/etl"
)

// sourceDirs maps a source name to its directory under the data dir when
// the two differ.
var sourceDirs = map[string]string{
	"worldbank": "world_bank",
}

// CSVTableStore keeps each table as <dataDir>/<source>/<kind>.csv.
// Empty cells read back as null; every other cell reads as a string and
// regains its type through schema enforcement.
type CSVTableStore struct {
	dataDir string
}

// NewCSVTableStore returns a CSV store rooted at dataDir.
func NewCSVTableStore(dataDir string) *CSVTableStore {
	return &CSVTableStore{dataDir: dataDir}
}

// Location implements domain.TableStore.
func (s *CSVTableStore) Location(key domain.TableKey) string {
	return filepath.Join(s.SourceDir(key.Source), string(key.Kind)+".csv")
}

// SourceDir returns the directory holding a source's tables.
func (s *CSVTableStore) SourceDir(source string) string {
	dir, ok := sourceDirs[source]
	if !ok {
		dir = source
	}
	return filepath.Join(s.dataDir, dir)
}

// Load implements domain.TableStore.
func (s *CSVTableStore) Load(_ context.Context, key domain.TableKey) (*etl.Table, error) {
	f, err := os.Open(s.Location(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return t, nil
}

// Save implements domain.TableStore. The table is written to a temporary
// file in the same directory and renamed over the previous one.
func (s *CSVTableStore) Save(_ context.Context, key domain.TableKey, t *etl.Table) error {
	path := s.Location(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+string(key.Kind)+"-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, t); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// ── CSV codec ──────────────────────────────────────────────

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, t *etl.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	line := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			line[i] = r[c].Text()
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(r io.Reader) (*etl.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err == io.EOF {
		return etl.NewTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	t := etl.NewTable(header...)
	for {
		line, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", t.Len()+2, err)
		}
		row := make(etl.Row, len(header))
		for i, c := range header {
			if line[i] == "" {
				row[c] = etl.Null()
				continue
			}
			row[c] = etl.String(line[i])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
