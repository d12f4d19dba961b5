package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"microdata/internal/domain"
	"microdata/internal/etl"
)

// SQLiteTableStore persists tables inside the local SQLite database.
// Each row is stored as a JSON array aligned to the table's columns.
type SQLiteTableStore struct {
	db *DB
}

// NewSQLiteTableStore returns a table store backed by db.
func NewSQLiteTableStore(db *DB) *SQLiteTableStore {
	return &SQLiteTableStore{db: db}
}

// Location implements domain.TableStore.
func (s *SQLiteTableStore) Location(key domain.TableKey) string {
	return s.db.Path() + "#" + key.String()
}

// Load implements domain.TableStore.
func (s *SQLiteTableStore) Load(ctx context.Context, key domain.TableKey) (*etl.Table, error) {
	var columnsJSON string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT columns_json FROM tables WHERE source = ? AND kind = ?`,
		key.Source, string(key.Kind),
	).Scan(&columnsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load table %s: %w", key, err)
	}

	columns, err := decodeColumns(columnsJSON)
	if err != nil {
		return nil, fmt.Errorf("load table %s: %w", key, err)
	}
	t := etl.NewTable(columns...)

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT data_json FROM table_rows WHERE source = ? AND kind = ? ORDER BY sort_order`,
		key.Source, string(key.Kind),
	)
	if err != nil {
		return nil, fmt.Errorf("load rows %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row, err := decodeRow(columns, data)
		if err != nil {
			return nil, fmt.Errorf("decode row %d of %s: %w", t.Len(), key, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

// Save implements domain.TableStore. The previous table is replaced in a
// single transaction.
func (s *SQLiteTableStore) Save(ctx context.Context, key domain.TableKey, t *etl.Table) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM table_rows WHERE source = ? AND kind = ?`,
		key.Source, string(key.Kind),
	); err != nil {
		return fmt.Errorf("clear rows %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tables (source, kind, columns_json, row_count, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source, kind) DO UPDATE SET
		   columns_json = excluded.columns_json,
		   row_count = excluded.row_count,
		   updated_at = excluded.updated_at`,
		key.Source, string(key.Kind), encodeColumns(t.Columns), t.Len(), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert table %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO table_rows (source, kind, sort_order, data_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range t.Rows {
		if _, err := stmt.ExecContext(ctx, key.Source, string(key.Kind), i, encodeRow(t.Columns, r)); err != nil {
			return fmt.Errorf("insert row %d of %s: %w", i, key, err)
		}
	}

	return tx.Commit()
}

// ── JSON row codec ─────────────────────────────────────────
// Cells keep their kind: ints stay ints, null stays null.

func encodeColumns(columns []string) string {
	vals := make([]etl.Value, len(columns))
	for i, c := range columns {
		vals[i] = etl.String(c)
	}
	return etl.List(vals...).Text()
}

func decodeColumns(data string) ([]string, error) {
	v, err := etl.DecodeJSON([]byte(data))
	if err != nil {
		return nil, err
	}
	if v.Kind() != etl.KindList {
		return nil, fmt.Errorf("columns: expected list, got %s", v.Kind())
	}
	out := make([]string, 0, len(v.Items()))
	for _, item := range v.Items() {
		out = append(out, item.Text())
	}
	return out, nil
}

func encodeRow(columns []string, r etl.Row) string {
	cells := make([]etl.Value, len(columns))
	for i, c := range columns {
		cells[i] = r[c]
	}
	return etl.List(cells...).Text()
}

func decodeRow(columns []string, data string) (etl.Row, error) {
	v, err := etl.DecodeJSON([]byte(data))
	if err != nil {
		return nil, err
	}
	cells := v.Items()
	if v.Kind() != etl.KindList || len(cells) != len(columns) {
		return nil, fmt.Errorf("expected %d cells", len(columns))
	}
	row := make(etl.Row, len(columns))
	for i, c := range columns {
		row[c] = cells[i]
	}
	return row, nil
}
