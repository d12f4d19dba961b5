package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"microdata/internal/etl"
)

// dialect captures the SQL differences between mirror backends.
type dialect struct {
	quote       func(ident string) string
	placeholder func(n int) string // n is 1-based
	textType    string
	intType     string
}

func (d dialect) columnType(t etl.ColumnType) string {
	if t == etl.TypeInt64 {
		return d.intType
	}
	return d.textType
}

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func questionMark(int) string { return "?" }

// sqlMirror is the shared implementation for MySQL, Postgres, and SQLite.
type sqlMirror struct {
	name       string
	driverName string
	db         *sql.DB
	dialect    dialect
}

// newSQLMirror creates a generic SQL mirror.
func newSQLMirror(name, driverName, dsn string, d dialect) (*sqlMirror, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	// A mirror writes one table at a time; keep the pool small.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlMirror{name: name, driverName: driverName, db: db, dialect: d}, nil
}

func (m *sqlMirror) Name() string { return m.name }

func (m *sqlMirror) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.db.PingContext(ctx)
}

// Replace drops and recreates table with schema's columns, then inserts
// every row, all inside one transaction. MySQL commits DDL implicitly, so
// there a failed insert leaves an empty table rather than the old one.
func (m *sqlMirror) Replace(ctx context.Context, table string, schema etl.Schema, t *etl.Table) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := m.dialect.quote
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+q(table)); err != nil {
		return 0, fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, m.createStatement(table, schema)); err != nil {
		return 0, fmt.Errorf("create %s: %w", table, err)
	}

	if t.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx, m.insertStatement(table, schema))
		if err != nil {
			return 0, fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, len(schema.Columns))
		for i, r := range t.Rows {
			for j, c := range schema.Columns {
				args[j] = r[c.Name].Interface()
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("insert row %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return t.Len(), nil
}

func (m *sqlMirror) createStatement(table string, schema etl.Schema) string {
	q := m.dialect.quote
	defs := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		def := q(c.Name) + " " + m.dialect.columnType(c.Type)
		if c.Name == etl.KeyColumn {
			def += " PRIMARY KEY"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", q(table), strings.Join(defs, ", "))
}

func (m *sqlMirror) insertStatement(table string, schema etl.Schema) string {
	q := m.dialect.quote
	cols := make([]string, len(schema.Columns))
	marks := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = q(c.Name)
		marks[i] = m.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		q(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func (m *sqlMirror) Close() error {
	return m.db.Close()
}
