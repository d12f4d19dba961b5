package dbclient_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microdata/internal/dbclient"
	"microdata/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Mirror exporters.
// ─────────────────────────────────────────────────────────────

var mirrorSchema = etl.Schema{
	Source:  "worldbank",
	Version: 1,
	Columns: []etl.Column{
		{Name: "id", Type: etl.TypeInt64},
		{Name: "study.title_statement.title", Type: etl.TypeString},
	},
}

func mirrorTable(ids ...int64) *etl.Table {
	t := etl.NewTable(mirrorSchema.Names()...)
	for _, id := range ids {
		t.Rows = append(t.Rows, etl.Row{"id": etl.Int(id), "study.title_statement.title": etl.String("survey")})
	}
	return t
}

func TestNewMirror_Rejects(t *testing.T) {
	_, err := dbclient.NewMirror(dbclient.MirrorConfig{Name: "x", Driver: "oracle", DSN: "dsn"}, nil)
	assert.ErrorContains(t, err, "unsupported driver")

	_, err = dbclient.NewMirror(dbclient.MirrorConfig{Name: "x", Driver: dbclient.DriverSQLite}, nil)
	assert.ErrorContains(t, err, "dsn is required")
}

func TestMirrorConfig_TableName(t *testing.T) {
	cfg := dbclient.MirrorConfig{TablePrefix: "microdata_"}
	assert.Equal(t, "microdata_unhcr", cfg.TableName("unhcr"))
}

func TestSQLiteMirror_ReplaceRecreatesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	m, err := dbclient.NewMirror(dbclient.MirrorConfig{Name: "local", Driver: dbclient.DriverSQLite, DSN: path}, nil)
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.TestConnection(ctx))
	assert.Equal(t, "local", m.Name())

	n, err := m.Replace(ctx, "md_worldbank", mirrorSchema, mirrorTable(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	withNull := mirrorTable(7)
	withNull.Rows[0]["study.title_statement.title"] = etl.Null()
	n, err = m.Replace(ctx, "md_worldbank", mirrorSchema, withNull)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var id int64
	var title sql.NullString
	require.NoError(t, db.QueryRow(`SELECT id, "study.title_statement.title" FROM md_worldbank`).Scan(&id, &title))
	assert.Equal(t, int64(7), id)
	assert.False(t, title.Valid)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM md_worldbank`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteMirror_EmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	m, err := dbclient.NewMirror(dbclient.MirrorConfig{Driver: dbclient.DriverSQLite, DSN: path}, nil)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "sqlite", m.Name())
	n, err := m.Replace(context.Background(), "md_unhcr", mirrorSchema, etl.NewTable(mirrorSchema.Names()...))
	require.NoError(t, err)
	assert.Zero(t, n)
}
