package storage_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microdata/internal/domain"
	"microdata/internal/etl"
	"microdata/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Table stores and run history.
// ─────────────────────────────────────────────────────────────

var datasetsKey = domain.TableKey{Source: "worldbank", Kind: domain.KindDatasets}

func sampleTable() *etl.Table {
	t := etl.NewTable("id", "study.title", "study.producers_name")
	t.Rows = []etl.Row{
		{"id": etl.Int(1), "study.title": etl.String("Census, 2010"), "study.producers_name": etl.String("A;B")},
		{"id": etl.Int(2), "study.title": etl.String("line\nbreak"), "study.producers_name": etl.Null()},
	}
	return t
}

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "microdata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCSVStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCSVTableStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datasetsKey, sampleTable()))
	assert.Equal(t, filepath.Join(dir, "world_bank", "datasets.csv"), store.Location(datasetsKey))

	got, err := store.Load(ctx, datasetsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "study.title", "study.producers_name"}, got.Columns)
	require.Equal(t, 2, got.Len())
	// CSV carries no types: ids come back as text, empty cells as null.
	assert.Equal(t, etl.String("1"), got.Get(0, "id"))
	assert.Equal(t, "Census, 2010", got.Get(0, "study.title").Text())
	assert.Equal(t, "line\nbreak", got.Get(1, "study.title").Text())
	assert.True(t, got.Get(1, "study.producers_name").IsNull())

	ids, err := got.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestCSVStore_MissingTableIsNotFound(t *testing.T) {
	store := storage.NewCSVTableStore(t.TempDir())
	_, err := store.Load(context.Background(), domain.TableKey{Source: "unhcr", Kind: domain.KindMetadata})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCSVStore_SaveReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCSVTableStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datasetsKey, sampleTable()))
	smaller := etl.NewTable("id")
	smaller.Rows = []etl.Row{{"id": etl.Int(9)}}
	require.NoError(t, store.Save(ctx, datasetsKey, smaller))

	got, err := store.Load(ctx, datasetsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, got.Columns)
	assert.Equal(t, 1, got.Len())

	entries, err := os.ReadDir(filepath.Join(dir, "world_bank"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "datasets.csv", entries[0].Name())
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	got, err := storage.ReadCSV(strings.NewReader("id,title\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, got.Columns)
	assert.Zero(t, got.Len())
}

func TestWriteCSV_QuotesNestedText(t *testing.T) {
	tbl := etl.NewTable("id", "notes")
	tbl.Rows = []etl.Row{{"id": etl.Int(1), "notes": etl.String(`say "hi"`)}}
	var buf bytes.Buffer
	require.NoError(t, storage.WriteCSV(&buf, tbl))
	assert.Equal(t, "id,notes\n1,\"say \"\"hi\"\"\"\n", buf.String())
}

func TestSQLiteStore_PreservesCellKinds(t *testing.T) {
	store := storage.NewSQLiteTableStore(openDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datasetsKey, sampleTable()))
	got, err := store.Load(ctx, datasetsKey)
	require.NoError(t, err)
	assert.True(t, sampleTable().Equal(got))
	assert.Equal(t, etl.Int(1), got.Get(0, "id"))
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := storage.NewSQLiteTableStore(openDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datasetsKey, sampleTable()))
	smaller := etl.NewTable("id", "title")
	smaller.Rows = []etl.Row{{"id": etl.Int(5), "title": etl.String("x")}}
	require.NoError(t, store.Save(ctx, datasetsKey, smaller))

	got, err := store.Load(ctx, datasetsKey)
	require.NoError(t, err)
	assert.True(t, smaller.Equal(got))
}

func TestSQLiteStore_MissingTableIsNotFound(t *testing.T) {
	store := storage.NewSQLiteTableStore(openDB(t))
	_, err := store.Load(context.Background(), datasetsKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpen_MigrationsAreRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "microdata.db")
	db, err := storage.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = storage.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRunStore_CreateUpdateList(t *testing.T) {
	runs := storage.NewRunStore(openDB(t))
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &domain.RunRecord{Source: "worldbank", Stage: "fetch", StartedAt: base}
	require.NoError(t, runs.CreateRun(first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.RunRunning, first.Status)

	first.Status = domain.RunSuccess
	first.FinishedAt = base.Add(time.Minute)
	first.NewIDs, first.Fetched, first.Failed, first.Rows = 3, 2, 1, 10
	require.NoError(t, runs.UpdateRun(first))

	second := &domain.RunRecord{Source: "unhcr", Stage: "list", StartedAt: base.Add(time.Hour)}
	require.NoError(t, runs.CreateRun(second))

	all, err := runs.ListRuns("", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.True(t, all[0].FinishedAt.IsZero())

	wb, err := runs.ListRuns("worldbank", 10)
	require.NoError(t, err)
	require.Len(t, wb, 1)
	assert.Equal(t, domain.RunSuccess, wb[0].Status)
	assert.Equal(t, 2, wb[0].Fetched)
	assert.Equal(t, 1, wb[0].Failed)
	assert.Equal(t, 10, wb[0].Rows)
}

func TestObjectConfig_Validate(t *testing.T) {
	valid := storage.ObjectConfig{
		Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Region: "us-east-1", Bucket: "microdata",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*storage.ObjectConfig)
	}{
		{"no endpoint", func(c *storage.ObjectConfig) { c.Endpoint = "" }},
		{"scheme in endpoint", func(c *storage.ObjectConfig) { c.Endpoint = "http://localhost:9000" }},
		{"no bucket", func(c *storage.ObjectConfig) { c.Bucket = " " }},
		{"no secret", func(c *storage.ObjectConfig) { c.SecretKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestObjectStore_KeyLayout(t *testing.T) {
	store, err := storage.NewObjectTableStore(storage.ObjectConfig{
		Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Region: "us-east-1",
		Bucket: "microdata", Prefix: "/catalog/",
	})
	require.NoError(t, err)
	assert.Equal(t, "catalog/unhcr/metadata.csv", store.ObjectKey(domain.TableKey{Source: "unhcr", Kind: domain.KindMetadata}))
	assert.Equal(t, "s3://microdata/catalog/worldbank/datasets.csv", store.Location(datasetsKey))
}
