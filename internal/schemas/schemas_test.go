package schemas_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microdata/internal/etl"
	"microdata/internal/schemas"
)

// ─────────────────────────────────────────────────────────────
// Embedded source definitions.
// ─────────────────────────────────────────────────────────────

func TestEmbedded_ListsBothSources(t *testing.T) {
	assert.Equal(t, []string{"unhcr", "worldbank"}, schemas.Embedded())
}

func TestLoad_EmbeddedDefinitionsValidate(t *testing.T) {
	for _, source := range schemas.Embedded() {
		t.Run(source, func(t *testing.T) {
			def, err := schemas.Load(source, "")
			require.NoError(t, err)
			assert.Equal(t, source, def.Source)
			assert.Equal(t, etl.KeyColumn, def.Columns[0].Name)
			assert.Equal(t, etl.TypeInt64, def.Columns[0].Type)
			for _, c := range def.Columns[1:] {
				assert.Equal(t, etl.TypeString, c.Type, c.Name)
			}
		})
	}
}

func TestLoad_PrefixTableOrder(t *testing.T) {
	def, err := schemas.Load("worldbank", "")
	require.NoError(t, err)
	require.Len(t, def.Prefixes, 5)
	assert.Equal(t, etl.PrefixRule{From: "study_desc.", To: "study."}, def.Prefixes[0])
	assert.Equal(t, etl.PrefixRule{From: "data_collection.", To: "method."}, def.Prefixes[4])
	assert.Equal(t, "study.study_info.abstract", def.Prefixes.Rename("study_desc.study_info.abstract"))
}

func TestLoad_UnknownSource(t *testing.T) {
	_, err := schemas.Load("nope", "")
	assert.ErrorIs(t, err, schemas.ErrUnknownSchema)
}

func TestLoad_OverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
columns:
  - {name: id, type: int64}
  - name: title
`), 0644))

	def, err := schemas.Load("worldbank", path)
	require.NoError(t, err)
	assert.Equal(t, "worldbank", def.Source)
	assert.Equal(t, []string{"id", "title"}, def.Names())
	assert.Empty(t, def.Prefixes)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no id", "columns:\n  - name: title\n"},
		{"string id", "columns:\n  - name: id\n"},
		{"duplicate", "columns:\n  - {name: id, type: int64}\n  - name: a\n  - name: a\n"},
		{"other source", "source: unhcr\ncolumns:\n  - {name: id, type: int64}\n"},
		{"bad yaml", "columns: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schemas.Parse("worldbank", []byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMarshal_RoundTripsNames(t *testing.T) {
	def, err := schemas.Load("unhcr", "")
	require.NoError(t, err)
	data, err := schemas.Marshal(def)
	require.NoError(t, err)
	back, err := schemas.Parse("unhcr", data)
	require.NoError(t, err)
	assert.Equal(t, def.Names(), back.Names())
}
