package etl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microdata/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Structural decode: JSON bodies and literal-encoded cells.
// ─────────────────────────────────────────────────────────────

func TestDecodeJSON_PreservesKeyOrder(t *testing.T) {
	v, err := etl.DecodeJSON([]byte(`{"zeta": 1, "alpha": {"b": true, "a": null}, "mid": [1, 2.5, "x"]}`))
	require.NoError(t, err)

	obj := v.Object()
	require.NotNil(t, obj)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, obj.Keys())

	zeta, _ := obj.Get("zeta")
	n, ok := zeta.IntValue()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	alpha, _ := obj.Get("alpha")
	assert.Equal(t, []string{"b", "a"}, alpha.Object().Keys())

	mid, _ := obj.Get("mid")
	require.Len(t, mid.Items(), 3)
	assert.Equal(t, etl.KindInt, mid.Items()[0].Kind())
	assert.Equal(t, etl.KindFloat, mid.Items()[1].Kind())
	assert.Equal(t, "x", mid.Items()[2].Text())
}

func TestDecodeJSON_UnescapesStrings(t *testing.T) {
	v, err := etl.DecodeJSON([]byte(`{"tïtle": "café \"quoted\""}`))
	require.NoError(t, err)
	got, ok := v.Object().Get("tïtle")
	require.True(t, ok)
	assert.Equal(t, `café "quoted"`, got.Text())
}

func TestDecodeJSON_Malformed(t *testing.T) {
	for _, body := range []string{"", "   ", `{"a": `, `[1, 2`} {
		_, err := etl.DecodeJSON([]byte(body))
		assert.ErrorIs(t, err, etl.ErrDecode, "body %q", body)
	}
}

func TestDecodeLiteral_PythonDialect(t *testing.T) {
	v, err := etl.DecodeLiteral(`[{'name': 'A', 'n': 3, 'ok': True, 'x': None}, {"name": "B",},]`)
	require.NoError(t, err)

	items := v.Items()
	require.Len(t, items, 2)
	first := items[0].Object()
	assert.Equal(t, []string{"name", "n", "ok", "x"}, first.Keys())

	n, _ := first.Get("n")
	assert.Equal(t, "3", n.Text())
	ok, _ := first.Get("ok")
	assert.Equal(t, etl.KindBool, ok.Kind())
	x, _ := first.Get("x")
	assert.True(t, x.IsNull())

	name, _ := items[1].Object().Get("name")
	assert.Equal(t, "B", name.Text())
}

func TestDecodeLiteral_EscapesAndTuples(t *testing.T) {
	v, err := etl.DecodeLiteral(`('it\'s', "line\nbreak", -1.5e2)`)
	require.NoError(t, err)
	items := v.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "it's", items[0].Text())
	assert.Equal(t, "line\nbreak", items[1].Text())
	f, ok := items[2].FloatValue()
	assert.True(t, ok)
	assert.Equal(t, -150.0, f)
}

func TestDecodeLiteral_Errors(t *testing.T) {
	for _, text := range []string{
		"",
		"[{'a': 1}",
		"{'a' 1}",
		"[1, 2] trailing",
		"not a literal",
		"{[1]: 2}",
	} {
		_, err := etl.DecodeLiteral(text)
		assert.ErrorIs(t, err, etl.ErrDecode, "text %q", text)
	}
}

func TestValueText_NestedRendersCompactJSON(t *testing.T) {
	obj := etl.NewObject()
	obj.Set("b", etl.String("x"))
	obj.Set("a", etl.List(etl.Int(1), etl.Null()))
	assert.Equal(t, `{"b":"x","a":[1,null]}`, etl.ObjectValue(obj).Text())
	assert.Equal(t, "", etl.Null().Text())
	assert.Equal(t, "2.5", etl.Float(2.5).Text())
}

func TestFromAny_NormalizesNumbers(t *testing.T) {
	v := etl.FromAny(map[string]any{"id": float64(42), "score": 0.5, "tags": []any{"a"}})
	obj := v.Object()
	require.NotNil(t, obj)
	assert.Equal(t, []string{"id", "score", "tags"}, obj.Keys())

	id, _ := obj.Get("id")
	assert.Equal(t, etl.KindInt, id.Kind())
	score, _ := obj.Get("score")
	assert.Equal(t, etl.KindFloat, score.Kind())
}
