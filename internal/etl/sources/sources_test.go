package sources_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microdata/internal/etl"
	"microdata/internal/etl/sources"
)

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func newSource(t *testing.T, name string, srv *httptest.Server) etl.Source {
	t.Helper()
	src, err := etl.NewSource(name, etl.SourceConfig{
		ListURL:   srv.URL + "/list",
		DetailURL: srv.URL + "/export/{id}",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return src
}

func titleOf(t *testing.T, rec etl.Record) string {
	t.Helper()
	v, ok := rec.Fields.Get("title")
	require.True(t, ok)
	s, _ := v.Str()
	return s
}

// ─────────────────────────────────────────────────────────────
// World Bank
// ─────────────────────────────────────────────────────────────

func TestWorldBank_ListSkipsRowsWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"records":[{"id":3,"title":"c"},{"title":"no id"},{"id":1,"title":"a"}]}`)
	}))
	defer srv.Close()

	recs, err := newSource(t, sources.WorldBank, srv).List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	id, _ := recs[0].ID()
	assert.Equal(t, int64(3), id)
	assert.Equal(t, "a", titleOf(t, recs[1]))
}

func TestWorldBank_FetchReturnsExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/export/42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = fmt.Fprint(w, `{"title":"survey","study_desc":{"title_statement":{"idno":"X"}}}`)
	}))
	defer srv.Close()

	rec, err := newSource(t, sources.WorldBank, srv).Fetch(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "survey", titleOf(t, rec))
	_, hasID := rec.ID()
	assert.False(t, hasID, "the export carries no id of its own")
}

func TestWorldBank_SpecReflectsOverrides(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	spec := newSource(t, sources.WorldBank, srv).Spec()
	assert.Equal(t, sources.WorldBank, spec.Name)
	assert.Equal(t, srv.URL+"/list", spec.ListURL)
}

// ─────────────────────────────────────────────────────────────
// UNHCR
// ─────────────────────────────────────────────────────────────

func TestUNHCR_ListAndFetch(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/list":
			_, _ = fmt.Fprint(w, `{"result":{"rows":[{"id":"7","title":"seven"}]}}`)
		case "/export/7":
			_, _ = fmt.Fprint(w, `{"title":"detail"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	src := newSource(t, sources.UNHCR, srv)

	recs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec, err := src.Fetch(context.Background(), 7)
	require.NoError(t, err)
	id, ok := rec.ID()
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Contains(t, agent.Load().(string), "Mozilla/5.0")
}

func TestUNHCR_ListMissingPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"result":{}}`)
	}))
	defer srv.Close()

	_, err := newSource(t, sources.UNHCR, srv).List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrDecode)
}

// ─────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────

func TestFetch_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/export/1":
			http.Error(w, "busy", http.StatusServiceUnavailable)
		case "/export/2":
			http.Error(w, "gone", http.StatusNotFound)
		default:
			_, _ = fmt.Fprint(w, `[1,2]`)
		}
	}))
	defer srv.Close()
	src := newSource(t, sources.WorldBank, srv)

	_, err := src.Fetch(context.Background(), 1)
	var se *sources.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, sources.IsTransient(err))

	_, err = src.Fetch(context.Background(), 2)
	require.Error(t, err)
	assert.False(t, sources.IsTransient(err))

	_, err = src.Fetch(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrDecode)
	assert.False(t, sources.IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"rate limited", &sources.StatusError{Code: http.StatusTooManyRequests}, true},
		{"bad request", &sources.StatusError{Code: http.StatusBadRequest}, false},
		{"decode", etl.ErrDecode, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sources.IsTransient(tt.err))
		})
	}
}

func TestNewSource_Unknown(t *testing.T) {
	_, err := etl.NewSource("eurostat", etl.SourceConfig{})
	assert.ErrorIs(t, err, etl.ErrUnknownSource)
}
