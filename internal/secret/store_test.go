package secret

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore map[string]string

func (m mapStore) Set(key string, value []byte) error { m[key] = string(value); return nil }
func (m mapStore) Get(key string) ([]byte, error) { return []byte(m[key]), nil }
func (m mapStore) Delete(key string) error { delete(m, key); return nil }

type failingStore struct{}

func (failingStore) Set(string, []byte) error { return errors.New("locked") }
func (failingStore) Get(string) ([]byte, error) { return nil, errors.New("locked") }
func (failingStore) Delete(string) error { return errors.New("locked") }

func TestResolve(t *testing.T) {
	t.Setenv("MD_TEST_DSN", "postgres://u:pw@db/catalog")
	r := NewResolver().
		With("keychain", mapStore{"warehouse": "mysql://u:pw@db/catalog"}).
		With("vault", failingStore{})

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr string
	}{
		{name: "plain dsn", value: "postgres://db/catalog", want: "postgres://db/catalog"},
		{name: "file path", value: "mirror.db", want: "mirror.db"},
		{name: "env", value: "env:MD_TEST_DSN", want: "postgres://u:pw@db/catalog"},
		{name: "keychain", value: "keychain:warehouse", want: "mysql://u:pw@db/catalog"},
		{name: "unset env", value: "env:MD_TEST_UNSET", wantErr: "not set"},
		{name: "store error", value: "vault:x", wantErr: "locked"},
		{name: "unknown scheme", value: "other:thing", want: "other:thing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvStore(t *testing.T) {
	t.Setenv("MD_TEST_SECRET", "")
	var s EnvStore
	require.NoError(t, s.Set("MD_TEST_SECRET", []byte("v")))
	got, err := s.Get("MD_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	require.NoError(t, s.Delete("MD_TEST_SECRET"))
	got, _ = s.Get("MD_TEST_SECRET")
	assert.Empty(t, got)
}
