package secret

import (
	"fmt"
	"os"
	"strings"
)

// SecretStore holds credentials referenced from the config file, such as a
// mirror DSN or the S3 secret key.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Resolver expands "scheme:key" references against named stores.
type Resolver struct {
	stores map[string]SecretStore
}

// NewResolver returns a resolver for the env: and keychain: schemes.
func NewResolver() *Resolver {
	return &Resolver{stores: map[string]SecretStore{
		"env":      EnvStore{},
		"keychain": NewKeychainStore(),
	}}
}

// With registers store under scheme, replacing any previous one.
func (r *Resolver) With(scheme string, store SecretStore) *Resolver {
	r.stores[scheme] = store
	return r
}

// Resolve returns the secret value refers to. Values without a known scheme
// are returned unchanged, so plain DSNs keep working.
func (r *Resolver) Resolve(value string) (string, error) {
	scheme, key, ok := strings.Cut(value, ":")
	if !ok {
		return value, nil
	}
	store, known := r.stores[scheme]
	if !known || key == "" || strings.HasPrefix(key, "//") {
		return value, nil
	}
	secret, err := store.Get(key)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", value, err)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("secret %s: not set", value)
	}
	return string(secret), nil
}

// EnvStore reads secrets from environment variables.
type EnvStore struct{}

func (EnvStore) Set(key string, value []byte) error { return os.Setenv(key, string(value)) }

func (EnvStore) Get(key string) ([]byte, error) {
	return []byte(os.Getenv(key)), nil
}

func (EnvStore) Delete(key string) error { return os.Unsetenv(key) }
