package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultKeychainService is the keychain service collector secrets live under.
const DefaultKeychainService = "microdata-collector"

// exit status of `security` when the item does not exist
const keychainItemNotFound = 44

// KeychainStore implements SecretStore using the macOS Keychain
// via the `security` CLI tool.
type KeychainStore struct {
	service string
}

// NewKeychainStore creates a KeychainStore for DefaultKeychainService.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: DefaultKeychainService}
}

// Set stores a secret, replacing any previous value.
func (k *KeychainStore) Set(key string, value []byte) error {
	out, err := k.security("add-generic-password", key, "-w", string(value), "-U").CombinedOutput()
	if err != nil {
		return fmt.Errorf("keychain set %s: %s: %w", key, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Get retrieves a secret. A missing item is an empty slice and nil error;
// a missing `security` binary is an error.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.security("find-generic-password", key, "-w").Output()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return []byte(strings.TrimSpace(string(out))), nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == keychainItemNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("keychain get %s: %w", key, err)
	}
}

// Delete removes a secret. Deleting a missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	err := k.security("delete-generic-password", key).Run()
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == keychainItemNotFound) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}

func (k *KeychainStore) security(verb, key string, extra ...string) *exec.Cmd {
	args := append([]string{verb, "-a", key, "-s", k.service}, extra...)
	return exec.Command("security", args...)
}
