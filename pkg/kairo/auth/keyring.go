package auth

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const (
	DefaultKeyringService = "kairo"
	keyringAccount        = "default"
)

// keyringBackend keeps the credential document in the OS keychain
// (macOS Keychain, Secret Service, Windows Credential Manager).
type keyringBackend struct {
	service string
}

func (b keyringBackend) read() ([]byte, error) {
	secret, err := keyring.Get(b.service, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, errCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

func (b keyringBackend) write(content []byte) error {
	return keyring.Set(b.service, keyringAccount, string(content))
}

func (b keyringBackend) remove() error {
	err := keyring.Delete(b.service, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (b keyringBackend) location() string {
	return "keychain:" + b.service
}
