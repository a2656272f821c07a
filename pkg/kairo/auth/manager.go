package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type StorageMode string

const (
	StorageFile     StorageMode = "file"
	StorageKeychain StorageMode = "keychain"
)

func ParseStorageMode(value string) (StorageMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(StorageFile):
		return StorageFile, nil
	case string(StorageKeychain), "keyring":
		return StorageKeychain, nil
	default:
		return "", fmt.Errorf("%w: unknown token storage %q (use file or keychain)", ErrConfiguration, value)
	}
}

type credentialBackend interface {
	read() ([]byte, error)
	write(content []byte) error
	remove() error
	location() string
}

// TokenStore holds the single local credential. Every operation touches one
// file (or one keychain entry) and is safe to repeat.
type TokenStore struct {
	Path    string
	Mode    StorageMode
	Service string
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

func (s *TokenStore) backend() credentialBackend {
	if s.Mode == StorageKeychain {
		service := s.Service
		if service == "" {
			service = DefaultKeyringService
		}
		return keyringBackend{service: service}
	}
	return fileBackend{path: s.Path}
}

func (s *TokenStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenStore) log() *zap.SugaredLogger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop().Sugar()
}

// Location describes where the credential lives, for status output.
func (s *TokenStore) Location() string {
	return s.backend().location()
}

// Store replaces any existing credential.
func (s *TokenStore) Store(cred StoredCredential) error {
	b := s.backend()
	content, err := encodeCredential(cred)
	if err != nil {
		return &StorageError{Op: "encode", Path: b.location(), Err: err}
	}
	if err := b.write(content); err != nil {
		return &StorageError{Op: "write", Path: b.location(), Err: err}
	}
	s.log().Debugw("Stored credential", "location", b.location(), "expiresAt", cred.ExpiresAt)
	return nil
}

// Load returns the stored credential, or false when none exists or it cannot
// be parsed.
func (s *TokenStore) Load() (StoredCredential, bool) {
	cred, err := s.load()
	if err != nil {
		if !errors.Is(err, errCredentialNotFound) {
			s.log().Debugw("Ignoring stored credential", "error", err)
		}
		return StoredCredential{}, false
	}
	return cred, true
}

func (s *TokenStore) load() (StoredCredential, error) {
	b := s.backend()
	content, err := b.read()
	if err != nil {
		if errors.Is(err, errCredentialNotFound) {
			return StoredCredential{}, err
		}
		return StoredCredential{}, &StorageError{Op: "read", Path: b.location(), Err: err}
	}
	return decodeCredential(content)
}

// Clear removes the credential. Clearing an empty store succeeds.
func (s *TokenStore) Clear() error {
	b := s.backend()
	if err := b.remove(); err != nil {
		return &StorageError{Op: "delete", Path: b.location(), Err: err}
	}
	return nil
}

// IsExpired treats a missing credential as expired.
func (s *TokenStore) IsExpired() bool {
	cred, ok := s.Load()
	if !ok {
		return true
	}
	return cred.Expired(s.now())
}

// RequireAuth returns a usable credential or ErrUnauthenticated. Backend
// failures other than a missing or corrupt credential surface as
// *StorageError.
func (s *TokenStore) RequireAuth() (StoredCredential, error) {
	cred, err := s.load()
	switch {
	case errors.Is(err, errCredentialNotFound):
		return StoredCredential{}, fmt.Errorf("%w: no stored credential", ErrUnauthenticated)
	case errors.Is(err, errCredentialCorrupt):
		return StoredCredential{}, fmt.Errorf("%w: stored credential is unreadable", ErrUnauthenticated)
	case err != nil:
		return StoredCredential{}, err
	}
	if cred.Expired(s.now()) {
		return StoredCredential{}, fmt.Errorf("%w: token expired at %s", ErrUnauthenticated, cred.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return cred, nil
}
