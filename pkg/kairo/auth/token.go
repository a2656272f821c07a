package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

var (
	errCredentialNotFound = errors.New("no stored credential")
	errCredentialCorrupt  = errors.New("stored credential is unreadable")
)

type StoredCredential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	ServerURL   string    `json:"server_url,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
}

// NewStoredCredential converts a freshly issued token. The scope is taken from
// the token response when the server echoed one.
func NewStoredCredential(token *oauth2.Token, issuedAt time.Time) StoredCredential {
	cred := StoredCredential{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		IssuedAt:    issuedAt.UTC(),
	}
	if !token.Expiry.IsZero() {
		cred.ExpiresAt = token.Expiry.UTC()
	}
	if scope, ok := token.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	return cred
}

// Expired reports whether the credential is past its expiry. A credential
// without a known expiry never expires locally.
func (c StoredCredential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

func encodeCredential(cred StoredCredential) ([]byte, error) {
	content, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return content, nil
}

func decodeCredential(content []byte) (StoredCredential, error) {
	var cred StoredCredential
	if err := json.Unmarshal(content, &cred); err != nil {
		return StoredCredential{}, fmt.Errorf("%w: %w", errCredentialCorrupt, err)
	}
	if cred.AccessToken == "" {
		return StoredCredential{}, fmt.Errorf("%w: access_token is empty", errCredentialCorrupt)
	}
	return cred, nil
}

type fileBackend struct {
	path string
}

func (b fileBackend) read() ([]byte, error) {
	content, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errCredentialNotFound
	}
	return content, err
}

// write replaces the file through a rename in the same directory so a reader
// never observes a partially written credential.
func (b fileBackend) write(content []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (b fileBackend) remove() error {
	err := os.Remove(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b fileBackend) location() string {
	return b.path
}
