package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrEndpointNotFound = errors.New("device authorization endpoint not found")
	ErrBadRequest       = errors.New("device authorization request rejected")
	ErrNetwork          = errors.New("network error")
	ErrUnknown          = errors.New("device authorization failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrExpiredToken     = errors.New("device code expired")
	ErrProtocol         = errors.New("device token error")
	ErrUnauthenticated  = errors.New("not logged in")
)

// StorageError is returned when the credential backend cannot be read,
// written or cleared.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("failed to %s credential", e.Op)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Hint returns a short, actionable message for errors a user can fix.
func Hint(err error) string {
	var storageErr *StorageError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "Set a client id with --client-id, KAIRO_CLIENT_ID or GITHUB_CLIENT_ID."
	case errors.Is(err, ErrEndpointNotFound):
		return "Make sure your auth server is running and the server URL is correct."
	case errors.Is(err, ErrBadRequest):
		return "Check your client id configuration."
	case errors.Is(err, ErrAccessDenied):
		return "The request was denied in the browser. Run `kairo login` to try again."
	case errors.Is(err, ErrExpiredToken):
		return "The code was not confirmed in time. Run `kairo login` to get a new one."
	case errors.Is(err, ErrUnauthenticated):
		return "Run `kairo login` to authenticate."
	case errors.Is(err, ErrNetwork):
		return "Could not reach the auth server. Check your network and the server URL."
	case errors.As(err, &storageErr):
		if strings.HasPrefix(storageErr.Path, "keychain:") {
			return "Check that the OS keychain is unlocked and accessible."
		}
		return "Check the permissions of " + storageErr.Path + "."
	}
	return ""
}
