// Package client wraps the HTTP transport shared by every kairo command and
// implements the session lookup against the auth server.
package client
