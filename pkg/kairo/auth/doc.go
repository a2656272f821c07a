// Package auth implements the OAuth 2.0 device authorization grant for the
// kairo CLI: requesting device codes, polling the token endpoint with
// server-directed backoff, and caching the resulting credential in a file or
// the OS keychain.
package auth
