// Package cmd implements the cobra command tree for the kairo CLI: device flow
// login, logout, identity lookup, offline status, version and shell completion.
package cmd
