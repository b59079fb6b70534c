// Package cmd implements the xrdc command-line client. It wires the
// configuration (flags, XRDC_* environment variables, .env files and an
// optional config file) into a connection manager and exposes the file
// operations of the client package as commands.
//
// The package is organized into several subpackages:
//
//   - file: Commands operating on remote files (stat, ls, cat, ping, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See xrdc -help for a list of all commands.
package cmd
