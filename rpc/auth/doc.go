// Package auth provides the pluggable credential providers used during login.
//
// A server lists acceptable mechanisms in its login reply ("name[:params]|...").
// The session walks that list in server preference order, asks the matching
// IProvider of the Registry for an initial credential blob, and forwards further
// "auth more" challenges to IProvider.Continue until the server accepts or
// refuses.
//
// Built-in mechanisms:
//   - unix: uid, gid, groups, user and group name of the local process, XDR encoded
//   - host: the local host name
package auth
