// Package chatserver serves the client-facing chat protocol: one JSON object
// per line, {"command": "...", "payload": {...}}.
//
// The accept loop enforces the connection ceiling before any handler is
// wired. Accepted sockets are bound to a pooled Handler that registers the
// session in the registry, dispatches commands to the domain services and
// unregisters the session when the socket closes.
package chatserver
