// Package shutdown runs the node's ordered stop sequence on SIGINT or
// SIGTERM. Steps run in registration order under one deadline; a failing
// step is logged and the sequence continues.
package shutdown
