// Package handler serves the admin endpoints of a chat node: liveness,
// readiness, and the ClusterService connect procedures used by chatmesh-cli.
package handler
