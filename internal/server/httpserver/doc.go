// Package httpserver serves the admin port of a chat node: /healthz,
// /readyz, prometheus /metrics and the ClusterService connect procedures.
package httpserver
