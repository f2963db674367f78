// Package metric is the node's Prometheus metrics sink.
//
// A Registry owns its own prometheus.Registry (with Go and process
// collectors) and exposes narrow recording methods keyed by command, result,
// event kind and peer phase. All recording methods are safe on a nil
// *Registry, so components can run without metrics in tests.
package metric
