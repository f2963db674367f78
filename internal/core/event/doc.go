// Package event implements the in-process session event bus.
//
// Domain services and the connection registry publish typed events; metrics,
// client notification, audit logging and cluster replication subscribe to
// them without knowing about each other. Delivery is synchronous and follows
// subscription order, and each subscriber call is isolated: a panicking
// observer is recovered and logged, and an observer that exceeds the dispatch
// timeout is abandoned so the publisher moves on to the next subscriber.
//
// Events carry an Origin. An empty Origin marks an event produced by this
// node; events produced while applying a peer's replication message carry the
// peer's server id, and replication listeners skip them so that state is never
// echoed back into the cluster.
package event
