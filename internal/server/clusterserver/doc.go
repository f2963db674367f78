// Package clusterserver links chat nodes into a cluster.
//
// A Manager listens on the peer port and dials the configured endpoints.
// Every link starts with a HELLO exchange followed by a SYNC_STATE carrying
// the sender's session mirror and database snapshot. After that, local
// session changes, forwarded deliveries, broadcasts and replicated records
// travel as Envelopes: protowire records framed by a uvarint length.
//
// Envelopes carry their origin server and the route they took. A node
// drops envelopes it originated, envelopes whose route already contains
// it, and ids it has seen recently. State updates are relayed to other
// links only when applying them changed local state.
//
// The replication listeners subscribe to the session event bus and turn
// local events into envelopes. Events produced while applying peer state
// carry the peer as origin and are ignored by the listeners.
//
// Discovery optionally gossips each node's peer address with memberlist.
package clusterserver
