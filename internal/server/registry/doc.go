// Package registry tracks every client session known to this node.
//
// Local sessions are backed by a Sink (the client socket). Remote sessions
// are mirrored from peers and exist only to decide which peer must receive a
// delivery; the registry never writes to them directly. Both kinds are
// indexed by session id and by authenticated user id.
//
// Every change to a local session is reported to the PeerNotifier so peers
// can update their mirrors, and delivery helpers forward to the owning peer
// once per server when a target user or channel has remote presence.
package registry
