// Package domain defines the chat node's core model: users, channels,
// invitations, messages, audit log entries, and the session descriptors the
// connection registry tracks for local and peer-owned sessions.
//
// Identifiers: users, channels, invitations and messages carry int64 ids that
// are unique across the cluster (see storage.IDAllocator); sessions, events and
// replication operations use prefixed lowercase ULIDs.
package domain
