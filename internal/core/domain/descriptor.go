package domain

import (
	"slices"
	"sync"
)

// SessionDescriptor describes one client session known to this node.
//
// A local descriptor belongs to a socket owned by this process. A remote
// descriptor mirrors a session owned by the peer named in ServerID and exists
// only for routing decisions.
type SessionDescriptor struct {
	SessionID string
	ServerID  string
	Local     bool

	mu        sync.RWMutex
	clienteID int64
	username  string
	ip        string
	channels  map[int64]struct{}
}

// NewLocalDescriptor creates an anonymous descriptor for a socket owned by serverID.
func NewLocalDescriptor(sessionID, serverID, ip string) *SessionDescriptor {
	return &SessionDescriptor{
		SessionID: sessionID,
		ServerID:  serverID,
		Local:     true,
		ip:        ip,
		channels:  make(map[int64]struct{}),
	}
}

// NewRemoteDescriptor creates a mirrored descriptor from a peer report.
func NewRemoteDescriptor(rs RemoteSession) *SessionDescriptor {
	d := &SessionDescriptor{
		SessionID: rs.SessionID,
		ServerID:  rs.ServerID,
		clienteID: rs.ClienteID,
		username:  rs.Username,
		ip:        rs.IP,
		channels:  make(map[int64]struct{}, len(rs.Channels)),
	}
	for _, c := range rs.Channels {
		d.channels[c] = struct{}{}
	}
	return d
}

// ClienteID returns the authenticated user id, or 0 for an anonymous session.
func (d *SessionDescriptor) ClienteID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clienteID
}

// Authenticated reports whether a user is attached.
func (d *SessionDescriptor) Authenticated() bool {
	return d.ClienteID() != 0
}

// Username returns the display name of the attached user.
func (d *SessionDescriptor) Username() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.username
}

// IP returns the client address recorded for the session.
func (d *SessionDescriptor) IP() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ip
}

// SetIdentity attaches an authenticated user. An empty ip keeps the current one.
func (d *SessionDescriptor) SetIdentity(clienteID int64, username, ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clienteID = clienteID
	d.username = username
	if ip != "" {
		d.ip = ip
	}
}

// ClearIdentity returns the session to the anonymous state and drops its channels.
func (d *SessionDescriptor) ClearIdentity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clienteID = 0
	d.username = ""
	d.channels = make(map[int64]struct{})
}

// JoinChannel adds a channel. Reports whether the set changed.
func (d *SessionDescriptor) JoinChannel(channelID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[channelID]; ok {
		return false
	}
	d.channels[channelID] = struct{}{}
	return true
}

// LeaveChannel removes a channel. Reports whether the set changed.
func (d *SessionDescriptor) LeaveChannel(channelID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[channelID]; !ok {
		return false
	}
	delete(d.channels, channelID)
	return true
}

// ClearChannels removes every channel.
func (d *SessionDescriptor) ClearChannels() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = make(map[int64]struct{})
}

// InChannel reports whether the session joined channelID.
func (d *SessionDescriptor) InChannel(channelID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.channels[channelID]
	return ok
}

// Channels returns a sorted copy of the joined channels.
func (d *SessionDescriptor) Channels() []int64 {
	d.mu.RLock()
	out := make([]int64, 0, len(d.channels))
	for c := range d.channels {
		out = append(out, c)
	}
	d.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Snapshot returns a value copy suitable for replication.
func (d *SessionDescriptor) Snapshot() RemoteSession {
	d.mu.RLock()
	rs := RemoteSession{
		SessionID: d.SessionID,
		ServerID:  d.ServerID,
		ClienteID: d.clienteID,
		Username:  d.username,
		IP:        d.ip,
	}
	d.mu.RUnlock()
	rs.Channels = d.Channels()
	return rs
}

// RemoteSession is the replicated, immutable form of a session descriptor.
type RemoteSession struct {
	SessionID string  `json:"sessionId"`
	ServerID  string  `json:"serverId"`
	ClienteID int64   `json:"clienteId,omitempty"`
	Username  string  `json:"usuario,omitempty"`
	IP        string  `json:"ip,omitempty"`
	Channels  []int64 `json:"canales,omitempty"`
}

// CompositeID is the cluster-unique key "serverId:sessionId".
func (rs RemoteSession) CompositeID() string {
	return rs.ServerID + ":" + rs.SessionID
}

// Equal compares two snapshots, treating channel lists as sets.
func (rs RemoteSession) Equal(o RemoteSession) bool {
	if rs.SessionID != o.SessionID || rs.ServerID != o.ServerID ||
		rs.ClienteID != o.ClienteID || rs.Username != o.Username || rs.IP != o.IP {
		return false
	}
	a := slices.Clone(rs.Channels)
	b := slices.Clone(o.Channels)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}
