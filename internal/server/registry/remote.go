package registry

import (
	"slices"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// RegisterRemoteSession mirrors a session owned by a peer. Reports whether
// the registry changed. Reports about this node's own sessions, or about a
// session id already held locally, are ignored.
func (r *Registry) RegisterRemoteSession(rs domain.RemoteSession) bool {
	if rs.ServerID == "" || rs.ServerID == r.serverID || rs.SessionID == "" {
		return false
	}
	changed := false
	var prevCliente int64
	r.sessions.Compute(rs.SessionID, func(cur *entry, exists bool) (*entry, bool) {
		if exists {
			if cur.desc.Local {
				return cur, true
			}
			if cur.desc.Snapshot().Equal(rs) {
				return cur, true
			}
			prevCliente = cur.desc.ClienteID()
		}
		changed = true
		return &entry{desc: domain.NewRemoteDescriptor(rs)}, true
	})
	if !changed {
		return false
	}
	if prevCliente != rs.ClienteID {
		r.unindex(prevCliente, rs.SessionID)
	}
	r.index(rs.ClienteID, rs.SessionID)
	r.updateGauges()
	return true
}

// RemoveRemoteSession drops one mirrored session of serverID.
func (r *Registry) RemoveRemoteSession(serverID, sessionID string) bool {
	var removed *entry
	r.sessions.Compute(sessionID, func(cur *entry, exists bool) (*entry, bool) {
		if !exists {
			return nil, false
		}
		if cur.desc.Local || cur.desc.ServerID != serverID {
			return cur, true
		}
		removed = cur
		return nil, false
	})
	if removed == nil {
		return false
	}
	r.unindex(removed.desc.ClienteID(), sessionID)
	r.updateGauges()
	return true
}

// RegisterRemoteSessions replaces the full mirrored set for serverID: listed
// sessions are added or updated, unlisted ones are dropped.
func (r *Registry) RegisterRemoteSessions(serverID string, sessions []domain.RemoteSession) bool {
	if serverID == "" || serverID == r.serverID {
		return false
	}
	keep := make(map[string]struct{}, len(sessions))
	changed := false
	for _, rs := range sessions {
		if rs.ServerID == "" {
			rs.ServerID = serverID
		}
		if rs.ServerID != serverID {
			continue
		}
		keep[rs.SessionID] = struct{}{}
		if r.RegisterRemoteSession(rs) {
			changed = true
		}
	}
	for _, d := range r.remoteSessionsOf(serverID) {
		if _, ok := keep[d.SessionID]; ok {
			continue
		}
		if r.RemoveRemoteSession(serverID, d.SessionID) {
			changed = true
		}
	}
	return changed
}

// DrainRemoteSessions removes every session mirrored from serverID and
// returns what was removed.
func (r *Registry) DrainRemoteSessions(serverID string) []domain.RemoteSession {
	var out []domain.RemoteSession
	for _, d := range r.remoteSessionsOf(serverID) {
		snap := d.Snapshot()
		if r.RemoveRemoteSession(serverID, d.SessionID) {
			out = append(out, snap)
		}
	}
	if len(out) > 0 {
		r.logger.Info("remote sessions drained", "server_id", serverID, "count", len(out))
	}
	return out
}

func (r *Registry) remoteSessionsOf(serverID string) []*domain.SessionDescriptor {
	var out []*domain.SessionDescriptor
	r.sessions.Range(func(_ string, e *entry) bool {
		if !e.desc.Local && e.desc.ServerID == serverID {
			out = append(out, e.desc)
		}
		return true
	})
	return out
}

// SnapshotSessionsByServer groups every known session by owning server,
// including this node's local sessions under its own id.
func (r *Registry) SnapshotSessionsByServer() map[string][]domain.RemoteSession {
	out := make(map[string][]domain.RemoteSession)
	r.sessions.Range(func(_ string, e *entry) bool {
		rs := e.desc.Snapshot()
		out[rs.ServerID] = append(out[rs.ServerID], rs)
		return true
	})
	if _, ok := out[r.serverID]; !ok {
		out[r.serverID] = []domain.RemoteSession{}
	}
	return out
}

// KnownRemoteServers returns the ids of peers that contributed sessions.
func (r *Registry) KnownRemoteServers() []string {
	var out []string
	r.sessions.Range(func(_ string, e *entry) bool {
		if !e.desc.Local && !slices.Contains(out, e.desc.ServerID) {
			out = append(out, e.desc.ServerID)
		}
		return true
	})
	slices.Sort(out)
	return out
}

// RemoteCount returns the number of mirrored sessions.
func (r *Registry) RemoteCount() int {
	n := 0
	r.sessions.Range(func(_ string, e *entry) bool {
		if !e.desc.Local {
			n++
		}
		return true
	})
	return n
}
