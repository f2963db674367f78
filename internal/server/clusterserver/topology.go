package clusterserver

import (
	"slices"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
)

// Every node floods the set of peers it links to directly. Mirrored
// sessions of a server that no chain of live links reaches any more are
// drained, whichever link originally brought them.

// nextSeq returns a sequence number above every one this node issued. It is
// seeded from the clock so a restarted node outranks its old adjacency.
func (m *Manager) nextSeq() uint64 {
	for {
		old := m.seq.Load()
		n := max(old+1, uint64(time.Now().UnixNano()))
		if m.seq.CompareAndSwap(old, n) {
			return n
		}
	}
}

func (m *Manager) ownAdjacencyLocked() adjacency {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return adjacency{Seq: m.nextSeq(), Neighbors: ids}
}

// advertiseTopology floods this node's current peer set.
func (m *Manager) advertiseTopology() {
	if m.stopped.Load() {
		return
	}
	m.mu.RLock()
	adj := m.ownAdjacencyLocked()
	m.mu.RUnlock()
	m.notify("", TypeTopology, topologyPayload{ServerID: m.cfg.ServerID, Seq: adj.Seq, Neighbors: adj.Neighbors})
}

// topologySnapshot returns every known adjacency plus this node's own.
func (m *Manager) topologySnapshot() map[string]adjacency {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]adjacency, len(m.topo)+1)
	for id, adj := range m.topo {
		out[id] = adj
	}
	out[m.cfg.ServerID] = m.ownAdjacencyLocked()
	return out
}

// learnAdjacency records adj for serverID unless a newer one is known.
func (m *Manager) learnAdjacency(serverID string, adj adjacency) bool {
	if serverID == "" || serverID == m.cfg.ServerID {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.topo[serverID]; ok && cur.Seq >= adj.Seq {
		return false
	}
	m.topo[serverID] = adj
	return true
}

// reachableLocked walks live links and then advertised adjacencies. The
// exclude node, when set, is treated as gone.
func (m *Manager) reachableLocked(exclude string) map[string]bool {
	seen := map[string]bool{m.cfg.ServerID: true}
	if exclude != "" {
		seen[exclude] = true
	}
	queue := make([]string, 0, len(m.links))
	for id, l := range m.links {
		if !seen[id] && !l.closed() {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range m.topo[id].Neighbors {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	if exclude != "" {
		delete(seen, exclude)
	}
	return seen
}

func (m *Manager) reachable(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reachableLocked("")[serverID]
}

// reachableOnlyThrough returns the servers every path to which runs through
// peerID.
func (m *Manager) reachableOnlyThrough(peerID string) map[string]bool {
	m.mu.RLock()
	all := m.reachableLocked("")
	without := m.reachableLocked(peerID)
	m.mu.RUnlock()
	out := make(map[string]bool)
	for id := range all {
		if id != peerID && !without[id] {
			out[id] = true
		}
	}
	return out
}

// pruneLocked drains the mirrored sessions of every server no live path
// reaches and returns how many were removed. Callers hold mirrorMu.
func (m *Manager) pruneLocked(cause string) int {
	m.mu.RLock()
	reach := m.reachableLocked("")
	m.mu.RUnlock()
	total := 0
	for _, srv := range m.registry.KnownRemoteServers() {
		if reach[srv] {
			continue
		}
		drained := m.registry.DrainRemoteSessions(srv)
		if len(drained) > 0 {
			m.logger.Info("unreachable server drained", "server", srv, "sessions", len(drained), "cause", cause)
		}
		total += len(drained)
	}
	return total
}

// applyTopology records a flooded adjacency and drains whatever became
// unreachable.
func (m *Manager) applyTopology(p *topologyPayload) bool {
	if !m.learnAdjacency(p.ServerID, adjacency{Seq: p.Seq, Neighbors: p.Neighbors}) {
		return false
	}
	m.mirrorMu.Lock()
	drained := m.pruneLocked("topology from " + p.ServerID)
	m.mirrorMu.Unlock()
	if drained > 0 && m.bus != nil {
		m.bus.Publish(event.FromPeer(event.ClusterStateUpdated, p.ServerID, 0, "topology from "+p.ServerID))
	}
	return true
}

// applyServers mirrors the sessions a SYNC_STATE lists. The sender's own set
// is always replaced. When the state came straight from its sender, so is
// the set of every server reachable only through that sender, listed or not.
// Sessions of other servers are merged. Callers hold mirrorMu.
func (m *Manager) applyServers(via, origin string, servers map[string][]domain.RemoteSession) bool {
	if servers == nil {
		return false
	}
	changed := false
	var behind map[string]bool
	if via == origin {
		behind = m.reachableOnlyThrough(origin)
	}
	for srv := range behind {
		if _, listed := servers[srv]; !listed && m.registry.RegisterRemoteSessions(srv, nil) {
			changed = true
		}
	}
	for srv, sessions := range servers {
		switch {
		case srv == m.cfg.ServerID:
		case srv == origin || behind[srv]:
			if m.registry.RegisterRemoteSessions(srv, sessions) {
				changed = true
			}
		case !m.reachable(srv):
		default:
			for _, rs := range sessions {
				if rs.ServerID == "" {
					rs.ServerID = srv
				}
				if m.registry.RegisterRemoteSession(rs) {
					changed = true
				}
			}
		}
	}
	return changed
}
