package clusterserver

import (
	"encoding/json"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/storage/dbsync"
)

// helloPayload opens every link.
type helloPayload struct {
	ServerID   string `json:"serverId"`
	InstanceID string `json:"instanceId"`
	PeerAddr   string `json:"peerAddr,omitempty"`
}

// syncStatePayload carries session mirrors, database records, or both.
type syncStatePayload struct {
	Servers  map[string][]domain.RemoteSession `json:"servers,omitempty"`
	Topology map[string]adjacency              `json:"topology,omitempty"`
	Database *dbsync.Snapshot                  `json:"database,omitempty"`
}

// adjacency is the set of direct peers one node advertised. A higher Seq
// supersedes a lower one.
type adjacency struct {
	Seq       uint64   `json:"seq"`
	Neighbors []string `json:"neighbors"`
}

type topologyPayload struct {
	ServerID  string   `json:"serverId"`
	Seq       uint64   `json:"seq"`
	Neighbors []string `json:"neighbors"`
}

// userDelivery, channelDelivery and sessionDelivery carry a client EVENT
// payload to the node owning the target sessions.
type userDelivery struct {
	ClienteID int64           `json:"clienteId"`
	Event     json.RawMessage `json:"event"`
}

type channelDelivery struct {
	CanalID int64           `json:"canalId"`
	Event   json.RawMessage `json:"event"`
}

type sessionDelivery struct {
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

type broadcastPayload struct {
	Event json.RawMessage `json:"event"`
}

type goodbyePayload struct {
	ServerID string `json:"serverId"`
	Reason   string `json:"reason,omitempty"`
}

// rawEvent encodes a client event payload once so it can be forwarded verbatim.
func rawEvent(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
