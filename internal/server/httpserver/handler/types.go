package handler

import (
	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/server/clusterserver"
)

// Connect procedure paths of the admin ClusterService.
const (
	ClusterServiceName = "chatmesh.admin.v1.ClusterService"
	StatusProcedure    = "/" + ClusterServiceName + "/Status"
	SessionsProcedure  = "/" + ClusterServiceName + "/Sessions"
)

// Ready is the /readyz body.
type Ready struct {
	Status   string   `json:"status"`
	ServerID string   `json:"serverId"`
	Peers    []string `json:"peers"`
}

// Status is the Status procedure response.
type Status struct {
	ServerID       string                     `json:"serverId"`
	Version        string                     `json:"version"`
	UptimeSeconds  int64                      `json:"uptimeSeconds"`
	LocalSessions  int                        `json:"localSessions"`
	RemoteSessions int                        `json:"remoteSessions"`
	ConnectedPeers []string                   `json:"connectedPeers"`
	Peers          []clusterserver.PeerStatus `json:"peers"`
}

// SessionFilter is the optional Sessions procedure request.
type SessionFilter struct {
	ServerID  string `json:"serverId,omitempty"`
	ClienteID int64  `json:"clienteId,omitempty"`
	LocalOnly bool   `json:"localOnly,omitempty"`
}

// Session is one row of the Sessions procedure response.
type Session struct {
	domain.RemoteSession
	Local bool `json:"local"`
}

// SessionList is the Sessions procedure response.
type SessionList struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}
