package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status implements the ClusterService Status procedure.
func (h *Handler) Status(_ context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	peers := h.cluster.ConnectedPeerIDs()
	if peers == nil {
		peers = []string{}
	}
	st := Status{
		ServerID:       h.cluster.ServerID(),
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		LocalSessions:  h.sessions.TotalConnections(),
		RemoteSessions: h.sessions.RemoteCount(),
		ConnectedPeers: peers,
		Peers:          h.cluster.PeerStatuses(),
	}
	out, err := ToStruct(st)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// Sessions implements the ClusterService Sessions procedure. The request may
// filter by owning server, user id, or locality.
func (h *Handler) Sessions(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var f SessionFilter
	if req.Msg != nil {
		if err := FromStruct(req.Msg, &f); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}

	list := SessionList{Sessions: []Session{}}
	for _, d := range h.sessions.ActiveSessions() {
		rs := d.Snapshot()
		switch {
		case f.ServerID != "" && rs.ServerID != f.ServerID:
			continue
		case f.ClienteID != 0 && rs.ClienteID != f.ClienteID:
			continue
		case f.LocalOnly && !d.Local:
			continue
		}
		list.Sessions = append(list.Sessions, Session{RemoteSession: rs, Local: d.Local})
	}
	slices.SortFunc(list.Sessions, func(a, b Session) int {
		if c := strings.Compare(a.ServerID, b.ServerID); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	list.Total = len(list.Sessions)

	out, err := ToStruct(list)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// ToStruct converts a JSON-tagged value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a protobuf Struct into a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	return json.Unmarshal(raw, v)
}
