package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/server/clusterserver"
)

type fakeCluster struct{ peers []string }

func (f fakeCluster) ServerID() string           { return "server-a" }
func (f fakeCluster) ConnectedPeerIDs() []string { return f.peers }
func (f fakeCluster) PeerStatuses() []clusterserver.PeerStatus {
	out := []clusterserver.PeerStatus{}
	for _, p := range f.peers {
		out = append(out, clusterserver.PeerStatus{PeerID: p, Phase: clusterserver.PhaseConnected})
	}
	return out
}

type fakeSessions struct{ sessions []*domain.SessionDescriptor }

func (f fakeSessions) ActiveSessions() []*domain.SessionDescriptor { return f.sessions }
func (f fakeSessions) TotalConnections() int                       { return 1 }
func (f fakeSessions) RemoteCount() int                            { return 1 }

func newTestHandler() *Handler {
	local := domain.NewLocalDescriptor("s-local", "server-a", "10.0.0.1")
	local.SetIdentity(1, "alice", "10.0.0.1")
	remote := domain.NewRemoteDescriptor(domain.RemoteSession{SessionID: "s-remote", ServerID: "server-b", ClienteID: 2, Username: "bob"})
	return New(fakeCluster{peers: []string{"server-b"}}, fakeSessions{sessions: []*domain.SessionDescriptor{remote, local}}, "1.2.3", nil)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
	var ready Ready
	if err := json.NewDecoder(rec.Body).Decode(&ready); err != nil {
		t.Fatal(err)
	}
	if ready.ServerID != "server-a" || len(ready.Peers) != 1 || ready.Peers[0] != "server-b" {
		t.Errorf("ready = %+v", ready)
	}
}

func TestClusterService(t *testing.T) {
	srv := httptest.NewServer(newTestHandler())
	defer srv.Close()
	ctx := context.Background()

	t.Run("status", func(t *testing.T) {
		client := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+StatusProcedure)
		resp, err := client.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		var st Status
		if err := FromStruct(resp.Msg, &st); err != nil {
			t.Fatal(err)
		}
		if st.ServerID != "server-a" || st.Version != "1.2.3" || st.LocalSessions != 1 || st.RemoteSessions != 1 {
			t.Errorf("status = %+v", st)
		}
		if len(st.Peers) != 1 || st.Peers[0].Phase != clusterserver.PhaseConnected {
			t.Errorf("peers = %+v", st.Peers)
		}
	})

	t.Run("sessions", func(t *testing.T) {
		client := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+SessionsProcedure)

		resp, err := client.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
		if err != nil {
			t.Fatalf("Sessions: %v", err)
		}
		var list SessionList
		if err := FromStruct(resp.Msg, &list); err != nil {
			t.Fatal(err)
		}
		if list.Total != 2 || list.Sessions[0].ServerID != "server-a" || !list.Sessions[0].Local {
			t.Errorf("sessions = %+v", list)
		}

		filter, _ := ToStruct(SessionFilter{ClienteID: 2})
		resp, err = client.CallUnary(ctx, connect.NewRequest(filter))
		if err != nil {
			t.Fatalf("Sessions filtered: %v", err)
		}
		if err := FromStruct(resp.Msg, &list); err != nil {
			t.Fatal(err)
		}
		if list.Total != 1 || list.Sessions[0].Username != "bob" || list.Sessions[0].Local {
			t.Errorf("filtered = %+v", list)
		}
	})
}
