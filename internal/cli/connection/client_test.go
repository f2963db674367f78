package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/server/clusterserver"
	"github.com/yndnr/chatmesh-go/internal/server/httpserver/handler"
)

type fakeCluster struct{}

func (fakeCluster) ServerID() string           { return "server-a" }
func (fakeCluster) ConnectedPeerIDs() []string { return []string{"server-b"} }
func (fakeCluster) PeerStatuses() []clusterserver.PeerStatus {
	return []clusterserver.PeerStatus{{Endpoint: "b:6050", PeerID: "server-b", Phase: clusterserver.PhaseConnected}}
}

type fakeSessions struct{}

func (fakeSessions) ActiveSessions() []*domain.SessionDescriptor {
	local := domain.NewLocalDescriptor("s-1", "server-a", "10.0.0.1")
	local.SetIdentity(7, "ana", "10.0.0.1")
	remote := domain.NewRemoteDescriptor(domain.RemoteSession{SessionID: "s-9", ServerID: "server-b", ClienteID: 8, Username: "bea"})
	return []*domain.SessionDescriptor{local, remote}
}
func (fakeSessions) TotalConnections() int { return 1 }
func (fakeSessions) RemoteCount() int      { return 1 }

func newTestClient(t *testing.T) (*Client, *string) {
	t.Helper()
	h := handler.New(fakeCluster{}, fakeSessions{}, "v-test", nil)
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second), &ua
}

func TestClient_Status(t *testing.T) {
	c, _ := newTestClient(t)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.ServerID != "server-a" || st.Version != "v-test" || st.LocalSessions != 1 || st.RemoteSessions != 1 {
		t.Errorf("Status() = %+v", st)
	}
	if len(st.Peers) != 1 || st.Peers[0].Phase != clusterserver.PhaseConnected {
		t.Errorf("Peers = %+v", st.Peers)
	}
}

func TestClient_Sessions(t *testing.T) {
	c, _ := newTestClient(t)

	all, err := c.Sessions(context.Background(), handler.SessionFilter{})
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("Total = %d, want 2", all.Total)
	}

	local, err := c.Sessions(context.Background(), handler.SessionFilter{LocalOnly: true})
	if err != nil {
		t.Fatalf("Sessions(local) error = %v", err)
	}
	if local.Total != 1 || local.Sessions[0].Username != "ana" || !local.Sessions[0].Local {
		t.Errorf("Sessions(local) = %+v", local)
	}
}

func TestClient_Ready(t *testing.T) {
	c, ua := newTestClient(t)
	r, err := c.Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if r.ServerID != "server-a" || len(r.Peers) != 1 {
		t.Errorf("Ready() = %+v", r)
	}
	if *ua != agent() {
		t.Errorf("User-Agent = %q, want %q", *ua, agent())
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("127.0.0.1:1", 500*time.Millisecond)
	if c.BaseURL() != "http://127.0.0.1:1" {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("expected error from unreachable node")
	}
}
