package clusterserver

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/core/service"
	"github.com/yndnr/chatmesh-go/internal/server/registry"
	"github.com/yndnr/chatmesh-go/internal/storage"
	"github.com/yndnr/chatmesh-go/internal/storage/dbsync"
	"github.com/yndnr/chatmesh-go/internal/storage/memory"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sink struct {
	mu     sync.Mutex
	frames []registry.Frame
}

func (s *sink) Send(f registry.Frame) error {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *sink) Close() error { return nil }

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type countingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *countingBus) Publish(e event.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *countingBus) count(t event.Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// drainCounter counts the mirrored sessions the manager drains.
type drainCounter struct {
	*registry.Registry
	drained atomic.Int64
}

func (r *drainCounter) DrainRemoteSessions(serverID string) []domain.RemoteSession {
	out := r.Registry.DrainRemoteSessions(serverID)
	r.drained.Add(int64(len(out)))
	return out
}

type countingMetrics struct {
	noopMetrics
	mu sync.Mutex
	in map[string]int
}

func (c *countingMetrics) IncPeerEnvelope(direction, typ string) {
	if direction != "in" {
		return
	}
	c.mu.Lock()
	if c.in == nil {
		c.in = make(map[string]int)
	}
	c.in[typ]++
	c.mu.Unlock()
}

func (c *countingMetrics) received(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in[string(t)]
}

type node struct {
	id      string
	reg     *registry.Registry
	mirror  *drainCounter
	bus     *countingBus
	metrics *countingMetrics
	store   *storage.KVStore
	sync    *dbsync.Coordinator
	peers   *Manager
}

func startNode(t *testing.T, id string, peers ...string) *node {
	t.Helper()
	return startNodeWith(t, id, nil, peers...)
}

func startNodeWith(t *testing.T, id string, tune func(*Config), peers ...string) *node {
	t.Helper()
	store, err := memory.NewStore(context.Background(), id, quietLogger())
	require.NoError(t, err)

	n := &node{id: id, bus: &countingBus{}, metrics: &countingMetrics{}, store: store}
	n.reg = registry.New(id, n.bus, quietLogger())
	n.mirror = &drainCounter{Registry: n.reg}
	n.sync = dbsync.New(store, quietLogger())

	cfg := DefaultConfig()
	cfg.ServerID = id
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Peers = peers
	cfg.ReconnectMin = 20 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond
	cfg.InboundRate = 0
	if tune != nil {
		tune(&cfg)
	}
	n.peers = New(cfg, n.mirror, n.bus, quietLogger(), WithSyncer(n.sync), WithMetrics(n.metrics))
	n.reg.SetPeerNotifier(n.peers)

	require.NoError(t, n.peers.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		n.peers.Stop(ctx)
	})
	return n
}

func (n *node) login(t *testing.T, clienteID int64, usuario string) *sink {
	t.Helper()
	s := &sink{}
	id := n.reg.Register(s, "127.0.0.1")
	require.NoError(t, n.reg.UpdateCliente(id, clienteID, usuario, "127.0.0.1"))
	return s
}

func (n *node) connectedTo(ids ...string) func() bool {
	return func() bool {
		got := n.peers.ConnectedPeerIDs()
		if len(got) != len(ids) {
			return false
		}
		for i := range ids {
			if got[i] != ids[i] {
				return false
			}
		}
		return true
	}
}

func (n *node) dialerOf(peerID string) string {
	if l := n.peers.link(peerID); l != nil && !l.closed() {
		return l.dialerID
	}
	return ""
}

func TestManager_TwoNodeCluster(t *testing.T) {
	a := startNode(t, "server-a")
	b := startNode(t, "server-b", a.peers.Addr().String())
	// Both nodes dial each other; they must converge on one link.
	a.peers.AddEndpoint(b.peers.Addr().String())

	require.Eventually(t, a.connectedTo("server-b"), waitFor, tick)
	require.Eventually(t, b.connectedTo("server-a"), waitFor, tick)
	// The link dialed by the smaller server id survives on both sides.
	require.Eventually(t, func() bool {
		return a.dialerOf("server-b") == "server-a" && b.dialerOf("server-a") == "server-a"
	}, waitFor, tick)

	const alice, bob = int64(1), int64(2)
	aliceA := a.login(t, alice, "alice")
	bobA := a.login(t, bob, "bob")
	aliceB := b.login(t, alice, "alice")

	require.Eventually(t, func() bool { return len(a.reg.SessionsForUser(alice)) == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(b.reg.SessionsForUser(bob)) == 1 }, waitFor, tick)

	t.Run("direct message reaches every session exactly once", func(t *testing.T) {
		msg := service.RealtimeMessage{Evento: service.EventoNewMessage, EmisorID: alice, ReceptorID: bob, TipoConversacion: "DIRECTO",
			Contenido: map[string]any{"texto": "hola"}}
		a.reg.SendToUser(bob, msg)
		a.reg.SendToUser(alice, msg)

		require.Eventually(t, func() bool { return aliceB.count() == 1 }, waitFor, tick)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, bobA.count())
		assert.Equal(t, 1, aliceA.count())
		assert.Equal(t, 1, aliceB.count())

		var got service.RealtimeMessage
		aliceB.mu.Lock()
		first := aliceB.frames[0]
		aliceB.mu.Unlock()
		raw, err := json.Marshal(first.Payload)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "hola", got.Contenido["texto"])
	})

	t.Run("broadcast crosses the link once", func(t *testing.T) {
		before := aliceB.count()
		a.reg.Broadcast(service.BroadcastNotice{Evento: service.EventoBroadcast, Message: "aviso"})
		require.Eventually(t, func() bool { return aliceB.count() == before+1 }, waitFor, tick)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, before+1, aliceB.count())
	})

	t.Run("database updates replicate", func(t *testing.T) {
		ctx := context.Background()
		u := &domain.User{Username: "carol", Email: "carol@example.com", PasswordHash: "h"}
		require.NoError(t, a.store.CreateUser(ctx, u))
		snap, err := a.sync.UserSnapshot(ctx, u.ID)
		require.NoError(t, err)

		a.peers.BroadcastDatabaseUpdate(snap)
		require.Eventually(t, func() bool {
			got, err := b.store.GetUserByEmail(ctx, "carol@example.com")
			return err == nil && got.ID == u.ID
		}, waitFor, tick)
		require.Eventually(t, func() bool { return b.bus.count(event.ClusterStateUpdated) > 0 }, waitFor, tick)
	})

	t.Run("peer stop drains mirrored sessions", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, b.peers.Stop(ctx))

		require.Eventually(t, a.connectedTo(), waitFor, tick)
		require.Eventually(t, func() bool { return len(a.reg.SessionsForUser(alice)) == 1 }, waitFor, tick)
		assert.Equal(t, 0, a.reg.RemoteCount())
		assert.Empty(t, b.reg.KnownRemoteServers())
	})
}

func TestManager_SyncStateOnConnect(t *testing.T) {
	a := startNode(t, "server-a")
	const dave = int64(40)
	a.login(t, dave, "dave")

	ctx := context.Background()
	u := &domain.User{Username: "erin", Email: "erin@example.com", PasswordHash: "h"}
	require.NoError(t, a.store.CreateUser(ctx, u))

	b := startNode(t, "server-b", a.peers.Addr().String())
	require.Eventually(t, b.connectedTo("server-a"), waitFor, tick)

	require.Eventually(t, func() bool { return b.reg.IsUserConnected(dave) }, waitFor, tick)
	require.Eventually(t, func() bool {
		_, err := b.store.GetUserByEmail(ctx, "erin@example.com")
		return err == nil
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		st := b.peers.PeerStatuses()
		return len(st) == 1 && st[0].Phase == PhaseConnected && st[0].PeerID == "server-a"
	}, waitFor, tick)
}

func TestManager_SelfDialStops(t *testing.T) {
	cfg := Config{ServerID: "server-z", ListenAddr: "127.0.0.1:0", AdvertiseAddr: "server-z.invalid:6050"}
	self := New(cfg, registry.New("server-z", nil, quietLogger()), nil, quietLogger())
	require.NoError(t, self.Start(context.Background()))
	defer self.Stop(context.Background())

	self.AddEndpoint(self.Addr().String())
	require.Eventually(t, func() bool { return len(self.PeerStatuses()) == 0 }, waitFor, tick)
	assert.Empty(t, self.ConnectedPeerIDs())
}

type fakeRegistry struct {
	Registry
	mu       sync.Mutex
	upserted []domain.RemoteSession
}

func (f *fakeRegistry) RegisterRemoteSession(rs domain.RemoteSession) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, rs)
	return true
}

// fakeLink installs an open link to peerID that never touches the network.
func fakeLink(m *Manager, peerID string) *link {
	l := &link{peerID: peerID, logger: quietLogger(), done: make(chan struct{})}
	m.mu.Lock()
	m.links[peerID] = l
	m.mu.Unlock()
	return l
}

func TestManager_DispatchDropsEchoes(t *testing.T) {
	reg := &fakeRegistry{}
	m := New(Config{ServerID: "server-a"}, reg, nil, quietLogger())
	from := fakeLink(m, "server-b")
	rs := domain.RemoteSession{SessionID: "s-1", ServerID: "server-b", ClienteID: 9}

	fresh, err := NewEnvelope(TypeClientConnected, "server-b", "", rs)
	require.NoError(t, err)
	m.dispatch(from, fresh)
	m.dispatch(from, fresh)

	own, _ := NewEnvelope(TypeClientConnected, "server-a", "", rs)
	m.dispatch(from, own)

	looped, _ := NewEnvelope(TypeClientConnected, "server-c", "", rs)
	looped.Route = []string{"server-c", "server-a", "server-b"}
	m.dispatch(from, looped)

	assert.Len(t, reg.upserted, 1)
	assert.Equal(t, 1, m.dedup.Len())
}

func TestManager_IgnoresSessionsOfUnreachableServers(t *testing.T) {
	reg := &fakeRegistry{}
	m := New(Config{ServerID: "server-a"}, reg, nil, quietLogger())
	from := fakeLink(m, "server-b")

	stray, err := NewEnvelope(TypeClientConnected, "server-z", "", domain.RemoteSession{SessionID: "z-1", ServerID: "server-z", ClienteID: 3})
	require.NoError(t, err)
	m.dispatch(from, stray)
	assert.Empty(t, reg.upserted)
}

func TestManager_SyncStateReplacesServersBehindSender(t *testing.T) {
	reg := registry.New("server-a", nil, quietLogger())
	m := New(Config{ServerID: "server-a"}, reg, nil, quietLogger())
	from := fakeLink(m, "server-b")

	topo := map[string]adjacency{
		"server-b": {Seq: 1, Neighbors: []string{"server-a", "server-c"}},
		"server-c": {Seq: 1, Neighbors: []string{"server-b"}},
	}
	c1 := domain.RemoteSession{SessionID: "c-1", ServerID: "server-c", ClienteID: 1}
	c2 := domain.RemoteSession{SessionID: "c-2", ServerID: "server-c", ClienteID: 2}
	b1 := domain.RemoteSession{SessionID: "b-1", ServerID: "server-b", ClienteID: 5}

	syncFrom := func(servers map[string][]domain.RemoteSession) {
		t.Helper()
		env, err := NewEnvelope(TypeSyncState, "server-b", "", syncStatePayload{Servers: servers, Topology: topo})
		require.NoError(t, err)
		m.dispatch(from, env)
	}

	syncFrom(map[string][]domain.RemoteSession{"server-b": {b1}, "server-c": {c1, c2}})
	require.Equal(t, 3, reg.RemoteCount())

	t.Run("unlisted sessions of a server behind the sender are dropped", func(t *testing.T) {
		syncFrom(map[string][]domain.RemoteSession{"server-b": {b1}, "server-c": {c1}})
		assert.Equal(t, 2, reg.RemoteCount())
		assert.False(t, reg.IsUserConnected(2))
	})

	t.Run("an unlisted server behind the sender is emptied", func(t *testing.T) {
		syncFrom(map[string][]domain.RemoteSession{"server-b": {b1}})
		assert.Equal(t, 1, reg.RemoteCount())
		assert.Equal(t, []string{"server-b"}, reg.KnownRemoteServers())
	})

	t.Run("a newer adjacency without the path drains the server", func(t *testing.T) {
		syncFrom(map[string][]domain.RemoteSession{"server-b": {b1}, "server-c": {c1}})
		require.Equal(t, 2, reg.RemoteCount())

		env, err := NewEnvelope(TypeTopology, "server-b", "", topologyPayload{ServerID: "server-b", Seq: 2, Neighbors: []string{"server-a"}})
		require.NoError(t, err)
		m.dispatch(from, env)
		assert.Equal(t, []string{"server-b"}, reg.KnownRemoteServers())

		stale, err := NewEnvelope(TypeTopology, "server-b", "", topologyPayload{ServerID: "server-b", Seq: 1, Neighbors: []string{"server-a", "server-c"}})
		require.NoError(t, err)
		m.dispatch(from, stale)
		assert.False(t, m.reachable("server-c"))
	})
}

func TestManager_RelayedSessionsLeaveWithTheirLink(t *testing.T) {
	b := startNode(t, "server-b")
	a := startNode(t, "server-a", b.peers.Addr().String())
	c := startNode(t, "server-c", b.peers.Addr().String())
	require.Eventually(t, b.connectedTo("server-a", "server-c"), waitFor, tick)
	require.Eventually(t, a.connectedTo("server-b"), waitFor, tick)
	require.Eventually(t, c.connectedTo("server-b"), waitFor, tick)

	const alice = int64(7)
	c.login(t, alice, "alice")
	require.Eventually(t, func() bool { return a.reg.IsUserConnected(alice) }, waitFor, tick)
	assert.Equal(t, []string{"server-c"}, a.reg.KnownRemoteServers())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, b.peers.Stop(ctx))

	require.Eventually(t, a.connectedTo(), waitFor, tick)
	require.Eventually(t, func() bool { return !a.reg.IsUserConnected(alice) }, waitFor, tick)
	assert.Equal(t, 0, a.reg.RemoteCount())
	assert.Empty(t, a.reg.KnownRemoteServers())
	assert.True(t, c.reg.IsUserConnected(alice))
}

func TestManager_AbruptLinkLossDrainsAndResyncs(t *testing.T) {
	b := startNode(t, "server-b")
	a := startNode(t, "server-a", b.peers.Addr().String())
	require.Eventually(t, a.connectedTo("server-b"), waitFor, tick)

	const alice = int64(11)
	b.login(t, alice, "alice")
	require.Eventually(t, func() bool { return a.reg.IsUserConnected(alice) }, waitFor, tick)

	old := a.peers.link("server-b")
	require.NotNil(t, old)
	syncs := a.metrics.received(TypeSyncState)
	drained := a.mirror.drained.Load()

	// Drop the socket under the link: no GOODBYE is exchanged.
	lost := time.Now()
	require.NoError(t, old.conn.Close())

	require.Eventually(t, func() bool { return a.mirror.drained.Load() > drained }, waitFor, tick)
	require.Eventually(t, func() bool {
		l := a.peers.link("server-b")
		return l != nil && l != old && !l.closed()
	}, waitFor, tick)
	assert.GreaterOrEqual(t, time.Since(lost), a.peers.cfg.ReconnectMin/2, "redial waits out the backoff")

	require.Eventually(t, func() bool { return a.metrics.received(TypeSyncState) > syncs }, waitFor, tick)
	require.Eventually(t, func() bool { return a.reg.IsUserConnected(alice) }, waitFor, tick)
	require.Eventually(t, b.connectedTo("server-a"), waitFor, tick)
}

func TestManager_StopSaysGoodbyeBeforeCancelling(t *testing.T) {
	// A slow inbound rate keeps the reader parked in the limiter while Stop runs.
	a := startNodeWith(t, "server-a", func(c *Config) { c.InboundRate = 1 })

	conn, err := net.Dial("tcp", a.peers.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	write := func(env *Envelope) {
		t.Helper()
		frame, err := EncodeFrame(env)
		require.NoError(t, err)
		_, err = conn.Write(frame)
		require.NoError(t, err)
	}

	hello, err := NewEnvelope(TypeHello, "server-x", "", helloPayload{ServerID: "server-x", InstanceID: "x-1"})
	require.NoError(t, err)
	write(hello)
	br := bufio.NewReader(conn)
	got, err := ReadFrame(br)
	require.NoError(t, err)
	require.Equal(t, TypeHello, got.Type)
	require.Eventually(t, a.connectedTo("server-x"), waitFor, tick)

	for seq := uint64(1); seq <= 3; seq++ {
		env, err := NewEnvelope(TypeTopology, "server-x", "", topologyPayload{ServerID: "server-x", Seq: seq, Neighbors: []string{"server-a"}})
		require.NoError(t, err)
		write(env)
	}
	require.Eventually(t, func() bool { return a.metrics.received(TypeTopology) >= 2 }, waitFor, tick)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		stopped <- a.peers.Stop(ctx)
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var bye *Envelope
	for bye == nil {
		env, err := ReadFrame(br)
		require.NoError(t, err, "link closed before GOODBYE")
		if env.Type == TypeGoodbye {
			bye = env
		}
	}
	var p goodbyePayload
	require.NoError(t, json.Unmarshal(bye.Payload, &p))
	assert.Equal(t, "server-a", p.ServerID)
	assert.Equal(t, "shutdown", p.Reason)
	require.NoError(t, <-stopped)
}
