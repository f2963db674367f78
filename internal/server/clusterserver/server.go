package clusterserver

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/server/registry"
	"github.com/yndnr/chatmesh-go/internal/storage/dbsync"
)

// Endpoint phases.
const (
	PhaseDisconnected = "disconnected"
	PhaseConnecting   = "connecting"
	PhaseConnected    = "connected"
)

// Config configures a Manager.
type Config struct {
	// ServerID identifies this node in every envelope it originates.
	ServerID string
	// ListenAddr is the peer port listen address.
	ListenAddr string
	// AdvertiseAddr is announced in HELLO and through discovery. Defaults to
	// the bound listen address.
	AdvertiseAddr string
	// Peers is the static endpoint list dialed on Start.
	Peers []string

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	SendQueue        int
	InboundRate      float64
	DedupWindow      int
}

// DefaultConfig returns a Config with the standard timeouts.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":6050",
		DialTimeout:      3 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		SendQueue:        256,
		InboundRate:      500,
		DedupWindow:      DefaultDedupWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = d.ReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(d.ReconnectMax, c.ReconnectMin)
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	return c
}

// Registry is the session registry surface the manager mirrors into and
// delivers through.
type Registry interface {
	RegisterRemoteSession(rs domain.RemoteSession) bool
	RemoveRemoteSession(serverID, sessionID string) bool
	RegisterRemoteSessions(serverID string, sessions []domain.RemoteSession) bool
	DrainRemoteSessions(serverID string) []domain.RemoteSession
	SnapshotSessionsByServer() map[string][]domain.RemoteSession
	KnownRemoteServers() []string
	DeliverToUserLocally(clienteID int64, payload any) int
	DeliverToChannelLocally(channelID int64, payload any) int
	DeliverToSessionLocally(sessionID string, payload any) error
	BroadcastLocally(payload any) int
}

// Syncer captures and applies database snapshots.
type Syncer interface {
	Capture(ctx context.Context) (*dbsync.Snapshot, error)
	Apply(ctx context.Context, snap *dbsync.Snapshot) (bool, error)
}

// Publisher publishes events produced by applying peer state.
type Publisher interface {
	Publish(e event.Event)
}

// Metrics receives peer traffic counters.
type Metrics interface {
	SetPeerPhase(peer, phase string)
	ForgetPeer(peer string)
	IncPeerEnvelope(direction, typ string)
	IncPeerRelay(typ string)
	IncPeerDuplicate()
}

type noopMetrics struct{}

func (noopMetrics) SetPeerPhase(string, string)    {}
func (noopMetrics) ForgetPeer(string)              {}
func (noopMetrics) IncPeerEnvelope(string, string) {}
func (noopMetrics) IncPeerRelay(string)            {}
func (noopMetrics) IncPeerDuplicate()              {}

// InboundHandler applies a custom envelope type. Envelopes handled this way
// are always relayed onward.
type InboundHandler func(ctx context.Context, origin string, payload json.RawMessage) error

// PeerStatus describes one endpoint or inbound peer.
type PeerStatus struct {
	Endpoint string `json:"endpoint,omitempty"`
	PeerID   string `json:"peerId,omitempty"`
	Phase    string `json:"phase"`
	Inbound  bool   `json:"inbound,omitempty"`
}

type endpoint struct {
	addr   string
	phase  string
	peerID string
}

var errSelfDial = errors.New("dialed own peer listener")

// Manager owns the peer links of one node: it listens on the peer port,
// dials configured and discovered endpoints, and moves replication
// envelopes between the registry, the database coordinator and peers.
type Manager struct {
	cfg        Config
	instanceID string
	registry   Registry
	syncer     Syncer
	bus        Publisher
	metrics    Metrics
	logger     *slog.Logger
	dedup      *dedupWindow

	mu        sync.RWMutex
	links     map[string]*link
	endpoints map[string]*endpoint
	handlers  map[Type]InboundHandler
	topo      map[string]adjacency
	seq       atomic.Uint64

	// mirrorMu serialises session mirroring against reachability pruning.
	mirrorMu sync.Mutex

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(mg *Manager) {
		if m != nil {
			mg.metrics = m
		}
	}
}

// WithSyncer sets the database coordinator used for SYNC_STATE.
func WithSyncer(s Syncer) Option {
	return func(mg *Manager) { mg.syncer = s }
}

// New creates a Manager. The registry must be told about the manager
// separately through SetPeerNotifier.
func New(cfg Config, reg Registry, bus Publisher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		instanceID: domain.NewOpID(),
		registry:   reg,
		bus:        bus,
		metrics:    noopMetrics{},
		logger:     logger.With("component", "peers", "server_id", cfg.ServerID),
		dedup:      newDedupWindow(cfg.DedupWindow),
		links:      make(map[string]*link),
		endpoints:  make(map[string]*endpoint),
		handlers:   make(map[Type]InboundHandler),
		topo:       make(map[string]adjacency),
	}
	for _, o := range opts {
		o(m)
	}
	for _, addr := range cfg.Peers {
		m.endpoints[addr] = &endpoint{addr: addr, phase: PhaseDisconnected}
	}
	return m
}

// ServerID returns this node's id.
func (m *Manager) ServerID() string { return m.cfg.ServerID }

// Handle registers h for envelopes of type t. Must be called before Start.
func (m *Manager) Handle(t Type, h InboundHandler) {
	m.mu.Lock()
	m.handlers[t] = h
	m.mu.Unlock()
}

// Start binds the peer port and begins accepting and dialing. A bind
// failure is returned; dial failures are retried in the background.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("peer manager already started")
	}
	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on peer port %s: %w", m.cfg.ListenAddr, err)
	}
	m.listener = ln
	if m.cfg.AdvertiseAddr == "" {
		m.cfg.AdvertiseAddr = ln.Addr().String()
	}
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))

	m.wg.Add(1)
	go m.acceptLoop()

	m.mu.Lock()
	for _, ep := range m.endpoints {
		m.startDialLocked(ep)
	}
	m.mu.Unlock()

	m.logger.Info("peer manager started", "listen", ln.Addr().String(), "peers", m.cfg.Peers)
	return nil
}

// Addr returns the bound peer address, or nil before Start.
func (m *Manager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// AdvertiseAddr returns the peer address announced to other nodes.
func (m *Manager) AdvertiseAddr() string { return m.cfg.AdvertiseAddr }

// AddEndpoint starts dialing addr unless it is already known or is this
// node's own address.
func (m *Manager) AddEndpoint(addr string) {
	if addr == "" || addr == m.cfg.AdvertiseAddr || addr == m.cfg.ListenAddr {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[addr]; ok {
		return
	}
	ep := &endpoint{addr: addr, phase: PhaseDisconnected}
	m.endpoints[addr] = ep
	m.logger.Info("peer endpoint added", "endpoint", addr)
	if m.started.Load() && !m.stopped.Load() {
		m.startDialLocked(ep)
	}
}

func (m *Manager) startDialLocked(ep *endpoint) {
	m.wg.Add(1)
	go m.dialLoop(ep.addr)
}

// Stop says goodbye to every peer, closes all links and waits for the
// background goroutines. Mirrored sessions of every peer are drained. The
// manager context is cancelled only once every GOODBYE is flushed.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.listener.Close()

	env, err := NewEnvelope(TypeGoodbye, m.cfg.ServerID, "", goodbyePayload{ServerID: m.cfg.ServerID, Reason: "shutdown"})
	var bye []byte
	if err == nil {
		bye, err = EncodeFrame(env)
	}
	links := m.snapshotLinks()
	for _, l := range links {
		if err == nil {
			l.sayGoodbye(bye)
		} else {
			l.close()
		}
	}
	for _, l := range links {
		select {
		case <-l.done:
		case <-ctx.Done():
			l.close()
		}
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for peer goroutines: %w", ctx.Err())
	}
	m.logger.Info("peer manager stopped", "links", len(links))
	return nil
}

// ConnectedPeerIDs returns the ids of peers with an established link, sorted.
func (m *Manager) ConnectedPeerIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// PeerStatuses reports every configured or discovered endpoint plus
// inbound-only peers, ordered by endpoint then peer id.
func (m *Manager) PeerStatuses() []PeerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerStatus, 0, len(m.endpoints)+len(m.links))
	covered := make(map[string]bool)
	for _, ep := range m.endpoints {
		out = append(out, PeerStatus{Endpoint: ep.addr, PeerID: ep.peerID, Phase: ep.phase})
		if ep.phase == PhaseConnected {
			covered[ep.peerID] = true
		}
	}
	for id, l := range m.links {
		if !covered[id] {
			out = append(out, PeerStatus{Endpoint: l.peerAddr, PeerID: id, Phase: PhaseConnected, Inbound: !l.outbound})
		}
	}
	slices.SortFunc(out, func(a, b PeerStatus) int {
		return cmp.Or(strings.Compare(a.Endpoint, b.Endpoint), strings.Compare(a.PeerID, b.PeerID))
	})
	return out
}

// ====================================================================
// Connection management
// ====================================================================

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	var delay time.Duration
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(delay*2, 5*time.Millisecond), time.Second)
				time.Sleep(delay)
				continue
			}
			m.logger.Error("peer accept failed", "error", err)
			return
		}
		delay = 0
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			l, err := m.handshake(conn, false)
			if err != nil {
				m.logger.Debug("inbound peer handshake failed", "remote_addr", conn.RemoteAddr().String(), "error", err)
				conn.Close()
				return
			}
			if winner := m.attach(l); winner == l && !l.closed() {
				m.run(l)
			}
		}()
	}
}

func (m *Manager) dialLoop(addr string) {
	defer m.wg.Done()
	backoff := m.cfg.ReconnectMin
	for {
		if m.ctx.Err() != nil || m.stopped.Load() {
			m.setPhase(addr, PhaseDisconnected, "")
			return
		}
		if l := m.linkForEndpoint(addr); l != nil {
			m.setPhase(addr, PhaseConnected, l.peerID)
			if !m.waitLink(l) {
				return
			}
			continue
		}

		m.setPhase(addr, PhaseConnecting, "")
		l, err := m.dial(addr)
		switch {
		case err == nil:
			winner := m.attach(l)
			m.setPhase(addr, PhaseConnected, winner.peerID)
			if winner == l && !l.closed() {
				m.wg.Add(1)
				go func() {
					defer m.wg.Done()
					m.run(l)
				}()
			}
			up := time.Now()
			if !m.waitLink(winner) {
				return
			}
			m.setPhase(addr, PhaseDisconnected, "")
			// A link that held for a while resets the backoff; one that
			// keeps dropping right away backs off like a failed dial.
			if time.Since(up) >= m.cfg.ReconnectMax {
				backoff = m.cfg.ReconnectMin
			}
			m.logger.Debug("peer link lost, redialing", "endpoint", addr, "retry_in", backoff)
		case errors.Is(err, errSelfDial):
			m.logger.Warn("peer endpoint is this node, not dialing it again", "endpoint", addr)
			m.mu.Lock()
			delete(m.endpoints, addr)
			m.mu.Unlock()
			m.metrics.ForgetPeer(addr)
			return
		default:
			m.logger.Debug("peer dial failed", "endpoint", addr, "error", err, "retry_in", backoff)
			m.setPhase(addr, PhaseDisconnected, "")
		}

		wait := backoff/2 + rand.N(backoff/2+1)
		select {
		case <-time.After(wait):
		case <-m.ctx.Done():
			m.setPhase(addr, PhaseDisconnected, "")
			return
		}
		backoff = min(backoff*2, m.cfg.ReconnectMax)
	}
}

// waitLink blocks until l closes. Returns false when the manager stops first.
func (m *Manager) waitLink(l *link) bool {
	select {
	case <-l.done:
		return m.ctx.Err() == nil && !m.stopped.Load()
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) dial(addr string) (*link, error) {
	d := net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := d.DialContext(m.ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	l, err := m.handshake(conn, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	m.mu.Lock()
	if ep, ok := m.endpoints[addr]; ok {
		ep.peerID = l.peerID
	}
	m.mu.Unlock()
	return l, nil
}

// handshake exchanges HELLO envelopes. Both sides write first, so neither
// blocks on the other.
func (m *Manager) handshake(conn net.Conn, outbound bool) (*link, error) {
	conn.SetDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	hello, err := NewEnvelope(TypeHello, m.cfg.ServerID, "", helloPayload{
		ServerID:   m.cfg.ServerID,
		InstanceID: m.instanceID,
		PeerAddr:   m.cfg.AdvertiseAddr,
	})
	if err != nil {
		return nil, err
	}
	frame, err := EncodeFrame(hello)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	br := bufio.NewReader(conn)
	env, err := ReadFrame(br)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if env.Type != TypeHello {
		return nil, fmt.Errorf("expected HELLO, got %s", env.Type)
	}
	var hp helloPayload
	if err := json.Unmarshal(env.Payload, &hp); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if hp.ServerID == "" {
		return nil, errors.New("hello without server id")
	}
	if hp.InstanceID == m.instanceID {
		return nil, errSelfDial
	}

	peerID := hp.ServerID
	if peerID == m.cfg.ServerID {
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		peerID = hp.ServerID + "@" + host
		m.logger.Warn("peer announced this node's server id", "alias", peerID)
	}
	dialerID := hp.ServerID
	if outbound {
		dialerID = m.cfg.ServerID
	}
	return newLink(conn, br, hp, peerID, dialerID, outbound, m.cfg, m.logger), nil
}

// attach installs l as the link to its peer and returns the link that won.
// When both nodes dial each other, the link dialed by the smaller server id
// survives on both sides. A tie, or a peer that restarted with a new
// instance id, means a reconnect, so the newer link wins. The losing link is
// closed without draining mirrored sessions.
func (m *Manager) attach(l *link) *link {
	m.mu.Lock()
	if m.stopped.Load() {
		m.mu.Unlock()
		l.close()
		return l
	}
	cur, ok := m.links[l.peerID]
	if ok && !cur.closed() && cur.instanceID == l.instanceID && cur.dialerID < l.dialerID {
		m.mu.Unlock()
		l.logger.Debug("duplicate peer link closed", "kept_dialer", cur.dialerID)
		l.close()
		return cur
	}
	m.links[l.peerID] = l
	m.mu.Unlock()

	if ok {
		cur.logger.Debug("peer link replaced", "dialer", l.dialerID)
		cur.close()
	}
	l.logger.Info("peer connected", "outbound", l.outbound, "peer_addr", l.peerAddr)
	m.advertiseTopology()
	return l
}

// run serves an attached link until it closes.
func (m *Manager) run(l *link) {
	go l.writeLoop()
	m.sendSyncState(l)

	err := l.readLoop(m.ctx, func(env *Envelope) { m.dispatch(l, env) })
	if err != nil {
		l.logger.Warn("peer link failed", "error", err)
	}
	l.close()
	m.detach(l)
}

// detach forgets l if it is still the current link for its peer and drops
// every mirrored session that no other link still reaches: the peer's own
// and those of servers the peer relayed for.
func (m *Manager) detach(l *link) {
	m.mu.Lock()
	cur, ok := m.links[l.peerID]
	if !ok || cur != l {
		m.mu.Unlock()
		return
	}
	delete(m.links, l.peerID)
	m.mu.Unlock()

	m.advertiseTopology()
	m.mirrorMu.Lock()
	drained := m.pruneLocked("peer " + l.peerID + " disconnected")
	m.mirrorMu.Unlock()
	l.logger.Info("peer disconnected", "drained_sessions", drained)
	if m.bus != nil {
		m.bus.Publish(event.FromPeer(event.ClusterStateUpdated, l.peerID, 0, "peer "+l.peerID+" disconnected"))
	}
}

func (m *Manager) link(peerID string) *link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.links[peerID]
}

func (m *Manager) linkForEndpoint(addr string) *link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[addr]
	if !ok || ep.peerID == "" {
		return nil
	}
	l := m.links[ep.peerID]
	if l == nil || l.closed() {
		return nil
	}
	return l
}

func (m *Manager) snapshotLinks() []*link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Manager) setPhase(addr, phase, peerID string) {
	m.mu.Lock()
	ep, ok := m.endpoints[addr]
	if ok {
		ep.phase = phase
		if peerID != "" {
			ep.peerID = peerID
		}
	}
	m.mu.Unlock()
	if ok {
		m.metrics.SetPeerPhase(addr, phase)
	}
}

// ====================================================================
// Outbound
// ====================================================================

func (m *Manager) sendSyncState(l *link) {
	payload := syncStatePayload{
		Servers:  m.registry.SnapshotSessionsByServer(),
		Topology: m.topologySnapshot(),
	}
	if m.syncer != nil {
		snap, err := m.syncer.Capture(m.ctx)
		if err != nil {
			l.logger.Warn("capture database snapshot failed", "error", err)
		} else if !snap.Empty() {
			payload.Database = snap
		}
	}
	env, err := NewEnvelope(TypeSyncState, m.cfg.ServerID, "", payload)
	if err != nil {
		l.logger.Error("build sync state failed", "error", err)
		return
	}
	frame, err := EncodeFrame(env)
	if errors.Is(err, ErrFrameTooLarge) && payload.Database != nil {
		l.logger.Warn("database snapshot too large for one frame, sending sessions only", "records", payload.Database.Size())
		payload.Database = nil
		if env, err = NewEnvelope(TypeSyncState, m.cfg.ServerID, "", payload); err == nil {
			frame, err = EncodeFrame(env)
		}
	}
	if err != nil {
		l.logger.Error("encode sync state failed", "error", err)
		return
	}
	m.dedup.Seen(env.ID)
	if l.send(frame) {
		m.metrics.IncPeerEnvelope("out", string(TypeSyncState))
	}
}

// Broadcast sends a new envelope of type t to every connected peer.
func (m *Manager) Broadcast(t Type, payload any) error {
	return m.sendTo("", t, payload)
}

// sendTo delivers to target over its direct link when there is one, and
// otherwise floods every link so intermediate nodes relay it.
func (m *Manager) sendTo(target string, t Type, payload any) error {
	env, err := NewEnvelope(t, m.cfg.ServerID, target, payload)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	m.dedup.Seen(env.ID)

	var links []*link
	if l := m.link(target); target != "" && l != nil {
		links = []*link{l}
	} else {
		links = m.snapshotLinks()
	}
	for _, l := range links {
		if l.send(frame) {
			m.metrics.IncPeerEnvelope("out", string(t))
		}
	}
	return nil
}

func (m *Manager) notify(target string, t Type, payload any) {
	if err := m.sendTo(target, t, payload); err != nil {
		m.logger.Warn("peer notification failed", "type", t, "target", target, "error", err)
	}
}

// SessionUpserted announces a new or changed local session.
func (m *Manager) SessionUpserted(rs domain.RemoteSession) {
	m.notify("", TypeClientConnected, rs)
}

// SessionRemoved announces a closed local session.
func (m *Manager) SessionRemoved(rs domain.RemoteSession) {
	m.notify("", TypeClientDisconnected, rs)
}

// ChannelsChanged announces a local session's new channel set.
func (m *Manager) ChannelsChanged(rs domain.RemoteSession) {
	m.notify("", TypeChannelMembership, rs)
}

// ForwardToUser asks serverID to deliver payload to its sessions of clienteID.
func (m *Manager) ForwardToUser(serverID string, clienteID int64, payload any) {
	raw, err := rawEvent(payload)
	if err != nil {
		m.logger.Warn("encode forwarded event failed", "error", err)
		return
	}
	m.notify(serverID, TypeDirectMessage, userDelivery{ClienteID: clienteID, Event: raw})
}

// ForwardToChannel asks serverID to deliver payload to its sessions in channelID.
func (m *Manager) ForwardToChannel(serverID string, channelID int64, payload any) {
	raw, err := rawEvent(payload)
	if err != nil {
		m.logger.Warn("encode forwarded event failed", "error", err)
		return
	}
	m.notify(serverID, TypeChannelMessage, channelDelivery{CanalID: channelID, Event: raw})
}

// ForwardToSession asks serverID to deliver payload to one of its sessions.
func (m *Manager) ForwardToSession(serverID, sessionID string, payload any) {
	raw, err := rawEvent(payload)
	if err != nil {
		m.logger.Warn("encode forwarded event failed", "error", err)
		return
	}
	m.notify(serverID, TypeSessionMessage, sessionDelivery{SessionID: sessionID, Event: raw})
}

// BroadcastEvent sends payload to every session of every peer.
func (m *Manager) BroadcastEvent(payload any) {
	raw, err := rawEvent(payload)
	if err != nil {
		m.logger.Warn("encode broadcast event failed", "error", err)
		return
	}
	m.notify("", TypeBroadcast, broadcastPayload{Event: raw})
}

// BroadcastDatabaseUpdate replicates snap to every peer.
func (m *Manager) BroadcastDatabaseUpdate(snap *dbsync.Snapshot) {
	if snap == nil || snap.Empty() {
		return
	}
	m.notify("", TypeSyncState, syncStatePayload{Database: snap})
}

// ====================================================================
// Inbound
// ====================================================================

func (m *Manager) dispatch(from *link, env *Envelope) {
	m.metrics.IncPeerEnvelope("in", string(env.Type))
	if env.Origin == m.cfg.ServerID || env.Visited(m.cfg.ServerID) || m.dedup.Seen(env.ID) {
		m.metrics.IncPeerDuplicate()
		return
	}
	if env.Target != "" && env.Target != m.cfg.ServerID {
		m.relay(from, env)
		return
	}

	changed, err := m.apply(from, env)
	if err != nil {
		m.logger.Warn("apply peer envelope failed", "type", env.Type, "origin", env.Origin, "id", env.ID, "error", err)
		return
	}
	if changed && env.Target == "" {
		m.relay(from, env)
	}
}

// apply performs the local effect of env, received over from, and reports
// whether it should be relayed onward.
func (m *Manager) apply(from *link, env *Envelope) (bool, error) {
	switch env.Type {
	case TypeHello:
		return false, nil
	case TypeSyncState:
		var p syncStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		via := ""
		if from != nil {
			via = from.peerID
		}
		return m.applySyncState(via, env.Origin, &p), nil
	case TypeTopology:
		var p topologyPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		return m.applyTopology(&p), nil
	case TypeClientConnected, TypeChannelMembership:
		var rs domain.RemoteSession
		if err := json.Unmarshal(env.Payload, &rs); err != nil {
			return false, err
		}
		m.mirrorMu.Lock()
		defer m.mirrorMu.Unlock()
		if !m.reachable(rs.ServerID) {
			m.logger.Debug("session of unreachable server ignored", "server", rs.ServerID, "session_id", rs.SessionID)
			return false, nil
		}
		return m.registry.RegisterRemoteSession(rs), nil
	case TypeClientDisconnected:
		var rs domain.RemoteSession
		if err := json.Unmarshal(env.Payload, &rs); err != nil {
			return false, err
		}
		m.mirrorMu.Lock()
		defer m.mirrorMu.Unlock()
		return m.registry.RemoveRemoteSession(rs.ServerID, rs.SessionID), nil
	case TypeDirectMessage:
		var p userDelivery
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		m.registry.DeliverToUserLocally(p.ClienteID, p.Event)
		return false, nil
	case TypeChannelMessage:
		var p channelDelivery
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		m.registry.DeliverToChannelLocally(p.CanalID, p.Event)
		return false, nil
	case TypeSessionMessage:
		var p sessionDelivery
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		if err := m.registry.DeliverToSessionLocally(p.SessionID, p.Event); err != nil {
			m.logger.Debug("forwarded session delivery failed", "session_id", p.SessionID, "error", err)
		}
		return false, nil
	case TypeBroadcast:
		var p broadcastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		m.registry.BroadcastLocally(p.Event)
		return true, nil
	}

	m.mu.RLock()
	h, ok := m.handlers[env.Type]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("unhandled peer envelope", "type", env.Type, "origin", env.Origin)
		return false, nil
	}
	if err := h(m.ctx, env.Origin, env.Payload); err != nil {
		return false, err
	}
	return true, nil
}

// applySyncState learns the sender's topology, mirrors its sessions and
// applies its database records. via is the peer the state arrived from.
func (m *Manager) applySyncState(via, origin string, p *syncStatePayload) bool {
	changed := false
	for id, adj := range p.Topology {
		if m.learnAdjacency(id, adj) {
			changed = true
		}
	}
	m.mirrorMu.Lock()
	if m.applyServers(via, origin, p.Servers) {
		changed = true
	}
	if m.pruneLocked("sync state from "+origin) > 0 {
		changed = true
	}
	m.mirrorMu.Unlock()
	if p.Database != nil && m.syncer != nil {
		applied, err := m.syncer.Apply(m.ctx, p.Database)
		if err != nil {
			m.logger.Warn("apply database snapshot failed", "origin", origin, "records", p.Database.Size(), "error", err)
		}
		if applied {
			changed = true
		}
	}
	if changed && m.bus != nil {
		m.bus.Publish(event.FromPeer(event.ClusterStateUpdated, origin, 0, "sync state from "+origin))
	}
	return changed
}

// relay forwards env to its target, or to every link not yet on its route.
func (m *Manager) relay(from *link, env *Envelope) {
	fwd := *env
	fwd.Route = append(slices.Clone(env.Route), m.cfg.ServerID)
	frame, err := EncodeFrame(&fwd)
	if err != nil {
		m.logger.Warn("encode relayed envelope failed", "type", env.Type, "error", err)
		return
	}

	var links []*link
	if l := m.link(env.Target); env.Target != "" && l != nil {
		links = []*link{l}
	} else {
		links = m.snapshotLinks()
	}
	sent := 0
	for _, l := range links {
		if l == from || fwd.Visited(l.peerID) {
			continue
		}
		if l.send(frame) {
			sent++
			m.metrics.IncPeerEnvelope("out", string(env.Type))
		}
	}
	if sent > 0 {
		m.metrics.IncPeerRelay(string(env.Type))
	}
}

var _ registry.PeerNotifier = (*Manager)(nil)
