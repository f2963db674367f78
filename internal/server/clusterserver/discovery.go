package clusterserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/memberlist"
)

// DiscoveryConfig configures gossip membership.
type DiscoveryConfig struct {
	NodeID   string // memberlist node name, the server id
	BindAddr string
	BindPort int
	// PeerAddr is the peer-link address other nodes should dial.
	PeerAddr string
	// SeedNodes are gossip addresses to join at start.
	SeedNodes []string
	Logger    *slog.Logger
}

// peerMeta is the node metadata each member gossips.
type peerMeta struct {
	ServerID string `json:"id"`
	PeerAddr string `json:"peer,omitempty"`
}

func decodePeerMeta(n *memberlist.Node) (peerMeta, bool) {
	var m peerMeta
	if len(n.Meta) == 0 || json.Unmarshal(n.Meta, &m) != nil || m.PeerAddr == "" {
		return peerMeta{}, false
	}
	return m, true
}

// Discovery finds peer servers over memberlist gossip. Every member
// publishes its peer-link address as node metadata so the Manager can
// dial servers that were not in the static peer list.
type Discovery struct {
	ml     *memberlist.Memberlist
	logger *slog.Logger
	events *gossipEvents

	stopOnce sync.Once
	stopErr  error
}

// NewDiscovery binds the gossip listener and joins SeedNodes when any are
// configured. A failed join is fatal so a misconfigured seed list is
// noticed at start.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "discovery")

	meta, err := json.Marshal(peerMeta{ServerID: cfg.NodeID, PeerAddr: cfg.PeerAddr})
	if err != nil {
		return nil, err
	}
	ev := &gossipEvents{logger: logger}

	mc := memberlist.DefaultLANConfig()
	mc.Name = cfg.NodeID
	mc.BindAddr = cfg.BindAddr
	mc.BindPort = cfg.BindPort
	mc.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
	mc.Delegate = staticMeta(meta)
	mc.Events = ev

	ml, err := memberlist.Create(mc)
	if err != nil {
		return nil, fmt.Errorf("discovery: start gossip on %s:%d: %w", cfg.BindAddr, cfg.BindPort, err)
	}
	d := &Discovery{ml: ml, logger: logger, events: ev}

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			_ = ml.Shutdown()
			return nil, fmt.Errorf("discovery: join %v: %w", cfg.SeedNodes, err)
		}
		logger.Info("gossip joined", "seeds", cfg.SeedNodes, "contacted", n)
	} else {
		logger.Info("gossip started as first member", "node_id", cfg.NodeID)
	}
	return d, nil
}

// OnJoin sets the callback run for each joining member that advertises a
// peer address. Members already present are listed by PeerAddrs.
func (d *Discovery) OnJoin(fn func(nodeID, peerAddr string)) {
	d.events.mu.Lock()
	d.events.onJoin = fn
	d.events.mu.Unlock()
}

// OnLeave sets the callback run when a member leaves or is declared dead.
func (d *Discovery) OnLeave(fn func(nodeID string)) {
	d.events.mu.Lock()
	d.events.onLeave = fn
	d.events.mu.Unlock()
}

// Members lists the live members, this node included.
func (d *Discovery) Members() []*memberlist.Node { return d.ml.Members() }

// LocalNode is this node's own membership entry.
func (d *Discovery) LocalNode() *memberlist.Node { return d.ml.LocalNode() }

// GossipAddr is the host:port other nodes can use as a seed.
func (d *Discovery) GossipAddr() string {
	n := d.ml.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// PeerAddrs returns the peer-link addresses of the other members.
func (d *Discovery) PeerAddrs() []string {
	self := d.ml.LocalNode().Name
	var out []string
	for _, n := range d.ml.Members() {
		if n.Name == self {
			continue
		}
		if m, ok := decodePeerMeta(n); ok {
			out = append(out, m.PeerAddr)
		}
	}
	return out
}

// Leave tells the other members this node is going away.
func (d *Discovery) Leave() error {
	if err := d.ml.Leave(0); err != nil {
		return fmt.Errorf("discovery: leave: %w", err)
	}
	return nil
}

// Shutdown stops gossip. Repeated calls return the first result.
func (d *Discovery) Shutdown() error {
	d.stopOnce.Do(func() {
		if err := d.ml.Shutdown(); err != nil {
			d.stopErr = fmt.Errorf("discovery: shutdown: %w", err)
			return
		}
		d.logger.Info("gossip stopped")
	})
	return d.stopErr
}

// gossipEvents turns memberlist membership changes into callbacks.
type gossipEvents struct {
	logger  *slog.Logger
	mu      sync.Mutex
	onJoin  func(nodeID, peerAddr string)
	onLeave func(nodeID string)
}

func (g *gossipEvents) NotifyJoin(n *memberlist.Node) {
	m, ok := decodePeerMeta(n)
	g.logger.Info("member joined", "node_id", n.Name, "peer_addr", m.PeerAddr)
	if !ok {
		return
	}
	g.mu.Lock()
	fn := g.onJoin
	g.mu.Unlock()
	if fn != nil {
		fn(n.Name, m.PeerAddr)
	}
}

func (g *gossipEvents) NotifyLeave(n *memberlist.Node) {
	g.logger.Info("member left", "node_id", n.Name)
	g.mu.Lock()
	fn := g.onLeave
	g.mu.Unlock()
	if fn != nil {
		fn(n.Name)
	}
}

func (g *gossipEvents) NotifyUpdate(n *memberlist.Node) {
	g.logger.Debug("member updated", "node_id", n.Name)
}

// staticMeta publishes fixed metadata. No user messages or push/pull
// state ride on gossip; chat traffic uses the peer links.
type staticMeta []byte

func (s staticMeta) NodeMeta(limit int) []byte {
	if len(s) > limit {
		return nil
	}
	return s
}

func (staticMeta) NotifyMsg([]byte)                {}
func (staticMeta) GetBroadcasts(int, int) [][]byte { return nil }
func (staticMeta) LocalState(bool) []byte          { return nil }
func (staticMeta) MergeRemoteState([]byte, bool)   {}
