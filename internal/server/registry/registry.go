package registry

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/pkg/cmap"
)

// Frame is one client protocol line.
type Frame struct {
	Command string `json:"command"`
	Payload any    `json:"payload,omitempty"`
}

// EventFrame wraps a server-pushed payload.
func EventFrame(payload any) Frame {
	return Frame{Command: "EVENT", Payload: payload}
}

// Sink is the write side of a local client connection.
type Sink interface {
	Send(f Frame) error
	Close() error
}

// Publisher publishes session events.
type Publisher interface {
	Publish(e event.Event)
}

// PeerNotifier propagates local session changes and forwards deliveries to
// the node that owns a remote session.
type PeerNotifier interface {
	SessionUpserted(rs domain.RemoteSession)
	SessionRemoved(rs domain.RemoteSession)
	ChannelsChanged(rs domain.RemoteSession)
	ForwardToUser(serverID string, clienteID int64, payload any)
	ForwardToChannel(serverID string, channelID int64, payload any)
	ForwardToSession(serverID, sessionID string, payload any)
	BroadcastEvent(payload any)
}

// Metrics receives session gauges.
type Metrics interface {
	SetSessions(local, remote int)
}

type entry struct {
	desc *domain.SessionDescriptor
	sink Sink
}

// Registry is the canonical map of sessions.
type Registry struct {
	serverID string
	logger   *slog.Logger
	bus      Publisher
	metrics  Metrics

	sessions  *cmap.Map[string, *entry]
	byCliente *cmap.Map[int64, []string]

	peersMu sync.RWMutex
	peers   PeerNotifier
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics sets the session gauge sink.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a registry for the node serverID.
func New(serverID string, bus Publisher, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		serverID:  serverID,
		logger:    logger.With("component", "registry"),
		bus:       bus,
		sessions:  cmap.NewString[*entry](),
		byCliente: cmap.NewInt64[[]string](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServerID returns the identity of this node.
func (r *Registry) ServerID() string { return r.serverID }

// SetPeerNotifier installs the peer layer. The peer manager is built after
// the registry, so it is injected here rather than at construction.
func (r *Registry) SetPeerNotifier(p PeerNotifier) {
	r.peersMu.Lock()
	r.peers = p
	r.peersMu.Unlock()
}

func (r *Registry) notifier() PeerNotifier {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	return r.peers
}

func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func (r *Registry) updateGauges() {
	if r.metrics == nil {
		return
	}
	local, remote := 0, 0
	r.sessions.Range(func(_ string, e *entry) bool {
		if e.desc.Local {
			local++
		} else {
			remote++
		}
		return true
	})
	r.metrics.SetSessions(local, remote)
}

// --- cliente index ---

func (r *Registry) index(clienteID int64, sessionID string) {
	if clienteID == 0 {
		return
	}
	r.byCliente.Update(clienteID, func(ids []string, _ bool) []string {
		if slices.Contains(ids, sessionID) {
			return ids
		}
		out := make([]string, len(ids), len(ids)+1)
		copy(out, ids)
		return append(out, sessionID)
	})
}

func (r *Registry) unindex(clienteID int64, sessionID string) {
	if clienteID == 0 {
		return
	}
	r.byCliente.Compute(clienteID, func(ids []string, exists bool) ([]string, bool) {
		if !exists {
			return nil, false
		}
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != sessionID {
				out = append(out, id)
			}
		}
		return out, len(out) > 0
	})
}

// --- local sessions ---

// Register allocates an anonymous local session for sink.
func (r *Registry) Register(sink Sink, ip string) string {
	id := domain.NewSessionID()
	d := domain.NewLocalDescriptor(id, r.serverID, ip)
	r.sessions.Set(id, &entry{desc: d, sink: sink})
	r.updateGauges()

	r.logger.Debug("session registered", "session_id", id, "ip", ip)
	r.publish(event.New(event.TCPConnected, id, 0, d.Snapshot()))
	if p := r.notifier(); p != nil {
		p.SessionUpserted(d.Snapshot())
	}
	return id
}

// UpdateCliente attaches an authenticated identity and the user's channels
// to a local session, making it addressable by user id.
func (r *Registry) UpdateCliente(sessionID string, clienteID int64, usuario, ip string, channels ...int64) error {
	e, ok := r.sessions.Get(sessionID)
	if !ok || !e.desc.Local {
		return domain.ErrSessionNotFound
	}
	prev := e.desc.ClienteID()
	if prev != clienteID {
		r.unindex(prev, sessionID)
	}
	e.desc.SetIdentity(clienteID, usuario, ip)
	e.desc.ClearChannels()
	for _, c := range channels {
		e.desc.JoinChannel(c)
	}
	r.index(clienteID, sessionID)

	if p := r.notifier(); p != nil {
		p.SessionUpserted(e.desc.Snapshot())
	}
	return nil
}

// ClearCliente returns a local session to the anonymous state.
func (r *Registry) ClearCliente(sessionID string) error {
	e, ok := r.sessions.Get(sessionID)
	if !ok || !e.desc.Local {
		return domain.ErrSessionNotFound
	}
	r.unindex(e.desc.ClienteID(), sessionID)
	e.desc.ClearIdentity()
	if p := r.notifier(); p != nil {
		p.SessionUpserted(e.desc.Snapshot())
	}
	return nil
}

// Unregister removes a local session. It publishes LOGOUT when the session
// was authenticated, then TCP_DISCONNECTED. Returns false if the session was
// already gone.
func (r *Registry) Unregister(sessionID string) bool {
	e, ok := r.sessions.Get(sessionID)
	if !ok || !e.desc.Local {
		return false
	}
	if _, ok := r.sessions.Pop(sessionID); !ok {
		return false
	}
	snap := e.desc.Snapshot()
	r.unindex(snap.ClienteID, sessionID)
	r.updateGauges()

	if snap.ClienteID != 0 {
		r.publish(event.New(event.Logout, sessionID, snap.ClienteID, snap))
	}
	r.publish(event.New(event.TCPDisconnected, sessionID, snap.ClienteID, snap))
	if p := r.notifier(); p != nil {
		p.SessionRemoved(snap)
	}
	r.logger.Debug("session unregistered", "session_id", sessionID, "cliente_id", snap.ClienteID)
	return true
}

// CloseSession unregisters a local session and closes its socket.
func (r *Registry) CloseSession(sessionID string) bool {
	e, ok := r.sessions.Get(sessionID)
	if !ok || !e.desc.Local {
		return false
	}
	removed := r.Unregister(sessionID)
	if e.sink != nil {
		e.sink.Close()
	}
	return removed
}

// ShutdownAllSessions sends SERVER_SHUTDOWN to every local session, publishes
// one LOGOUT per session and closes the sockets. Returns the number of
// sessions closed.
func (r *Registry) ShutdownAllSessions(reason string) int {
	frame := EventFrame(map[string]any{
		"evento":    "SERVER_SHUTDOWN",
		"message":   reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	n := 0
	for _, e := range r.localEntries() {
		id := e.desc.SessionID
		if _, ok := r.sessions.Pop(id); !ok {
			continue
		}
		snap := e.desc.Snapshot()
		r.unindex(snap.ClienteID, id)

		if err := e.sink.Send(frame); err != nil {
			r.logger.Debug("shutdown notice not delivered", "session_id", id, "error", err)
		}
		r.publish(event.New(event.Logout, id, snap.ClienteID, snap))
		r.publish(event.New(event.TCPDisconnected, id, snap.ClienteID, snap))
		if p := r.notifier(); p != nil {
			p.SessionRemoved(snap)
		}
		e.sink.Close()
		n++
	}
	r.updateGauges()
	r.logger.Info("local sessions shut down", "count", n, "reason", reason)
	return n
}

// JoinChannel adds a channel to a local session.
func (r *Registry) JoinChannel(sessionID string, channelID int64) bool {
	e, ok := r.sessions.Get(sessionID)
	if !ok || !e.desc.Local || !e.desc.JoinChannel(channelID) {
		return false
	}
	if p := r.notifier(); p != nil {
		p.ChannelsChanged(e.desc.Snapshot())
	}
	return true
}

// LeaveChannel removes a channel from a local session.
func (r *Registry) LeaveChannel(sessionID string, channelID int64) bool {
	e, ok := r.sessions.Get(sessionID)
	if !ok || !e.desc.Local || !e.desc.LeaveChannel(channelID) {
		return false
	}
	if p := r.notifier(); p != nil {
		p.ChannelsChanged(e.desc.Snapshot())
	}
	return true
}

// JoinChannelForUser adds a channel to every local session of clienteID.
func (r *Registry) JoinChannelForUser(clienteID int64, channelID int64) int {
	n := 0
	for _, d := range r.SessionsForUser(clienteID) {
		if d.Local && r.JoinChannel(d.SessionID, channelID) {
			n++
		}
	}
	return n
}

// --- accessors ---

func (r *Registry) localEntries() []*entry {
	var out []*entry
	r.sessions.Range(func(_ string, e *entry) bool {
		if e.desc.Local {
			out = append(out, e)
		}
		return true
	})
	return out
}

// ActiveSessions returns every local and remote descriptor.
func (r *Registry) ActiveSessions() []*domain.SessionDescriptor {
	out := make([]*domain.SessionDescriptor, 0, r.sessions.Count())
	r.sessions.Range(func(_ string, e *entry) bool {
		out = append(out, e.desc)
		return true
	})
	return out
}

// LocalSessions returns the descriptors of sockets owned by this process.
func (r *Registry) LocalSessions() []*domain.SessionDescriptor {
	entries := r.localEntries()
	out := make([]*domain.SessionDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.desc
	}
	return out
}

// Descriptor returns the descriptor for sessionID.
func (r *Registry) Descriptor(sessionID string) (*domain.SessionDescriptor, bool) {
	e, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// TotalConnections returns the number of local sessions.
func (r *Registry) TotalConnections() int {
	return len(r.localEntries())
}

// SessionsForUser returns every local and remote session of clienteID.
func (r *Registry) SessionsForUser(clienteID int64) []*domain.SessionDescriptor {
	ids, _ := r.byCliente.Get(clienteID)
	out := make([]*domain.SessionDescriptor, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.sessions.Get(id); ok && e.desc.ClienteID() == clienteID {
			out = append(out, e.desc)
		}
	}
	return out
}

// ConnectedUserIDs returns the ids of users with at least one session anywhere
// in the cluster, sorted.
func (r *Registry) ConnectedUserIDs() []int64 {
	ids := r.byCliente.Keys()
	slices.Sort(ids)
	return ids
}

// IsUserConnected reports whether clienteID has any session in the cluster.
func (r *Registry) IsUserConnected(clienteID int64) bool {
	return len(r.SessionsForUser(clienteID)) > 0
}

// --- delivery ---

func (r *Registry) sendLocal(e *entry, payload any) bool {
	if err := e.sink.Send(EventFrame(payload)); err != nil {
		r.logger.Debug("delivery failed", "session_id", e.desc.SessionID, "error", err)
		return false
	}
	return true
}

// DeliverToUserLocally writes payload to every local session of clienteID.
func (r *Registry) DeliverToUserLocally(clienteID int64, payload any) int {
	n := 0
	for _, d := range r.SessionsForUser(clienteID) {
		if !d.Local {
			continue
		}
		if e, ok := r.sessions.Get(d.SessionID); ok && r.sendLocal(e, payload) {
			n++
		}
	}
	return n
}

// SendToUser delivers payload to every local session of clienteID and
// forwards it once to each peer that owns one of the user's sessions.
// Returns the number of local deliveries.
func (r *Registry) SendToUser(clienteID int64, payload any) int {
	n := r.DeliverToUserLocally(clienteID, payload)
	if p := r.notifier(); p != nil {
		for _, srv := range r.remoteServersOf(r.SessionsForUser(clienteID)) {
			p.ForwardToUser(srv, clienteID, payload)
		}
	}
	return n
}

// DeliverToChannelLocally writes payload to every local session that joined channelID.
func (r *Registry) DeliverToChannelLocally(channelID int64, payload any) int {
	n := 0
	for _, e := range r.localEntries() {
		if e.desc.InChannel(channelID) && r.sendLocal(e, payload) {
			n++
		}
	}
	return n
}

// SendToChannel delivers payload to local channel sessions and forwards it
// once to each peer with a session in the channel.
func (r *Registry) SendToChannel(channelID int64, payload any) int {
	n := r.DeliverToChannelLocally(channelID, payload)
	p := r.notifier()
	if p == nil {
		return n
	}
	var inChannel []*domain.SessionDescriptor
	r.sessions.Range(func(_ string, e *entry) bool {
		if !e.desc.Local && e.desc.InChannel(channelID) {
			inChannel = append(inChannel, e.desc)
		}
		return true
	})
	for _, srv := range r.remoteServersOf(inChannel) {
		p.ForwardToChannel(srv, channelID, payload)
	}
	return n
}

// ErrRemoteSession is returned when a local-only operation targets a mirrored session.
var ErrRemoteSession = errors.New("session is owned by another server")

// DeliverToSessionLocally writes payload to one local session.
func (r *Registry) DeliverToSessionLocally(sessionID string, payload any) error {
	e, ok := r.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !e.desc.Local {
		return ErrRemoteSession
	}
	return e.sink.Send(EventFrame(payload))
}

// SendToSession delivers payload to sessionID wherever it lives.
func (r *Registry) SendToSession(sessionID string, payload any) error {
	e, ok := r.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if e.desc.Local {
		return e.sink.Send(EventFrame(payload))
	}
	if p := r.notifier(); p != nil {
		p.ForwardToSession(e.desc.ServerID, sessionID, payload)
	}
	return nil
}

// BroadcastLocally writes payload to every local session.
func (r *Registry) BroadcastLocally(payload any) int {
	n := 0
	for _, e := range r.localEntries() {
		if r.sendLocal(e, payload) {
			n++
		}
	}
	return n
}

// Broadcast writes payload to every local session and to every peer.
func (r *Registry) Broadcast(payload any) int {
	n := r.BroadcastLocally(payload)
	if p := r.notifier(); p != nil {
		p.BroadcastEvent(payload)
	}
	return n
}

func (r *Registry) remoteServersOf(ds []*domain.SessionDescriptor) []string {
	var out []string
	for _, d := range ds {
		if !d.Local && d.ServerID != "" && !slices.Contains(out, d.ServerID) {
			out = append(out, d.ServerID)
		}
	}
	slices.Sort(out)
	return out
}
