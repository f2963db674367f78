package service

import (
	"context"
	"sync"
	"testing"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/storage"
	"github.com/yndnr/chatmesh-go/internal/storage/memory"
)

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
	next   []event.Observer
}

func (b *recordingBus) Publish(e event.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	next := b.next
	b.mu.Unlock()
	for _, o := range next {
		o.OnEvent(e)
	}
}

func (b *recordingBus) types() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

type binding struct {
	clienteID int64
	channels  []int64
}

// fakeSessions implements SessionBinder and ChannelJoiner.
type fakeSessions struct {
	mu       sync.Mutex
	bound    map[string]binding
	joined   map[string][]int64
	joinUser map[int64][]int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		bound:    make(map[string]binding),
		joined:   make(map[string][]int64),
		joinUser: make(map[int64][]int64),
	}
}

func (f *fakeSessions) UpdateCliente(sessionID string, clienteID int64, _, _ string, channels ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[sessionID] = binding{clienteID: clienteID, channels: channels}
	return nil
}

func (f *fakeSessions) ClearCliente(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bound[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(f.bound, sessionID)
	return nil
}

func (f *fakeSessions) JoinChannel(sessionID string, channelID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[sessionID] = append(f.joined[sessionID], channelID)
	return true
}

func (f *fakeSessions) JoinChannelForUser(clienteID int64, channelID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinUser[clienteID] = append(f.joinUser[clienteID], channelID)
	return 1
}

type sent struct {
	userID  int64
	payload any
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []sent
}

func (d *fakeDelivery) SendToUser(clienteID int64, payload any) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{userID: clienteID, payload: payload})
	return 1
}

func (d *fakeDelivery) recipients() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, len(d.sent))
	for i, s := range d.sent {
		out[i] = s.userID
	}
	return out
}

type fixture struct {
	store    *storage.KVStore
	bus      *recordingBus
	sessions *fakeSessions
	users    *UserService
	channels *ChannelService
	messages *MessagingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.NewStore(context.Background(), "server-a", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, bus: &recordingBus{}, sessions: newFakeSessions()}
	f.users = NewUserService(store, store, NewArgon2Hasher(1024, 1, 1), f.sessions, f.bus, nil)
	f.channels = NewChannelService(store, store, store, f.sessions, f.bus, nil)
	f.messages = NewMessagingService(store, store, store, f.bus, nil)
	return f
}

func (f *fixture) register(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), "ses_reg", &RegisterRequest{
		Usuario:     name,
		Email:       name + "@example.com",
		Contrasenia: "secret-" + name,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
	return u
}
