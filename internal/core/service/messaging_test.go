package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
)

func TestMessagingService_SendDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	f.bus.reset()

	m, err := f.messages.SendDirect(ctx, "ses_a", alice.ID, &MessageRequest{Tipo: "TEXTO", Contenido: "hola", Receptor: bob.ID})
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if m.ID == 0 || m.Timestamp.IsZero() || m.Text == nil || m.Text.Content != "hola" {
		t.Errorf("message = %+v", m)
	}
	want := []event.Type{event.MessageSent, event.NewMessage}
	if got := f.bus.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	f.bus.reset()
	_, err = f.messages.SendDirect(ctx, "ses_a", alice.ID, &MessageRequest{
		Tipo: "AUDIO", RutaArchivo: "/audio/1.wav", Mime: "audio/wav", DuracionSeg: 3, Receptor: bob.ID,
	})
	if err != nil {
		t.Fatalf("SendDirect audio: %v", err)
	}
	want = []event.Type{event.MessageSent, event.AudioSent, event.NewMessage}
	if got := f.bus.types(); !slices.Equal(got, want) {
		t.Errorf("audio events = %v, want %v", got, want)
	}

	tests := []struct {
		name   string
		sender int64
		req    MessageRequest
		want   error
	}{
		{"anonymous", 0, MessageRequest{Contenido: "x", Receptor: bob.ID}, domain.ErrUnauthenticated},
		{"unknown receiver", alice.ID, MessageRequest{Contenido: "x", Receptor: 999999}, domain.ErrUserNotFound},
		{"empty text", alice.ID, MessageRequest{Tipo: "TEXTO", Receptor: bob.ID}, domain.ErrValidation},
		{"unknown kind", alice.ID, MessageRequest{Tipo: "VIDEO", Contenido: "x", Receptor: bob.ID}, domain.ErrValidation},
		{"no receiver", alice.ID, MessageRequest{Contenido: "x"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := f.messages.SendDirect(ctx, "ses_a", tt.sender, &req); !errors.Is(err, tt.want) {
				t.Errorf("SendDirect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessagingService_SendChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	c, _ := f.channels.Create(ctx, "ses_a", alice.ID, &ChannelRequest{Nombre: "general"})
	f.bus.reset()

	if _, err := f.messages.SendChannel(ctx, "ses_a", alice.ID, &MessageRequest{Contenido: "hi all", CanalID: c.ID}); err != nil {
		t.Fatalf("SendChannel: %v", err)
	}
	want := []event.Type{event.MessageSent, event.NewChannelMessage}
	if got := f.bus.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	if _, err := f.messages.SendChannel(ctx, "ses_b", bob.ID, &MessageRequest{Contenido: "let me in", CanalID: c.ID}); !errors.Is(err, domain.ErrNotChannelMember) {
		t.Errorf("non-member SendChannel() error = %v, want ErrNotChannelMember", err)
	}
	if _, err := f.messages.SendChannel(ctx, "ses_a", alice.ID, &MessageRequest{Contenido: "x", CanalID: 424242}); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Errorf("unknown channel SendChannel() error = %v, want ErrChannelNotFound", err)
	}
}

func TestMessagingService_Sync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	carol := f.register(t, "carol")
	c, _ := f.channels.Create(ctx, "ses_a", alice.ID, &ChannelRequest{Nombre: "general"})

	mustSend := func(m *domain.Message, err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	mustSend(f.messages.SendDirect(ctx, "ses_a", alice.ID, &MessageRequest{Contenido: "to bob", Receptor: bob.ID}))
	mustSend(f.messages.SendDirect(ctx, "ses_c", carol.ID, &MessageRequest{Contenido: "to alice", Receptor: alice.ID}))
	mustSend(f.messages.SendDirect(ctx, "ses_c", carol.ID, &MessageRequest{Contenido: "to bob", Receptor: bob.ID}))
	mustSend(f.messages.SendChannel(ctx, "ses_a", alice.ID, &MessageRequest{Contenido: "channel", CanalID: c.ID}))

	sync, err := f.messages.Sync(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sync.TotalMensajes != 3 || len(sync.Mensajes) != 3 {
		t.Fatalf("alice sees %d messages, want 3", sync.TotalMensajes)
	}
	last := sync.Mensajes[2]
	if last.Evento != EventoNewChannelMessage || last.CanalNombre != "general" || last.TipoConversacion != "CANAL" {
		t.Errorf("channel row = %+v", last)
	}
	first := sync.Mensajes[0]
	if first.EmisorNombre != "alice" || first.ReceptorNombre != "bob" || first.Contenido["contenido"] != "to bob" {
		t.Errorf("direct row = %+v", first)
	}

	sync, err = f.messages.Sync(ctx, bob.ID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sync.TotalMensajes != 2 {
		t.Errorf("bob sees %d messages, want 2", sync.TotalMensajes)
	}
}
