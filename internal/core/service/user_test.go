package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
)

func TestUserService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "alice")
	if u.ID == 0 {
		t.Fatal("registered user has no id")
	}
	if u.PasswordHash == "" || u.PasswordHash == "secret-alice" {
		t.Errorf("password not hashed: %q", u.PasswordHash)
	}
	if got := f.bus.types(); !slices.Equal(got, []event.Type{event.UserRegistered}) {
		t.Errorf("events = %v, want [USER_REGISTERED]", got)
	}

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"duplicate email", RegisterRequest{Usuario: "other", Email: "ALICE@example.com", Contrasenia: "pass1"}, domain.ErrUserExists},
		{"missing username", RegisterRequest{Email: "x@example.com", Contrasenia: "pass1"}, domain.ErrValidation},
		{"bad email", RegisterRequest{Usuario: "x", Email: "not-an-email", Contrasenia: "pass1"}, domain.ErrValidation},
		{"short password", RegisterRequest{Usuario: "x", Email: "x@example.com", Contrasenia: "abc"}, domain.ErrValidation},
		{"bad photo", RegisterRequest{Usuario: "x", Email: "x@example.com", Password: "pass1", FotoBase64: "%%%"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := f.users.Register(ctx, "ses_x", &req); !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUserService_LoginLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	c, err := f.channels.Create(ctx, "ses_reg", alice.ID, &ChannelRequest{Nombre: "general"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.bus.reset()

	res, err := f.users.Login(ctx, "ses_1", &LoginRequest{Email: "Alice@Example.com", Contrasenia: "secret-alice", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.ID != alice.ID {
		t.Errorf("logged in as %d, want %d", res.User.ID, alice.ID)
	}
	b := f.sessions.bound["ses_1"]
	if b.clienteID != alice.ID || !slices.Equal(b.channels, []int64{c.ID}) {
		t.Errorf("binding = %+v, want cliente %d channels [%d]", b, alice.ID, c.ID)
	}
	if got := f.bus.types(); !slices.Equal(got, []event.Type{event.Login}) {
		t.Errorf("events = %v, want [LOGIN]", got)
	}

	f.bus.reset()
	if err := f.users.Logout(ctx, "ses_1", alice.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := f.sessions.bound["ses_1"]; ok {
		t.Error("session still bound after logout")
	}
	if got := f.bus.types(); !slices.Equal(got, []event.Type{event.Logout}) {
		t.Errorf("events = %v, want [LOGOUT]", got)
	}

	if err := f.users.Logout(ctx, "ses_1", 0); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("anonymous Logout() error = %v, want ErrUnauthenticated", err)
	}
}

func TestUserService_LoginFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob")
	f.bus.reset()

	tests := []struct {
		name string
		req  LoginRequest
		want error
	}{
		{"unknown email", LoginRequest{Email: "nobody@example.com", Contrasenia: "x"}, domain.ErrInvalidCredentials},
		{"wrong password", LoginRequest{Email: "bob@example.com", Contrasenia: "wrong"}, domain.ErrInvalidCredentials},
		{"missing fields", LoginRequest{Email: "bob@example.com"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := f.users.Login(ctx, "ses_1", &req); !errors.Is(err, tt.want) {
				t.Errorf("Login() error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(f.bus.types()) != 0 {
		t.Errorf("failed logins published %v", f.bus.types())
	}
}

func TestUserService_LoginThrottled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "carol")

	var throttled bool
	for i := 0; i < 10; i++ {
		_, err := f.users.Login(ctx, "ses_1", &LoginRequest{Email: "carol@example.com", Contrasenia: "wrong"})
		if errors.Is(err, domain.ErrTooManyRequests) {
			throttled = true
			break
		}
	}
	if !throttled {
		t.Error("repeated failed logins were never throttled")
	}
}
