package domain

import "testing"

func TestUser_EqualIgnoresPresence(t *testing.T) {
	a := &User{ID: 7, Username: "alice", Email: "alice@example.com", PasswordHash: "h", Connected: true}
	b := *a
	b.Connected = false
	if !a.Equal(&b) {
		t.Error("records differing only in presence should be equal")
	}
	b.Username = "alicia"
	if a.Equal(&b) {
		t.Error("records with different usernames should differ")
	}
	if (*User)(nil).Equal(a) || !(*User)(nil).Equal(nil) {
		t.Error("nil handling")
	}
}
