package service

import (
	"strings"
	"testing"
)

func TestArgon2Hasher(t *testing.T) {
	h := NewArgon2Hasher(1024, 1, 1)

	encoded, err := h.Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("encoded = %q, want argon2id PHC string", encoded)
	}

	other, _ := h.Hash("hunter2")
	if other == encoded {
		t.Error("two hashes of the same password should use different salts")
	}

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"match", "hunter2", true},
		{"mismatch", "hunter3", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify(tt.password, encoded)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Verify(%q) = %v, want %v", tt.password, ok, tt.want)
			}
		})
	}
}

func TestArgon2Hasher_VerifyMalformed(t *testing.T) {
	h := NewArgon2Hasher(1024, 1, 1)
	for _, encoded := range []string{"", "plain", "$argon2id$v=19$m=1024,t=1,p=1$only-salt", "$bcrypt$x$y$z$w"} {
		if _, err := h.Verify("x", encoded); err == nil {
			t.Errorf("Verify(%q) should fail", encoded)
		}
	}
}
