package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordHasher derives and checks password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Argon2 defaults.
const (
	DefaultArgon2Memory  = 16 * 1024 // KiB
	DefaultArgon2Time    = 2
	DefaultArgon2Threads = 2
	argon2SaltLen        = 16
	argon2KeyLen         = 32
)

// Argon2Hasher hashes with argon2id and encodes in the PHC string format:
// $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2Hasher struct {
	Memory  uint32
	Time    uint32
	Threads uint8
}

// NewArgon2Hasher returns a hasher, substituting defaults for zero values.
func NewArgon2Hasher(memory, time uint32, threads uint8) *Argon2Hasher {
	h := &Argon2Hasher{Memory: memory, Time: time, Threads: threads}
	if h.Memory == 0 {
		h.Memory = DefaultArgon2Memory
	}
	if h.Time == 0 {
		h.Time = DefaultArgon2Time
	}
	if h.Threads == 0 {
		h.Threads = DefaultArgon2Threads
	}
	return h
}

// Hash implements PasswordHasher.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify implements PasswordHasher. Parameters are read from encoded, so
// hashes survive a change of the configured cost.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version")
	}
	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parse argon2 params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
