package domain

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Identifier prefixes.
const (
	SessionIDPrefix  = "ses_"
	EventIDPrefix    = "evt_"
	OpIDPrefix       = "op_"
	EnvelopeIDPrefix = "env_"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID(prefix string) string {
	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	if err != nil {
		// Monotonic entropy overflow within one millisecond; fall back to fresh entropy.
		id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	}
	return prefix + strings.ToLower(id.String())
}

// NewSessionID returns a new session identifier.
func NewSessionID() string { return newULID(SessionIDPrefix) }

// NewEventID returns a new session event identifier.
func NewEventID() string { return newULID(EventIDPrefix) }

// NewOpID returns a new replication operation identifier.
func NewOpID() string { return newULID(OpIDPrefix) }

// NewEnvelopeID returns a new peer envelope identifier.
func NewEnvelopeID() string { return newULID(EnvelopeIDPrefix) }

// ValidPrefixedID reports whether id is prefix followed by a lowercase ULID.
func ValidPrefixedID(id, prefix string) bool {
	if !strings.HasPrefix(id, prefix) || len(id) != len(prefix)+ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(id[len(prefix):]))
	return err == nil
}
