package clusterserver

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// Type discriminates peer envelopes.
type Type string

// Envelope types.
const (
	TypeHello              Type = "HELLO"
	TypeSyncState          Type = "SYNC_STATE"
	TypeClientConnected    Type = "CLIENT_CONNECTED"
	TypeClientDisconnected Type = "CLIENT_DISCONNECTED"
	TypeChannelMembership  Type = "CHANNEL_MEMBERSHIP"
	TypeDirectMessage      Type = "DIRECT_MESSAGE"
	TypeChannelMessage     Type = "CHANNEL_MESSAGE"
	TypeSessionMessage     Type = "SESSION_MESSAGE"
	TypeBroadcast          Type = "BROADCAST"
	TypeUserStatus         Type = "USER_STATUS"
	TypeTopology           Type = "TOPOLOGY"
	TypeGoodbye            Type = "GOODBYE"
)

// MaxFrameSize caps one encoded envelope.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("peer frame exceeds maximum size")

// Envelope field numbers.
const (
	fieldID      protowire.Number = 1
	fieldType    protowire.Number = 2
	fieldOrigin  protowire.Number = 3
	fieldTarget  protowire.Number = 4
	fieldRoute   protowire.Number = 5
	fieldPayload protowire.Number = 6
)

// Envelope is one replication message between nodes.
type Envelope struct {
	ID      string
	Type    Type
	Origin  string
	Target  string
	Route   []string
	Payload []byte
}

// NewEnvelope wraps payload, JSON encoded, in an envelope originating at origin.
func NewEnvelope(t Type, origin, target string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return &Envelope{
		ID:      domain.NewEnvelopeID(),
		Type:    t,
		Origin:  origin,
		Target:  target,
		Route:   []string{origin},
		Payload: raw,
	}, nil
}

// Visited reports whether serverID is already on the envelope route.
func (e *Envelope) Visited(serverID string) bool {
	return slices.Contains(e.Route, serverID)
}

// MarshalBinary encodes e as protowire length-delimited fields.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 64+len(e.Payload))
	appendString := func(num protowire.Number, s string) {
		if s == "" {
			return
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	appendString(fieldID, e.ID)
	appendString(fieldType, string(e.Type))
	appendString(fieldOrigin, e.Origin)
	appendString(fieldTarget, e.Target)
	for _, hop := range e.Route {
		b = protowire.AppendTag(b, fieldRoute, protowire.BytesType)
		b = protowire.AppendString(b, hop)
	}
	if len(e.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	return b, nil
}

// UnmarshalBinary decodes e. Unknown fields are skipped.
func (e *Envelope) UnmarshalBinary(b []byte) error {
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("decode envelope field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldID:
			e.ID = string(v)
		case fieldType:
			e.Type = Type(v)
		case fieldOrigin:
			e.Origin = string(v)
		case fieldTarget:
			e.Target = string(v)
		case fieldRoute:
			e.Route = append(e.Route, string(v))
		case fieldPayload:
			e.Payload = slices.Clone(v)
		}
	}
	if e.ID == "" || e.Type == "" {
		return errors.New("envelope missing id or type")
	}
	return nil
}

// EncodeFrame returns e prefixed by its uvarint length.
func EncodeFrame(e *Envelope) ([]byte, error) {
	body, err := e.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := protowire.AppendVarint(make([]byte, 0, len(body)+binary.MaxVarintLen32), uint64(len(body)))
	return append(frame, body...), nil
}

// ReadFrame reads one length-prefixed envelope.
func ReadFrame(r *bufio.Reader) (*Envelope, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	e := new(Envelope)
	if err := e.UnmarshalBinary(body); err != nil {
		return nil, err
	}
	return e, nil
}
