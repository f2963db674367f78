package clusterserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelope_FrameRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeDirectMessage, "server-a", "server-b", userDelivery{ClienteID: 7, Event: json.RawMessage(`{"evento":"NEW_MESSAGE"}`)})
	require.NoError(t, err)
	env.Route = append(env.Route, "server-c")

	frame, err := EncodeFrame(env)
	require.NoError(t, err)

	var stream bytes.Buffer
	stream.Write(frame)
	stream.Write(frame)
	r := bufio.NewReader(&stream)

	for range 2 {
		got, err := ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, env, got)
	}
	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)

	var p userDelivery
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, int64(7), p.ClienteID)
	assert.True(t, env.Visited("server-c"))
	assert.False(t, env.Visited("server-b"))
}

func TestEnvelope_SkipsUnknownFields(t *testing.T) {
	env := &Envelope{ID: "e-1", Type: TypeBroadcast, Origin: "server-a"}
	b, err := env.MarshalBinary()
	require.NoError(t, err)

	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 16, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	var got Envelope
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, "e-1", got.ID)
	assert.Equal(t, TypeBroadcast, got.Type)
}

func TestEnvelope_Rejects(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		b, _ := (&Envelope{Type: TypeHello}).MarshalBinary()
		assert.Error(t, new(Envelope).UnmarshalBinary(b))
	})

	t.Run("truncated field", func(t *testing.T) {
		b, _ := (&Envelope{ID: "x", Type: TypeHello, Payload: []byte("payload")}).MarshalBinary()
		assert.Error(t, new(Envelope).UnmarshalBinary(b[:len(b)-3]))
	})

	t.Run("oversized frame", func(t *testing.T) {
		header := protowire.AppendVarint(nil, MaxFrameSize+1)
		_, err := ReadFrame(bufio.NewReader(bytes.NewReader(header)))
		assert.True(t, errors.Is(err, ErrFrameTooLarge))
	})

	t.Run("short body", func(t *testing.T) {
		frame := append(protowire.AppendVarint(nil, 10), 1, 2, 3)
		_, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestDedupWindow(t *testing.T) {
	w := newDedupWindow(3)

	assert.False(t, w.Seen("a"))
	assert.True(t, w.Seen("a"))
	assert.False(t, w.Seen("b"))
	assert.False(t, w.Seen("c"))
	assert.Equal(t, 3, w.Len())

	// "d" evicts "a", the oldest id.
	assert.False(t, w.Seen("d"))
	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Seen("a"))
	assert.True(t, w.Seen("d"))
}
