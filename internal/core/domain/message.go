package domain

import (
	"strings"
	"time"
)

// MessageKind discriminates the message body variants.
type MessageKind string

// Message kinds as they appear on the client wire.
const (
	KindText  MessageKind = "TEXTO"
	KindAudio MessageKind = "AUDIO"
	KindFile  MessageKind = "ARCHIVO"
)

// ParseMessageKind accepts the wire spelling case-insensitively. Empty means text.
func ParseMessageKind(s string) (MessageKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TEXTO", "TEXT":
		return KindText, nil
	case "AUDIO":
		return KindAudio, nil
	case "ARCHIVO", "FILE":
		return KindFile, nil
	}
	return "", ErrValidation.WithDetails("unknown message type " + s)
}

// TextBody is the body of a text message.
type TextBody struct {
	Content string `json:"content"`
}

// AudioBody is the body of an audio message.
type AudioBody struct {
	Path          string `json:"path"`
	Mime          string `json:"mime"`
	DurationSec   int    `json:"duration_sec"`
	Transcription string `json:"transcription,omitempty"`
}

// FileBody is the body of a file message.
type FileBody struct {
	Path string `json:"path"`
	Mime string `json:"mime"`
}

// Message is a persisted chat message. Exactly one body matches Kind, and
// exactly one of ReceiverID or ChannelID is non-zero.
type Message struct {
	ID         int64       `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Kind       MessageKind `json:"kind"`
	SenderID   int64       `json:"sender_id"`
	ReceiverID int64       `json:"receiver_id,omitempty"`
	ChannelID  int64       `json:"channel_id,omitempty"`
	Text       *TextBody   `json:"text,omitempty"`
	Audio      *AudioBody  `json:"audio,omitempty"`
	File       *FileBody   `json:"file,omitempty"`
}

// Validate checks the tagged-union and addressing invariants.
func (m *Message) Validate() error {
	if m.SenderID == 0 {
		return ErrValidation.WithDetails("sender is required")
	}
	if (m.ReceiverID == 0) == (m.ChannelID == 0) {
		return ErrValidation.WithDetails("message needs exactly one of receiver or channel")
	}
	switch m.Kind {
	case KindText:
		if m.Text == nil || strings.TrimSpace(m.Text.Content) == "" {
			return ErrValidation.WithDetails("text content is required")
		}
		if m.Audio != nil || m.File != nil {
			return ErrValidation.WithDetails("text message carries a foreign body")
		}
	case KindAudio:
		if m.Audio == nil || m.Audio.Path == "" {
			return ErrValidation.WithDetails("audio path is required")
		}
		if m.Text != nil || m.File != nil {
			return ErrValidation.WithDetails("audio message carries a foreign body")
		}
	case KindFile:
		if m.File == nil || m.File.Path == "" {
			return ErrValidation.WithDetails("file path is required")
		}
		if m.Text != nil || m.Audio != nil {
			return ErrValidation.WithDetails("file message carries a foreign body")
		}
	default:
		return ErrValidation.WithDetails("unknown message type")
	}
	return nil
}

// IsChannel reports whether the message targets a channel.
func (m *Message) IsChannel() bool { return m.ChannelID != 0 }

// Conversation returns the wire label of the conversation kind.
func (m *Message) Conversation() string {
	if m.IsChannel() {
		return "CANAL"
	}
	return "DIRECTO"
}

// Content returns the client-facing body fields.
func (m *Message) Content() map[string]any {
	switch m.Kind {
	case KindAudio:
		if m.Audio == nil {
			return map[string]any{}
		}
		c := map[string]any{
			"rutaArchivo": m.Audio.Path,
			"mime":        m.Audio.Mime,
			"duracionSeg": m.Audio.DurationSec,
		}
		if m.Audio.Transcription != "" {
			c["transcripcion"] = m.Audio.Transcription
		}
		return c
	case KindFile:
		if m.File == nil {
			return map[string]any{}
		}
		return map[string]any{"rutaArchivo": m.File.Path, "mime": m.File.Mime}
	default:
		if m.Text == nil {
			return map[string]any{}
		}
		return map[string]any{"contenido": m.Text.Content}
	}
}

// Equal reports whether two messages carry the same replicated state.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.ID != o.ID || m.Kind != o.Kind || m.SenderID != o.SenderID ||
		m.ReceiverID != o.ReceiverID || m.ChannelID != o.ChannelID ||
		!m.Timestamp.Equal(o.Timestamp) {
		return false
	}
	switch m.Kind {
	case KindAudio:
		return m.Audio != nil && o.Audio != nil && *m.Audio == *o.Audio
	case KindFile:
		return m.File != nil && o.File != nil && *m.File == *o.File
	default:
		return m.Text != nil && o.Text != nil && *m.Text == *o.Text
	}
}
