package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"direct text", Message{Kind: KindText, SenderID: 1, ReceiverID: 2, Text: &TextBody{Content: "hola"}}, false},
		{"channel audio", Message{Kind: KindAudio, SenderID: 1, ChannelID: 3, Audio: &AudioBody{Path: "a.ogg"}}, false},
		{"file", Message{Kind: KindFile, SenderID: 1, ReceiverID: 2, File: &FileBody{Path: "f.pdf"}}, false},
		{"no sender", Message{Kind: KindText, ReceiverID: 2, Text: &TextBody{Content: "x"}}, true},
		{"both targets", Message{Kind: KindText, SenderID: 1, ReceiverID: 2, ChannelID: 3, Text: &TextBody{Content: "x"}}, true},
		{"no target", Message{Kind: KindText, SenderID: 1, Text: &TextBody{Content: "x"}}, true},
		{"blank text", Message{Kind: KindText, SenderID: 1, ReceiverID: 2, Text: &TextBody{Content: "  "}}, true},
		{"foreign body", Message{Kind: KindText, SenderID: 1, ReceiverID: 2, Text: &TextBody{Content: "x"}, Audio: &AudioBody{Path: "a"}}, true},
		{"audio without path", Message{Kind: KindAudio, SenderID: 1, ReceiverID: 2, Audio: &AudioBody{}}, true},
		{"unknown kind", Message{Kind: "VIDEO", SenderID: 1, ReceiverID: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("error should be a validation error, got %v", err)
			}
		})
	}
}

func TestParseMessageKind(t *testing.T) {
	tests := map[string]MessageKind{"": KindText, "texto": KindText, "AUDIO": KindAudio, "archivo": KindFile}
	for in, want := range tests {
		got, err := ParseMessageKind(in)
		if err != nil || got != want {
			t.Errorf("ParseMessageKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMessageKind("gif"); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestMessage_ContentAndEqual(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &Message{ID: 1, Timestamp: ts, Kind: KindAudio, SenderID: 1, ChannelID: 2,
		Audio: &AudioBody{Path: "x.ogg", Mime: "audio/ogg", DurationSec: 3}}

	c := m.Content()
	if c["rutaArchivo"] != "x.ogg" || c["duracionSeg"] != 3 {
		t.Errorf("Content() = %v", c)
	}
	if _, ok := c["transcripcion"]; ok {
		t.Error("empty transcription should be omitted")
	}
	if m.Conversation() != "CANAL" {
		t.Errorf("Conversation() = %q", m.Conversation())
	}

	cp := *m
	audio := *m.Audio
	cp.Audio = &audio
	if !m.Equal(&cp) {
		t.Error("copy should be equal")
	}
	cp.Audio.DurationSec = 4
	if m.Equal(&cp) {
		t.Error("changed body should not be equal")
	}
}
