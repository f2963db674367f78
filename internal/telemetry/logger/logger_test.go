package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level string) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { SetLevel(slog.LevelInfo) })
	return l, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("unknown format should fail")
	}
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("unknown level should fail")
	}
	if _, err := New(Config{Format: "text", Level: "debug"}); err != nil {
		t.Errorf("text/debug: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestSetLevel_AppliesToExistingLoggers(t *testing.T) {
	l, buf := newBufferLogger(t, "warn")

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	SetLevel(slog.LevelDebug)
	if Level() != slog.LevelDebug {
		t.Fatalf("Level() = %v", Level())
	}
	l.With("component", "x").Debug("visible")
	if entry := decode(t, buf); entry["component"] != "x" {
		t.Errorf("entry = %v", entry)
	}
}

func TestRedaction(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	longAudio := strings.Repeat("A", 200)

	l.Info("register", "contrasenia", "s3cret", "password_hash", "$argon2id$...", "audioBase64", longAudio, "email", "a@b.c")
	entry := decode(t, buf)

	if entry["contrasenia"] != redactedValue || entry["password_hash"] != redactedValue {
		t.Errorf("credentials not redacted: %v", entry)
	}
	if got := entry["audioBase64"].(string); got != strings.Repeat("A", MediaPreviewLength)+"..." {
		t.Errorf("audioBase64 = %q", got)
	}
	if entry["email"] != "a@b.c" {
		t.Errorf("email should pass through, got %v", entry["email"])
	}
}

func TestRedaction_Group(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	l.Info("login", slog.Group("payload", slog.String("contrasenia", "pw"), slog.String("email", "x@y.z")))
	entry := decode(t, buf)

	group := entry["payload"].(map[string]any)
	if group["contrasenia"] != redactedValue || group["email"] != "x@y.z" {
		t.Errorf("group = %v", group)
	}
}

func TestSanitizeJSON(t *testing.T) {
	raw := []byte(`{"email":"a@b.c","contrasenia":"pw","fotoBase64":"` + strings.Repeat("B", 100) + `","nested":[{"password":"x"}]}`)
	out := SanitizeJSON(raw)

	if strings.Contains(out, `"pw"`) || strings.Contains(out, `"x"`) {
		t.Errorf("credentials leaked: %s", out)
	}
	if strings.Contains(out, strings.Repeat("B", MediaPreviewLength+1)) {
		t.Errorf("media not truncated: %s", out)
	}
	if !strings.Contains(out, "a@b.c") {
		t.Errorf("email dropped: %s", out)
	}

	if SanitizeJSON(nil) != "null" {
		t.Error("empty payload should render as null")
	}
	if got := SanitizeJSON([]byte("not json")); got != "not json" {
		t.Errorf("invalid json = %q", got)
	}
}

func TestSetDefault_InstallsSlogDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	l, buf := newBufferLogger(t, "info")
	SetDefault(l)
	slog.Default().Info("through slog", "contrasenia", "pw")

	if entry := decode(t, buf); entry["contrasenia"] != redactedValue {
		t.Errorf("slog default should share redaction, got %v", entry)
	}
}
