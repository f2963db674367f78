package logger

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Keys whose values are always masked.
var sensitiveKeyPatterns = []string{
	"password",
	"contrasenia",
	"secret",
	"token",
	"credential",
	"hash",
}

// Keys carrying inline base64 media that is truncated to a preview.
var mediaKeyPatterns = []string{
	"audiobase64",
	"fotobase64",
	"fotoperfil",
	"photo",
}

const (
	redactedValue = "***REDACTED***"
	// MediaPreviewLength is how many characters of inline media survive truncation.
	MediaPreviewLength = 32
)

// IsSensitiveKey reports whether a key name carries a credential.
func IsSensitiveKey(key string) bool {
	return containsAny(strings.ToLower(key), sensitiveKeyPatterns)
}

// IsMediaKey reports whether a key name carries inline base64 media.
func IsMediaKey(key string) bool {
	return containsAny(strings.ToLower(key), mediaKeyPatterns)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// TruncateMedia shortens a base64 payload to MediaPreviewLength characters plus "...".
func TruncateMedia(v string) string {
	if len(v) <= MediaPreviewLength {
		return v
	}
	return v[:MediaPreviewLength] + "..."
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if v == "" {
			return a
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if IsMediaKey(a.Key) {
			return slog.String(a.Key, TruncateMedia(v))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// SanitizeJSON returns a log-safe rendering of a client JSON payload.
// Credentials are masked and media fields truncated at any depth. Input that
// is not valid JSON is truncated as a whole.
func SanitizeJSON(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return TruncateMedia(string(raw))
	}
	out, err := json.Marshal(sanitizeValue("", v))
	if err != nil {
		return "unprintable"
	}
	return string(out)
}

func sanitizeValue(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = sanitizeValue(k, child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = sanitizeValue(key, child)
		}
		return t
	case string:
		if t == "" || key == "" {
			return t
		}
		if IsSensitiveKey(key) {
			return redactedValue
		}
		if IsMediaKey(key) {
			return TruncateMedia(t)
		}
		return t
	default:
		return v
	}
}
