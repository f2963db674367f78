package output

import (
	"bytes"
	"strings"
	"testing"
)

type peers []string

func (p peers) Table() *Table {
	t := NewTable("PEER", "PHASE")
	for _, id := range p {
		t.AddRow(id, "connected")
	}
	t.AddRow("", "connecting")
	return t
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"", FormatTable, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatTable).Format(&buf, peers{"server-b"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "PEER      PHASE" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "-  ") {
		t.Errorf("empty cell should render as '-': %q", lines[2])
	}

	buf.Reset()
	TableFormatter{NoHeaders: true}.Format(&buf, peers{"server-b"})
	if strings.Contains(buf.String(), "PEER") {
		t.Error("NoHeaders should omit headers")
	}
}

func TestTableFormatter_FallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatTable).Format(&buf, map[string]int{"total": 2}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"total\": 2\n}\n" {
		t.Errorf("fallback = %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatJSON).Format(&buf, peers{"server-b"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[\n  \"server-b\"\n]\n" {
		t.Errorf("json = %q", buf.String())
	}
}
