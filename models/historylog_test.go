package models

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestEscapeUnescapeFieldRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "hello world"},
		{"with newline", "hello\nworld"},
		{"with multiple newlines", "a\nb\nc"},
		{"with literal backslash-n", `hello\nworld`},
		{"with backslash", `path\to\file`},
		{"empty", ""},
		{"only newline", "\n"},
		{"trailing newline", "hello\n"},
		{"double backslash", `\\`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := escapeField(tt.input)
			if strings.Contains(escaped, "\n") {
				t.Errorf("escaped contains newline: %q", escaped)
			}
			got := unescapeField(escaped)
			if got != tt.input {
				t.Errorf("round-trip failed:\n  input:     %q\n  escaped:   %q\n  unescaped: %q", tt.input, escaped, got)
			}
		})
	}
}

func TestHistoryLogPathSanitizesGroupID(t *testing.T) {
	h := NewHistoryLog("/tmp/history")
	got := h.path("abc123")
	if got != filepath.Join("/tmp/history", "abc123.log") {
		t.Errorf("unexpected path: %s", got)
	}

	got = h.path("grp with space/and:colon")
	if strings.ContainsAny(filepath.Base(got), " /:") {
		t.Errorf("path base contains unsafe characters: %s", got)
	}
}

func TestHistoryLogAppendAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := NewHistoryLog(dir)

	msgs := []Message{
		{GroupIDHex: "grp1", InnerEventJSON: `{"content":"hi"}`, Epoch: 1},
		{GroupIDHex: "grp1", InnerEventJSON: "line with\nnewline", Epoch: 2},
		{GroupIDHex: "grp1", InnerEventJSON: `{"content":"bye"}`, Epoch: 3},
	}
	for i, m := range msgs {
		if err := h.Append("grp1", m, int64(1700000000+i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := h.Load("grp1", 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("Load returned %d messages, want %d", len(got), len(msgs))
	}
	for i, m := range msgs {
		if got[i].InnerEventJSON != m.InnerEventJSON || got[i].Epoch != m.Epoch {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], m)
		}
	}
}

func TestHistoryLogLoadMissingFileYieldsNil(t *testing.T) {
	h := NewHistoryLog(t.TempDir())
	got, err := h.Load("never-written", 5)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing log, got %v", got)
	}
}

func TestHistoryLogLoadRespectsMaxMessages(t *testing.T) {
	dir := t.TempDir()
	h := NewHistoryLog(dir)
	for i := 0; i < 20; i++ {
		if err := h.Append("grp1", Message{GroupIDHex: "grp1", InnerEventJSON: string(rune('a' + i))}, int64(1700000000+i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := h.Load("grp1", 5)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("Load returned %d messages, want 5", len(got))
	}
	if got[len(got)-1].InnerEventJSON != string(rune('a'+19)) {
		t.Errorf("last loaded entry = %q, want last written entry", got[len(got)-1].InnerEventJSON)
	}
}

func TestHistoryLogDisabledWhenDirEmpty(t *testing.T) {
	h := NewHistoryLog("")
	if err := h.Append("grp1", Message{InnerEventJSON: "x"}, 1700000000); err != nil {
		t.Fatalf("Append with empty dir should no-op: %v", err)
	}
	got, err := h.Load("grp1", 5)
	if err != nil || got != nil {
		t.Errorf("Load with empty dir = %v, %v, want nil, nil", got, err)
	}
}
