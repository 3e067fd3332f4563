package frontmatter

import (
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantSyntax Syntax
		wantBody   string
		wantFound  bool
		wantErr    bool
	}{
		{
			name:      "no delimiter",
			content:   "Just a regular markdown document.\n\nWith paragraphs.",
			wantBody:  "Just a regular markdown document.\n\nWith paragraphs.",
			wantFound: false,
		},
		{
			name:       "yaml frontmatter",
			content:    "---\ntitle: My Title\nstatus: Done\n---\nBody content here.",
			wantSyntax: YAML,
			wantBody:   "Body content here.",
			wantFound:  true,
		},
		{
			name:       "toml frontmatter",
			content:    "+++\ntitle = \"My Title\"\n+++\nBody content here.",
			wantSyntax: TOML,
			wantBody:   "Body content here.",
			wantFound:  true,
		},
		{
			name:    "unclosed yaml frontmatter",
			content: "---\ntitle: My Title\nBody without closing delimiter",
			wantErr: true,
		},
		{
			name:       "empty frontmatter",
			content:    "---\n---\nBody after empty frontmatter",
			wantSyntax: YAML,
			wantBody:   "Body after empty frontmatter",
			wantFound:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syntax, _, body, found, err := Split(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.wantFound {
				t.Errorf("found = %v, want %v", found, tt.wantFound)
			}
			if syntax != tt.wantSyntax {
				t.Errorf("syntax = %q, want %q", syntax, tt.wantSyntax)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestDecodeYAML(t *testing.T) {
	m, err := Decode(YAML, "title: My Title\npriority: 2\nestimate: 3.5\n", ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["title"] != "My Title" {
		t.Errorf("title = %v, want My Title", m["title"])
	}
	if m["priority"] != 2 {
		t.Errorf("priority = %v, want 2", m["priority"])
	}
}

func TestDecodeFallback(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
		want    any
	}{
		{"quoted string", `title: "Hello World"`, "title", "Hello World"},
		{"bool true", "done: true", "done", true},
		{"bool false", "done: false", "done", false},
		{"signed int", "priority: -3", "priority", int64(-3)},
		{"signed float", "estimate: -2.5", "estimate", -2.5},
		{"toml style equals", `title = "Hi"`, "title", "Hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(Unknown, tt.content, ParseOptions{UseFallback: true})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := m[tt.key]; got != tt.want {
				t.Errorf("%s = %v (%T), want %v (%T)", tt.key, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	fm := map[string]any{"title": "A", "priority": int64(2)}
	text, err := Serialize(fm, "Body1\n", SerializeOptions{Syntax: YAML})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.HasPrefix(text, "---\npriority: 2\ntitle: \"A\"\n---\n") {
		t.Fatalf("unexpected serialized form, keys not sorted?: %q", text)
	}

	_, content, body, found, serr := Split(text)
	if serr != nil {
		t.Fatalf("split: %v", serr)
	}
	if !found {
		t.Fatalf("expected delimiter to be found")
	}
	if body != "Body1\n" {
		t.Errorf("body = %q, want Body1\\n", body)
	}
	decoded, derr := Decode(YAML, content, ParseOptions{})
	if derr != nil {
		t.Fatalf("decode: %v", derr)
	}
	if decoded["title"] != "A" {
		t.Errorf("title = %v, want A", decoded["title"])
	}
}

func TestSerializeEmptyFrontmatterOmitsDelimiters(t *testing.T) {
	text, err := Serialize(map[string]any{}, "Body only\n", SerializeOptions{Syntax: YAML})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Body only\n" {
		t.Errorf("text = %q, want body only with no delimiters", text)
	}
}

func TestCanonicalizeLineEndingsAndTrailingWhitespace(t *testing.T) {
	text, err := Serialize(nil, "line one \r\nline two\t\r\n", SerializeOptions{
		Syntax:             YAML,
		LineEndings:        LineEndingsLF,
		TrailingWhitespace: TrailingWhitespaceTrim,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "\r") {
		t.Errorf("expected no carriage returns, got %q", text)
	}
	if strings.Contains(text, " \n") || strings.Contains(text, "\t\n") {
		t.Errorf("expected trailing whitespace trimmed, got %q", text)
	}
}
