package llm

import (
	"strings"
	"testing"
)

func TestExtractCitations(t *testing.T) {
	text := "Use v2 " + Cite("doc-a") + " and also " + Cite("doc_b") + " again " + Cite("doc-a")
	got := ExtractCitations(text)
	if len(got) != 2 || got[0] != "doc-a" || got[1] != "doc_b" {
		t.Errorf("ExtractCitations = %v", got)
	}
}

func TestCheckCitations(t *testing.T) {
	if _, err := CheckCitations("see [doc:a]", []string{"a", "b"}); err != nil {
		t.Errorf("Allowed citation rejected: %v", err)
	}

	_, err := CheckCitations("see [doc:a] and [doc:z]", []string{"a"})
	if err == nil {
		t.Fatal("Expected citation leak error")
	}
	if !strings.Contains(err.Error(), "CITATION LEAK") || !strings.Contains(err.Error(), "z") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Sure! {\"a\":{\"b\":2}} hope that helps", `{"a":{"b":2}}`},
		{"none", "no json here", "no json here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
