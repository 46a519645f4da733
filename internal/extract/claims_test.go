package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/llm/llmtest"
	"github.com/ppiankov/concordia/internal/model"
)

func testSection() model.Section {
	return model.Section{
		ID:         "sec-1",
		DocumentID: "doc-1",
		Header:     "Timeouts",
		Content:    "The request timeout is 30s for all handlers.\nRetries default to 3 attempts.",
	}
}

func TestClaimExtractor_BasicExtraction(t *testing.T) {
	gen := llmtest.Static("fake", `{"claims":[
		{"subject":"request_timeout","predicate":"equals","object":"30s","confidence":0.9},
		{"subject":"retry_count","predicate":"defaults to","object":"3","confidence":0.8,"source_span":"Retries default to 3 attempts."}
	]}`)

	claims, err := NewClaimExtractor(gen).Extract(context.Background(), testSection())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("Expected 2 claims, got %d", len(claims))
	}

	first := claims[0]
	if first.DocumentID != "doc-1" || first.SectionID != "sec-1" || first.ID == "" {
		t.Errorf("Ownership not set: %+v", first)
	}
	if first.OriginalText != "The request timeout is 30s for all handlers." {
		t.Errorf("Expected sentence heuristic to pick the object sentence, got %q", first.OriginalText)
	}
	if claims[1].OriginalText != "Retries default to 3 attempts." {
		t.Errorf("Expected source_span to be used, got %q", claims[1].OriginalText)
	}
	if first.VerificationStatus != model.StatusUnverified {
		t.Errorf("Expected unverified status, got %s", first.VerificationStatus)
	}

	calls := gen.Calls()
	if len(calls) != 1 || !calls[0].Options.JSONMode {
		t.Errorf("Expected one JSON-mode call, got %+v", calls)
	}
}

func TestClaimExtractor_RetriesWithFeedback(t *testing.T) {
	gen := llmtest.Sequence("fake",
		"not json at all",
		`{"claims":[{"subject":"","predicate":"equals","object":"30s"}]}`,
		"```json\n{\"claims\":[{\"subject\":\"request_timeout\",\"predicate\":\"equals\",\"object\":\"30s\",\"confidence\":1.0}]}\n```",
	)

	claims, err := NewClaimExtractor(gen).Extract(context.Background(), testSection())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("Expected 1 claim after retries, got %d", len(claims))
	}

	calls := gen.Calls()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 calls, got %d", len(calls))
	}
	if !strings.Contains(calls[1].Prompt, "invalid JSON") {
		t.Errorf("Expected parse error fed back, got prompt %q", calls[1].Prompt)
	}
	if !strings.Contains(calls[2].Prompt, "subject, predicate and object are required") {
		t.Errorf("Expected schema error fed back, got prompt %q", calls[2].Prompt)
	}
}

func TestClaimExtractor_GivesUpQuietly(t *testing.T) {
	gen := llmtest.Static("fake", `{"claims":[{"subject":"x","predicate":"y","object":"z","confidence":7}]}`)

	claims, err := NewClaimExtractor(gen).Extract(context.Background(), testSection())
	if err != nil {
		t.Fatalf("Expected nil error after exhausted retries, got %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("Expected no claims, got %d", len(claims))
	}
	if got := len(gen.Calls()); got != DefaultMaxRetries+1 {
		t.Errorf("Expected %d calls, got %d", DefaultMaxRetries+1, got)
	}
}

func TestClaimExtractor_GeneratorError(t *testing.T) {
	_, err := NewClaimExtractor(llmtest.Failing("down")).Extract(context.Background(), testSection())
	if !errors.Is(err, llmtest.ErrUnavailable) {
		t.Errorf("Expected backend error, got %v", err)
	}
}

func TestClaimExtractor_DedupesKeepingHighestConfidence(t *testing.T) {
	gen := llmtest.Static("fake", `{"claims":[
		{"subject":"request_timeout","predicate":"equals","object":"30s","confidence":0.4},
		{"subject":"Request_Timeout","predicate":"equals","object":"30S","confidence":0.95},
		{"subject":"request_timeout","predicate":"equals","object":"30s","confidence":1.004}
	]}`)

	claims, err := NewClaimExtractor(gen).Extract(context.Background(), testSection())
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("Expected 1 claim, got %d", len(claims))
	}
	if claims[0].Confidence != 1 {
		t.Errorf("Expected clamped max confidence 1, got %v", claims[0].Confidence)
	}
}

func TestClaimExtractor_NoGenerator(t *testing.T) {
	claims, err := NewClaimExtractor(nil).Extract(context.Background(), testSection())
	if err != nil || claims != nil {
		t.Errorf("Expected nil, nil without a generator; got %v, %v", claims, err)
	}
}

func TestClaimExtractor_UsesConfiguredModel(t *testing.T) {
	var seen llm.GenerateOptions
	gen := llmtest.NewFuncGenerator("fake", func(_ string, opts llm.GenerateOptions) (string, error) {
		seen = opts
		return `{"claims":[]}`, nil
	})
	ex := NewClaimExtractor(gen)
	ex.Model = "small-model"

	if _, err := ex.Extract(context.Background(), testSection()); err != nil {
		t.Fatal(err)
	}
	if seen.Model != "small-model" {
		t.Errorf("Expected model override, got %q", seen.Model)
	}
}

func TestSplitSentences(t *testing.T) {
	text := "Version 1.2 is current. Use it!\n- list item one\nLast line"
	got := splitSentences(text)
	want := []string{"Version 1.2 is current.", "Use it!", "list item one", "Last line"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d sentences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLiterals(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"duration", "30s", []string{"30s"}},
		{"backtick", "set `max_conns` to 10 connections", []string{"max_conns", "10 connections"}},
		{"quoted", `the header "X-Request-Id"`, []string{"X-Request-Id"}},
		{"version", "requires v1.22.3 or later", []string{"v1.22.3"}},
		{"identifiers", "uses retry_policy and backoffFactor", []string{"retry_policy", "backoffFactor"}},
		{"bare number", "3", []string{"3"}},
		{"prose", "the usual approach", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Literals(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Literals(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Literals(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}
