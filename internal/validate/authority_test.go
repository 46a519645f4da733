package validate

import (
	"testing"

	"github.com/ppiankov/concordia/internal/model"
)

func TestAuthorityClassifier_Defaults(t *testing.T) {
	classifier := NewAuthorityClassifier(nil)

	tests := []struct {
		source      string
		frontmatter map[string]string
		docType     model.DocumentType
		authority   int
		desc        string
	}{
		{
			source:    "notes/random.md",
			docType:   model.DocTypeGuide,
			authority: model.DefaultAuthority,
			desc:      "Nothing matches",
		},
		{
			source:    "docs/specs/api.md",
			docType:   model.DocTypeSpec,
			authority: 8,
			desc:      "Spec directory",
		},
		{
			source:    "docs/adr/0003-use-sqlite.md",
			docType:   model.DocTypeDecision,
			authority: 8,
			desc:      "ADR directory",
		},
		{
			source:    "archive/specs/api.md",
			docType:   model.DocTypeArchive,
			authority: 2,
			desc:      "Archive wins over spec by pattern order",
		},
		{
			source:    `team\HANDOFF-2026-03.md`,
			docType:   model.DocTypeHandoff,
			authority: 4,
			desc:      "Windows separators and case",
		},
		{
			source:      "notes/random.md",
			frontmatter: map[string]string{"type": "reference", "authority": "9"},
			docType:     model.DocTypeReference,
			authority:   9,
			desc:        "Frontmatter overrides",
		},
		{
			source:      "docs/specs/api.md",
			frontmatter: map[string]string{"document_type": "prompt"},
			docType:     model.DocTypePrompt,
			authority:   3,
			desc:        "Frontmatter type wins over path",
		},
		{
			source:      "notes/random.md",
			frontmatter: map[string]string{"authority": "42"},
			docType:     model.DocTypeGuide,
			authority:   10,
			desc:        "Frontmatter authority is clamped",
		},
		{
			source:      "notes/random.md",
			frontmatter: map[string]string{"type": "novel", "authority": "high"},
			docType:     model.DocTypeGuide,
			authority:   model.DefaultAuthority,
			desc:        "Invalid frontmatter ignored",
		},
		{
			source:      "notes/old.md",
			frontmatter: map[string]string{"status": "archived"},
			docType:     model.DocTypeArchive,
			authority:   2,
			desc:        "Archived status",
		},
		{
			source:    "https://www.nist.gov/publications/guide",
			docType:   model.DocTypeGuide,
			authority: 8,
			desc:      "Authoritative TLD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			result := classifier.Classify(tt.source, tt.frontmatter)
			if result.DocumentType != tt.docType {
				t.Errorf("Expected type %s for %s, got %s (%s)", tt.docType, tt.source, result.DocumentType, result.Reason)
			}
			if result.AuthorityLevel != tt.authority {
				t.Errorf("Expected authority %d for %s, got %d (%s)", tt.authority, tt.source, result.AuthorityLevel, result.Reason)
			}
		})
	}
}

func TestAuthorityClassifier_CustomConfig(t *testing.T) {
	config := &model.AuthorityConfig{
		PathPatterns: []model.PathPattern{
			{Pattern: `[invalid`, Type: "spec"},
			{Pattern: `^runbooks/`, Type: "unknown-type"},
			{Pattern: `^runbooks/`, Type: "guide", Authority: 7},
		},
		TypeLevels: map[string]int{"guide": 6},
		HostLevels: map[string]int{"wiki.internal": 3, "example.com": 9},
	}
	classifier := NewAuthorityClassifier(config)

	if len(classifier.pathPatterns) != 1 {
		t.Fatalf("Expected invalid patterns to be skipped, got %d", len(classifier.pathPatterns))
	}

	tests := []struct {
		source    string
		docType   model.DocumentType
		authority int
	}{
		{"runbooks/db.md", model.DocTypeGuide, 7},
		{"https://wiki.internal/page", model.DocTypeGuide, 3},
		{"https://docs.example.com:8443/x", model.DocTypeGuide, 9},
		{"https://other.org/x", model.DocTypeGuide, model.DefaultAuthority},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			result := classifier.Classify(tt.source, nil)
			if result.DocumentType != tt.docType || result.AuthorityLevel != tt.authority {
				t.Errorf("Classify(%s) = %s/%d, want %s/%d", tt.source, result.DocumentType, result.AuthorityLevel, tt.docType, tt.authority)
			}
		})
	}
}
