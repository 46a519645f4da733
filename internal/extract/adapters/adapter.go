// Package adapters turns raw document content into titled, ordered sections.
package adapters

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ppiankov/concordia/internal/model"
	"golang.org/x/net/html"
)

// ParsedSection is a heading-delimited slice of a document
type ParsedSection struct {
	Header       string
	Content      string
	Level        int
	Order        int
	StartLine    int
	EndLine      int
	SemanticType model.SemanticType
}

// ParsedDocument is the format-independent result of parsing
type ParsedDocument struct {
	Title       string
	Format      string
	Frontmatter map[string]string
	Tags        []string
	Sections    []ParsedSection
}

// ModelSections converts parsed sections into model sections of documentID,
// assigning fresh ids and clamping levels to 1-6
func (d *ParsedDocument) ModelSections(documentID string) []model.Section {
	out := make([]model.Section, 0, len(d.Sections))
	for i, ps := range d.Sections {
		level := ps.Level
		if level < 1 {
			level = 1
		} else if level > 6 {
			level = 6
		}
		semantic := ps.SemanticType
		if semantic == "" {
			semantic = ClassifySection(ps.Header)
		}
		out = append(out, model.Section{
			ID:           uuid.NewString(),
			DocumentID:   documentID,
			Header:       ps.Header,
			Content:      ps.Content,
			Level:        level,
			Order:        i,
			StartLine:    ps.StartLine,
			EndLine:      ps.EndLine,
			SemanticType: semantic,
		})
	}
	return out
}

// Adapter defines the interface for format-specific parsers
type Adapter interface {
	// Name returns the adapter name
	Name() string

	// CanHandle checks if this adapter can handle the given source path/URL and content type
	CanHandle(source string, contentType string) bool

	// Parse splits content into sections
	Parse(content string) (*ParsedDocument, error)
}

// Registry manages format adapters
type Registry struct {
	adapters []Adapter
	generic  Adapter
}

// NewRegistry creates a new adapter registry
func NewRegistry() *Registry {
	registry := &Registry{
		adapters: make([]Adapter, 0),
	}

	// Register built-in adapters
	registry.Register(NewMarkdownAdapter())
	registry.Register(NewHTMLAdapter())

	// Set plain text adapter as fallback
	registry.generic = NewTextAdapter()

	return registry
}

// Register registers a new adapter
func (r *Registry) Register(adapter Adapter) {
	r.adapters = append(r.adapters, adapter)
}

// FindAdapter finds the best adapter for the given source and content type
func (r *Registry) FindAdapter(source string, contentType string) Adapter {
	// Try specific adapters first
	for _, adapter := range r.adapters {
		if adapter.CanHandle(source, contentType) {
			return adapter
		}
	}

	// Fall back to plain text
	return r.generic
}

// extensionOf returns the lowercased extension of a path or URL, ignoring query strings
func extensionOf(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		source = source[:i]
	}
	return strings.ToLower(filepath.Ext(source))
}

var semanticKeywords = []struct {
	kind     model.SemanticType
	keywords []string
}{
	{model.SemanticDecisions, []string{"decision", "adr", "rationale", "trade-off", "tradeoff", "alternatives considered", "chosen", "resolution"}},
	{model.SemanticExamples, []string{"example", "usage", "sample", "tutorial", "walkthrough", "demo", "how to", "quickstart", "quick start"}},
	{model.SemanticRequirements, []string{"requirement", "must", "shall", "constraint", "acceptance", "spec", "invariant", "rules", "policy"}},
}

// ClassifySection assigns a semantic type from header keywords
func ClassifySection(header string) model.SemanticType {
	lower := strings.ToLower(header)
	for _, group := range semanticKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(lower, keyword) {
				return group.kind
			}
		}
	}
	return model.SemanticUnknown
}

// BaseAdapter provides common HTML functionality for adapters
type BaseAdapter struct{}

// ParseHTML parses HTML string into a node tree
func (b *BaseAdapter) ParseHTML(htmlContent string) (*html.Node, error) {
	return html.Parse(strings.NewReader(htmlContent))
}

// ExtractText extracts visible text content from a node, skipping scripts and styles
func (b *BaseAdapter) ExtractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "iframe", "template":
			return ""
		}
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := b.ExtractText(c); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// FindFirst finds the first node matching a predicate
func (b *BaseAdapter) FindFirst(n *html.Node, predicate func(*html.Node) bool) *html.Node {
	var result *html.Node

	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		if predicate(node) {
			result = node
			return true
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}

	walk(n)
	return result
}

// isElement returns a predicate matching element nodes named tag
func isElement(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}
