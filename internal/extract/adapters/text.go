package adapters

import "strings"

// TextAdapter is the fallback adapter: the whole document is one section
type TextAdapter struct{}

// NewTextAdapter creates a new plain text adapter
func NewTextAdapter() *TextAdapter {
	return &TextAdapter{}
}

// Name returns the adapter name
func (a *TextAdapter) Name() string {
	return "text"
}

// CanHandle always returns true (fallback adapter)
func (a *TextAdapter) CanHandle(source string, contentType string) bool {
	return true
}

// Parse returns a single section titled by the first non-empty line
func (a *TextAdapter) Parse(content string) (*ParsedDocument, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	doc := &ParsedDocument{Format: "text", Frontmatter: map[string]string{}}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return doc, nil
	}

	first := strings.TrimSpace(strings.SplitN(trimmed, "\n", 2)[0])
	if r := []rune(first); len(r) > 120 {
		first = string(r[:120])
	}
	doc.Title = first
	doc.Sections = []ParsedSection{{
		Content:      trimmed,
		Level:        1,
		StartLine:    1,
		EndLine:      strings.Count(content, "\n") + 1,
		SemanticType: ClassifySection(""),
	}}
	return doc, nil
}
