package adapters

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownAdapter parses markdown with optional YAML frontmatter into ATX-heading sections
type MarkdownAdapter struct{}

// NewMarkdownAdapter creates a new markdown adapter
func NewMarkdownAdapter() *MarkdownAdapter {
	return &MarkdownAdapter{}
}

// Name returns the adapter name
func (a *MarkdownAdapter) Name() string {
	return "markdown"
}

// CanHandle matches .md/.markdown sources and markdown content types
func (a *MarkdownAdapter) CanHandle(source string, contentType string) bool {
	switch extensionOf(source) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return strings.Contains(contentType, "markdown")
}

// Parse splits markdown into sections at headings outside code fences
func (a *MarkdownAdapter) Parse(content string) (*ParsedDocument, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	doc := &ParsedDocument{Format: "markdown", Frontmatter: map[string]string{}}

	bodyStart := 0
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		for i := 1; i < len(lines); i++ {
			if t := strings.TrimSpace(lines[i]); t == "---" || t == "..." {
				fm, tags, err := parseFrontmatter(strings.Join(lines[1:i], "\n"))
				if err != nil {
					return nil, err
				}
				doc.Frontmatter = fm
				doc.Tags = tags
				bodyStart = i + 1
				break
			}
		}
	}

	var current *ParsedSection
	var body []string
	inFence := false
	fenceMarker := ""

	closeSection := func(endLine int) {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(body, "\n"))
		current.EndLine = endLine
		if current.Header != "" || current.Content != "" {
			current.Order = len(doc.Sections)
			doc.Sections = append(doc.Sections, *current)
		}
		current = nil
		body = nil
	}

	for i := bodyStart; i < len(lines); i++ {
		line := lines[i]
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			marker := trimmed[:3]
			if !inFence {
				inFence, fenceMarker = true, marker
			} else if marker == fenceMarker {
				inFence = false
			}
		}

		if !inFence {
			if level, header, ok := atxHeading(line); ok {
				closeSection(lineNo - 1)
				current = &ParsedSection{Header: header, Level: level, StartLine: lineNo, SemanticType: ClassifySection(header)}
				if level == 1 && doc.Title == "" {
					doc.Title = header
				}
				continue
			}
		}

		if current == nil {
			// Preamble before the first heading
			current = &ParsedSection{Level: 1, StartLine: lineNo, SemanticType: ClassifySection("")}
		}
		body = append(body, line)
	}
	closeSection(len(lines))

	if title := doc.Frontmatter["title"]; title != "" {
		doc.Title = title
	}
	return doc, nil
}

// atxHeading recognizes "# Header" through "###### Header"
func atxHeading(line string) (int, string, bool) {
	if len(line) > 3 && strings.HasPrefix(line, "    ") {
		return 0, "", false
	}
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	header := strings.TrimSpace(rest)
	header = strings.TrimSpace(strings.TrimRight(header, "#"))
	if header == "" {
		return 0, "", false
	}
	return level, header, true
}

// parseFrontmatter flattens YAML frontmatter to strings. Lists are joined with ", ".
func parseFrontmatter(raw string) (map[string]string, []string, error) {
	var values map[string]interface{}
	if err := yaml.Unmarshal([]byte(raw), &values); err != nil {
		return nil, nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	out := make(map[string]string, len(values))
	var tags []string
	for key, v := range values {
		switch val := v.(type) {
		case nil:
			continue
		case []interface{}:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			out[key] = strings.Join(items, ", ")
			if key == "tags" {
				tags = items
			}
		default:
			out[key] = fmt.Sprint(val)
			if key == "tags" {
				for _, t := range strings.Split(out[key], ",") {
					if t = strings.TrimSpace(t); t != "" {
						tags = append(tags, t)
					}
				}
			}
		}
	}
	sort.Strings(tags)
	return out, tags, nil
}
