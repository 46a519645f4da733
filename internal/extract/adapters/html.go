package adapters

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLAdapter splits HTML pages at h1-h6 elements
type HTMLAdapter struct {
	BaseAdapter
}

// NewHTMLAdapter creates a new HTML adapter
func NewHTMLAdapter() *HTMLAdapter {
	return &HTMLAdapter{}
}

// Name returns the adapter name
func (a *HTMLAdapter) Name() string {
	return "html"
}

// CanHandle matches .html/.htm sources and text/html content
func (a *HTMLAdapter) CanHandle(source string, contentType string) bool {
	switch extensionOf(source) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml")
}

func headingLevel(n *html.Node) int {
	if n.Type != html.ElementNode || len(n.Data) != 2 || n.Data[0] != 'h' {
		return 0
	}
	if l := int(n.Data[1] - '0'); l >= 1 && l <= 6 {
		return l
	}
	return 0
}

// Parse walks the body in document order, starting a section at every heading
func (a *HTMLAdapter) Parse(content string) (*ParsedDocument, error) {
	root, err := a.ParseHTML(content)
	if err != nil {
		return nil, err
	}

	doc := &ParsedDocument{Format: "html", Frontmatter: map[string]string{}}
	if title := a.FindFirst(root, isElement("title")); title != nil {
		doc.Title = a.ExtractText(title)
	}

	body := a.FindFirst(root, isElement("body"))
	if body == nil {
		body = root
	}

	var current *ParsedSection
	var text []string
	closeSection := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(text, "\n"))
		if current.Header != "" || current.Content != "" {
			current.Order = len(doc.Sections)
			current.StartLine = current.Order + 1
			current.EndLine = current.Order + 1
			doc.Sections = append(doc.Sections, *current)
		}
		current = nil
		text = nil
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if level := headingLevel(n); level > 0 {
			closeSection()
			header := a.ExtractText(n)
			current = &ParsedSection{Header: header, Level: level, SemanticType: ClassifySection(header)}
			if level == 1 && doc.Title == "" {
				doc.Title = header
			}
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template", "nav", "footer":
				return
			case "p", "li", "pre", "td", "th", "blockquote", "dd", "dt":
				if t := a.ExtractText(n); t != "" {
					if current == nil {
						current = &ParsedSection{Level: 1, SemanticType: ClassifySection("")}
					}
					text = append(text, t)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if current == nil {
					current = &ParsedSection{Level: 1, SemanticType: ClassifySection("")}
				}
				text = append(text, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(body)
	closeSection()

	return doc, nil
}
