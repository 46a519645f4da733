package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var citationPattern = regexp.MustCompile(`\[doc:([A-Za-z0-9_\-]+)\]`)

// Cite renders the citation marker for a document id
func Cite(documentID string) string {
	return "[doc:" + documentID + "]"
}

// ExtractCitations returns the distinct document ids cited in text, in order
func ExtractCitations(text string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// CheckCitations enforces the strict evidence rule: every cited id must be in allowed
func CheckCitations(text string, allowed []string) ([]string, error) {
	cited := ExtractCitations(text)
	for _, id := range cited {
		if !contains(allowed, id) {
			return cited, fmt.Errorf("CITATION LEAK: answer cited disallowed source: %s", id)
		}
	}
	return cited, nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ExtractJSON trims code fences and surrounding prose from a model reply
// and returns the outermost JSON object
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}
