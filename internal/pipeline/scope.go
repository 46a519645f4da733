package pipeline

import (
	"context"
	"path"
	"strings"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/store"
)

// resolveScope returns the documents a scope selects, in ingestion order.
// Unknown explicit ids are a not-found error.
func (e *Engine) resolveScope(ctx context.Context, scope Scope, includeArchived bool) ([]*model.Document, error) {
	filter := store.DocumentFilter{
		IDs:               scope.DocumentIDs,
		IncludeDeprecated: includeArchived,
		IncludeArchived:   includeArchived,
	}
	docs, err := e.store.ListDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}

	if len(scope.DocumentIDs) > 0 {
		found := make(map[string]bool, len(docs))
		for _, d := range docs {
			found[d.ID] = true
		}
		for _, id := range scope.DocumentIDs {
			if found[id] {
				continue
			}
			// Exists but filtered out by the include flags
			if _, err := e.store.GetDocument(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	if len(scope.Paths) == 0 {
		return docs, nil
	}
	var out []*model.Document
	for _, d := range docs {
		for _, pattern := range scope.Paths {
			if MatchGlob(pattern, d.SourcePath) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// sectionsOf loads the sections of docs
func (e *Engine) sectionsOf(ctx context.Context, docs []*model.Document) ([]model.Section, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	return e.store.ListSections(ctx, documentIDs(docs))
}

func documentIDs(docs []*model.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// MatchGlob reports whether name matches pattern. Segments follow path.Match;
// a ** segment matches zero or more whole segments.
func MatchGlob(pattern, name string) bool {
	pattern = strings.Trim(strings.ReplaceAll(pattern, "\\", "/"), "/")
	name = strings.Trim(strings.ReplaceAll(name, "\\", "/"), "/")
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
