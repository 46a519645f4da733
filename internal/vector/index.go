// Package vector stores section embeddings and answers similarity queries.
package vector

import (
	"context"
	"math"
	"sort"

	"github.com/ppiankov/concordia/internal/model"
)

// Metadata travels with every indexed section vector
type Metadata struct {
	DocumentID     string             `json:"document_id"`
	SectionID      string             `json:"section_id"`
	Header         string             `json:"header"`
	Content        string             `json:"content"`
	DocumentType   model.DocumentType `json:"document_type"`
	AuthorityLevel int                `json:"authority_level"`
	Deprecated     bool               `json:"deprecated"`
}

// Entry is a section vector to index
type Entry struct {
	Metadata
	Vector []float32
}

// NewEntry builds the index entry for one section of doc
func NewEntry(doc *model.Document, sec model.Section, vec []float32) Entry {
	return Entry{
		Metadata: Metadata{
			DocumentID:     doc.ID,
			SectionID:      sec.ID,
			Header:         sec.Header,
			Content:        sec.Content,
			DocumentType:   doc.DocumentType,
			AuthorityLevel: doc.AuthorityLevel,
			Deprecated:     doc.IsDeprecated(),
		},
		Vector: vec,
	}
}

// Query selects the nearest sections to Vector
type Query struct {
	Vector            []float32
	Limit             int
	MinSimilarity     float64
	IncludeDeprecated bool
	// DocumentIDs restricts results to these documents when non-empty
	DocumentIDs []string
}

// Hit is one search result
type Hit struct {
	Metadata
	Similarity float64 `json:"similarity"`
}

// Index is the vector store consumed by ingestion, overlap clustering and
// source-of-truth queries
type Index interface {
	// Upsert adds or replaces section vectors, keyed by section id
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns hits ordered by descending similarity
	Search(ctx context.Context, q Query) ([]Hit, error)

	// Vectors returns the stored vectors for the given sections; missing ids are absent
	Vectors(ctx context.Context, sectionIDs []string) (map[string][]float32, error)

	// MarkDeprecated flags every vector of a document as deprecated
	MarkDeprecated(ctx context.Context, documentID string) error

	// Name identifies the backend in errors and metrics
	Name() string
}

// Cosine returns the cosine similarity of a and b. Mismatched or zero vectors give 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against rounding just outside [-1,1]
	return math.Max(-1, math.Min(1, sim))
}

// rank sorts hits by similarity (section id breaks ties) and applies the query limits
func rank(hits []Hit, q Query) []Hit {
	filtered := hits[:0]
	for _, h := range hits {
		if h.Similarity >= q.MinSimilarity {
			filtered = append(filtered, h)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		return filtered[i].SectionID < filtered[j].SectionID
	})

	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered
}
