// Package overlap groups near-duplicate sections across documents.
package overlap

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/vector"
)

const (
	DefaultThreshold       = 0.80
	DefaultMaxSectionsWarn = 2000
	DefaultEmbedBatch      = 64
)

// clusterNamespace seeds deterministic cluster ids
var clusterNamespace = uuid.MustParse("6f1c2a52-6c1e-4f0e-9a57-4b1d1f7a0c11")

// Item is one section taking part in clustering, already in iteration order
type Item struct {
	SectionID  string
	DocumentID string
	Header     string
	Vector     []float32
}

// Result is the outcome of one clustering run
type Result struct {
	Clusters        []model.OverlapCluster `json:"clusters"`
	RedundancyScore float64                `json:"redundancy_score"`
	TotalSections   int                    `json:"total_sections"`
	Clustered       int                    `json:"clustered_sections"`
	Unembedded      int                    `json:"unembedded"`
	Warning         string                 `json:"warning,omitempty"`
}

// Engine loads section vectors and clusters them
type Engine struct {
	index    vector.Index
	embedder llm.Embedder

	Threshold       float64
	MaxSectionsWarn int
	EmbedBatch      int
}

// NewEngine creates an engine. embedder may be nil, in which case sections
// without a stored vector are skipped and counted.
func NewEngine(index vector.Index, embedder llm.Embedder) *Engine {
	return &Engine{
		index:           index,
		embedder:        embedder,
		Threshold:       DefaultThreshold,
		MaxSectionsWarn: DefaultMaxSectionsWarn,
		EmbedBatch:      DefaultEmbedBatch,
	}
}

// Find clusters the sections of docs. Documents are visited by (ingested_at, id)
// and sections by section_order, so the same inputs always give the same clusters.
// threshold <= 0 uses the engine default.
func (e *Engine) Find(ctx context.Context, docs []*model.Document, sections []model.Section, threshold float64) (*Result, error) {
	if threshold <= 0 {
		threshold = e.Threshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, model.ValidationError("similarity threshold must be in (0,1], got %.2f", threshold)
	}

	ordered := OrderSections(docs, sections)
	result := &Result{TotalSections: len(ordered)}

	limit := e.MaxSectionsWarn
	if limit <= 0 {
		limit = DefaultMaxSectionsWarn
	}
	if len(ordered) > limit {
		result.Warning = fmt.Sprintf("%d sections exceed the %d section guideline; clustering is quadratic and may be slow", len(ordered), limit)
		slog.Warn("Large overlap scope", "sections", len(ordered), "limit", limit)
	}
	if len(ordered) == 0 {
		return result, nil
	}

	vectors, err := e.loadVectors(ctx, docs, ordered)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(ordered))
	for _, sec := range ordered {
		v, ok := vectors[sec.ID]
		if !ok {
			result.Unembedded++
			continue
		}
		items = append(items, Item{SectionID: sec.ID, DocumentID: sec.DocumentID, Header: sec.Header, Vector: v})
	}

	result.Clusters = Greedy(items, threshold)
	for _, c := range result.Clusters {
		result.Clustered += len(c.Members)
	}
	result.RedundancyScore = Redundancy(result.Clustered, result.TotalSections)

	slog.Debug("Overlap clustering finished",
		"sections", result.TotalSections, "clusters", len(result.Clusters), "unembedded", result.Unembedded)
	return result, nil
}

// loadVectors returns stored vectors, embedding and indexing the missing ones
// when an embedder is configured
func (e *Engine) loadVectors(ctx context.Context, docs []*model.Document, sections []model.Section) (map[string][]float32, error) {
	ids := make([]string, len(sections))
	for i, s := range sections {
		ids[i] = s.ID
	}

	vectors, err := e.index.Vectors(ctx, ids)
	if err != nil {
		return nil, model.BackendError(model.KindInternal, e.index.Name(), err)
	}
	if e.embedder == nil {
		return vectors, nil
	}

	byID := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	var missing []model.Section
	for _, s := range sections {
		if _, ok := vectors[s.ID]; !ok {
			missing = append(missing, s)
		}
	}

	batch := e.EmbedBatch
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}
	for start := 0; start < len(missing); start += batch {
		end := min(start+batch, len(missing))
		chunk := missing[start:end]

		texts := make([]string, len(chunk))
		for i := range chunk {
			texts[i] = chunk[i].Text()
		}
		embedded, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, model.BackendError(model.KindEmbedding, e.embedder.Name(), err)
		}

		entries := make([]vector.Entry, 0, len(chunk))
		for i, sec := range chunk {
			vectors[sec.ID] = embedded[i]
			if doc := byID[sec.DocumentID]; doc != nil {
				entries = append(entries, vector.NewEntry(doc, sec, embedded[i]))
			}
		}
		if err := e.index.Upsert(ctx, entries); err != nil {
			slog.Warn("Failed to index embedded sections", "backend", e.index.Name(), "error", err)
		}
	}
	return vectors, nil
}

// OrderSections returns the sections of docs in clustering order:
// document ingested_at, then document id, then section_order.
// Sections of documents not in docs are dropped.
func OrderSections(docs []*model.Document, sections []model.Section) []model.Section {
	sortedDocs := make([]*model.Document, len(docs))
	copy(sortedDocs, docs)
	sort.SliceStable(sortedDocs, func(i, j int) bool {
		a, b := sortedDocs[i], sortedDocs[j]
		if !a.IngestedAt.Equal(b.IngestedAt) {
			return a.IngestedAt.Before(b.IngestedAt)
		}
		return a.ID < b.ID
	})

	rank := make(map[string]int, len(sortedDocs))
	for i, d := range sortedDocs {
		rank[d.ID] = i
	}

	out := make([]model.Section, 0, len(sections))
	for _, s := range sections {
		if _, ok := rank[s.DocumentID]; ok {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank[out[i].DocumentID], rank[out[j].DocumentID]
		if ri != rj {
			return ri < rj
		}
		return out[i].Order < out[j].Order
	})
	return out
}

// Greedy runs the single-pass clustering over items in the given order: each
// unassigned item seeds a cluster and absorbs every later unassigned item
// whose cosine similarity to the seed reaches threshold. Only clusters with at
// least two members are returned.
func Greedy(items []Item, threshold float64) []model.OverlapCluster {
	assigned := make([]bool, len(items))
	var clusters []model.OverlapCluster

	for i := range items {
		if assigned[i] {
			continue
		}
		seed := items[i]
		members := []model.ClusterMember{{
			SectionID: seed.SectionID, DocumentID: seed.DocumentID, Header: seed.Header, Similarity: 1,
		}}
		var simSum float64

		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			sim := vector.Cosine(seed.Vector, items[j].Vector)
			if sim >= threshold {
				assigned[j] = true
				members = append(members, model.ClusterMember{
					SectionID: items[j].SectionID, DocumentID: items[j].DocumentID, Header: items[j].Header, Similarity: sim,
				})
				simSum += sim
			}
		}

		if len(members) < 2 {
			continue
		}
		assigned[i] = true
		clusters = append(clusters, buildCluster(members, simSum/float64(len(members)-1)))
	}
	return clusters
}

func buildCluster(members []model.ClusterMember, avgSim float64) model.OverlapCluster {
	var docIDs []string
	seen := make(map[string]bool)
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.SectionID
		if !seen[m.DocumentID] {
			seen[m.DocumentID] = true
			docIDs = append(docIDs, m.DocumentID)
		}
	}

	pct := OverlapPercentage(len(members), len(docIDs))
	return model.OverlapCluster{
		ClusterID:         uuid.NewSHA1(clusterNamespace, []byte(strings.Join(ids, "\x00"))).String(),
		Members:           members,
		DocumentIDs:       docIDs,
		AverageSimilarity: round(avgSim, 4),
		OverlapPercentage: pct,
		RecommendedAction: Action(pct),
	}
}

// OverlapPercentage is (members - distinct documents) / members * 100
func OverlapPercentage(members, documents int) float64 {
	if members == 0 {
		return 0
	}
	return round(float64(members-documents)/float64(members)*100, 2)
}

// Action maps an overlap percentage to the recommended action
func Action(pct float64) string {
	switch {
	case pct > 70:
		return model.ActionMerge
	case pct > 40:
		return model.ActionKeepNewest
	default:
		return model.ActionReview
	}
}

// Redundancy is min(100, clustered/total*100), 0 for an empty scope
func Redundancy(clustered, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(math.Min(100, float64(clustered)/float64(total)*100), 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
