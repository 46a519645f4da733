package overlap

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/ppiankov/concordia/internal/llm/llmtest"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/vector"
)

// mapIndex is an in-memory vector.Index
type mapIndex struct {
	entries map[string]vector.Entry
	upserts int
}

func newMapIndex() *mapIndex {
	return &mapIndex{entries: make(map[string]vector.Entry)}
}

func (m *mapIndex) Upsert(ctx context.Context, entries []vector.Entry) error {
	m.upserts++
	for _, e := range entries {
		m.entries[e.SectionID] = e
	}
	return nil
}

func (m *mapIndex) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	return nil, nil
}

func (m *mapIndex) Vectors(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out[id] = e.Vector
		}
	}
	return out, nil
}

func (m *mapIndex) MarkDeprecated(ctx context.Context, documentID string) error { return nil }
func (m *mapIndex) Name() string                                               { return "map" }

func doc(id string, ingested time.Time) *model.Document {
	return &model.Document{ID: id, IngestedAt: ingested, DocumentType: model.DocTypeGuide, AuthorityLevel: 5}
}

func section(docID string, order int, content string) model.Section {
	return model.Section{
		ID:         fmt.Sprintf("%s-s%d", docID, order),
		DocumentID: docID,
		Header:     fmt.Sprintf("H%d", order),
		Content:    content,
		Level:      2,
		Order:      order,
	}
}

func TestOverlapPercentageAndAction(t *testing.T) {
	tests := []struct {
		members, docs int
		pct           float64
		action        string
	}{
		{5, 2, 60, model.ActionKeepNewest}, // Scenario B
		{10, 2, 80, model.ActionMerge},
		{2, 2, 0, model.ActionReview},
		{5, 3, 40, model.ActionReview}, // 40 is not > 40
		{0, 0, 0, model.ActionReview},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.members, tt.docs), func(t *testing.T) {
			pct := OverlapPercentage(tt.members, tt.docs)
			if pct != tt.pct {
				t.Errorf("Expected %.0f%%, got %.2f%%", tt.pct, pct)
			}
			if got := Action(pct); got != tt.action {
				t.Errorf("Expected %s, got %s", tt.action, got)
			}
		})
	}
}

func TestRedundancy(t *testing.T) {
	if got := Redundancy(0, 0); got != 0 {
		t.Errorf("Empty scope should be 0, got %f", got)
	}
	if got := Redundancy(3, 4); got != 75 {
		t.Errorf("Expected 75, got %f", got)
	}
	if got := Redundancy(5, 4); got != 100 {
		t.Errorf("Expected cap at 100, got %f", got)
	}
}

func TestGreedy_Properties(t *testing.T) {
	items := []Item{
		{SectionID: "a", DocumentID: "d1", Vector: []float32{1, 0, 0}},
		{SectionID: "b", DocumentID: "d2", Vector: []float32{0.99, 0.1, 0}},
		{SectionID: "c", DocumentID: "d2", Vector: []float32{0, 1, 0}},
		{SectionID: "d", DocumentID: "d3", Vector: []float32{0, 0.98, 0.1}},
		{SectionID: "e", DocumentID: "d3", Vector: []float32{0, 0, 1}},
	}

	clusters := Greedy(items, 0.9)
	if len(clusters) != 2 {
		t.Fatalf("Expected 2 clusters, got %d", len(clusters))
	}

	seen := make(map[string]bool)
	for _, c := range clusters {
		if len(c.Members) < 2 {
			t.Errorf("Cluster %s has fewer than 2 members", c.ClusterID)
		}
		if c.Members[0].Similarity != 1 {
			t.Errorf("Seed similarity should be 1")
		}
		for _, m := range c.Members {
			if seen[m.SectionID] {
				t.Errorf("Section %s assigned twice", m.SectionID)
			}
			seen[m.SectionID] = true
		}
	}
	if seen["e"] {
		t.Error("Singleton e must not be reported")
	}
	if clusters[0].Members[0].SectionID != "a" || clusters[1].Members[0].SectionID != "c" {
		t.Error("Clusters should be seeded in iteration order")
	}
}

func TestGreedy_SeedOnlyComparison(t *testing.T) {
	// b is close to a and c is close to b, but c is not close to a.
	// Greedy compares against the seed only, so c stays out.
	items := []Item{
		{SectionID: "a", DocumentID: "d1", Vector: []float32{1, 0}},
		{SectionID: "b", DocumentID: "d2", Vector: []float32{0.9, 0.44}},
		{SectionID: "c", DocumentID: "d3", Vector: []float32{0.6, 0.8}},
	}
	clusters := Greedy(items, 0.85)
	if len(clusters) != 1 || len(clusters[0].Members) != 2 {
		t.Fatalf("Expected one cluster {a,b}, got %+v", clusters)
	}
}

func TestFind_ScenarioB(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*model.Document{doc("doc-b", base.Add(time.Hour)), doc("doc-a", base)}
	same := []float32{0.6, 0.8, 0}

	idx := newMapIndex()
	var sections []model.Section
	for i := 0; i < 3; i++ {
		sections = append(sections, section("doc-a", i, "install steps"))
	}
	for i := 0; i < 2; i++ {
		sections = append(sections, section("doc-b", i, "install steps"))
	}
	for _, s := range sections {
		idx.entries[s.ID] = vector.Entry{Metadata: vector.Metadata{SectionID: s.ID, DocumentID: s.DocumentID}, Vector: same}
	}

	e := NewEngine(idx, nil)
	res, err := e.Find(context.Background(), docs, sections, 0)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(res.Clusters) != 1 {
		t.Fatalf("Expected 1 cluster, got %d", len(res.Clusters))
	}
	c := res.Clusters[0]
	if len(c.Members) != 5 || len(c.DocumentIDs) != 2 {
		t.Fatalf("Expected 5 members from 2 docs, got %d/%d", len(c.Members), len(c.DocumentIDs))
	}
	if c.OverlapPercentage != 60 || c.RecommendedAction != model.ActionKeepNewest {
		t.Errorf("Expected 60%% keep_newest, got %.2f %s", c.OverlapPercentage, c.RecommendedAction)
	}
	// doc-a was ingested first, so its first section seeds the cluster
	if c.Members[0].SectionID != "doc-a-s0" {
		t.Errorf("Expected seed doc-a-s0, got %s", c.Members[0].SectionID)
	}
	if res.RedundancyScore != 100 {
		t.Errorf("Expected redundancy 100, got %f", res.RedundancyScore)
	}
}

func TestFind_ScenarioC_Idempotent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*model.Document{doc("doc-a", base), doc("doc-b", base), doc("doc-c", base.Add(time.Minute))}
	sections := []model.Section{
		section("doc-a", 0, "Configure the request timeout to 30 seconds"),
		section("doc-a", 1, "Deployment uses blue green rollout"),
		section("doc-b", 0, "Configure the request timeout to 30 seconds"),
		section("doc-c", 0, "Deployment uses blue green rollout"),
		section("doc-c", 1, "Unrelated glossary of terms"),
	}
	for i := range sections {
		sections[i].Header = ""
	}

	emb := llmtest.NewHashEmbedder(64)
	idx := newMapIndex()
	e := NewEngine(idx, emb)

	first, err := e.Find(context.Background(), docs, sections, 0.95)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Find(context.Background(), docs, sections, 0.95)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical results:\n%+v\n%+v", first, second)
	}
	if len(first.Clusters) != 2 {
		t.Errorf("Expected 2 clusters, got %d", len(first.Clusters))
	}
	if emb.Calls() != 1 {
		t.Errorf("Second run should reuse indexed vectors, embedder called %d times", emb.Calls())
	}
	if len(idx.entries) != len(sections) {
		t.Errorf("Expected all sections indexed, got %d", len(idx.entries))
	}
}

func TestFind_UnembeddedCounted(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*model.Document{doc("doc-a", base), doc("doc-b", base)}
	sections := []model.Section{section("doc-a", 0, "x"), section("doc-b", 0, "x"), section("doc-b", 1, "y")}

	idx := newMapIndex()
	idx.entries["doc-a-s0"] = vector.Entry{Vector: []float32{1, 0}}
	idx.entries["doc-b-s0"] = vector.Entry{Vector: []float32{1, 0}}

	res, err := NewEngine(idx, nil).Find(context.Background(), docs, sections, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if res.Unembedded != 1 || res.TotalSections != 3 {
		t.Errorf("Expected 1 unembedded of 3, got %d of %d", res.Unembedded, res.TotalSections)
	}
	if len(res.Clusters) != 1 || res.Clustered != 2 {
		t.Errorf("Expected one 2-member cluster, got %+v", res.Clusters)
	}
}

func TestFind_WarnsOnLargeScope(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*model.Document{doc("doc-a", base)}
	sections := []model.Section{section("doc-a", 0, "x"), section("doc-a", 1, "y"), section("doc-a", 2, "z")}

	e := NewEngine(newMapIndex(), nil)
	e.MaxSectionsWarn = 2
	res, err := e.Find(context.Background(), docs, sections, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Warning == "" || res.Unembedded != 3 {
		t.Errorf("Expected a warning and all sections processed, got %+v", res)
	}
}

func TestFind_InvalidThreshold(t *testing.T) {
	_, err := NewEngine(newMapIndex(), nil).Find(context.Background(), nil, nil, 1.5)
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestFind_EmbeddingFailure(t *testing.T) {
	docs := []*model.Document{doc("doc-a", time.Now())}
	sections := []model.Section{section("doc-a", 0, "x")}
	_, err := NewEngine(newMapIndex(), llmtest.FailingEmbedder{}).Find(context.Background(), docs, sections, 0)
	if !model.IsKind(err, model.KindEmbedding) {
		t.Errorf("Expected embedding error, got %v", err)
	}
}
