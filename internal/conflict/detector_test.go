package conflict

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/llm/llmtest"
	"github.com/ppiankov/concordia/internal/model"
)

func claim(id, doc, subject, predicate, object string) model.AtomicClaim {
	return model.AtomicClaim{
		ID: id, DocumentID: doc, SectionID: doc + "-s", Subject: subject,
		Predicate: predicate, Object: object, Confidence: 0.9,
	}
}

// memStore is an in-memory Upserter keyed by ordered pair
type memStore struct {
	mu    sync.Mutex
	byKey map[string]*model.Conflict
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]*model.Conflict)}
}

func (m *memStore) UpsertConflict(ctx context.Context, c *model.Conflict) (*model.Conflict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, b := model.PairKey(c.ClaimAID, c.ClaimBID)
	key := a + "|" + b
	if existing, ok := m.byKey[key]; ok {
		if existing.Status == model.ConflictUnresolved {
			existing.Type = c.Type
			existing.Strength = c.Strength
		}
		return existing, false, nil
	}
	cp := *c
	cp.ID = key
	m.byKey[key] = &cp
	return &cp, true, nil
}

func TestDetect_ScenarioA_ValueConflict(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "request_timeout", "equals", "30s"),
		claim("c2", "doc-b", "request timeout", "equals", "60s"),
	}

	d := NewDetector(nil, llmtest.NewHashEmbedder(32))
	conflicts, err := d.Detect(context.Background(), claims)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != model.ConflictValue {
		t.Errorf("Expected value_conflict, got %s", c.Type)
	}
	if c.Strength <= 0 || c.Strength > 1 {
		t.Errorf("Expected strength in (0,1], got %f", c.Strength)
	}
	if c.ClaimAID != "c1" || c.ClaimBID != "c2" {
		t.Errorf("Expected ordered pair c1/c2, got %s/%s", c.ClaimAID, c.ClaimBID)
	}
	if c.DetectedBy != "rules" {
		t.Errorf("Expected rule detection without a generator, got %s", c.DetectedBy)
	}
}

func TestCandidates_Filtering(t *testing.T) {
	deprecated := claim("c9", "doc-c", "request_timeout", "equals", "90s")
	deprecated.Deprecated = true

	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "request_timeout", "equals", "30s"),
		claim("c2", "doc-a", "request_timeout", "equals", "45s"), // same document
		claim("c3", "doc-b", "request_timeout", "equals", "30s"), // agreement with c1
		claim("c4", "doc-b", "retry_count", "equals", "3"),       // other subject
		deprecated,
	}

	d := NewDetector(nil, nil)
	pairs, err := d.Candidates(context.Background(), claims)
	if err != nil {
		t.Fatal(err)
	}

	// only c2 (doc-a, 45s) vs c3 (doc-b, 30s) disagrees across documents
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 candidate pair, got %d: %+v", len(pairs), pairs)
	}
	if pairs[0].A.ID != "c2" || pairs[0].B.ID != "c3" {
		t.Errorf("Unexpected pair %s/%s", pairs[0].A.ID, pairs[0].B.ID)
	}
}

func TestCandidates_WithDeprecated(t *testing.T) {
	deprecated := claim("c2", "doc-b", "request_timeout", "equals", "90s")
	deprecated.Deprecated = true
	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "request_timeout", "equals", "30s"),
		deprecated,
	}

	d := NewDetector(nil, nil)
	pairs, err := d.Candidates(context.Background(), claims)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 0 {
		t.Errorf("Expected deprecated claim to be skipped, got %d pairs", len(pairs))
	}

	pairs, err = d.WithDeprecated().Candidates(context.Background(), claims)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || pairs[0].B.ID != "c2" {
		t.Errorf("Expected the deprecated pair when included, got %+v", pairs)
	}
	if d.includeDeprecated {
		t.Error("WithDeprecated modified the original detector")
	}
}

func TestCandidates_Focus(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "port", "equals", "80"),
		claim("c2", "doc-b", "port", "equals", "8080"),
		claim("c3", "doc-c", "port", "equals", "443"),
	}
	d := NewDetector(nil, nil)

	pairs, _ := d.Candidates(context.Background(), claims, "doc-c")
	if len(pairs) != 2 {
		t.Fatalf("Expected the 2 pairs touching doc-c, got %d", len(pairs))
	}
	for _, p := range pairs {
		if p.A.DocumentID != "doc-c" && p.B.DocumentID != "doc-c" {
			t.Errorf("Pair %s/%s does not touch the focus document", p.A.ID, p.B.ID)
		}
	}
}

func TestPrefilter_KeepsSamePredicate(t *testing.T) {
	emb := llmtest.NewHashEmbedder(8)
	emb.Overrides["equals 30s"] = []float32{1, 0}
	emb.Overrides["equals 60s"] = []float32{0, 1}
	emb.Overrides["supports tls"] = []float32{1, 0}
	emb.Overrides["uses http2"] = []float32{0, 1}

	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "timeout", "equals", "30s"),
		claim("c2", "doc-b", "timeout", "equals", "60s"),
		claim("c3", "doc-a", "server", "supports", "tls"),
		claim("c4", "doc-b", "server", "uses", "http2"),
	}

	d := NewDetector(nil, emb)
	pairs, err := d.Candidates(context.Background(), claims)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || pairs[0].A.ID != "c1" {
		t.Fatalf("Expected only the same-predicate pair to survive, got %+v", pairs)
	}
	if pairs[0].Similarity != 0 {
		t.Errorf("Expected orthogonal similarity 0, got %f", pairs[0].Similarity)
	}
}

func TestPrefilter_EmbeddingFailureKeepsPairs(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "server", "supports", "tls"),
		claim("c2", "doc-b", "server", "uses", "http2"),
	}
	d := NewDetector(nil, llmtest.FailingEmbedder{})
	pairs, err := d.Candidates(context.Background(), claims)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 {
		t.Errorf("Expected pairs to pass through when embedding fails, got %d", len(pairs))
	}
}

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		name     string
		a, b     model.AtomicClaim
		conflict bool
		typ      model.ConflictType
		strength float64
	}{
		{
			name:     "value",
			a:        claim("a", "d1", "timeout", "is", "30s"),
			b:        claim("b", "d2", "timeout", "equals", "60s"),
			conflict: true, typ: model.ConflictValue, strength: 0.8,
		},
		{
			name:     "negation",
			a:        claim("a", "d1", "cache", "is", "enabled"),
			b:        claim("b", "d2", "cache", "is not", "enabled"),
			conflict: true, typ: model.ConflictDirectNegation, strength: 0.9,
		},
		{
			name:     "temporal",
			a:        claim("a", "d1", "v2 release", "happened in", "2023"),
			b:        claim("b", "d2", "v2 release", "happened in", "2024-03"),
			conflict: true, typ: model.ConflictTemporal, strength: 0.7,
		},
		{
			name:     "numbers with units are values, not years",
			a:        claim("a", "d1", "flush interval", "equals", "2000 ms"),
			b:        claim("b", "d2", "flush interval", "equals", "2500 ms"),
			conflict: true, typ: model.ConflictValue, strength: 0.8,
		},
		{
			name:     "year after a year word",
			a:        claim("a", "d1", "api v1", "was retired", "in 2021"),
			b:        claim("b", "d2", "api v1", "was retired", "in 2022 after the migration"),
			conflict: true, typ: model.ConflictTemporal, strength: 0.7,
		},
		{
			name: "unrelated predicates",
			a:    claim("a", "d1", "server", "supports", "tls"),
			b:    claim("b", "d2", "server", "uses", "http2"),
		},
		{
			name: "identifier containing no is not negation",
			a:    claim("a", "d1", "proxy", "reads", "no_proxy"),
			b:    claim("b", "d2", "proxy", "reads", "NO_PROXY"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := classifyByRules(tt.a, tt.b)
			if v.Conflict != tt.conflict {
				t.Fatalf("Expected conflict=%v, got %+v", tt.conflict, v)
			}
			if !tt.conflict {
				return
			}
			if v.Type != tt.typ || v.Strength != tt.strength {
				t.Errorf("Expected %s/%.1f, got %s/%.1f", tt.typ, tt.strength, v.Type, v.Strength)
			}
		})
	}
}

func TestDates(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"2023", []string{"2023"}},
		{"2024-03-01", []string{"2024-03-01"}},
		{"since March 2020", []string{"2020"}},
		{"2000 ms", nil},
		{"1900 requests per second", nil},
		{"port 2049", nil},
	}
	for _, tt := range tests {
		if got := dates(tt.in); !sameStrings(got, tt.want) {
			t.Errorf("dates(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClassify_LLM(t *testing.T) {
	gen := llmtest.Static("judge", "```json\n"+`{"conflict": true, "type": "value_conflict", "strength": 0.95, "reasoning": "different timeouts", "resolution_hint": "prefer the spec"}`+"\n```")
	d := NewDetector(gen, nil)

	v := d.Classify(context.Background(),
		claim("c1", "doc-a", "timeout", "equals", "30s"),
		claim("c2", "doc-b", "timeout", "equals", "60s"))

	if !v.Conflict || v.Type != model.ConflictValue || v.Strength != 0.95 || v.Ambiguous {
		t.Errorf("Unexpected classification: %+v", v)
	}
	if v.DetectedBy != "llm:judge" {
		t.Errorf("Expected llm:judge, got %s", v.DetectedBy)
	}

	calls := gen.Calls()
	if len(calls) != 1 || !calls[0].Options.JSONMode {
		t.Fatalf("Expected one JSON-mode call, got %+v", calls)
	}
	if !strings.Contains(calls[0].Prompt, "timeout equals 30s") || !strings.Contains(calls[0].Prompt, "doc-b") {
		t.Errorf("Prompt missing statements: %s", calls[0].Prompt)
	}
}

func TestClassify_AmbiguousBecomesScope(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"two types", `{"conflict": true, "type": "value_conflict", "alt_type": "temporal_conflict", "strength": 0.8}`},
		{"unknown type", `{"conflict": true, "type": "vibes", "strength": 0.8}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(llmtest.Static("judge", tt.reply), nil)
			v := d.Classify(context.Background(),
				claim("c1", "doc-a", "timeout", "equals", "30s"),
				claim("c2", "doc-b", "timeout", "equals", "60s"))
			if v.Type != model.ConflictScope || !v.Ambiguous {
				t.Errorf("Expected ambiguous scope_conflict, got %+v", v)
			}
			if v.Strength != 0.4 {
				t.Errorf("Expected halved strength 0.4, got %f", v.Strength)
			}
		})
	}
}

func TestClassify_FallsBackToRules(t *testing.T) {
	tests := []struct {
		name string
		gen  llm.Generator
	}{
		{"backend down", llmtest.Failing("judge")},
		{"garbage reply", llmtest.Static("judge", "I think they disagree")},
		{"zero strength", llmtest.Static("judge", `{"conflict": true, "type": "value_conflict", "strength": 0}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(tt.gen, nil)
			v := d.Classify(context.Background(),
				claim("c1", "doc-a", "timeout", "equals", "30s"),
				claim("c2", "doc-b", "timeout", "equals", "60s"))
			if v.DetectedBy != "rules" || v.Type != model.ConflictValue {
				t.Errorf("Expected rule fallback value_conflict, got %+v", v)
			}
		})
	}
}

func TestClassify_LLMSaysNoConflict(t *testing.T) {
	d := NewDetector(llmtest.Static("judge", `{"conflict": false, "reasoning": "different environments"}`), nil)
	conflicts, err := d.Detect(context.Background(), []model.AtomicClaim{
		claim("c1", "doc-a", "timeout", "equals", "30s"),
		claim("c2", "doc-b", "timeout", "equals", "60s"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("Expected no conflicts, got %d", len(conflicts))
	}
}

func TestRun_Idempotent(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", "doc-a", "timeout", "equals", "30s"),
		claim("c2", "doc-b", "timeout", "equals", "60s"),
		claim("c3", "doc-c", "timeout", "equals", "90s"),
	}
	st := newMemStore()
	d := NewDetector(nil, nil)

	first, created, err := d.Run(context.Background(), st, claims)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || created != 3 {
		t.Fatalf("Expected 3 new conflicts, got %d (%d new)", len(first), created)
	}

	st.byKey["c1|c2"].Status = model.ConflictResolved
	st.byKey["c1|c2"].Resolution = model.ResolutionChoseA

	second, created, err := d.Run(context.Background(), st, claims)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 3 || created != 0 {
		t.Errorf("Expected re-run to create nothing, got %d new", created)
	}
	if len(st.byKey) != 3 {
		t.Errorf("Expected 3 stored conflicts, got %d", len(st.byKey))
	}
	if st.byKey["c1|c2"].Resolution != model.ResolutionChoseA {
		t.Error("Resolution state must survive re-detection")
	}
}

func TestDetect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDetector(llmtest.Static("judge", `{"conflict": true, "type": "value_conflict", "strength": 0.9}`), nil)
	_, err := d.Detect(ctx, []model.AtomicClaim{
		claim("c1", "doc-a", "timeout", "equals", "30s"),
		claim("c2", "doc-b", "timeout", "equals", "60s"),
	})
	if err == nil {
		t.Error("Expected context error")
	}
}
