// Package conflict finds contradictory claims across documents.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/metrics"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/normalize"
	"github.com/ppiankov/concordia/internal/vector"
)

const (
	DefaultMinSimilarity  = 0.5
	DefaultAmbiguousScale = 0.5
	DefaultWorkers        = 4

	detectedByRules = "rules"
)

// Classification is the verdict for one candidate pair
type Classification struct {
	Conflict       bool
	Type           model.ConflictType
	AltType        model.ConflictType
	Strength       float64
	Reasoning      string
	ResolutionHint string
	Ambiguous      bool
	DetectedBy     string
}

// Pair is a candidate claim pair that survived bucketing and the pre-filter
type Pair struct {
	A, B       model.AtomicClaim
	Similarity float64 // -1 when no embedder was available
}

// Upserter is the slice of the store the detector writes to
type Upserter interface {
	UpsertConflict(ctx context.Context, c *model.Conflict) (*model.Conflict, bool, error)
}

// Detector buckets claims by normalized subject and classifies cross-document pairs
type Detector struct {
	gen      llm.Generator
	embedder llm.Embedder

	Normalizer     normalize.Normalizer
	MinSimilarity  float64
	AmbiguousScale float64
	Workers        int
	Model          string

	includeDeprecated bool
}

// NewDetector creates a detector. Either backend may be nil: without a
// generator the rule classifier runs, without an embedder no pre-filter runs.
func NewDetector(gen llm.Generator, embedder llm.Embedder) *Detector {
	return &Detector{
		gen:            gen,
		embedder:       embedder,
		Normalizer:     normalize.Canonical,
		MinSimilarity:  DefaultMinSimilarity,
		AmbiguousScale: DefaultAmbiguousScale,
		Workers:        DefaultWorkers,
	}
}

// WithDeprecated returns a copy of the detector that also pairs deprecated
// claims. The receiver is unchanged.
func (d *Detector) WithDeprecated() *Detector {
	cp := *d
	cp.includeDeprecated = true
	return &cp
}

// Candidates returns the pairs worth classifying. When focus is non-empty only
// pairs touching one of those documents are returned.
func (d *Detector) Candidates(ctx context.Context, claims []model.AtomicClaim, focus ...string) ([]Pair, error) {
	focused := make(map[string]bool, len(focus))
	for _, id := range focus {
		focused[id] = true
	}

	buckets := make(map[string][]model.AtomicClaim)
	var keys []string
	for _, c := range claims {
		if c.Deprecated && !d.includeDeprecated {
			continue
		}
		key := d.normalizer().Normalize(c.Subject)
		if key == "" {
			continue
		}
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], c)
	}
	sort.Strings(keys)

	var raw []Pair
	for _, key := range keys {
		bucket := buckets[key]
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a.DocumentID == b.DocumentID {
					continue
				}
				if len(focused) > 0 && !focused[a.DocumentID] && !focused[b.DocumentID] {
					continue
				}
				if agree(a, b) {
					continue
				}
				if b.ID < a.ID {
					a, b = b, a
				}
				raw = append(raw, Pair{A: a, B: b, Similarity: -1})
			}
		}
	}

	if len(raw) == 0 || d.embedder == nil {
		return raw, nil
	}
	return d.prefilter(ctx, raw)
}

// agree reports exact duplicates, which are corroboration rather than conflict
func agree(a, b model.AtomicClaim) bool {
	return normalize.Predicate(a.Predicate) == normalize.Predicate(b.Predicate) &&
		normalize.Canonical.Normalize(a.Object) == normalize.Canonical.Normalize(b.Object) &&
		isNegated(a) == isNegated(b)
}

// prefilter drops pairs whose predicate+object embeddings are dissimilar,
// except pairs sharing a predicate
func (d *Detector) prefilter(ctx context.Context, pairs []Pair) ([]Pair, error) {
	index := make(map[string]int)
	var texts []string
	for _, p := range pairs {
		for _, c := range []model.AtomicClaim{p.A, p.B} {
			t := predicateObject(c)
			if _, ok := index[t]; !ok {
				index[t] = len(texts)
				texts = append(texts, t)
			}
		}
	}

	vectors, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Conflict pre-filter disabled: embedding failed", "backend", d.embedder.Name(), "error", err)
		return pairs, nil
	}

	out := pairs[:0]
	for _, p := range pairs {
		sim := vector.Cosine(vectors[index[predicateObject(p.A)]], vectors[index[predicateObject(p.B)]])
		p.Similarity = sim
		samePredicate := normalize.Predicate(p.A.Predicate) == normalize.Predicate(p.B.Predicate)
		if sim < d.MinSimilarity && !samePredicate {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func predicateObject(c model.AtomicClaim) string {
	return c.Predicate + " " + c.Object
}

// Detect classifies candidate pairs and returns the conflicts found, ordered by claim pair.
// Nothing is persisted.
func (d *Detector) Detect(ctx context.Context, claims []model.AtomicClaim, focus ...string) ([]*model.Conflict, error) {
	pairs, err := d.Candidates(ctx, claims, focus...)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	verdicts := make([]Classification, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g.SetLimit(workers)
	for i, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i] = d.Classify(gctx, p.A, p.B)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var conflicts []*model.Conflict
	for i, v := range verdicts {
		if !v.Conflict {
			continue
		}
		a, b := model.PairKey(pairs[i].A.ID, pairs[i].B.ID)
		hints := v.ResolutionHint
		if hints == "" {
			hints = v.Reasoning
		}
		conflicts = append(conflicts, &model.Conflict{
			ClaimAID:        a,
			ClaimBID:        b,
			Type:            v.Type,
			Strength:        model.ClampUnit(v.Strength),
			DetectedBy:      v.DetectedBy,
			ResolutionHints: hints,
			Ambiguous:       v.Ambiguous,
			Status:          model.ConflictUnresolved,
		})
	}
	return conflicts, nil
}

// Run detects conflicts and upserts them. Re-running never duplicates a pair
// and never touches an existing conflict's resolution. The returned count is
// the number of newly created conflicts.
func (d *Detector) Run(ctx context.Context, st Upserter, claims []model.AtomicClaim, focus ...string) ([]*model.Conflict, int, error) {
	found, err := d.Detect(ctx, claims, focus...)
	if err != nil {
		return nil, 0, err
	}

	created := 0
	stored := make([]*model.Conflict, 0, len(found))
	for _, c := range found {
		saved, isNew, err := st.UpsertConflict(ctx, c)
		if err != nil {
			return stored, created, fmt.Errorf("store conflict %s/%s: %w", c.ClaimAID, c.ClaimBID, err)
		}
		if isNew {
			created++
			metrics.ConflictDetected(string(saved.Type))
		}
		stored = append(stored, saved)
	}

	slog.Debug("Conflict detection finished", "claims", len(claims), "conflicts", len(stored), "new", created)
	return stored, created, nil
}

// Classify judges one pair with the generator, falling back to rules when
// the generator is missing or its reply is unusable
func (d *Detector) Classify(ctx context.Context, a, b model.AtomicClaim) Classification {
	var v Classification
	if d.gen != nil {
		var err error
		v, err = d.classifyWithLLM(ctx, a, b)
		if err != nil {
			slog.Debug("Generator classification failed, using rules", "claim_a", a.ID, "claim_b", b.ID, "error", err)
			v = classifyByRules(a, b)
			v.DetectedBy = detectedByRules
		}
	} else {
		v = classifyByRules(a, b)
		v.DetectedBy = detectedByRules
	}
	return d.tieBreak(v)
}

// tieBreak turns ambiguous or unknown classifications into a weakened scope conflict
func (d *Detector) tieBreak(v Classification) Classification {
	if !v.Conflict {
		return v
	}
	ambiguous := !v.Type.Valid() || (v.AltType != "" && v.AltType != v.Type)
	if !ambiguous {
		return v
	}
	scale := d.AmbiguousScale
	if scale <= 0 {
		scale = DefaultAmbiguousScale
	}
	v.Type = model.ConflictScope
	v.Strength = model.ClampUnit(v.Strength * scale)
	v.Ambiguous = true
	return v
}

type llmVerdict struct {
	Conflict       bool     `json:"conflict"`
	Type           string   `json:"type"`
	AltType        string   `json:"alt_type"`
	Strength       *float64 `json:"strength"`
	Reasoning      string   `json:"reasoning"`
	ResolutionHint string   `json:"resolution_hint"`
}

func (d *Detector) classifyWithLLM(ctx context.Context, a, b model.AtomicClaim) (Classification, error) {
	reply, err := d.gen.Generate(ctx, buildClassifyPrompt(a, b), llm.GenerateOptions{
		Model:       d.Model,
		Temperature: 0,
		JSONMode:    true,
		MaxTokens:   400,
	})
	if err != nil {
		return Classification{}, err
	}

	var lv llmVerdict
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &lv); err != nil {
		return Classification{}, fmt.Errorf("invalid JSON: %w", err)
	}

	strength := 0.5
	if lv.Strength != nil {
		strength = *lv.Strength
	}
	if lv.Conflict && strength <= 0 {
		return Classification{}, fmt.Errorf("conflict reported with strength %.2f", strength)
	}

	return Classification{
		Conflict:       lv.Conflict,
		Type:           model.ConflictType(strings.ToLower(strings.TrimSpace(lv.Type))),
		AltType:        model.ConflictType(strings.ToLower(strings.TrimSpace(lv.AltType))),
		Strength:       model.ClampUnit(strength),
		Reasoning:      lv.Reasoning,
		ResolutionHint: lv.ResolutionHint,
		DetectedBy:     "llm:" + d.gen.Name(),
	}, nil
}

func buildClassifyPrompt(a, b model.AtomicClaim) string {
	var sb strings.Builder
	sb.WriteString("Two statements were extracted from different documents about the same subject.\n")
	sb.WriteString("Decide whether they contradict each other.\n\n")
	fmt.Fprintf(&sb, "Statement A (document %s): %s\n", a.DocumentID, a.Statement())
	if a.OriginalText != "" {
		fmt.Fprintf(&sb, "  Source text: %q\n", a.OriginalText)
	}
	fmt.Fprintf(&sb, "Statement B (document %s): %s\n", b.DocumentID, b.Statement())
	if b.OriginalText != "" {
		fmt.Fprintf(&sb, "  Source text: %q\n", b.OriginalText)
	}
	sb.WriteString("\nConflict types: direct_negation, value_conflict, temporal_conflict, scope_conflict, implication_conflict.\n")
	sb.WriteString("If two types fit equally well, put the second one in alt_type.\n\n")
	sb.WriteString("Respond with a single JSON object:\n")
	sb.WriteString(`{"conflict": true|false, "type": "<conflict type>", "alt_type": "<optional>", "strength": 0.0-1.0, "reasoning": "<one sentence>", "resolution_hint": "<how to resolve>"}`)
	sb.WriteString("\n")
	return sb.String()
}

func (d *Detector) normalizer() normalize.Normalizer {
	if d.Normalizer == nil {
		return normalize.Canonical
	}
	return d.Normalizer
}
