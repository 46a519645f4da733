package score

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ppiankov/concordia/internal/model"
)

const (
	DefaultSimilarityWeight = 0.6
	DefaultAuthorityWeight  = 0.3
	DefaultFreshnessWeight  = 0.1

	// deprecatedPenalty multiplies the score of sources that were retired
	deprecatedPenalty = 0.5
	// conflictPenalty is subtracted from answer confidence when supporting claims are disputed
	conflictPenalty = 0.1
)

// Candidate is one vector hit to rank
type Candidate struct {
	Document   *model.Document
	Section    model.Section
	Similarity float64
}

// Ranker orders sources and generates the signals that explain the order
type Ranker struct {
	SimilarityWeight float64
	AuthorityWeight  float64
	FreshnessWeight  float64

	now func() time.Time
}

// NewRanker creates a ranker with the default weights
func NewRanker() *Ranker {
	return &Ranker{
		SimilarityWeight: DefaultSimilarityWeight,
		AuthorityWeight:  DefaultAuthorityWeight,
		FreshnessWeight:  DefaultFreshnessWeight,
		now:              time.Now,
	}
}

// Rank scores candidates, keeps the best section per document and returns
// sources by descending score. Ties keep the better similarity, then document id.
func (r *Ranker) Rank(candidates []Candidate) []model.SourceRef {
	best := make(map[string]model.SourceRef)
	for _, c := range candidates {
		if c.Document == nil {
			continue
		}
		ref := r.Score(c)
		if prev, ok := best[ref.DocumentID]; ok && prev.Score >= ref.Score {
			continue
		}
		best[ref.DocumentID] = ref
	}

	out := make([]model.SourceRef, 0, len(best))
	for _, ref := range best {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// Score calculates the weighted score for one candidate with its signals
func (r *Ranker) Score(c Candidate) model.SourceRef {
	d := c.Document
	var signals []model.Signal

	sim, simSignal := r.similarity(c.Similarity)
	signals = append(signals, simSignal)

	auth, authSignal := r.authority(d.AuthorityLevel)
	signals = append(signals, authSignal)

	fresh, freshSignal := r.freshness(d.ModifiedAt)
	signals = append(signals, freshSignal)

	score := r.SimilarityWeight*sim + r.AuthorityWeight*auth + r.FreshnessWeight*fresh
	if d.IsDeprecated() {
		score *= deprecatedPenalty
		signals = append(signals, model.Signal{
			Type:        model.SignalAuthority,
			Severity:    model.SeverityCritical,
			Description: "Source is deprecated",
			Data: map[string]interface{}{
				"deprecated_at": d.DeprecatedAt,
				"superseded_by": d.SupersededBy,
				"penalty":       deprecatedPenalty,
			},
		})
	}

	return model.SourceRef{
		DocumentID:     d.ID,
		SectionID:      c.Section.ID,
		Title:          d.Title,
		Header:         c.Section.Header,
		SourcePath:     d.SourcePath,
		DocumentType:   d.DocumentType,
		AuthorityLevel: d.AuthorityLevel,
		Similarity:     round(c.Similarity),
		Score:          round(score),
		Deprecated:     d.IsDeprecated(),
		Signals:        signals,
	}
}

// similarity passes the cosine through as a 0-1 value
func (r *Ranker) similarity(sim float64) (float64, model.Signal) {
	v := model.ClampUnit(sim)

	severity := model.SeverityInfo
	if v < 0.5 {
		severity = model.SeverityWarning
	}

	return v, model.Signal{
		Type:        model.SignalSimilarity,
		Severity:    severity,
		Description: fmt.Sprintf("Query similarity: %.2f", v),
		Data: map[string]interface{}{
			"similarity": v,
			"weight":     r.SimilarityWeight,
			"formula":    "clamp(cosine, 0, 1)",
		},
	}
}

// authority maps the 1-10 authority level onto 0-1
func (r *Ranker) authority(level int) (float64, model.Signal) {
	v := model.ClampUnit(float64(level) / float64(model.MaxAuthority))

	severity := model.SeverityInfo
	if level < model.DefaultAuthority {
		severity = model.SeverityWarning
	}

	return v, model.Signal{
		Type:        model.SignalAuthority,
		Severity:    severity,
		Description: fmt.Sprintf("Authority level %d/%d", level, model.MaxAuthority),
		Data: map[string]interface{}{
			"authority_level": level,
			"value":           v,
			"weight":          r.AuthorityWeight,
			"formula":         "authority_level / 10",
		},
	}
}

// freshness loses a quarter per year since the document was last modified
func (r *Ranker) freshness(modified time.Time) (float64, model.Signal) {
	if modified.IsZero() {
		return 0.5, model.Signal{
			Type:        model.SignalFreshness,
			Severity:    model.SeverityInfo,
			Description: "No modification time available (assuming moderate)",
			Data:        map[string]interface{}{"value": 0.5, "weight": r.FreshnessWeight},
		}
	}

	ageYears := r.now().Sub(modified).Hours() / 24 / 365
	if ageYears < 0 {
		ageYears = 0
	}
	v := math.Max(0, 1-ageYears*0.25)

	severity := model.SeverityInfo
	if ageYears > 3 {
		severity = model.SeverityCritical
	} else if ageYears > 1 {
		severity = model.SeverityWarning
	}

	return v, model.Signal{
		Type:        model.SignalFreshness,
		Severity:    severity,
		Description: fmt.Sprintf("Age: %.1f years", ageYears),
		Data: map[string]interface{}{
			"age_years": round(ageYears),
			"value":     round(v),
			"weight":    r.FreshnessWeight,
			"formula":   "max(0, 1 - age_years * 0.25)",
		},
	}
}

// Assessment is the answer-level judgment over ranked sources
type Assessment struct {
	Confidence float64        `json:"confidence"`
	Level      string         `json:"level"`
	Signals    []model.Signal `json:"signals"`
}

// Assess rates the answer built from sources and their supporting claims.
// conflicting is the number of supporting claims involved in unresolved conflicts.
func (r *Ranker) Assess(sources []model.SourceRef, claims []model.AtomicClaim, conflicting int) Assessment {
	var signals []model.Signal
	if len(sources) == 0 {
		return Assessment{
			Level: "none",
			Signals: []model.Signal{{
				Type:        model.SignalCoverage,
				Severity:    model.SeverityCritical,
				Description: "No sources matched",
				Data:        map[string]interface{}{"sources": 0},
			}},
		}
	}

	confidence := sources[0].Score

	verified := 0
	for _, c := range claims {
		if c.VerificationStatus == model.StatusVerified {
			verified++
		}
	}
	severity := model.SeverityInfo
	ratio := 0.0
	if len(claims) > 0 {
		ratio = float64(verified) / float64(len(claims))
	}
	if len(claims) == 0 || ratio < 0.5 {
		severity = model.SeverityWarning
	}
	signals = append(signals, model.Signal{
		Type:        model.SignalCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Verified supporting claims: %d/%d", verified, len(claims)),
		Data: map[string]interface{}{
			"sources":  len(sources),
			"claims":   len(claims),
			"verified": verified,
			"ratio":    round(ratio),
		},
	})

	conflict := conflicting > 0
	if conflict {
		confidence = math.Max(0, confidence-conflictPenalty)
		signals = append(signals, model.Signal{
			Type:        model.SignalConflict,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d supporting claims are disputed", conflicting),
			Data: map[string]interface{}{
				"conflicting_claims": conflicting,
				"penalty":            conflictPenalty,
			},
		})
	}

	return Assessment{
		Confidence: round(confidence),
		Level:      level(confidence, len(sources), conflict),
		Signals:    signals,
	}
}

// level buckets the confidence the way operators read it
func level(confidence float64, sources int, conflict bool) string {
	if conflict {
		return "low-medium"
	}
	if sources < 2 && confidence < 0.8 {
		return "low"
	}
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.6:
		return "medium"
	default:
		return "low"
	}
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
