package verify

import (
	"math"

	"github.com/ppiankov/concordia/internal/model"
)

const (
	// VerifiedAbove is the aggregate confidence a claim must exceed to be verified
	VerifiedAbove = 0.7
	// FlagBelow sends results under this confidence to a human
	FlagBelow = 0.6
	// ContradictedBelow marks results under this confidence as contradicted
	ContradictedBelow = 0.3
)

// Weights holds the nominal weight of each signal type
type Weights struct {
	Reference       float64
	SelfConsistency float64
	Ensemble        float64
	Debate          float64
}

// DefaultWeights returns 0.4 for reference lookup and 0.2 for the rest
func DefaultWeights() Weights {
	return Weights{Reference: 0.4, SelfConsistency: 0.2, Ensemble: 0.2, Debate: 0.2}
}

func (w Weights) of(t model.EvidenceType) float64 {
	switch t {
	case model.EvidenceReferenceLookup:
		return w.Reference
	case model.EvidenceSelfConsistency:
		return w.SelfConsistency
	case model.EvidenceEnsemble:
		return w.Ensemble
	case model.EvidenceDebate:
		return w.Debate
	}
	return 0
}

// Aggregate combines signals into a verdict. Weights are renormalized over the
// signals that ran; a reference lookup that ran with a false verdict vetoes
// verification regardless of the other signals.
func Aggregate(claimID string, signals []model.EvidenceSignal, w Weights) model.VerificationResult {
	res := model.VerificationResult{
		ClaimID: claimID,
		Signals: signals,
	}
	if res.Signals == nil {
		res.Signals = []model.EvidenceSignal{}
	}

	var total, weighted float64
	for _, s := range signals {
		if !s.Ran {
			continue
		}
		weight := w.of(s.Type)
		if weight <= 0 {
			continue
		}
		total += weight
		weighted += weight * s.Support()
		if s.Type == model.EvidenceReferenceLookup && !s.Verdict {
			res.Vetoed = true
		}
	}

	if total == 0 {
		res.Confidence = 0
		res.Verified = false
		res.ShouldFlagForHuman = true
		res.Status = model.StatusUncertain
		return res
	}

	res.Confidence = math.Round(weighted/total*10000) / 10000
	res.Verified = !res.Vetoed && res.Confidence > VerifiedAbove
	res.ShouldFlagForHuman = res.Confidence < FlagBelow || !res.Verified

	switch {
	case res.Vetoed || res.Confidence < ContradictedBelow:
		res.Status = model.StatusContradicted
	case res.Verified:
		res.Status = model.StatusVerified
	default:
		res.Status = model.StatusUncertain
	}
	return res
}
