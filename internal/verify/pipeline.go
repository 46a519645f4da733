// Package verify corroborates claims with independent evidence signals.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/metrics"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/refsearch"
	"github.com/ppiankov/concordia/internal/worker"
)

const (
	DefaultSamples      = 5
	DefaultDebateBelow  = 0.8
	DefaultClaimTimeout = 60 * time.Second
	DefaultWorkers      = 3

	// SampleTemperature is used for self-consistency sampling
	SampleTemperature = 0.9
)

// Options tunes the pipeline
type Options struct {
	ReferenceRoot string
	Samples       int
	DebateBelow   float64
	ClaimTimeout  time.Duration
	Workers       int
	Weights       Weights
	Model         string
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		Samples:      DefaultSamples,
		DebateBelow:  DefaultDebateBelow,
		ClaimTimeout: DefaultClaimTimeout,
		Workers:      DefaultWorkers,
		Weights:      DefaultWeights(),
	}
}

// OptionsFromConfig maps the verification config section onto Options
func OptionsFromConfig(cfg model.VerificationConfig, workers int) Options {
	opts := DefaultOptions()
	opts.ReferenceRoot = cfg.ReferenceRoot
	if cfg.Samples > 0 {
		opts.Samples = cfg.Samples
	}
	if cfg.DebateBelow > 0 {
		opts.DebateBelow = cfg.DebateBelow
	}
	if cfg.ClaimTimeout > 0 {
		opts.ClaimTimeout = cfg.ClaimTimeout
	}
	if workers > 0 {
		opts.Workers = workers
	}
	w := Weights{
		Reference:       cfg.ReferenceWeight,
		SelfConsistency: cfg.SelfConsistencyWeight,
		Ensemble:        cfg.EnsembleWeight,
		Debate:          cfg.DebateWeight,
	}
	if w.Reference+w.SelfConsistency+w.Ensemble+w.Debate > 0 {
		opts.Weights = w
	}
	return opts
}

// ClaimUpdater is the slice of the store verification writes to
type ClaimUpdater interface {
	UpdateClaimVerification(ctx context.Context, id string, status model.VerificationStatus, at time.Time, evidence string) error
}

// Pipeline runs the verification signals for claims
type Pipeline struct {
	gen          llm.Generator
	ensembleGens []llm.Generator
	searcher     refsearch.Searcher
	opts         Options
}

// NewPipeline creates a pipeline. Any backend may be nil or empty; the
// signals that depend on it then do not run.
func NewPipeline(gen llm.Generator, ensembleGens []llm.Generator, searcher refsearch.Searcher, opts Options) *Pipeline {
	return &Pipeline{gen: gen, ensembleGens: ensembleGens, searcher: searcher, opts: opts}
}

// WithReferenceRoot returns a copy of the pipeline searching root
func (p *Pipeline) WithReferenceRoot(root string) *Pipeline {
	cp := *p
	cp.opts.ReferenceRoot = root
	return &cp
}

// Verify runs every signal for one claim under the per-claim timeout and aggregates them
func (p *Pipeline) Verify(ctx context.Context, claim model.AtomicClaim) model.VerificationResult {
	timeout := p.opts.ClaimTimeout
	if timeout <= 0 {
		timeout = DefaultClaimTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	signals := make([]model.EvidenceSignal, 4)
	runners := []func(context.Context, model.AtomicClaim) model.EvidenceSignal{
		p.referenceLookup, p.selfConsistency, p.ensemble, p.debate,
	}

	var g errgroup.Group
	for i, run := range runners {
		g.Go(func() error {
			signals[i] = run(ctx, claim)
			return nil
		})
	}
	_ = g.Wait()

	res := Aggregate(claim.ID, signals, p.opts.Weights)
	if ctx.Err() != nil && !anyRan(signals) {
		res.Error = fmt.Sprintf("verification timed out after %s", timeout)
	}
	return res
}

func anyRan(signals []model.EvidenceSignal) bool {
	for _, s := range signals {
		if s.Ran {
			return true
		}
	}
	return false
}

// VerifyBatch verifies claims on the worker pool. One claim failing or timing
// out does not affect the others; results come back in input order.
func (p *Pipeline) VerifyBatch(ctx context.Context, claims []model.AtomicClaim) []model.VerificationResult {
	byID := make(map[string]model.AtomicClaim, len(claims))
	keys := make([]string, len(claims))
	for i, c := range claims {
		byID[c.ID] = c
		keys[i] = c.ID
	}

	workers := p.opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := worker.RunAll(ctx, workers, keys, func(ctx context.Context, id string) (model.VerificationResult, error) {
		return p.Verify(ctx, byID[id]), nil
	})

	out := make([]model.VerificationResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = model.VerificationResult{
				ClaimID:            r.Key,
				Status:             model.StatusUncertain,
				ShouldFlagForHuman: true,
				Signals:            []model.EvidenceSignal{},
				Error:              r.Err.Error(),
			}
			continue
		}
		out[i] = r.Value
	}
	return out
}

// Record persists the result on the claim. Results carrying an error are
// not recorded so a dead backend never overwrites an earlier verdict.
func Record(ctx context.Context, st ClaimUpdater, res model.VerificationResult, at time.Time) error {
	if res.Error != "" {
		return nil
	}
	evidence, err := json.Marshal(res.Signals)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	if err := st.UpdateClaimVerification(ctx, res.ClaimID, res.Status, at, string(evidence)); err != nil {
		return err
	}
	metrics.ClaimVerified(string(res.Status))
	slog.Debug("Claim verified", "claim", res.ClaimID, "status", res.Status, "confidence", res.Confidence)
	return nil
}
