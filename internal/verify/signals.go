package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/concordia/internal/extract"
	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/model"
)

const maxMatchesReported = 5

// referenceLookup searches the reference corpus for every literal in the claim object
func (p *Pipeline) referenceLookup(ctx context.Context, claim model.AtomicClaim) model.EvidenceSignal {
	sig := model.EvidenceSignal{Type: model.EvidenceReferenceLookup}
	if p.searcher == nil || p.opts.ReferenceRoot == "" {
		sig.Details = map[string]interface{}{"skipped": "no reference root"}
		return sig
	}

	literals := extract.Literals(claim.Object)
	if len(literals) == 0 {
		sig.Details = map[string]interface{}{"skipped": "no literal values in claim"}
		return sig
	}

	var found, missing []string
	var locations []string
	for _, lit := range literals {
		matches, err := p.searcher.Search(ctx, p.opts.ReferenceRoot, lit)
		if err != nil {
			sig.Details = map[string]interface{}{"error": err.Error()}
			return sig
		}
		if len(matches) == 0 {
			missing = append(missing, lit)
			continue
		}
		found = append(found, lit)
		for _, m := range matches {
			if len(locations) >= maxMatchesReported {
				break
			}
			locations = append(locations, fmt.Sprintf("%s:%d", m.File, m.Line))
		}
	}

	// Confidence is in the verdict, so the support for the claim equals the found ratio
	ratio := float64(len(found)) / float64(len(literals))
	sig.Ran = true
	sig.Verdict = len(missing) == 0
	sig.Confidence = ratio
	if !sig.Verdict {
		sig.Confidence = 1 - ratio
	}
	sig.Details = map[string]interface{}{
		"found_ratio": ratio,
		"literals":    literals,
		"found":       found,
		"missing":     missing,
		"locations":   locations,
	}
	return sig
}

// selfConsistency samples the same prompt several times with distinct seeds
func (p *Pipeline) selfConsistency(ctx context.Context, claim model.AtomicClaim) model.EvidenceSignal {
	sig := model.EvidenceSignal{Type: model.EvidenceSelfConsistency}
	if p.gen == nil {
		return sig
	}

	samples := p.opts.Samples
	if samples <= 0 {
		samples = DefaultSamples
	}

	prompt := buildVerifyPrompt(claim)
	var verdicts []bool
	var failures int
	for i := 1; i <= samples; i++ {
		seed := i
		v, err := p.ask(ctx, p.gen, prompt, llm.GenerateOptions{
			Model:       p.opts.Model,
			Temperature: SampleTemperature,
			Seed:        &seed,
			JSONMode:    true,
			MaxTokens:   300,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			continue
		}
		verdicts = append(verdicts, v.verdict)
	}

	if len(verdicts) == 0 {
		sig.Details = map[string]interface{}{"failures": failures}
		return sig
	}

	verdict, count := majority(verdicts)
	sig.Ran = true
	sig.Verdict = verdict
	sig.Confidence = float64(count) / float64(len(verdicts))
	sig.Details = map[string]interface{}{
		"samples":  len(verdicts),
		"agreeing": count,
		"failures": failures,
	}
	return sig
}

// ensemble asks each independently configured backend once
func (p *Pipeline) ensemble(ctx context.Context, claim model.AtomicClaim) model.EvidenceSignal {
	sig := model.EvidenceSignal{Type: model.EvidenceEnsemble}
	if len(p.ensembleGens) == 0 {
		return sig
	}

	prompt := buildVerifyPrompt(claim)
	var verdicts []bool
	votes := make(map[string]bool)
	var failed []string
	for _, g := range p.ensembleGens {
		v, err := p.ask(ctx, g, prompt, llm.GenerateOptions{Temperature: 0, JSONMode: true, MaxTokens: 300})
		if err != nil {
			failed = append(failed, g.Name())
			continue
		}
		verdicts = append(verdicts, v.verdict)
		votes[g.Name()] = v.verdict
	}

	if len(verdicts) == 0 {
		sig.Details = map[string]interface{}{"failed": failed}
		return sig
	}

	verdict, count := majority(verdicts)
	sig.Ran = true
	sig.Verdict = verdict
	sig.Confidence = float64(count) / float64(len(verdicts))
	sig.Details = map[string]interface{}{"votes": votes, "failed": failed}
	return sig
}

// debate runs an advocate and a skeptic, then lets a judge decide.
// Only claims extracted with low confidence are debated.
func (p *Pipeline) debate(ctx context.Context, claim model.AtomicClaim) model.EvidenceSignal {
	sig := model.EvidenceSignal{Type: model.EvidenceDebate}
	below := p.opts.DebateBelow
	if below <= 0 {
		below = DefaultDebateBelow
	}
	if p.gen == nil {
		return sig
	}
	if claim.Confidence >= below {
		sig.Details = map[string]interface{}{"skipped": fmt.Sprintf("claim confidence %.2f >= %.2f", claim.Confidence, below)}
		return sig
	}

	statement := claim.Statement()
	opts := llm.GenerateOptions{Model: p.opts.Model, Temperature: 0.3, MaxTokens: 400}

	advocate, err := p.gen.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the advocate in a fact-checking debate. Argue that the statement is correct. Be concrete and brief."},
		{Role: llm.RoleUser, Content: "Statement: " + statement + contextLine(claim)},
	}, opts)
	if err != nil {
		sig.Details = map[string]interface{}{"error": "advocate: " + err.Error()}
		return sig
	}

	skeptic, err := p.gen.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the skeptic in a fact-checking debate. Argue that the statement is wrong or unsupported. Be concrete and brief."},
		{Role: llm.RoleUser, Content: "Statement: " + statement + contextLine(claim)},
		{Role: llm.RoleAssistant, Content: "The advocate said: " + advocate},
		{Role: llm.RoleUser, Content: "Respond to the advocate."},
	}, opts)
	if err != nil {
		sig.Details = map[string]interface{}{"error": "skeptic: " + err.Error()}
		return sig
	}

	var sb strings.Builder
	sb.WriteString("You are the judge of a fact-checking debate.\n\n")
	fmt.Fprintf(&sb, "Statement: %s%s\n\n", statement, contextLine(claim))
	fmt.Fprintf(&sb, "Advocate:\n%s\n\nSkeptic:\n%s\n\n", strings.TrimSpace(advocate), strings.TrimSpace(skeptic))
	sb.WriteString(verdictInstructions)

	v, err := p.ask(ctx, p.gen, sb.String(), llm.GenerateOptions{Model: p.opts.Model, Temperature: 0, JSONMode: true, MaxTokens: 300})
	if err != nil {
		sig.Details = map[string]interface{}{"error": "judge: " + err.Error()}
		return sig
	}

	sig.Ran = true
	sig.Verdict = v.verdict
	sig.Confidence = v.confidence
	sig.Details = map[string]interface{}{"reasoning": v.reasoning}
	return sig
}

type answer struct {
	verdict    bool
	confidence float64
	reasoning  string
}

type answerJSON struct {
	Verdict    *bool    `json:"verdict"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

var errNoVerdict = errors.New("reply has no verdict")

// ask sends prompt to g and parses the verdict reply
func (p *Pipeline) ask(ctx context.Context, g llm.Generator, prompt string, opts llm.GenerateOptions) (answer, error) {
	reply, err := g.Generate(ctx, prompt, opts)
	if err != nil {
		return answer{}, err
	}
	return parseAnswer(reply)
}

func parseAnswer(reply string) (answer, error) {
	var aj answerJSON
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &aj); err != nil {
		return answer{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if aj.Verdict == nil {
		return answer{}, errNoVerdict
	}
	conf := 0.5
	if aj.Confidence != nil {
		conf = model.ClampUnit(*aj.Confidence)
	}
	return answer{verdict: *aj.Verdict, confidence: conf, reasoning: aj.Reasoning}, nil
}

// majority returns the winning verdict and its vote count. Ties go to false.
func majority(verdicts []bool) (bool, int) {
	yes := 0
	for _, v := range verdicts {
		if v {
			yes++
		}
	}
	no := len(verdicts) - yes
	if yes > no {
		return true, yes
	}
	return false, no
}

const verdictInstructions = `Respond with a single JSON object:
{"verdict": true|false, "confidence": 0.0-1.0, "reasoning": "<one sentence>"}
`

func buildVerifyPrompt(claim model.AtomicClaim) string {
	var sb strings.Builder
	sb.WriteString("Assess whether the following statement is correct.\n\n")
	fmt.Fprintf(&sb, "Statement: %s%s\n\n", claim.Statement(), contextLine(claim))
	sb.WriteString(verdictInstructions)
	return sb.String()
}

func contextLine(claim model.AtomicClaim) string {
	if claim.OriginalText == "" {
		return ""
	}
	return fmt.Sprintf("\nSource text: %q", claim.OriginalText)
}
