package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/model"
)

// DefaultMaxRetries is how many corrective re-prompts follow a malformed reply
const DefaultMaxRetries = 2

// ClaimExtractor decomposes section text into atomic claims with a Generator
type ClaimExtractor struct {
	gen        llm.Generator
	MaxRetries int
	Model      string
	keywords   []string
}

// NewClaimExtractor creates a new claim extractor
func NewClaimExtractor(gen llm.Generator) *ClaimExtractor {
	return &ClaimExtractor{
		gen:        gen,
		MaxRetries: DefaultMaxRetries,
		keywords: []string{
			"must", "shall", "is required", "is defined as", "equals", "is set to",
			"defaults to", "default", "uses", "requires", "should", "never", "always",
			"according to", "established", "introduced",
		},
	}
}

type rawClaim struct {
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Qualifier  string   `json:"qualifier,omitempty"`
	Confidence *float64 `json:"confidence"`
	SourceSpan string   `json:"source_span,omitempty"`
}

type extractionReply struct {
	Claims []rawClaim `json:"claims"`
}

// Extract returns the claims found in section. Malformed replies are retried
// with the parse error appended to the prompt; once retries are exhausted the
// result is empty and the error is nil. Generator failures are returned.
func (e *ClaimExtractor) Extract(ctx context.Context, section model.Section) ([]model.AtomicClaim, error) {
	text := strings.TrimSpace(section.Text())
	if e.gen == nil || text == "" {
		return nil, nil
	}

	prompt := buildExtractionPrompt(text)
	var feedback string

	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		p := prompt
		if feedback != "" {
			p += "\n\nYour previous reply was rejected: " + feedback + "\nReturn only valid JSON in the required shape."
		}

		reply, err := e.gen.Generate(ctx, p, llm.GenerateOptions{Model: e.Model, JSONMode: true})
		if err != nil {
			return nil, err
		}

		raws, err := parseExtraction(reply)
		if err != nil {
			feedback = err.Error()
			slog.Debug("claim extraction reply rejected", "section_id", section.ID, "attempt", attempt+1, "error", err)
			continue
		}

		return e.buildClaims(section, raws), nil
	}

	slog.Warn("claim extraction gave up after retries", "section_id", section.ID, "retries", e.MaxRetries)
	return nil, nil
}

// parseExtraction decodes and validates a reply
func parseExtraction(reply string) ([]rawClaim, error) {
	var parsed extractionReply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	for i, c := range parsed.Claims {
		if strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.Predicate) == "" || strings.TrimSpace(c.Object) == "" {
			return nil, fmt.Errorf("claim %d: subject, predicate and object are required", i)
		}
		if c.Confidence != nil {
			v := *c.Confidence
			if math.IsNaN(v) || v < -0.01 || v > 1.01 {
				return nil, fmt.Errorf("claim %d: confidence %v outside [0,1]", i, v)
			}
		}
	}
	return parsed.Claims, nil
}

func (e *ClaimExtractor) buildClaims(section model.Section, raws []rawClaim) []model.AtomicClaim {
	sentences := splitSentences(section.Content)
	index := make(map[string]int)
	var claims []model.AtomicClaim

	for _, r := range raws {
		conf := 0.5
		if r.Confidence != nil {
			conf = model.ClampUnit(*r.Confidence)
		}

		claim := model.AtomicClaim{
			ID:                 uuid.NewString(),
			DocumentID:         section.DocumentID,
			SectionID:          section.ID,
			Subject:            strings.TrimSpace(r.Subject),
			Predicate:          strings.TrimSpace(r.Predicate),
			Object:             strings.TrimSpace(r.Object),
			Qualifier:          strings.TrimSpace(r.Qualifier),
			Confidence:         conf,
			VerificationStatus: model.StatusUnverified,
		}
		claim.OriginalText = strings.TrimSpace(r.SourceSpan)
		if claim.OriginalText == "" {
			claim.OriginalText = e.pickSentence(sentences, claim)
		}

		key := strings.ToLower(claim.Subject + "\x00" + claim.Predicate + "\x00" + claim.Object)
		if i, ok := index[key]; ok {
			if claim.Confidence > claims[i].Confidence {
				claim.ID = claims[i].ID
				claims[i] = claim
			}
			continue
		}
		index[key] = len(claims)
		claims = append(claims, claim)
	}
	return claims
}

// pickSentence finds the sentence that best supports the claim:
// one mentioning the object, preferring keyword sentences, then the subject.
func (e *ClaimExtractor) pickSentence(sentences []string, claim model.AtomicClaim) string {
	object := strings.ToLower(claim.Object)
	subject := strings.ToLower(strings.ReplaceAll(claim.Subject, "_", " "))

	var byObject, bySubject string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		if strings.Contains(lower, object) {
			if e.hasKeyword(lower) {
				return s
			}
			if byObject == "" {
				byObject = s
			}
		}
		if bySubject == "" && strings.Contains(lower, subject) {
			bySubject = s
		}
	}

	switch {
	case byObject != "":
		return byObject
	case bySubject != "":
		return bySubject
	default:
		return claim.Statement()
	}
}

func (e *ClaimExtractor) hasKeyword(lower string) bool {
	for _, keyword := range e.keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func buildExtractionPrompt(text string) string {
	return `Decompose the following documentation section into atomic factual claims.

Each claim is a (subject, predicate, object) triple with an optional qualifier.
Use snake_case identifiers for subjects where the text names a setting or component.
Copy the sentence the claim came from into source_span.
Rate your confidence that the section really states the claim from 0 to 1.

Respond with JSON only, in exactly this shape:
{"claims":[{"subject":"...","predicate":"...","object":"...","qualifier":"...","confidence":0.9,"source_span":"..."}]}

Return {"claims":[]} when the section makes no factual statements.

SECTION:
` + text
}
