package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/score"
	"github.com/ppiankov/concordia/internal/store"
	"github.com/ppiankov/concordia/internal/validate"
	"github.com/ppiankov/concordia/internal/vector"
)

const (
	// defaultSourceMinSimilarity drops vector hits too far from the query to count as sources
	defaultSourceMinSimilarity = 0.3

	// searchFanout is how many section hits are fetched per requested source
	searchFanout = 4

	answerSourceExtractive = "extractive"
)

// FindOverlaps clusters near-duplicate sections in the scope and detects
// conflicts among the scope's claims. Detected conflicts are upserted, so
// running it twice on an unchanged corpus returns the same pairs.
func (e *Engine) FindOverlaps(ctx context.Context, req OverlapsRequest) (*OverlapsResponse, error) {
	started := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	docs, err := e.resolveScope(ctx, req.Scope, req.IncludeArchived)
	if err != nil {
		return nil, err
	}

	resp := &OverlapsResponse{
		OverlapClusters: []model.OverlapCluster{},
		ConflictPairs:   []*model.Conflict{},
		Recommendations: []string{},
	}
	if len(docs) == 0 {
		resp.Warnings = append(resp.Warnings, "scope selected no documents")
		resp.ProcessingTimeMS = elapsed(started)
		return resp, nil
	}

	sections, err := e.sectionsOf(ctx, docs)
	if err != nil {
		return nil, err
	}
	found, err := e.overlaps.Find(ctx, docs, sections, clusterThreshold(req.SimilarityThreshold))
	if err != nil {
		return nil, err
	}
	resp.OverlapClusters = append(resp.OverlapClusters, found.Clusters...)
	resp.RedundancyScore = found.RedundancyScore
	resp.TotalSections = found.TotalSections
	resp.Unembedded = found.Unembedded
	if found.Warning != "" {
		resp.Warnings = append(resp.Warnings, found.Warning)
	}

	claims, err := e.store.ListClaims(ctx, store.ClaimFilter{
		DocumentIDs:       documentIDs(docs),
		IncludeDeprecated: req.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}
	detector := e.detector
	if req.IncludeArchived {
		detector = detector.WithDeprecated()
	}
	conflicts, created, err := detector.Run(ctx, e.store, claims)
	if err != nil {
		return nil, err
	}
	resp.NewConflicts = created
	resp.ConflictPairs = filterConflictTypes(conflicts, req.ConflictTypes)

	resp.Recommendations = recommendations(docs, resp.OverlapClusters, resp.ConflictPairs)
	resp.ProcessingTimeMS = elapsed(started)

	slog.Info("Overlap analysis finished",
		"documents", len(docs), "sections", found.TotalSections, "clusters", len(found.Clusters),
		"conflicts", len(resp.ConflictPairs), "new", created, "redundancy", found.RedundancyScore)
	return resp, nil
}

func filterConflictTypes(conflicts []*model.Conflict, types []string) []*model.Conflict {
	out := make([]*model.Conflict, 0, len(conflicts))
	if len(types) == 0 {
		return append(out, conflicts...)
	}
	keep := make(map[model.ConflictType]bool, len(types))
	for _, t := range types {
		keep[model.ConflictType(t)] = true
	}
	for _, c := range conflicts {
		if keep[c.Type] {
			out = append(out, c)
		}
	}
	return out
}

// recommendations turns clusters and open conflicts into follow-up actions
func recommendations(docs []*model.Document, clusters []model.OverlapCluster, conflicts []*model.Conflict) []string {
	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	name := func(ids []string) string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("%q", firstNonEmpty(titles[id], id))
		}
		return strings.Join(parts, ", ")
	}

	recs := []string{}
	for _, c := range clusters {
		if len(c.DocumentIDs) < 2 {
			recs = append(recs, fmt.Sprintf("Deduplicate %d repeated sections within %s", len(c.Members), name(c.DocumentIDs)))
			continue
		}
		switch c.RecommendedAction {
		case model.ActionMerge:
			recs = append(recs, fmt.Sprintf("Merge overlapping sections of %s (%.0f%% overlap)", name(c.DocumentIDs), c.OverlapPercentage))
		case model.ActionKeepNewest:
			recs = append(recs, fmt.Sprintf("Keep the newest of %s and deprecate the rest (%.0f%% overlap)", name(c.DocumentIDs), c.OverlapPercentage))
		default:
			recs = append(recs, fmt.Sprintf("Review overlapping sections of %s (%.0f%% overlap)", name(c.DocumentIDs), c.OverlapPercentage))
		}
	}

	open := 0
	for _, c := range conflicts {
		if !c.Status.Terminal() {
			open++
		}
	}
	if open > 0 {
		recs = append(recs, fmt.Sprintf("Resolve %d open conflicts before consolidating", open))
	}
	return recs
}

// GetSourceOfTruth ranks the sources that answer query, gathers their claims
// and conflicts and synthesizes an answer citing only those sources
func (e *Engine) GetSourceOfTruth(ctx context.Context, req TruthRequest) (*TruthResponse, error) {
	started := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	maxSources := req.MaxSources
	if maxSources <= 0 {
		maxSources = 5
	}

	resp := &TruthResponse{
		Sources:           []model.SourceRef{},
		SupportingClaims:  []model.AtomicClaim{},
		ConflictingClaims: []model.AtomicClaim{},
		KnowledgeGaps:     []string{},
	}

	if e.embedder == nil {
		resp.KnowledgeGaps = append(resp.KnowledgeGaps, "no embedding backend configured; sources cannot be searched")
		resp.Assessment = e.ranker.Assess(nil, nil, 0)
		resp.ProcessingTimeMS = elapsed(started)
		return resp, nil
	}

	var scopeIDs []string
	if !req.Scope.Empty() {
		docs, err := e.resolveScope(ctx, req.Scope, req.IncludeDeprecated)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			resp.KnowledgeGaps = append(resp.KnowledgeGaps, "scope selected no documents")
			resp.Assessment = e.ranker.Assess(nil, nil, 0)
			resp.ProcessingTimeMS = elapsed(started)
			return resp, nil
		}
		scopeIDs = documentIDs(docs)
	}

	vecs, err := e.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, model.BackendError(model.KindEmbedding, e.embedder.Name(), err)
	}
	if len(vecs) != 1 {
		return nil, model.NewError(model.KindEmbedding, nil, "embedder returned %d vectors for 1 query", len(vecs))
	}

	minSim := e.config.Reconcile.SourceMinSimilarity
	if minSim <= 0 {
		minSim = defaultSourceMinSimilarity
	}
	hits, err := e.index.Search(ctx, vector.Query{
		Vector:            vecs[0],
		Limit:             maxSources * searchFanout,
		MinSimilarity:     minSim,
		IncludeDeprecated: req.IncludeDeprecated,
		DocumentIDs:       scopeIDs,
	})
	if err != nil {
		return nil, model.BackendError(model.KindInternal, e.index.Name(), err)
	}

	candidates, err := e.candidates(ctx, hits, req.IncludeDeprecated)
	if err != nil {
		return nil, err
	}
	sources := e.ranker.Rank(candidates)
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	resp.Sources = sources

	if len(sources) == 0 {
		resp.KnowledgeGaps = append(resp.KnowledgeGaps, fmt.Sprintf("no documented source matches %q", req.Query))
		resp.Assessment = e.ranker.Assess(nil, nil, 0)
		resp.ProcessingTimeMS = elapsed(started)
		return resp, nil
	}

	supporting, err := e.supportingClaims(ctx, sources, req.IncludeDeprecated)
	if err != nil {
		return nil, err
	}

	if req.VerifyClaims && len(supporting) > 0 {
		verifier := e.verifier
		if req.ReferenceRoot != "" {
			verifier = verifier.WithReferenceRoot(req.ReferenceRoot)
		}
		results := verifier.VerifyBatch(ctx, supporting)
		now := e.now().UTC()
		for i, res := range results {
			if res.Error == "" {
				supporting[i].VerificationStatus = res.Status
				at := now
				supporting[i].LastVerifiedAt = &at
			}
			if err := e.recordVerification(ctx, res, now); err != nil {
				return nil, err
			}
		}
		resp.Verifications = results
	}
	resp.SupportingClaims = supporting

	conflicting, err := e.conflictingClaims(ctx, supporting)
	if err != nil {
		return nil, err
	}
	resp.ConflictingClaims = conflicting

	resp.Assessment = e.ranker.Assess(sources, supporting, len(conflicting))
	resp.Confidence = resp.Assessment.Confidence
	resp.KnowledgeGaps = knowledgeGaps(resp, req.ConfidenceThreshold)

	resp.Answer, resp.AnswerSource = e.answer(ctx, req.Query, sources, supporting, conflicting)
	resp.ProcessingTimeMS = elapsed(started)

	slog.Info("Source of truth resolved",
		"sources", len(sources), "claims", len(supporting), "conflicting", len(conflicting),
		"confidence", resp.Confidence, "answer_source", resp.AnswerSource)
	return resp, nil
}

// candidates joins vector hits with their documents and sections. Hits for
// documents that no longer qualify are dropped.
func (e *Engine) candidates(ctx context.Context, hits []vector.Hit, includeDeprecated bool) ([]score.Candidate, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, h := range hits {
		if !seen[h.DocumentID] {
			seen[h.DocumentID] = true
			ids = append(ids, h.DocumentID)
		}
	}
	docs, err := e.store.ListDocuments(ctx, store.DocumentFilter{
		IDs:               ids,
		IncludeDeprecated: includeDeprecated,
		IncludeArchived:   includeDeprecated,
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	sections, err := e.store.ListSections(ctx, documentIDs(docs))
	if err != nil {
		return nil, err
	}
	secByID := make(map[string]model.Section, len(sections))
	for _, s := range sections {
		secByID[s.ID] = s
	}

	out := make([]score.Candidate, 0, len(hits))
	for _, h := range hits {
		doc, ok := byID[h.DocumentID]
		if !ok {
			continue
		}
		sec, ok := secByID[h.SectionID]
		if !ok {
			sec = model.Section{ID: h.SectionID, DocumentID: h.DocumentID, Header: h.Header, Content: h.Content}
		}
		out = append(out, score.Candidate{Document: doc, Section: sec, Similarity: h.Similarity})
	}
	return out, nil
}

// supportingClaims returns the claims of the ranked sources' best sections,
// falling back to the whole document when the section has none
func (e *Engine) supportingClaims(ctx context.Context, sources []model.SourceRef, includeDeprecated bool) ([]model.AtomicClaim, error) {
	claims, err := e.store.ListClaims(ctx, store.ClaimFilter{
		DocumentIDs:       sourceDocumentIDs(sources),
		IncludeDeprecated: includeDeprecated,
	})
	if err != nil {
		return nil, err
	}

	bySection := make(map[string][]model.AtomicClaim)
	byDocument := make(map[string][]model.AtomicClaim)
	for _, c := range claims {
		bySection[c.SectionID] = append(bySection[c.SectionID], c)
		byDocument[c.DocumentID] = append(byDocument[c.DocumentID], c)
	}

	out := []model.AtomicClaim{}
	for _, s := range sources {
		if sc := bySection[s.SectionID]; len(sc) > 0 {
			out = append(out, sc...)
			continue
		}
		out = append(out, byDocument[s.DocumentID]...)
	}
	return out, nil
}

// conflictingClaims returns the other side of every open conflict touching
// a supporting claim
func (e *Engine) conflictingClaims(ctx context.Context, supporting []model.AtomicClaim) ([]model.AtomicClaim, error) {
	if len(supporting) == 0 {
		return []model.AtomicClaim{}, nil
	}
	ids := make([]string, len(supporting))
	own := make(map[string]bool, len(supporting))
	for i, c := range supporting {
		ids[i] = c.ID
		own[c.ID] = true
	}

	conflicts, err := e.store.ListConflicts(ctx, store.ConflictFilter{
		ClaimIDs: ids,
		Statuses: []model.ConflictStatus{model.ConflictUnresolved, model.ConflictInvestigating},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var other []string
	for _, c := range conflicts {
		for _, id := range []string{c.ClaimAID, c.ClaimBID} {
			if !own[id] && !seen[id] {
				seen[id] = true
				other = append(other, id)
			}
		}
		// Both sides among the supporting claims: they contradict each other
		if own[c.ClaimAID] && own[c.ClaimBID] {
			for _, id := range []string{c.ClaimAID, c.ClaimBID} {
				if !seen[id] {
					seen[id] = true
					other = append(other, id)
				}
			}
		}
	}
	if len(other) == 0 {
		return []model.AtomicClaim{}, nil
	}

	out, err := e.store.ListClaims(ctx, store.ClaimFilter{IDs: other, IncludeDeprecated: true})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func knowledgeGaps(resp *TruthResponse, threshold float64) []string {
	gaps := []string{}
	if threshold > 0 && resp.Confidence < threshold {
		gaps = append(gaps, fmt.Sprintf("confidence %.2f is below the %.2f threshold", resp.Confidence, threshold))
	}
	if len(resp.SupportingClaims) == 0 {
		gaps = append(gaps, "matched sources contain no extracted claims")
	}
	unverified, contradicted := 0, 0
	for _, c := range resp.SupportingClaims {
		switch c.VerificationStatus {
		case model.StatusVerified:
		case model.StatusContradicted:
			contradicted++
		default:
			unverified++
		}
	}
	if unverified > 0 {
		gaps = append(gaps, fmt.Sprintf("%d supporting claims are not verified", unverified))
	}
	if contradicted > 0 {
		gaps = append(gaps, fmt.Sprintf("%d supporting claims were contradicted by verification", contradicted))
	}
	if len(resp.ConflictingClaims) > 0 {
		gaps = append(gaps, fmt.Sprintf("%d claims conflict with the answer's sources", len(resp.ConflictingClaims)))
	}
	return gaps
}

// answer asks the generator for a cited answer. A reply citing anything
// outside the ranked sources is discarded for the extractive answer.
func (e *Engine) answer(ctx context.Context, query string, sources []model.SourceRef, supporting, conflicting []model.AtomicClaim) (string, string) {
	allowed := sourceDocumentIDs(sources)
	if e.gen == nil {
		return extractiveAnswer(sources, supporting), answerSourceExtractive
	}

	reply, err := e.gen.Generate(ctx, buildAnswerPrompt(query, sources, supporting, conflicting), llm.GenerateOptions{
		Model:       e.config.LLM.Model,
		Temperature: 0.2,
		System:      "You answer questions about a documentation corpus with strict adherence to evidence constraints.",
	})
	if err != nil {
		slog.Warn("Answer generation failed, using extractive answer", "error", err)
		return extractiveAnswer(sources, supporting), answerSourceExtractive
	}
	reply = strings.TrimSpace(reply)

	cited, err := llm.CheckCitations(reply, allowed)
	if err != nil {
		slog.Warn("Generated answer rejected", "error", err)
		return extractiveAnswer(sources, supporting), answerSourceExtractive
	}
	if len(cited) == 0 || reply == "" {
		slog.Debug("Generated answer has no citations, using extractive answer")
		return extractiveAnswer(sources, supporting), answerSourceExtractive
	}
	return reply, e.gen.Name()
}

func buildAnswerPrompt(query string, sources []model.SourceRef, supporting, conflicting []model.AtomicClaim) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using ONLY the sources below.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", query)

	sb.WriteString("Sources:\n")
	for _, s := range sources {
		fmt.Fprintf(&sb, "%s %s", llm.Cite(s.DocumentID), firstNonEmpty(s.Title, s.SourcePath))
		if s.Header != "" {
			fmt.Fprintf(&sb, " / %s", s.Header)
		}
		fmt.Fprintf(&sb, " (authority %d, score %.2f)\n", s.AuthorityLevel, s.Score)
	}

	if len(supporting) > 0 {
		sb.WriteString("\nClaims:\n")
		for _, c := range supporting {
			fmt.Fprintf(&sb, "- %s %s [%s]\n", c.Statement(), llm.Cite(c.DocumentID), c.VerificationStatus)
		}
	}
	if len(conflicting) > 0 {
		sb.WriteString("\nConflicting claims from other documents:\n")
		for _, c := range conflicting {
			fmt.Fprintf(&sb, "- %s\n", c.Statement())
		}
	}

	sb.WriteString("\nRules:\n")
	sb.WriteString("1. Cite every statement with the [doc:<id>] marker of its source.\n")
	sb.WriteString("2. Do NOT cite any source that is not listed above.\n")
	sb.WriteString("3. Prefer higher authority sources when they disagree and say that they disagree.\n")
	sb.WriteString("4. If the sources do not answer the question, say so.\n")
	sb.WriteString("5. Answer in at most 5 sentences.\n")
	return sb.String()
}

// extractiveAnswer stitches the best source's claims (or its opening
// sentence) into a cited answer
func extractiveAnswer(sources []model.SourceRef, supporting []model.AtomicClaim) string {
	if len(sources) == 0 {
		return ""
	}
	top := sources[0]
	var lines []string
	for _, c := range supporting {
		if c.DocumentID != top.DocumentID {
			continue
		}
		text := strings.TrimSpace(c.OriginalText)
		if text == "" {
			text = c.Statement()
		}
		lines = append(lines, text+" "+llm.Cite(c.DocumentID))
		if len(lines) == 3 {
			break
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	label := firstNonEmpty(top.Header, top.Title, top.SourcePath)
	return fmt.Sprintf("See %q %s", label, llm.Cite(top.DocumentID))
}

func sourceDocumentIDs(sources []model.SourceRef) []string {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.DocumentID
	}
	return ids
}
