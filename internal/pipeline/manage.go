package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ppiankov/concordia/internal/consolidate"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/store"
	"github.com/ppiankov/concordia/internal/validate"
	"github.com/ppiankov/concordia/internal/verify"
)

// ConsolidateDocuments merges the source documents into a new reference
// document and records provenance for every contributing section
func (e *Engine) ConsolidateDocuments(ctx context.Context, req ConsolidateRequest) (*ConsolidateResponse, error) {
	started := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	docs := make([]*model.Document, 0, len(req.SourceDocumentIDs))
	for _, id := range req.SourceDocumentIDs {
		d, err := e.store.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.IsDeprecated() {
			return nil, model.ValidationError("document %s is deprecated and cannot be consolidated", id).
				WithDetail("document_id", id)
		}
		docs = append(docs, d)
	}

	ids := documentIDs(docs)
	sections, err := e.store.ListSections(ctx, ids)
	if err != nil {
		return nil, err
	}
	claims, err := e.store.ListClaims(ctx, store.ClaimFilter{DocumentIDs: ids})
	if err != nil {
		return nil, err
	}
	var conflicts []*model.Conflict
	if len(claims) > 0 {
		claimIDs := make([]string, len(claims))
		for i, c := range claims {
			claimIDs[i] = c.ID
		}
		conflicts, err = e.store.ListConflicts(ctx, store.ConflictFilter{ClaimIDs: claimIDs})
		if err != nil {
			return nil, err
		}
	}

	res, err := e.consolidator.Consolidate(ctx, consolidate.Input{
		Documents: docs,
		Sections:  sections,
		Claims:    claims,
		Conflicts: conflicts,
		Strategy:  model.Strategy(req.Strategy),
		Title:     req.Title,
	})
	if err != nil {
		return nil, err
	}

	rec := res.Record
	if err := e.store.SaveConsolidation(ctx, rec); err != nil {
		return nil, err
	}
	outputID := rec.Consolidation.OutputDocumentID

	resp := &ConsolidateResponse{
		ConsolidationID:   rec.Consolidation.ID,
		OutputDocumentID:  outputID,
		Provenance:        rec.Provenance,
		Statistics:        rec.Consolidation.Statistics,
		ResolvedConflicts: rec.Conflicts,
		Clusters:          len(res.Clusters),
	}

	// A fresh output document gets indexed like any ingested one
	if outputID == rec.Output.Document.ID && e.embedder != nil {
		if _, err := e.embedSections(ctx, rec.Output.Document, rec.Output.Sections); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Consolidated document not indexed", "document", outputID, "error", err)
		}
	}

	if req.DeprecateSources {
		for _, d := range docs {
			dep, err := e.DeprecateDocument(ctx, DeprecateRequest{
				DocumentID:   d.ID,
				SupersededBy: outputID,
				Reason:       "consolidated into " + outputID,
			})
			if err != nil {
				return nil, err
			}
			resp.Deprecated = append(resp.Deprecated, dep.DocumentID)
		}
	}

	resp.ProcessingTimeMS = elapsed(started)
	slog.Info("Documents consolidated",
		"consolidation", resp.ConsolidationID, "output", outputID, "strategy", req.Strategy,
		"sources", len(docs), "provenance", len(resp.Provenance))
	return resp, nil
}

// DeprecateDocument retires a document, its claims and its vectors.
// Deprecation is terminal.
func (e *Engine) DeprecateDocument(ctx context.Context, req DeprecateRequest) (*DeprecateResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	live, err := e.store.ListClaims(ctx, store.ClaimFilter{DocumentIDs: []string{req.DocumentID}})
	if err != nil {
		return nil, err
	}

	doc, err := e.store.DeprecateDocument(ctx, req.DocumentID, req.SupersededBy, req.Reason, e.now().UTC())
	if err != nil {
		return nil, err
	}

	if e.index != nil {
		if err := e.index.MarkDeprecated(ctx, doc.ID); err != nil {
			// The store already excludes the document; stale vectors are filtered on join
			slog.Warn("Vector index not updated", "document", doc.ID, "index", e.index.Name(), "error", err)
		}
	}

	resp := &DeprecateResponse{
		DocumentID:       doc.ID,
		SupersededBy:     doc.SupersededBy,
		ClaimsDeprecated: len(live),
	}
	if doc.DeprecatedAt != nil {
		resp.DeprecatedAt = *doc.DeprecatedAt
	}
	slog.Info("Document deprecated", "document", doc.ID, "superseded_by", doc.SupersededBy, "claims", len(live))
	return resp, nil
}

// VerifyClaims runs the verification pipeline over claims selected by id or
// document and records each verdict on its claim
func (e *Engine) VerifyClaims(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	started := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var claims []model.AtomicClaim
	if len(req.ClaimIDs) > 0 {
		for _, id := range req.ClaimIDs {
			c, err := e.store.GetClaim(ctx, id)
			if err != nil {
				return nil, err
			}
			claims = append(claims, *c)
		}
	}
	if len(req.DocumentIDs) > 0 {
		for _, id := range req.DocumentIDs {
			if _, err := e.store.GetDocument(ctx, id); err != nil {
				return nil, err
			}
		}
		byDoc, err := e.store.ListClaims(ctx, store.ClaimFilter{DocumentIDs: req.DocumentIDs})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(claims))
		for _, c := range claims {
			seen[c.ID] = true
		}
		for _, c := range byDoc {
			if !seen[c.ID] {
				claims = append(claims, c)
			}
		}
	}

	if req.OnlyUnverified {
		pending := claims[:0]
		for _, c := range claims {
			if c.VerificationStatus == "" || c.VerificationStatus == model.StatusUnverified {
				pending = append(pending, c)
			}
		}
		claims = pending
	}

	resp := &VerifyResponse{Results: []model.VerificationResult{}}
	if len(claims) == 0 {
		resp.ProcessingTimeMS = elapsed(started)
		return resp, nil
	}

	verifier := e.verifier
	if req.ReferenceRoot != "" {
		verifier = verifier.WithReferenceRoot(req.ReferenceRoot)
	}
	results := verifier.VerifyBatch(ctx, claims)

	now := e.now().UTC()
	for _, res := range results {
		if err := e.recordVerification(ctx, res, now); err != nil {
			return nil, err
		}
		switch {
		case res.Error != "":
			resp.Failed++
		case res.Status == model.StatusVerified:
			resp.Verified++
		case res.Status == model.StatusContradicted:
			resp.Contradicted++
		default:
			resp.Uncertain++
		}
	}
	resp.Results = results
	resp.ProcessingTimeMS = elapsed(started)

	slog.Info("Claims verified",
		"claims", len(results), "verified", resp.Verified, "contradicted", resp.Contradicted,
		"uncertain", resp.Uncertain, "failed", resp.Failed)
	return resp, nil
}

func (e *Engine) recordVerification(ctx context.Context, res model.VerificationResult, at time.Time) error {
	if err := verify.Record(ctx, e.store, res, at); err != nil {
		if model.IsKind(err, model.KindNotFound) {
			return err
		}
		return model.NewError(model.KindInternal, err, "record verification of claim %s: %v", res.ClaimID, err)
	}
	return nil
}

// ResolveConflict moves a conflict through its state machine
func (e *Engine) ResolveConflict(ctx context.Context, req ResolveRequest) (*model.Conflict, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	c, err := e.store.GetConflict(ctx, req.ConflictID)
	if err != nil {
		return nil, err
	}
	if err := c.Transition(model.ConflictStatus(req.Status), model.Resolution(req.Resolution), req.Reasoning, req.ResolvedBy); err != nil {
		return nil, model.NewError(model.KindValidation, err, "%v", err).
			WithDetail("conflict_id", c.ID).
			WithDetail("status", string(c.Status))
	}
	if err := e.store.UpdateConflictStatus(ctx, c); err != nil {
		return nil, err
	}

	slog.Info("Conflict updated", "conflict", c.ID, "status", c.Status, "resolution", c.Resolution, "by", c.ResolvedBy)
	return c, nil
}
