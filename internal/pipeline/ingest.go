package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/concordia/internal/metrics"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/normalize"
	"github.com/ppiankov/concordia/internal/store"
	"github.com/ppiankov/concordia/internal/validate"
	"github.com/ppiankov/concordia/internal/vector"
	"github.com/ppiankov/concordia/internal/worker"
)

const maxSimilarDocuments = 5

// loadedSource is raw content with what the transport knows about it
type loadedSource struct {
	content     string
	contentType string
	title       string
	modifiedAt  time.Time
	path        string
}

// IngestDocument parses a source into sections and claims and stores them
// atomically. Re-ingesting identical content returns the existing id.
func (e *Engine) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	started := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	resp, err := e.ingest(ctx, req)
	switch {
	case err != nil:
		metrics.DocumentIngested("failed")
		return nil, err
	case resp.Created:
		metrics.DocumentIngested("created")
	default:
		metrics.DocumentIngested("duplicate")
	}
	resp.ProcessingTimeMS = elapsed(started)
	return resp, nil
}

func (e *Engine) ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	if req.Supersedes != "" {
		old, err := e.store.GetDocument(ctx, req.Supersedes)
		if err != nil {
			return nil, err
		}
		if old.IsDeprecated() {
			return nil, model.ValidationError("document %s is already deprecated", old.ID).WithDetail("document_id", old.ID)
		}
	}

	src, err := e.load(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(src.content))
	hash := hex.EncodeToString(sum[:])
	existing, err := e.store.GetDocumentByHash(ctx, hash)
	if err != nil && !model.IsKind(err, model.KindNotFound) {
		return nil, err
	}
	if existing != nil {
		slog.Info("Document unchanged", "source", src.path, "document", existing.ID)
		return &IngestResponse{
			DocumentID:         existing.ID,
			Title:              existing.Title,
			DocumentType:       existing.DocumentType,
			AuthorityLevel:     existing.AuthorityLevel,
			SimilarDocuments:   []SimilarDocument{},
			PotentialConflicts: []*model.Conflict{},
		}, nil
	}

	adapter := e.adapters.FindAdapter(src.path, src.contentType)
	parsed, err := adapter.Parse(src.content)
	if err != nil {
		return nil, model.NewError(model.KindValidation, err, "cannot parse %s as %s: %v", src.path, adapter.Name(), err).
			WithDetail("source", src.path)
	}

	class := e.classifier.Classify(src.path, parsed.Frontmatter)
	if req.DocumentType != "" {
		class.DocumentType = model.DocumentType(req.DocumentType)
	}
	if req.AuthorityLevel > 0 {
		class.AuthorityLevel = req.AuthorityLevel
	}

	now := e.now().UTC()
	doc := &model.Document{
		ID:             uuid.NewString(),
		SourcePath:     src.path,
		ContentHash:    hash,
		Format:         adapter.Name(),
		DocumentType:   class.DocumentType,
		Title:          firstNonEmpty(req.Title, parsed.Title, src.title),
		AuthorityLevel: class.AuthorityLevel,
		RawContent:     src.content,
		Frontmatter:    parsed.Frontmatter,
		Tags:           mergeTags(req.Tags, parsed.Tags),
		CreatedAt:      now,
		ModifiedAt:     src.modifiedAt,
		IngestedAt:     now,
	}
	if doc.ModifiedAt.IsZero() {
		doc.ModifiedAt = now
	}

	sections := parsed.ModelSections(doc.ID)
	resp := &IngestResponse{
		Title:              doc.Title,
		DocumentType:       doc.DocumentType,
		AuthorityLevel:     doc.AuthorityLevel,
		SimilarDocuments:   []SimilarDocument{},
		PotentialConflicts: []*model.Conflict{},
	}

	var claims []model.AtomicClaim
	if req.ExtractClaims && e.gen != nil {
		claims, err = e.extractClaims(ctx, sections, resp)
		if err != nil {
			return nil, err
		}
	}

	id, created, err := e.store.SaveDocument(ctx, store.NewDocument{Document: doc, Sections: sections, Claims: claims})
	if err != nil {
		return nil, err
	}
	resp.DocumentID = id
	resp.Created = created
	if !created {
		return resp, nil
	}
	resp.SectionsExtracted = len(sections)
	resp.ClaimsExtracted = len(claims)

	slog.Info("Document ingested",
		"document", id, "source", src.path, "type", doc.DocumentType,
		"authority", doc.AuthorityLevel, "sections", len(sections), "claims", len(claims))

	var vectors map[string][]float32
	if req.GenerateEmbeddings && e.embedder != nil {
		vectors, err = e.embedSections(ctx, doc, sections)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			resp.Warnings = append(resp.Warnings, "embeddings skipped: "+err.Error())
			slog.Warn("Embedding failed", "document", id, "error", err)
		}
		resp.EmbeddingsGenerated = len(vectors)
	}

	if len(vectors) > 0 {
		similar, err := e.similarDocuments(ctx, doc.ID, vectors)
		if err != nil {
			resp.Warnings = append(resp.Warnings, "similar documents skipped: "+err.Error())
		} else {
			resp.SimilarDocuments = similar
		}
	}

	if req.DetectConflicts && len(claims) > 0 {
		corpus, err := e.store.ListClaims(ctx, store.ClaimFilter{})
		if err == nil {
			var conflicts []*model.Conflict
			conflicts, _, err = e.detector.Run(ctx, e.store, corpus, doc.ID)
			if err == nil {
				resp.PotentialConflicts = conflicts
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			resp.Warnings = append(resp.Warnings, "conflict detection skipped: "+err.Error())
		}
	}

	if req.BuildEntityGraph && len(claims) > 0 {
		subjects := make([]string, len(claims))
		for i, c := range claims {
			subjects[i] = c.Subject
		}
		resp.EntitiesIdentified = len(normalize.Entities(normalize.Canonical, subjects))
	}

	if req.Supersedes != "" {
		dep, err := e.DeprecateDocument(ctx, DeprecateRequest{
			DocumentID:   req.Supersedes,
			SupersededBy: id,
			Reason:       "superseded by " + src.path,
		})
		if err != nil {
			return nil, err
		}
		resp.Superseded = dep.DocumentID
	}

	return resp, nil
}

// load reads a filesystem path or fetches an http(s) URL
func (e *Engine) load(ctx context.Context, source string) (*loadedSource, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		res, err := e.fetcher.FetchWithRetry(ctx, source)
		if err != nil {
			return nil, model.NewError(model.KindValidation, err, "cannot fetch %s: %v", source, err).WithDetail("source", source)
		}
		return &loadedSource{
			content:     res.HTML,
			contentType: res.ContentType,
			title:       res.Subject,
			modifiedAt:  res.LastModified,
			path:        res.FinalURL,
		}, nil
	}

	path := filepath.Clean(source)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.NotFoundError("source", source)
		}
		return nil, model.NewError(model.KindValidation, err, "cannot read %s: %v", source, err)
	}
	if info.IsDir() {
		return nil, model.ValidationError("%s is a directory; use batch ingestion", source)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewError(model.KindValidation, err, "cannot read %s: %v", source, err)
	}

	base := filepath.Base(path)
	return &loadedSource{
		content:    string(data),
		title:      strings.TrimSuffix(base, filepath.Ext(base)),
		modifiedAt: info.ModTime().UTC(),
		path:       filepath.ToSlash(path),
	}, nil
}

// extractClaims runs the extractor over every section in parallel. A section
// whose extraction fails is skipped with a warning.
func (e *Engine) extractClaims(ctx context.Context, sections []model.Section, resp *IngestResponse) ([]model.AtomicClaim, error) {
	perSection := make([][]model.AtomicClaim, len(sections))
	failures := make([]error, len(sections))

	workers := e.config.Concurrency.ExtractWorkers
	if workers <= 0 {
		workers = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sec := range sections {
		g.Go(func() error {
			claims, err := e.extractor.Extract(gctx, sec)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures[i] = err
				return nil
			}
			perSection[i] = claims
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var claims []model.AtomicClaim
	for i, sc := range perSection {
		if failures[i] != nil {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("claim extraction failed for section %q: %v", sections[i].Header, failures[i]))
			slog.Warn("Claim extraction failed", "section", sections[i].ID, "error", failures[i])
			continue
		}
		claims = append(claims, sc...)
	}
	return claims, nil
}

// embedSections embeds and indexes the sections of a new document
func (e *Engine) embedSections(ctx context.Context, doc *model.Document, sections []model.Section) (map[string][]float32, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	texts := make([]string, len(sections))
	for i := range sections {
		texts[i] = sections[i].Text()
	}

	vecs, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, model.BackendError(model.KindEmbedding, e.embedder.Name(), err)
	}
	if len(vecs) != len(sections) {
		return nil, model.NewError(model.KindEmbedding, nil, "embedder returned %d vectors for %d sections", len(vecs), len(sections))
	}

	entries := make([]vector.Entry, len(sections))
	out := make(map[string][]float32, len(sections))
	for i, sec := range sections {
		entries[i] = vector.NewEntry(doc, sec, vecs[i])
		out[sec.ID] = vecs[i]
	}
	if err := e.index.Upsert(ctx, entries); err != nil {
		return nil, model.BackendError(model.KindInternal, e.index.Name(), err)
	}
	return out, nil
}

// similarDocuments finds other live documents with a section close to any
// section of the new document
func (e *Engine) similarDocuments(ctx context.Context, docID string, vectors map[string][]float32) ([]SimilarDocument, error) {
	minSim := e.config.Reconcile.SimilarDocumentMin
	if minSim <= 0 {
		minSim = 0.8
	}

	best := make(map[string]float64)
	for _, v := range vectors {
		hits, err := e.index.Search(ctx, vector.Query{Vector: v, Limit: 10, MinSimilarity: minSim})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.DocumentID == docID {
				continue
			}
			if h.Similarity > best[h.DocumentID] {
				best[h.DocumentID] = h.Similarity
			}
		}
	}

	out := make([]SimilarDocument, 0, len(best))
	for id, sim := range best {
		d, err := e.store.GetDocument(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, SimilarDocument{DocumentID: id, Title: d.Title, SourcePath: d.SourcePath, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if len(out) > maxSimilarDocuments {
		out = out[:maxSimilarDocuments]
	}
	return out, nil
}

// IngestBatch ingests sources on the worker pool. One failing source does
// not affect the others; items come back in input order.
func (e *Engine) IngestBatch(ctx context.Context, template IngestRequest, sources []string) (*BatchResponse, error) {
	started := time.Now()
	if len(sources) == 0 {
		return nil, model.ValidationError("no sources to ingest")
	}

	workers := e.config.Concurrency.IngestWorkers
	if workers <= 0 {
		workers = 4
	}

	results := worker.RunAll(ctx, workers, sources, func(ctx context.Context, source string) (*IngestResponse, error) {
		req := template
		req.Source = source
		return e.IngestDocument(ctx, req)
	})

	out := &BatchResponse{Items: make([]BatchItem, len(results))}
	for i, r := range results {
		item := BatchItem{Source: r.Key}
		switch {
		case r.Err != nil:
			item.Error = model.AsError(r.Err)
			out.Failed++
		case r.Value.Created:
			item.Result = r.Value
			out.Created++
		default:
			item.Result = r.Value
			out.Duplicates++
		}
		out.Items[i] = item
	}
	out.ProcessingTimeMS = elapsed(started)
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func mergeTags(groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, t := range g {
			t = strings.TrimSpace(t)
			if t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
