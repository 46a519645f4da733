// Package pipeline exposes the reconciliation operations over a document corpus.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/concordia/internal/cache"
	"github.com/ppiankov/concordia/internal/conflict"
	"github.com/ppiankov/concordia/internal/consolidate"
	"github.com/ppiankov/concordia/internal/extract"
	"github.com/ppiankov/concordia/internal/extract/adapters"
	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/overlap"
	"github.com/ppiankov/concordia/internal/refsearch"
	"github.com/ppiankov/concordia/internal/score"
	"github.com/ppiankov/concordia/internal/store"
	"github.com/ppiankov/concordia/internal/store/sqlite"
	"github.com/ppiankov/concordia/internal/validate"
	"github.com/ppiankov/concordia/internal/vector"
	"github.com/ppiankov/concordia/internal/verify"
	"github.com/ppiankov/concordia/internal/worker"
)

// Deps are the collaborators an Engine runs on. Generator, Ensemble and
// Embedder may be empty; the steps that need them then report zero counts.
type Deps struct {
	Store     store.Store
	Index     vector.Index
	Generator llm.Generator
	Ensemble  []llm.Generator
	Embedder  llm.Embedder
	Searcher  refsearch.Searcher
	Fetcher   *Fetcher
	Config    *model.Config
}

// Engine orchestrates ingestion, detection, verification and consolidation
type Engine struct {
	store    store.Store
	index    vector.Index
	gen      llm.Generator
	embedder llm.Embedder
	fetcher  *Fetcher
	config   *model.Config

	adapters     *adapters.Registry
	classifier   *validate.AuthorityClassifier
	extractor    *extract.ClaimExtractor
	detector     *conflict.Detector
	overlaps     *overlap.Engine
	verifier     *verify.Pipeline
	consolidator *consolidate.Consolidator
	ranker       *score.Ranker

	now func() time.Time
}

// New creates an engine from explicit dependencies
func New(d Deps) *Engine {
	cfg := d.Config
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	searcher := d.Searcher
	if searcher == nil {
		searcher = refsearch.NewFileSearcher()
	}
	fetcher := d.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBodyBytes, cfg.HTTP.InsecureTLS,
			cfg.LLM.HTTPProxy, cfg.LLM.HTTPSProxy, cfg.LLM.NoProxy)
	}

	extractor := extract.NewClaimExtractor(d.Generator)
	extractor.Model = cfg.LLM.Model
	if cfg.Reconcile.ExtractionMaxRetries > 0 {
		extractor.MaxRetries = cfg.Reconcile.ExtractionMaxRetries
	}

	detector := conflict.NewDetector(d.Generator, d.Embedder)
	detector.Model = cfg.LLM.Model
	if cfg.Reconcile.ConflictMinSimilarity > 0 {
		detector.MinSimilarity = cfg.Reconcile.ConflictMinSimilarity
	}
	if cfg.Reconcile.AmbiguousStrengthScale > 0 {
		detector.AmbiguousScale = cfg.Reconcile.AmbiguousStrengthScale
	}
	if cfg.Concurrency.ExtractWorkers > 0 {
		detector.Workers = cfg.Concurrency.ExtractWorkers
	}

	overlaps := overlap.NewEngine(d.Index, d.Embedder)
	if cfg.Reconcile.SimilarityThreshold > 0 {
		overlaps.Threshold = cfg.Reconcile.SimilarityThreshold
	}
	if cfg.Reconcile.MaxSectionsWarn > 0 {
		overlaps.MaxSectionsWarn = cfg.Reconcile.MaxSectionsWarn
	}
	if cfg.Embedding.BatchSize > 0 {
		overlaps.EmbedBatch = cfg.Embedding.BatchSize
	}

	verifyOpts := verify.OptionsFromConfig(cfg.Verification, cfg.Concurrency.VerifyWorkers)
	verifyOpts.Model = cfg.LLM.Model

	return &Engine{
		store:    d.Store,
		index:    d.Index,
		gen:      d.Generator,
		embedder: d.Embedder,
		fetcher:  fetcher,
		config:   cfg,

		adapters:     adapters.NewRegistry(),
		classifier:   validate.NewAuthorityClassifier(&cfg.Authority),
		extractor:    extractor,
		detector:     detector,
		overlaps:     overlaps,
		verifier:     verify.NewPipeline(d.Generator, d.Ensemble, searcher, verifyOpts),
		consolidator: consolidate.NewConsolidator(overlaps),
		ranker:       score.NewRanker(),

		now: time.Now,
	}
}

// Open wires an engine from configuration: the SQLite store, the configured
// vector index, rate-limited generation backends and the cached embedder.
func Open(ctx context.Context, cfg *model.Config) (*Engine, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "" && cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	st, err := sqlite.New(ctx, cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	deps := Deps{Store: st, Config: cfg}
	fail := func(err error) (*Engine, error) {
		_ = st.Close()
		return nil, err
	}

	switch cfg.Vector.Backend {
	case "weaviate":
		idx, err := vector.NewWeaviateIndex(ctx, cfg.Vector.WeaviateURL, cfg.Vector.ClassName)
		if err != nil {
			return fail(err)
		}
		deps.Index = idx
	case "", "sql":
		idx, err := vector.NewSQLIndex(ctx, st.DB())
		if err != nil {
			return fail(err)
		}
		deps.Index = idx
	default:
		return fail(model.ValidationError("unknown vector backend %q (supported: sql, weaviate)", cfg.Vector.Backend))
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)
	for key, rps := range cfg.RateLimiting.Overrides {
		limiter.SetKeyRate(key, rps, 0)
	}

	gen, err := llm.NewGenerator(llm.GeneratorConfigFromModel(cfg.LLM))
	if err != nil {
		return fail(model.NewError(model.KindValidation, err, "generation backend: %v", err))
	}
	if gen != nil {
		deps.Generator = llm.Guard(gen, limiter, cfg.LLM.MaxRetries)
	}

	ensemble, err := llm.NewGenerators(llm.EnsembleConfigsFromModel(cfg.LLM))
	if err != nil {
		return fail(model.NewError(model.KindValidation, err, "ensemble backend: %v", err))
	}
	for _, g := range ensemble {
		deps.Ensemble = append(deps.Ensemble, llm.Guard(g, limiter, cfg.LLM.MaxRetries))
	}

	emb, err := llm.NewEmbedder(llm.EmbedderConfigFromModel(cfg.Embedding, cfg.LLM))
	if err != nil {
		return fail(model.NewError(model.KindValidation, err, "embedding backend: %v", err))
	}
	if emb != nil {
		var e llm.Embedder = llm.GuardEmbedder(emb, cfg.LLM.MaxRetries)
		if cfg.Cache.Enabled {
			c := cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
			e = llm.NewCachedEmbedder(e, c, cfg.Embedding.Model, cfg.Cache.DiskTTL)
		}
		deps.Embedder = e
	}

	fetcher := NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBodyBytes, cfg.HTTP.InsecureTLS,
		cfg.LLM.HTTPProxy, cfg.LLM.HTTPSProxy, cfg.LLM.NoProxy).WithLimiter(limiter)
	if cfg.HTTP.RespectRobot {
		fetcher.WithRobots()
	}
	deps.Fetcher = fetcher

	slog.Debug("Engine opened",
		"store", st.Path(), "vector", deps.Index.Name(),
		"generation", cfg.LLM.Provider, "embedding", cfg.Embedding.Provider, "ensemble", len(deps.Ensemble))

	return New(deps), nil
}

// Close releases the store
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Store exposes the underlying store for commands that read it directly
func (e *Engine) Store() store.Store {
	return e.store
}

func elapsed(started time.Time) int64 {
	return time.Since(started).Milliseconds()
}
