package pipeline

import (
	"time"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/overlap"
	"github.com/ppiankov/concordia/internal/score"
)

// Scope selects documents. Empty scope means every document the include
// flags allow.
type Scope struct {
	DocumentIDs []string `json:"document_ids,omitempty" validate:"omitempty,dive,required"`
	// Paths are source path globs; ** matches any number of directories
	Paths []string `json:"paths,omitempty" validate:"omitempty,dive,required"`
}

// Empty reports whether the scope selects everything
func (s Scope) Empty() bool {
	return len(s.DocumentIDs) == 0 && len(s.Paths) == 0
}

// IngestRequest ingests one file or URL
type IngestRequest struct {
	Source         string   `json:"source" validate:"source"`
	DocumentType   string   `json:"document_type,omitempty" validate:"omitempty,doctype"`
	AuthorityLevel int      `json:"authority_level,omitempty" validate:"omitempty,gte=1,lte=10"`
	Title          string   `json:"title,omitempty"`
	Tags           []string `json:"tags,omitempty" validate:"omitempty,dive,required"`
	Supersedes     string   `json:"supersedes,omitempty"`

	ExtractClaims      bool `json:"extract_claims"`
	GenerateEmbeddings bool `json:"generate_embeddings"`
	DetectConflicts    bool `json:"detect_conflicts"`
	BuildEntityGraph   bool `json:"build_entity_graph"`
}

// DefaultIngestRequest enables every optional step
func DefaultIngestRequest(source string) IngestRequest {
	return IngestRequest{
		Source:             source,
		ExtractClaims:      true,
		GenerateEmbeddings: true,
		DetectConflicts:    true,
		BuildEntityGraph:   true,
	}
}

// SimilarDocument is an existing document close to a newly ingested one
type SimilarDocument struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	SourcePath string  `json:"source_path"`
	Similarity float64 `json:"similarity"`
}

// IngestResponse reports what ingestion produced
type IngestResponse struct {
	DocumentID          string             `json:"document_id"`
	Created             bool               `json:"created"`
	Title               string             `json:"title"`
	DocumentType        model.DocumentType `json:"document_type"`
	AuthorityLevel      int                `json:"authority_level"`
	SectionsExtracted   int                `json:"sections_extracted"`
	ClaimsExtracted     int                `json:"claims_extracted"`
	EntitiesIdentified  int                `json:"entities_identified"`
	EmbeddingsGenerated int                `json:"embeddings_generated"`
	SimilarDocuments    []SimilarDocument  `json:"similar_documents"`
	PotentialConflicts  []*model.Conflict  `json:"potential_conflicts"`
	Superseded          string             `json:"superseded,omitempty"`
	Warnings            []string           `json:"warnings,omitempty"`
	ProcessingTimeMS    int64              `json:"processing_time_ms"`
}

// BatchItem is the outcome for one source in a batch ingestion
type BatchItem struct {
	Source string          `json:"source"`
	Result *IngestResponse `json:"result,omitempty"`
	Error  *model.Error    `json:"error,omitempty"`
}

// BatchResponse reports a batch ingestion in input order
type BatchResponse struct {
	Items            []BatchItem `json:"items"`
	Created          int         `json:"created"`
	Duplicates       int         `json:"duplicates"`
	Failed           int         `json:"failed"`
	ProcessingTimeMS int64       `json:"processing_time_ms"`
}

// OverlapsRequest finds duplicated and contradictory content in a scope
type OverlapsRequest struct {
	Scope               Scope    `json:"scope"`
	SimilarityThreshold float64  `json:"similarity_threshold" validate:"gte=0,lte=1"`
	IncludeArchived     bool     `json:"include_archived"`
	ConflictTypes       []string `json:"conflict_types,omitempty" validate:"omitempty,dive,oneof=direct_negation value_conflict temporal_conflict scope_conflict implication_conflict"`
}

// OverlapsResponse carries clusters, conflicts and the corpus redundancy
type OverlapsResponse struct {
	OverlapClusters  []model.OverlapCluster `json:"overlap_clusters"`
	ConflictPairs    []*model.Conflict      `json:"conflict_pairs"`
	NewConflicts     int                    `json:"new_conflicts"`
	RedundancyScore  float64                `json:"redundancy_score"`
	TotalSections    int                    `json:"total_sections"`
	Unembedded       int                    `json:"unembedded"`
	Recommendations  []string               `json:"recommendations"`
	Warnings         []string               `json:"warnings,omitempty"`
	ProcessingTimeMS int64                  `json:"processing_time_ms"`
}

// TruthRequest asks what the corpus says about a question
type TruthRequest struct {
	Query               string  `json:"query" validate:"required"`
	Scope               Scope   `json:"scope"`
	IncludeDeprecated   bool    `json:"include_deprecated"`
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxSources          int     `json:"max_sources" validate:"gte=0,lte=50"`
	VerifyClaims        bool    `json:"verify_claims"`
	ReferenceRoot       string  `json:"reference_root,omitempty"`
}

// DefaultTruthRequest applies the documented defaults
func DefaultTruthRequest(query string) TruthRequest {
	return TruthRequest{
		Query:               query,
		ConfidenceThreshold: 0.7,
		MaxSources:          5,
		VerifyClaims:        true,
	}
}

// TruthResponse is the synthesized answer with everything behind it
type TruthResponse struct {
	Answer            string                     `json:"answer"`
	AnswerSource      string                     `json:"answer_source"` // generator name or "extractive"
	Confidence        float64                    `json:"confidence"`
	Assessment        score.Assessment           `json:"assessment"`
	Sources           []model.SourceRef          `json:"sources"`
	SupportingClaims  []model.AtomicClaim        `json:"supporting_claims"`
	ConflictingClaims []model.AtomicClaim        `json:"conflicting_claims"`
	Verifications     []model.VerificationResult `json:"verifications,omitempty"`
	KnowledgeGaps     []string                   `json:"knowledge_gaps"`
	ProcessingTimeMS  int64                      `json:"processing_time_ms"`
}

// ConsolidateRequest merges documents with a strategy
type ConsolidateRequest struct {
	SourceDocumentIDs []string `json:"source_document_ids" validate:"min=2,unique,dive,required"`
	Strategy          string   `json:"strategy" validate:"required,strategy"`
	Title             string   `json:"title,omitempty"`
	// DeprecateSources retires the sources in favor of the output document
	DeprecateSources bool `json:"deprecate_sources"`
}

// ConsolidateResponse reports the merged document
type ConsolidateResponse struct {
	ConsolidationID   string                        `json:"consolidation_id"`
	OutputDocumentID  string                        `json:"output_document_id"`
	Provenance        []model.Provenance            `json:"provenance"`
	Statistics        model.ConsolidationStatistics `json:"statistics"`
	ResolvedConflicts []*model.Conflict             `json:"resolved_conflicts,omitempty"`
	Clusters          int                           `json:"clusters"`
	Deprecated        []string                      `json:"deprecated,omitempty"`
	ProcessingTimeMS  int64                         `json:"processing_time_ms"`
}

// DeprecateRequest retires a document
type DeprecateRequest struct {
	DocumentID   string `json:"document_id" validate:"required"`
	SupersededBy string `json:"superseded_by,omitempty" validate:"omitempty,nefield=DocumentID"`
	Reason       string `json:"reason" validate:"required"`
}

// DeprecateResponse reports the deprecation
type DeprecateResponse struct {
	DocumentID       string    `json:"document_id"`
	DeprecatedAt     time.Time `json:"deprecated_at"`
	SupersededBy     string    `json:"superseded_by,omitempty"`
	ClaimsDeprecated int       `json:"claims_deprecated"`
}

// VerifyRequest verifies claims by id or by document
type VerifyRequest struct {
	ClaimIDs      []string `json:"claim_ids,omitempty" validate:"required_without=DocumentIDs,omitempty,dive,required"`
	DocumentIDs   []string `json:"document_ids,omitempty" validate:"required_without=ClaimIDs,omitempty,dive,required"`
	ReferenceRoot string   `json:"reference_root,omitempty"`
	// OnlyUnverified skips claims that already have a verdict
	OnlyUnverified bool `json:"only_unverified"`
}

// VerifyResponse carries one result per claim in input order
type VerifyResponse struct {
	Results          []model.VerificationResult `json:"results"`
	Verified         int                        `json:"verified"`
	Contradicted     int                        `json:"contradicted"`
	Uncertain        int                        `json:"uncertain"`
	Failed           int                        `json:"failed"`
	ProcessingTimeMS int64                      `json:"processing_time_ms"`
}

// ResolveRequest moves a conflict through its state machine
type ResolveRequest struct {
	ConflictID string `json:"conflict_id" validate:"required"`
	Status     string `json:"status" validate:"required,conflict_status"`
	Resolution string `json:"resolution,omitempty" validate:"required_if=Status resolved,omitempty,resolution"`
	Reasoning  string `json:"reasoning,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty" validate:"required_if=Status resolved"`
}

// clusterThreshold maps an unset threshold onto the overlap engine default
func clusterThreshold(t float64) float64 {
	if t <= 0 {
		return overlap.DefaultThreshold
	}
	return t
}
