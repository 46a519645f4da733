// Package store defines the persistence boundary for documents, sections,
// claims, conflicts and consolidations.
package store

import (
	"context"
	"time"

	"github.com/ppiankov/concordia/internal/model"
)

// DocumentFilter selects documents. Deprecated and archive-typed documents
// are excluded unless asked for.
type DocumentFilter struct {
	IDs               []string
	IncludeDeprecated bool
	IncludeArchived   bool
}

// ClaimFilter selects claims
type ClaimFilter struct {
	IDs               []string
	DocumentIDs       []string
	IncludeDeprecated bool
}

// ConflictFilter selects conflicts
type ConflictFilter struct {
	IDs []string
	// ClaimIDs matches conflicts where either side is one of these claims
	ClaimIDs []string
	Statuses []model.ConflictStatus
	Types    []model.ConflictType
}

// NewDocument bundles everything written when a document is ingested
type NewDocument struct {
	Document *model.Document
	Sections []model.Section
	Claims   []model.AtomicClaim
}

// ConsolidationRecord bundles everything written by one consolidation
type ConsolidationRecord struct {
	Consolidation *model.Consolidation
	Output        NewDocument
	Provenance    []model.Provenance
	// Conflicts carries conflicts whose status changed during the merge
	Conflicts []*model.Conflict
}

// Store is the relational persistence layer
type Store interface {
	// SaveDocument writes a document with its sections and claims in one
	// transaction. When a document with the same content hash exists its id is
	// returned with created=false and nothing is written.
	SaveDocument(ctx context.Context, nd NewDocument) (id string, created bool, err error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocumentByHash(ctx context.Context, contentHash string) (*model.Document, error)
	// ListDocuments returns documents ordered by ingestion time, then id
	ListDocuments(ctx context.Context, f DocumentFilter) ([]*model.Document, error)
	// DeprecateDocument retires a document and its claims. supersededBy may be empty.
	DeprecateDocument(ctx context.Context, id, supersededBy, reason string, at time.Time) (*model.Document, error)
	ListSupersessions(ctx context.Context, documentID string) ([]model.Supersession, error)

	// ListSections returns sections of the given documents ordered by section_order
	ListSections(ctx context.Context, documentIDs []string) ([]model.Section, error)

	ListClaims(ctx context.Context, f ClaimFilter) ([]model.AtomicClaim, error)
	GetClaim(ctx context.Context, id string) (*model.AtomicClaim, error)
	AddClaims(ctx context.Context, claims []model.AtomicClaim) error
	UpdateClaimVerification(ctx context.Context, id string, status model.VerificationStatus, at time.Time, evidence string) error

	// UpsertConflict inserts a conflict keyed by its ordered claim pair. An
	// existing conflict keeps its id and resolution state; unresolved ones get
	// the new classification.
	UpsertConflict(ctx context.Context, c *model.Conflict) (*model.Conflict, bool, error)
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	ListConflicts(ctx context.Context, f ConflictFilter) ([]*model.Conflict, error)
	// UpdateConflictStatus persists a state transition made with model.Conflict.Transition
	UpdateConflictStatus(ctx context.Context, c *model.Conflict) error

	// SaveConsolidation writes the output document, consolidation, provenance
	// and conflict resolutions in one transaction
	SaveConsolidation(ctx context.Context, rec ConsolidationRecord) error
	GetConsolidation(ctx context.Context, id string) (*model.Consolidation, []model.Provenance, error)

	Close() error
}
