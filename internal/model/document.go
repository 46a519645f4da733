package model

import "time"

// DocumentType classifies the role a document plays in the corpus
type DocumentType string

const (
	DocTypeSpec      DocumentType = "spec"
	DocTypeGuide     DocumentType = "guide"
	DocTypeHandoff   DocumentType = "handoff"
	DocTypePrompt    DocumentType = "prompt"
	DocTypeReport    DocumentType = "report"
	DocTypeReference DocumentType = "reference"
	DocTypeDecision  DocumentType = "decision"
	DocTypeArchive   DocumentType = "archive"
)

// DocumentTypes lists every accepted document type in declaration order
var DocumentTypes = []DocumentType{
	DocTypeSpec, DocTypeGuide, DocTypeHandoff, DocTypePrompt,
	DocTypeReport, DocTypeReference, DocTypeDecision, DocTypeArchive,
}

// Valid reports whether t is one of the known document types
func (t DocumentType) Valid() bool {
	for _, known := range DocumentTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	MinAuthority     = 1
	MaxAuthority     = 10
	DefaultAuthority = 5
)

// Document is one ingested source file or page
type Document struct {
	ID             string            `json:"id"`
	SourcePath     string            `json:"source_path"`
	ContentHash    string            `json:"content_hash"`           // SHA-256 of RawContent
	Format         string            `json:"format"`                 // markdown, html, text
	DocumentType   DocumentType      `json:"document_type"`
	Title          string            `json:"title"`
	AuthorityLevel int               `json:"authority_level"`        // 1-10, higher is more trusted
	RawContent     string            `json:"raw_content,omitempty"`
	Frontmatter    map[string]string `json:"frontmatter,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ModifiedAt     time.Time         `json:"modified_at"`
	IngestedAt     time.Time         `json:"ingested_at"`
	DeprecatedAt   *time.Time        `json:"deprecated_at,omitempty"`
	SupersededBy   string            `json:"superseded_by,omitempty"`
}

// IsDeprecated reports whether the document has been retired
func (d *Document) IsDeprecated() bool {
	return d.DeprecatedAt != nil
}

// IsArchived reports whether the document is excluded from default scopes.
// Deprecated documents and documents typed as archive both count.
func (d *Document) IsArchived() bool {
	return d.IsDeprecated() || d.DocumentType == DocTypeArchive
}

// SemanticType is a coarse classification of what a section contains
type SemanticType string

const (
	SemanticRequirements SemanticType = "requirements"
	SemanticExamples     SemanticType = "examples"
	SemanticDecisions    SemanticType = "decisions"
	SemanticUnknown      SemanticType = "unknown"
)

// Section is a heading-delimited slice of a document
type Section struct {
	ID           string       `json:"id"`
	DocumentID   string       `json:"document_id"`
	Header       string       `json:"header"`
	Content      string       `json:"content"`
	Level        int          `json:"level"`         // heading depth 1-6
	Order        int          `json:"section_order"` // position within the document
	StartLine    int          `json:"start_line"`
	EndLine      int          `json:"end_line"`
	SemanticType SemanticType `json:"semantic_type"`
}

// Text returns the header and content joined, the form used for embeddings
func (s *Section) Text() string {
	if s.Header == "" {
		return s.Content
	}
	return s.Header + "\n\n" + s.Content
}

// Supersession records that one document replaced another
type Supersession struct {
	OldDocumentID string    `json:"old_document_id"`
	NewDocumentID string    `json:"new_document_id"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}
