package model

import "time"

// Strategy selects how consolidation picks the primary section of a group
type Strategy string

const (
	StrategyMergeAll        Strategy = "merge_all"
	StrategyPreferAuthority Strategy = "prefer_authority"
	StrategyPreferNewest    Strategy = "prefer_newest"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyMergeAll, StrategyPreferAuthority, StrategyPreferNewest:
		return true
	}
	return false
}

// ContributionType describes how a source section fed an output heading
type ContributionType string

const (
	ContributionPrimary       ContributionType = "primary"
	ContributionSupplementary ContributionType = "supplementary"
	ContributionSuperseded    ContributionType = "superseded"
)

// Consolidation records one merge of several documents into a new one
type Consolidation struct {
	ID                string                  `json:"id"`
	SourceDocumentIDs []string                `json:"source_document_ids"`
	OutputContent     string                  `json:"output_content"`
	OutputDocumentID  string                  `json:"output_document_id"`
	Strategy          Strategy                `json:"strategy"`
	Statistics        ConsolidationStatistics `json:"statistics"`
	CreatedAt         time.Time               `json:"created_at"`
}

// ConsolidationStatistics summarizes what a merge did
type ConsolidationStatistics struct {
	SourceDocuments     int `json:"source_documents"`
	SourceSections      int `json:"source_sections"`
	OutputHeadings      int `json:"output_headings"`
	MergedGroups        int `json:"merged_groups"`
	SupplementaryMerged int `json:"supplementary_merged"`
	SupersededSections  int `json:"superseded_sections"`
	ConflictsResolved   int `json:"conflicts_resolved"`
	ConflictsFlagged    int `json:"conflicts_flagged"`
}

// Provenance ties an output heading to one source section.
// Rows are written once with their consolidation and never updated.
type Provenance struct {
	ID               string           `json:"id"`
	ConsolidationID  string           `json:"consolidation_id"`
	OutputHeading    string           `json:"output_heading"`
	OutputOrder      int              `json:"output_order"`
	SourceDocumentID string           `json:"source_document_id"`
	SourceSectionID  string           `json:"source_section_id"`
	ContributionType ContributionType `json:"contribution_type"`
	Confidence       float64          `json:"confidence"`
}
