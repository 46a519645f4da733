package model

// OverlapCluster is a group of near-duplicate sections found by greedy clustering
type OverlapCluster struct {
	ClusterID         string          `json:"cluster_id"`
	Members           []ClusterMember `json:"members"`
	DocumentIDs       []string        `json:"document_ids"`
	AverageSimilarity float64         `json:"average_similarity"`
	OverlapPercentage float64         `json:"overlap_percentage"`
	RecommendedAction string          `json:"recommended_action"` // merge, keep_newest, review
}

// ClusterMember is one section inside an overlap cluster
type ClusterMember struct {
	SectionID  string  `json:"section_id"`
	DocumentID string  `json:"document_id"`
	Header     string  `json:"header"`
	Similarity float64 `json:"similarity"` // to the cluster seed; 1 for the seed itself
}

const (
	ActionMerge      = "merge"
	ActionKeepNewest = "keep_newest"
	ActionReview     = "review"
)

// EvidenceType names one independent verification signal
type EvidenceType string

const (
	EvidenceReferenceLookup EvidenceType = "reference_lookup"
	EvidenceSelfConsistency EvidenceType = "self_consistency"
	EvidenceEnsemble        EvidenceType = "ensemble"
	EvidenceDebate          EvidenceType = "debate"
)

// EvidenceSignal is the outcome of one verification signal
type EvidenceSignal struct {
	Type       EvidenceType           `json:"type"`
	Ran        bool                   `json:"ran"`
	Verdict    bool                   `json:"verdict"`    // does this signal believe the claim
	Confidence float64                `json:"confidence"` // confidence in the verdict, 0-1
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Support converts the signal into support for the claim being true
func (s EvidenceSignal) Support() float64 {
	if s.Verdict {
		return ClampUnit(s.Confidence)
	}
	return 1 - ClampUnit(s.Confidence)
}

// VerificationResult is the aggregated judgment for one claim
type VerificationResult struct {
	ClaimID            string             `json:"claim_id"`
	Verified           bool               `json:"verified"`
	Confidence         float64            `json:"confidence"`
	ShouldFlagForHuman bool               `json:"should_flag_for_human"`
	Vetoed             bool               `json:"vetoed,omitempty"`
	Status             VerificationStatus `json:"status"`
	Signals            []EvidenceSignal   `json:"signals"`
	Error              string             `json:"error,omitempty"`
}

// Signal is a transparent scoring signal: the inputs and formula travel with the value
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies a ranking signal
type SignalType string

const (
	SignalSimilarity SignalType = "similarity"
	SignalAuthority  SignalType = "authority"
	SignalFreshness  SignalType = "freshness"
	SignalConflict   SignalType = "conflict"
	SignalCoverage   SignalType = "coverage"
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// SourceRef is one ranked source backing a source-of-truth answer
type SourceRef struct {
	DocumentID     string       `json:"document_id"`
	SectionID      string       `json:"section_id"`
	Title          string       `json:"title"`
	Header         string       `json:"header,omitempty"`
	SourcePath     string       `json:"source_path"`
	DocumentType   DocumentType `json:"document_type"`
	AuthorityLevel int          `json:"authority_level"`
	Similarity     float64      `json:"similarity"`
	Score          float64      `json:"score"`
	Deprecated     bool         `json:"deprecated,omitempty"`
	Signals        []Signal     `json:"signals,omitempty"`
}
