package model

import (
	"fmt"
	"time"
)

// ConflictType classifies how two claims disagree
type ConflictType string

const (
	ConflictDirectNegation ConflictType = "direct_negation"
	ConflictValue          ConflictType = "value_conflict"
	ConflictTemporal       ConflictType = "temporal_conflict"
	ConflictScope          ConflictType = "scope_conflict"
	ConflictImplication    ConflictType = "implication_conflict"
)

// ConflictTypes lists every conflict type
var ConflictTypes = []ConflictType{
	ConflictDirectNegation, ConflictValue, ConflictTemporal, ConflictScope, ConflictImplication,
}

// Valid reports whether t is a known conflict type
func (t ConflictType) Valid() bool {
	for _, known := range ConflictTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ConflictStatus is the lifecycle state of a conflict
type ConflictStatus string

const (
	ConflictUnresolved    ConflictStatus = "unresolved"
	ConflictInvestigating ConflictStatus = "investigating"
	ConflictResolved      ConflictStatus = "resolved"
	ConflictIgnored       ConflictStatus = "ignored"
	ConflictEscalated     ConflictStatus = "escalated"
)

// Terminal reports whether no further transitions are allowed
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictIgnored || s == ConflictEscalated
}

// Resolution records which side of a conflict won
type Resolution string

const (
	ResolutionChoseA  Resolution = "chose_a"
	ResolutionChoseB  Resolution = "chose_b"
	ResolutionMerged  Resolution = "merged"
	ResolutionFlagged Resolution = "flagged"
)

// Valid reports whether r is a known resolution
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionChoseA, ResolutionChoseB, ResolutionMerged, ResolutionFlagged:
		return true
	}
	return false
}

// Conflict is a detected disagreement between two claims from different documents.
// ClaimAID always sorts before ClaimBID so the pair is a stable key.
type Conflict struct {
	ID                  string         `json:"id"`
	ClaimAID            string         `json:"claim_a_id"`
	ClaimBID            string         `json:"claim_b_id"`
	Type                ConflictType   `json:"conflict_type"`
	Strength            float64        `json:"strength"` // 0-1
	DetectedBy          string         `json:"detected_by"`
	ResolutionHints     string         `json:"resolution_hints,omitempty"`
	Ambiguous           bool           `json:"ambiguous,omitempty"`
	Status              ConflictStatus `json:"status"`
	Resolved            bool           `json:"resolved"`
	Resolution          Resolution     `json:"resolution,omitempty"`
	ResolutionReasoning string         `json:"resolution_reasoning,omitempty"`
	ResolvedBy          string         `json:"resolved_by,omitempty"`
	DetectedAt          time.Time      `json:"detected_at"`
}

// PairKey returns the canonical ordering of two claim ids
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Transition moves the conflict to a new status, enforcing the state machine:
// unresolved -> investigating -> {resolved | ignored | escalated}, with unresolved
// allowed to jump straight to a terminal state.
func (c *Conflict) Transition(to ConflictStatus, resolution Resolution, reasoning, by string) error {
	if c.Status.Terminal() {
		return fmt.Errorf("conflict %s is %s and cannot move to %s", c.ID, c.Status, to)
	}
	switch to {
	case ConflictInvestigating:
		if c.Status != ConflictUnresolved {
			return fmt.Errorf("conflict %s: %s -> investigating not allowed", c.ID, c.Status)
		}
	case ConflictResolved:
		if !resolution.Valid() {
			return fmt.Errorf("conflict %s: resolved requires a resolution", c.ID)
		}
		if by == "" {
			return fmt.Errorf("conflict %s: resolved requires resolved_by", c.ID)
		}
	case ConflictIgnored, ConflictEscalated:
	default:
		return fmt.Errorf("conflict %s: unknown target status %q", c.ID, to)
	}

	c.Status = to
	if to == ConflictResolved {
		c.Resolved = true
		c.Resolution = resolution
		c.ResolvedBy = by
	}
	if reasoning != "" {
		c.ResolutionReasoning = reasoning
	}
	if to != ConflictResolved && by != "" {
		c.ResolvedBy = by
	}
	return nil
}
