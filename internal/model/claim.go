package model

import "time"

// AtomicClaim is a single subject/predicate/object statement extracted from a section
type AtomicClaim struct {
	ID                   string             `json:"id"`
	DocumentID           string             `json:"document_id"`
	SectionID            string             `json:"section_id"`
	OriginalText         string             `json:"original_text"`
	Subject              string             `json:"subject"`
	Predicate            string             `json:"predicate"`
	Object               string             `json:"object"`
	Qualifier            string             `json:"qualifier,omitempty"`
	Confidence           float64            `json:"confidence"` // 0-1
	Deprecated           bool               `json:"deprecated"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	LastVerifiedAt       *time.Time         `json:"last_verified_at,omitempty"`
	VerificationEvidence string             `json:"verification_evidence,omitempty"` // JSON-encoded signals
}

// Statement renders the claim as a single readable line
func (c *AtomicClaim) Statement() string {
	s := c.Subject + " " + c.Predicate + " " + c.Object
	if c.Qualifier != "" {
		s += " (" + c.Qualifier + ")"
	}
	return s
}

// VerificationStatus tracks the outcome of the last verification run
type VerificationStatus string

const (
	StatusUnverified   VerificationStatus = "unverified"
	StatusVerified     VerificationStatus = "verified"
	StatusContradicted VerificationStatus = "contradicted"
	StatusUncertain    VerificationStatus = "uncertain"
)

// ClampUnit bounds v to [0,1]. NaN becomes 0.
func ClampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
