package model

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestConflict_Transition(t *testing.T) {
	tests := []struct {
		name       string
		from       ConflictStatus
		to         ConflictStatus
		resolution Resolution
		by         string
		wantErr    bool
	}{
		{"unresolved to investigating", ConflictUnresolved, ConflictInvestigating, "", "", false},
		{"investigating to resolved", ConflictInvestigating, ConflictResolved, ResolutionChoseA, "alice", false},
		{"unresolved straight to ignored", ConflictUnresolved, ConflictIgnored, "", "bob", false},
		{"resolved without resolution", ConflictUnresolved, ConflictResolved, "", "alice", true},
		{"resolved without resolver", ConflictUnresolved, ConflictResolved, ResolutionMerged, "", true},
		{"terminal cannot move", ConflictResolved, ConflictEscalated, "", "x", true},
		{"investigating twice", ConflictInvestigating, ConflictInvestigating, "", "", true},
		{"unknown target", ConflictUnresolved, ConflictStatus("closed"), "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conflict{ID: "c1", Status: tt.from}
			err := c.Transition(tt.to, tt.resolution, "", tt.by)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if c.Status != tt.from {
					t.Errorf("status changed on failed transition: %s", c.Status)
				}
				return
			}
			if c.Status != tt.to {
				t.Errorf("expected status %s, got %s", tt.to, c.Status)
			}
			if c.Resolved != (tt.to == ConflictResolved) {
				t.Errorf("resolved flag %v does not match status %s", c.Resolved, c.Status)
			}
			if c.Resolved && c.Resolution == "" {
				t.Error("resolved conflict has no resolution")
			}
		})
	}
}

func TestPairKey(t *testing.T) {
	a, b := PairKey("zeta", "alpha")
	if a != "alpha" || b != "zeta" {
		t.Errorf("expected (alpha, zeta), got (%s, %s)", a, b)
	}
	a, b = PairKey("alpha", "zeta")
	if a != "alpha" || b != "zeta" {
		t.Errorf("expected (alpha, zeta), got (%s, %s)", a, b)
	}
}

func TestClampUnit(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 0.4: 0.4, 1: 1, 7: 1, math.NaN(): 0}
	for in, want := range cases {
		if got := ClampUnit(in); got != want {
			t.Errorf("ClampUnit(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestEvidenceSignal_Support(t *testing.T) {
	yes := EvidenceSignal{Verdict: true, Confidence: 0.8}
	no := EvidenceSignal{Verdict: false, Confidence: 0.8}
	if math.Abs(yes.Support()-0.8) > 1e-9 {
		t.Errorf("expected 0.8, got %v", yes.Support())
	}
	if math.Abs(no.Support()-0.2) > 1e-9 {
		t.Errorf("expected 0.2, got %v", no.Support())
	}
}

func TestDocumentType_Valid(t *testing.T) {
	for _, dt := range DocumentTypes {
		if !dt.Valid() {
			t.Errorf("%s should be valid", dt)
		}
	}
	if DocumentType("memo").Valid() {
		t.Error("memo should not be valid")
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("expected nil for nil error")
	}

	nf := NotFoundError("document", "d1")
	wrapped := fmt.Errorf("load: %w", nf)
	if got := AsError(wrapped); got.Kind != KindNotFound {
		t.Errorf("expected not_found, got %s", got.Kind)
	}
	if !IsKind(wrapped, KindNotFound) {
		t.Error("IsKind should see through wrapping")
	}

	raw := errors.New("boom")
	internal := AsError(raw)
	if internal.Kind != KindInternal || internal.Message != "boom" {
		t.Errorf("unexpected internal error: %+v", internal)
	}
	if !errors.Is(internal, raw) {
		t.Error("internal error should unwrap to cause")
	}
}
