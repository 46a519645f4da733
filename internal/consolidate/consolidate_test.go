package consolidate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/overlap"
	"github.com/ppiankov/concordia/internal/vector"
)

type fixedIndex map[string][]float32

func (f fixedIndex) Upsert(ctx context.Context, entries []vector.Entry) error { return nil }
func (f fixedIndex) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	return nil, nil
}
func (f fixedIndex) Vectors(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, id := range ids {
		if v, ok := f[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}
func (f fixedIndex) MarkDeprecated(ctx context.Context, documentID string) error { return nil }
func (f fixedIndex) Name() string                                               { return "fixed" }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture: doc-a is older with higher authority, doc-b newer with lower.
// Both have a Timeout section that clusters together.
func fixture() Input {
	docA := &model.Document{
		ID: "doc-a", Title: "Ops guide", AuthorityLevel: 8, DocumentType: model.DocTypeGuide,
		ModifiedAt: base, IngestedAt: base, Tags: []string{"ops"},
	}
	docB := &model.Document{
		ID: "doc-b", Title: "Handoff", AuthorityLevel: 5, DocumentType: model.DocTypeHandoff,
		ModifiedAt: base.Add(24 * time.Hour), IngestedAt: base.Add(time.Hour), Tags: []string{"ops", "q2"},
	}
	sections := []model.Section{
		{ID: "a-s0", DocumentID: "doc-a", Header: "Timeout", Content: "Request timeout is 30s.", Level: 2, Order: 0},
		{ID: "a-s1", DocumentID: "doc-a", Header: "Intro", Content: "How we run the service.", Level: 2, Order: 1},
		{ID: "b-s0", DocumentID: "doc-b", Header: "Timeouts", Content: "The request timeout is now 60s.", Level: 2, Order: 0},
		{ID: "b-s1", DocumentID: "doc-b", Header: "Open items", Content: "Rotate keys.", Level: 2, Order: 1},
	}
	claims := []model.AtomicClaim{
		{ID: "c-a", DocumentID: "doc-a", SectionID: "a-s0", Subject: "request timeout", Predicate: "equals", Object: "30s", Confidence: 0.9, OriginalText: "Request timeout is 30s."},
		{ID: "c-b", DocumentID: "doc-b", SectionID: "b-s0", Subject: "request timeout", Predicate: "equals", Object: "60s", Confidence: 0.9},
	}
	conflicts := []*model.Conflict{
		{ID: "x-1", ClaimAID: "c-a", ClaimBID: "c-b", Type: model.ConflictValue, Strength: 0.8, Status: model.ConflictUnresolved},
	}
	return Input{
		Documents: []*model.Document{docA, docB},
		Sections:  sections,
		Claims:    claims,
		Conflicts: conflicts,
	}
}

func newConsolidator() *Consolidator {
	idx := fixedIndex{
		"a-s0": {1, 0},
		"a-s1": {0, 1},
		"b-s0": {0.9, 0.436},
		"b-s1": {0.6, -0.8},
	}
	c := NewConsolidator(overlap.NewEngine(idx, nil))
	c.now = func() time.Time { return base.Add(48 * time.Hour) }
	return c
}

func TestConsolidate_PreferAuthority(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyPreferAuthority

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	rec := res.Record

	stats := rec.Consolidation.Statistics
	if stats.OutputHeadings != 3 || stats.MergedGroups != 1 || stats.SupersededSections != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ConflictsResolved != 1 || stats.ConflictsFlagged != 0 {
		t.Errorf("conflict stats = %+v", stats)
	}

	if len(rec.Conflicts) != 1 {
		t.Fatalf("changed conflicts = %d, want 1", len(rec.Conflicts))
	}
	c := rec.Conflicts[0]
	if c.Status != model.ConflictResolved || c.Resolution != model.ResolutionChoseA {
		t.Errorf("conflict = %s/%s, want resolved/chose_a", c.Status, c.Resolution)
	}
	if c.ResolvedBy != "consolidation:prefer_authority" {
		t.Errorf("ResolvedBy = %q", c.ResolvedBy)
	}
	if in.Conflicts[0].Status != model.ConflictUnresolved {
		t.Error("input conflict was mutated")
	}

	out := rec.Consolidation.OutputContent
	if !strings.Contains(out, "## Timeout\n") || strings.Contains(out, "## Timeouts") {
		t.Errorf("primary heading should come from doc-a:\n%s", out)
	}
	if strings.Contains(out, "60s") {
		t.Errorf("superseded content leaked into output:\n%s", out)
	}
	if strings.Contains(out, "[!CONFLICT]") {
		t.Errorf("resolved conflict should not be flagged:\n%s", out)
	}
	if !strings.Contains(out, "[doc:doc-a], [doc:doc-b]") {
		t.Errorf("sources line missing:\n%s", out)
	}

	if len(rec.Provenance) != 4 {
		t.Fatalf("provenance rows = %d, want 4", len(rec.Provenance))
	}
	for _, p := range rec.Provenance {
		if p.ConsolidationID != rec.Consolidation.ID {
			t.Errorf("provenance %s has consolidation %s", p.ID, p.ConsolidationID)
		}
		if p.SourceSectionID == "b-s0" && p.ContributionType != model.ContributionSuperseded {
			t.Errorf("b-s0 contribution = %s, want superseded", p.ContributionType)
		}
		if p.SourceSectionID == "a-s0" && (p.ContributionType != model.ContributionPrimary || p.Confidence != 1) {
			t.Errorf("a-s0 provenance = %+v", p)
		}
	}
}

func TestConsolidate_PreferNewest(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyPreferNewest

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	c := res.Record.Conflicts[0]
	if c.Resolution != model.ResolutionChoseB {
		t.Errorf("resolution = %s, want chose_b", c.Resolution)
	}
	out := res.Record.Consolidation.OutputContent
	if !strings.Contains(out, "## Timeouts\n") || !strings.Contains(out, "60s") {
		t.Errorf("newest section should be primary:\n%s", out)
	}
}

func TestConsolidate_MergeAllFlagsConflicts(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyMergeAll

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	rec := res.Record

	if rec.Consolidation.Statistics.ConflictsFlagged != 1 || rec.Consolidation.Statistics.SupplementaryMerged != 1 {
		t.Errorf("stats = %+v", rec.Consolidation.Statistics)
	}
	c := rec.Conflicts[0]
	if c.Status != model.ConflictResolved || c.Resolution != model.ResolutionFlagged {
		t.Errorf("conflict = %s/%s, want resolved/flagged", c.Status, c.Resolution)
	}

	out := rec.Consolidation.OutputContent
	for _, want := range []string{"> [!CONFLICT] value_conflict", "Request timeout is 30s. [doc:doc-a]", "request timeout equals 60s [doc:doc-b]", "The request timeout is now 60s."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// primary follows input order under merge_all
	if !strings.Contains(out, "## Timeout\n") {
		t.Errorf("merge_all primary should be doc-a:\n%s", out)
	}
	for _, p := range rec.Provenance {
		if p.SourceSectionID == "b-s0" && p.ContributionType != model.ContributionSupplementary {
			t.Errorf("b-s0 contribution = %s, want supplementary", p.ContributionType)
		}
	}
}

func TestConsolidate_LosingStatementOutsideMergedGroup(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyPreferAuthority
	in.Sections[3].Content = "Request timeout is 60s."
	in.Claims[0].SectionID = "a-s1"
	in.Claims[1].SectionID = "b-s1"

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	rec := res.Record

	c := rec.Conflicts[0]
	if c.Status != model.ConflictResolved || c.Resolution != model.ResolutionChoseA {
		t.Errorf("conflict = %s/%s, want resolved/chose_a", c.Status, c.Resolution)
	}

	out := rec.Consolidation.OutputContent
	heading := strings.Index(out, "## Open items\n")
	if heading < 0 {
		t.Fatalf("unclustered section missing:\n%s", out)
	}
	block := "> [!SUPERSEDED]\n> request timeout equals 60s [doc:doc-b]\n> Use instead: Request timeout is 30s. [doc:doc-a]\n"
	at := strings.Index(out, block)
	if at < heading {
		t.Errorf("losing statement should be marked under its own heading:\n%s", out)
	}
	if strings.Contains(out, "[!CONFLICT]") {
		t.Errorf("ranked conflict should not be flagged:\n%s", out)
	}
}

func TestConsolidate_LosingStatementInsideMergedGroup(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyPreferAuthority

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if out := res.Record.Consolidation.OutputContent; strings.Contains(out, "[!SUPERSEDED]") {
		t.Errorf("superseded section is already dropped, no marker expected:\n%s", out)
	}
}

func TestConsolidate_OutputDocument(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyPreferAuthority
	in.Title = "Service reference"

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	out := res.Record.Output.Document

	if out.DocumentType != model.DocTypeReference {
		t.Errorf("type = %s", out.DocumentType)
	}
	if out.AuthorityLevel != 8 {
		t.Errorf("authority = %d, want max of sources 8", out.AuthorityLevel)
	}
	if out.ID != res.Record.Consolidation.OutputDocumentID {
		t.Error("output document id not linked")
	}
	if out.Frontmatter["consolidation_id"] != res.Record.Consolidation.ID {
		t.Errorf("frontmatter = %v", out.Frontmatter)
	}
	if !strings.HasPrefix(out.RawContent, "# Service reference\n") {
		t.Errorf("title missing: %q", out.RawContent[:40])
	}
	if len(out.ContentHash) != 64 {
		t.Errorf("content hash = %q", out.ContentHash)
	}
	if strings.Join(out.Tags, ",") != "ops,q2" {
		t.Errorf("tags = %v", out.Tags)
	}
	if len(res.Record.Output.Sections) < 3 {
		t.Errorf("output sections = %d", len(res.Record.Output.Sections))
	}
	for _, s := range res.Record.Output.Sections {
		if s.DocumentID != out.ID {
			t.Errorf("section %s belongs to %s", s.ID, s.DocumentID)
		}
	}
}

func TestConsolidate_SkipsTerminalConflicts(t *testing.T) {
	in := fixture()
	in.Strategy = model.StrategyPreferAuthority
	in.Conflicts[0].Status = model.ConflictIgnored

	res, err := newConsolidator().Consolidate(context.Background(), in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if len(res.Record.Conflicts) != 0 {
		t.Errorf("changed conflicts = %d, want 0", len(res.Record.Conflicts))
	}
}

func TestConsolidate_Validation(t *testing.T) {
	in := fixture()
	in.Strategy = "best_guess"
	if _, err := newConsolidator().Consolidate(context.Background(), in); !model.IsKind(err, model.KindValidation) {
		t.Errorf("unknown strategy error = %v", err)
	}

	in = fixture()
	in.Strategy = model.StrategyMergeAll
	in.Documents = in.Documents[:1]
	if _, err := newConsolidator().Consolidate(context.Background(), in); !model.IsKind(err, model.KindValidation) {
		t.Errorf("single source error = %v", err)
	}
}

func TestCompareDocs(t *testing.T) {
	older := &model.Document{ID: "o", AuthorityLevel: 7, ModifiedAt: base}
	newer := &model.Document{ID: "n", AuthorityLevel: 7, ModifiedAt: base.Add(time.Hour)}

	if compareDocs(older, newer, model.StrategyPreferAuthority) >= 0 {
		t.Error("equal authority should fall back to recency")
	}
	if compareDocs(newer, older, model.StrategyPreferNewest) <= 0 {
		t.Error("newer should win prefer_newest")
	}
	if compareDocs(older, newer, model.StrategyMergeAll) != 0 {
		t.Error("merge_all never ranks")
	}
}
