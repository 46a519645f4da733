// Package consolidate merges overlapping documents into one reference
// document and records where every output heading came from.
package consolidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/concordia/internal/extract/adapters"
	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/normalize"
	"github.com/ppiankov/concordia/internal/overlap"
	"github.com/ppiankov/concordia/internal/store"
)

// nearIdentical is the member similarity above which merge_all does not
// append a supplementary section's content
const nearIdentical = 0.98

// Input is everything a consolidation reads
type Input struct {
	Documents []*model.Document
	Sections  []model.Section
	Claims    []model.AtomicClaim
	// Conflicts among the sources' claims; terminal ones are ignored
	Conflicts []*model.Conflict
	Strategy  model.Strategy
	Title     string
}

// Result is the record to persist plus the clusters that shaped it
type Result struct {
	Record   store.ConsolidationRecord
	Clusters []model.OverlapCluster
}

// Consolidator builds merged documents
type Consolidator struct {
	clusters *overlap.Engine
	now      func() time.Time
}

// NewConsolidator creates a consolidator grouping sections with engine
func NewConsolidator(engine *overlap.Engine) *Consolidator {
	return &Consolidator{clusters: engine, now: time.Now}
}

// group is one output heading: a primary section and the members it absorbed
type group struct {
	primary model.Section
	others  []model.Section
	sims    map[string]float64
	blocks  []string
}

// Consolidate merges the input documents. Nothing is written; the caller
// persists Result.Record.
func (c *Consolidator) Consolidate(ctx context.Context, in Input) (*Result, error) {
	if len(in.Documents) < 2 {
		return nil, model.ValidationError("consolidation needs at least 2 source documents, got %d", len(in.Documents))
	}
	if !in.Strategy.Valid() {
		return nil, model.ValidationError("unknown strategy %q", in.Strategy)
	}

	docs := make(map[string]*model.Document, len(in.Documents))
	inputOrder := make(map[string]int, len(in.Documents))
	for i, d := range in.Documents {
		docs[d.ID] = d
		inputOrder[d.ID] = i
	}

	found, err := c.clusters.Find(ctx, in.Documents, in.Sections, overlap.DefaultThreshold)
	if err != nil {
		return nil, err
	}

	groups := c.buildGroups(in, found.Clusters, docs, inputOrder)
	stats := model.ConsolidationStatistics{
		SourceDocuments: len(in.Documents),
		SourceSections:  len(in.Sections),
		OutputHeadings:  len(groups),
	}

	changed := c.resolveConflicts(in, docs, groups, &stats)

	consolidationID := uuid.NewString()
	now := c.now().UTC()
	content, provenance := render(in, docs, groups, consolidationID, &stats)

	output, err := outputDocument(in, content, consolidationID, now)
	if err != nil {
		return nil, err
	}

	sourceIDs := make([]string, len(in.Documents))
	for i, d := range in.Documents {
		sourceIDs[i] = d.ID
	}

	slog.Info("Consolidation built",
		"sources", len(sourceIDs), "headings", stats.OutputHeadings,
		"resolved", stats.ConflictsResolved, "flagged", stats.ConflictsFlagged)

	return &Result{
		Record: store.ConsolidationRecord{
			Consolidation: &model.Consolidation{
				ID:                consolidationID,
				SourceDocumentIDs: sourceIDs,
				OutputContent:     content,
				OutputDocumentID:  output.Document.ID,
				Strategy:          in.Strategy,
				Statistics:        stats,
				CreatedAt:         now,
			},
			Output:     output,
			Provenance: provenance,
			Conflicts:  changed,
		},
		Clusters: found.Clusters,
	}, nil
}

// buildGroups walks sections in clustering order. A clustered section opens
// its cluster's group the first time any member is seen.
func (c *Consolidator) buildGroups(in Input, clusters []model.OverlapCluster, docs map[string]*model.Document, inputOrder map[string]int) []*group {
	clusterOf := make(map[string]int)
	for i, cl := range clusters {
		for _, m := range cl.Members {
			clusterOf[m.SectionID] = i
		}
	}
	bySection := make(map[string]model.Section, len(in.Sections))
	for _, s := range in.Sections {
		bySection[s.ID] = s
	}

	var groups []*group
	opened := make(map[int]bool)
	for _, sec := range overlap.OrderSections(in.Documents, in.Sections) {
		idx, clustered := clusterOf[sec.ID]
		if !clustered {
			groups = append(groups, &group{primary: sec, sims: map[string]float64{sec.ID: 1}})
			continue
		}
		if opened[idx] {
			continue
		}
		opened[idx] = true

		members := make([]model.Section, 0, len(clusters[idx].Members))
		sims := make(map[string]float64)
		for _, m := range clusters[idx].Members {
			members = append(members, bySection[m.SectionID])
			sims[m.SectionID] = m.Similarity
		}
		primary := pickPrimary(members, docs, inputOrder, in.Strategy)

		g := &group{primary: members[primary], sims: sims}
		for i, m := range members {
			if i != primary {
				g.others = append(g.others, m)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// pickPrimary returns the index of the member the strategy prefers
func pickPrimary(members []model.Section, docs map[string]*model.Document, inputOrder map[string]int, strategy model.Strategy) int {
	best := 0
	for i := 1; i < len(members); i++ {
		cmp := compareDocs(docs[members[i].DocumentID], docs[members[best].DocumentID], strategy)
		if cmp == 0 {
			cmp = inputOrder[members[best].DocumentID] - inputOrder[members[i].DocumentID]
		}
		if cmp > 0 {
			best = i
		}
	}
	return best
}

// compareDocs ranks a against b under the strategy: >0 when a wins, <0 when
// b wins, 0 when the strategy cannot tell them apart. merge_all never ranks.
func compareDocs(a, b *model.Document, strategy model.Strategy) int {
	if a == nil || b == nil || a.ID == b.ID {
		return 0
	}
	byAuthority := func() int { return a.AuthorityLevel - b.AuthorityLevel }
	byRecency := func() int {
		switch {
		case a.ModifiedAt.After(b.ModifiedAt):
			return 1
		case a.ModifiedAt.Before(b.ModifiedAt):
			return -1
		}
		return 0
	}

	switch strategy {
	case model.StrategyPreferAuthority:
		if r := byAuthority(); r != 0 {
			return r
		}
		return byRecency()
	case model.StrategyPreferNewest:
		if r := byRecency(); r != 0 {
			return r
		}
		return byAuthority()
	}
	return 0
}

// resolveConflicts settles unresolved conflicts between source claims and
// returns the conflicts whose state changed
func (c *Consolidator) resolveConflicts(in Input, docs map[string]*model.Document, groups []*group, stats *model.ConsolidationStatistics) []*model.Conflict {
	claims := make(map[string]model.AtomicClaim, len(in.Claims))
	for _, cl := range in.Claims {
		claims[cl.ID] = cl
	}
	groupOf := make(map[string]*group)
	for _, g := range groups {
		groupOf[g.primary.ID] = g
		for _, o := range g.others {
			groupOf[o.ID] = g
		}
	}

	by := "consolidation:" + string(in.Strategy)
	var changed []*model.Conflict

	sorted := make([]*model.Conflict, 0, len(in.Conflicts))
	sorted = append(sorted, in.Conflicts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ClaimAID != sorted[j].ClaimAID {
			return sorted[i].ClaimAID < sorted[j].ClaimAID
		}
		return sorted[i].ClaimBID < sorted[j].ClaimBID
	})

	for _, orig := range sorted {
		if orig.Status.Terminal() {
			continue
		}
		a, okA := claims[orig.ClaimAID]
		b, okB := claims[orig.ClaimBID]
		if !okA || !okB {
			continue
		}
		conflict := *orig

		docA, docB := docs[a.DocumentID], docs[b.DocumentID]
		rank := compareDocs(docA, docB, in.Strategy)

		var err error
		switch {
		case rank != 0:
			winner, loser, resolution := a, b, model.ResolutionChoseA
			if rank < 0 {
				winner, loser, resolution = b, a, model.ResolutionChoseB
			}
			err = conflict.Transition(model.ConflictResolved, resolution,
				fmt.Sprintf("%s ranks %s above %s", in.Strategy, winner.DocumentID, loser.DocumentID), by)
			stats.ConflictsResolved++

			// A losing statement outside a merged group is still rendered in full
			if g := groupOf[loser.SectionID]; g != nil && g.primary.ID == loser.SectionID {
				g.blocks = append(g.blocks, supersededBlock(winner, loser))
			}
		default:
			err = conflict.Transition(model.ConflictResolved, model.ResolutionFlagged,
				fmt.Sprintf("%s cannot rank %s against %s; both statements kept", in.Strategy, a.DocumentID, b.DocumentID), by)
			stats.ConflictsFlagged++

			block := conflictBlock(a, b, conflict.Type)
			target := groupOf[a.SectionID]
			if target == nil {
				target = groupOf[b.SectionID]
			}
			if target == nil && len(groups) > 0 {
				target = groups[len(groups)-1]
			}
			if target != nil {
				target.blocks = append(target.blocks, block)
			}
		}
		if err != nil {
			slog.Warn("Conflict transition rejected", "conflict", conflict.ID, "error", err)
			continue
		}
		changed = append(changed, &conflict)
	}
	return changed
}

func conflictBlock(a, b model.AtomicClaim, t model.ConflictType) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "> [!CONFLICT] %s\n", t)
	fmt.Fprintf(&sb, "> A: %s %s\n", quoteStatement(a), llm.Cite(a.DocumentID))
	fmt.Fprintf(&sb, "> B: %s %s\n", quoteStatement(b), llm.Cite(b.DocumentID))
	return sb.String()
}

// supersededBlock marks a rendered statement that lost to a higher ranked source
func supersededBlock(winner, loser model.AtomicClaim) string {
	var sb strings.Builder
	sb.WriteString("> [!SUPERSEDED]\n")
	fmt.Fprintf(&sb, "> %s %s\n", quoteStatement(loser), llm.Cite(loser.DocumentID))
	fmt.Fprintf(&sb, "> Use instead: %s %s\n", quoteStatement(winner), llm.Cite(winner.DocumentID))
	return sb.String()
}

func quoteStatement(c model.AtomicClaim) string {
	if c.OriginalText != "" {
		return c.OriginalText
	}
	return c.Statement()
}

// render writes the merged markdown and one provenance row per contributing section
func render(in Input, docs map[string]*model.Document, groups []*group, consolidationID string, stats *model.ConsolidationStatistics) (string, []model.Provenance) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title(in))

	var provenance []model.Provenance
	for order, g := range groups {
		heading := g.primary.Header
		if heading == "" {
			if d := docs[g.primary.DocumentID]; d != nil && d.Title != "" {
				heading = d.Title
			} else {
				heading = "Overview"
			}
		}

		fmt.Fprintf(&sb, "## %s\n\n", heading)
		if body := strings.TrimSpace(g.primary.Content); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n\n")
		}
		provenance = append(provenance, model.Provenance{
			ID: uuid.NewString(), ConsolidationID: consolidationID, OutputHeading: heading, OutputOrder: order,
			SourceDocumentID: g.primary.DocumentID, SourceSectionID: g.primary.ID,
			ContributionType: model.ContributionPrimary, Confidence: 1,
		})

		sources := []string{llm.Cite(g.primary.DocumentID)}
		for _, o := range g.others {
			contribution := model.ContributionSuperseded
			if in.Strategy == model.StrategyMergeAll {
				contribution = model.ContributionSupplementary
				if !sameText(o.Content, g.primary.Content) && g.sims[o.ID] < nearIdentical {
					if body := strings.TrimSpace(o.Content); body != "" {
						sb.WriteString(body)
						sb.WriteString("\n\n")
					}
					stats.SupplementaryMerged++
				}
			} else {
				stats.SupersededSections++
			}
			sources = append(sources, llm.Cite(o.DocumentID))
			provenance = append(provenance, model.Provenance{
				ID: uuid.NewString(), ConsolidationID: consolidationID, OutputHeading: heading, OutputOrder: order,
				SourceDocumentID: o.DocumentID, SourceSectionID: o.ID,
				ContributionType: contribution, Confidence: model.ClampUnit(g.sims[o.ID]),
			})
		}
		if len(g.others) > 0 {
			stats.MergedGroups++
		}

		for _, block := range g.blocks {
			sb.WriteString(block)
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "_Sources: %s_\n\n", strings.Join(dedupe(sources), ", "))
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", provenance
}

func sameText(a, b string) bool {
	return normalize.Canonical.Normalize(a) == normalize.Canonical.Normalize(b)
}

func dedupe(values []string) []string {
	seen := make(map[string]bool)
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func title(in Input) string {
	if t := strings.TrimSpace(in.Title); t != "" {
		return t
	}
	var titles []string
	for _, d := range in.Documents {
		if d.Title != "" {
			titles = append(titles, d.Title)
		}
	}
	if len(titles) == 0 {
		return "Consolidated reference"
	}
	return "Consolidated: " + strings.Join(titles, " + ")
}

// outputDocument stores the merged markdown as a reference document with the
// highest source authority
func outputDocument(in Input, content, consolidationID string, now time.Time) (store.NewDocument, error) {
	authority := model.MinAuthority
	var tags []string
	seenTag := make(map[string]bool)
	for _, d := range in.Documents {
		if d.AuthorityLevel > authority {
			authority = d.AuthorityLevel
		}
		for _, t := range d.Tags {
			if !seenTag[t] {
				seenTag[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)

	parsed, err := adapters.NewMarkdownAdapter().Parse(content)
	if err != nil {
		return store.NewDocument{}, model.NewError(model.KindInternal, err, "parse consolidated output: %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	id := uuid.NewString()
	doc := &model.Document{
		ID:             id,
		SourcePath:     "consolidation://" + consolidationID,
		ContentHash:    hex.EncodeToString(sum[:]),
		Format:         "markdown",
		DocumentType:   model.DocTypeReference,
		Title:          title(in),
		AuthorityLevel: authority,
		RawContent:     content,
		Frontmatter: map[string]string{
			"consolidation_id": consolidationID,
			"strategy":         string(in.Strategy),
		},
		Tags:       tags,
		CreatedAt:  now,
		ModifiedAt: now,
		IngestedAt: now,
	}
	return store.NewDocument{Document: doc, Sections: parsed.ModelSections(id)}, nil
}
