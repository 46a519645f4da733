package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/store"
)

// SaveConsolidation writes the merged document, the consolidation, its
// provenance and any conflict resolutions in one transaction
func (s *Store) SaveConsolidation(ctx context.Context, rec store.ConsolidationRecord) error {
	if rec.Consolidation == nil || rec.Output.Document == nil {
		return model.ValidationError("consolidation and output document are required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE content_hash = ?", rec.Output.Document.ContentHash).Scan(&existing)
		switch {
		case err == nil:
			// Identical output already stored: point at it
			rec.Consolidation.OutputDocumentID = existing
		case errors.Is(err, sql.ErrNoRows):
			if err := insertDocument(ctx, tx, rec.Output); err != nil {
				return err
			}
			rec.Consolidation.OutputDocumentID = rec.Output.Document.ID
		default:
			return wrapDBError("lookup output hash", err)
		}

		c := rec.Consolidation
		sources, err := json.Marshal(c.SourceDocumentIDs)
		if err != nil {
			return fmt.Errorf("encode sources: %w", err)
		}
		stats, err := json.Marshal(c.Statistics)
		if err != nil {
			return fmt.Errorf("encode statistics: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO consolidations
			(id, source_document_ids, output_content, output_document_id, strategy, statistics, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, string(sources), c.OutputContent, c.OutputDocumentID, string(c.Strategy), string(stats), formatTime(c.CreatedAt)); err != nil {
			return wrapDBError("insert consolidation", err)
		}

		for _, p := range rec.Provenance {
			if _, err := tx.ExecContext(ctx, `INSERT INTO provenance
				(id, consolidation_id, output_heading, output_order, source_document_id, source_section_id, contribution_type, confidence)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, c.ID, p.OutputHeading, p.OutputOrder, p.SourceDocumentID, p.SourceSectionID,
				string(p.ContributionType), p.Confidence); err != nil {
				return wrapDBError("insert provenance", err)
			}
		}

		for _, conflict := range rec.Conflicts {
			if err := updateConflictStatus(ctx, tx, conflict); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConsolidation loads a consolidation and its provenance rows
func (s *Store) GetConsolidation(ctx context.Context, id string) (*model.Consolidation, []model.Provenance, error) {
	var c model.Consolidation
	var sources, stats, strategy, createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, source_document_ids, output_content, output_document_id, strategy, statistics, created_at
		FROM consolidations WHERE id = ?`, id).Scan(&c.ID, &sources, &c.OutputContent, &c.OutputDocumentID, &strategy, &stats, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, model.NotFoundError("consolidation", id)
	}
	if err != nil {
		return nil, nil, wrapDBError("get consolidation", err)
	}
	if err := json.Unmarshal([]byte(sources), &c.SourceDocumentIDs); err != nil {
		return nil, nil, fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &c.Statistics); err != nil {
		return nil, nil, fmt.Errorf("decode statistics: %w", err)
	}
	c.Strategy = model.Strategy(strategy)
	c.CreatedAt = parseTime(createdAt)

	rows, err := s.db.QueryContext(ctx, `SELECT id, consolidation_id, output_heading, output_order, source_document_id,
		source_section_id, contribution_type, confidence FROM provenance WHERE consolidation_id = ? ORDER BY output_order, id`, id)
	if err != nil {
		return nil, nil, wrapDBError("list provenance", err)
	}
	defer func() { _ = rows.Close() }()

	var prov []model.Provenance
	for rows.Next() {
		var p model.Provenance
		var contribution string
		if err := rows.Scan(&p.ID, &p.ConsolidationID, &p.OutputHeading, &p.OutputOrder, &p.SourceDocumentID,
			&p.SourceSectionID, &contribution, &p.Confidence); err != nil {
			return nil, nil, wrapDBError("scan provenance", err)
		}
		p.ContributionType = model.ContributionType(contribution)
		prov = append(prov, p)
	}
	return &c, prov, rows.Err()
}
