package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/store"
)

const conflictColumns = `id, claim_a_id, claim_b_id, conflict_type, strength, detected_by, resolution_hints, ambiguous,
	status, resolved, resolution, resolution_reasoning, resolved_by, detected_at`

// UpsertConflict inserts or refreshes the conflict for an ordered claim pair
func (s *Store) UpsertConflict(ctx context.Context, c *model.Conflict) (*model.Conflict, bool, error) {
	a, b := model.PairKey(c.ClaimAID, c.ClaimBID)
	if a == b {
		return nil, false, model.ValidationError("conflict needs two distinct claims")
	}

	var out *model.Conflict
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanConflict(tx.QueryRowContext(ctx,
			"SELECT "+conflictColumns+" FROM conflicts WHERE claim_a_id = ? AND claim_b_id = ?", a, b))
		switch {
		case err == nil:
			if existing.Status == model.ConflictUnresolved {
				if _, err := tx.ExecContext(ctx, `UPDATE conflicts SET conflict_type = ?, strength = ?, detected_by = ?,
					resolution_hints = ?, ambiguous = ?, updated_at = ? WHERE id = ?`,
					string(c.Type), c.Strength, c.DetectedBy, c.ResolutionHints, c.Ambiguous, formatTime(time.Now()), existing.ID); err != nil {
					return wrapDBError("refresh conflict", err)
				}
				existing.Type = c.Type
				existing.Strength = c.Strength
				existing.DetectedBy = c.DetectedBy
				existing.ResolutionHints = c.ResolutionHints
				existing.Ambiguous = c.Ambiguous
			}
			out = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return wrapDBError("lookup conflict", err)
		}

		fresh := *c
		fresh.ClaimAID, fresh.ClaimBID = a, b
		if fresh.ID == "" {
			fresh.ID = uuid.NewString()
		}
		if fresh.Status == "" {
			fresh.Status = model.ConflictUnresolved
		}
		if fresh.DetectedAt.IsZero() {
			fresh.DetectedAt = time.Now().UTC()
		}
		fresh.Resolved = fresh.Status == model.ConflictResolved

		if _, err := tx.ExecContext(ctx, `INSERT INTO conflicts (`+conflictColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fresh.ID, fresh.ClaimAID, fresh.ClaimBID, string(fresh.Type), fresh.Strength, fresh.DetectedBy,
			fresh.ResolutionHints, fresh.Ambiguous, string(fresh.Status), fresh.Resolved, nullString(string(fresh.Resolution)),
			fresh.ResolutionReasoning, nullString(fresh.ResolvedBy), formatTime(fresh.DetectedAt), formatTime(fresh.DetectedAt)); err != nil {
			return wrapDBError("insert conflict", err)
		}
		out = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetConflict loads one conflict
func (s *Store) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx, "SELECT "+conflictColumns+" FROM conflicts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("conflict", id)
	}
	if err != nil {
		return nil, wrapDBError("get conflict", err)
	}
	return c, nil
}

// ListConflicts returns conflicts ordered by claim pair
func (s *Store) ListConflicts(ctx context.Context, f store.ConflictFilter) ([]*model.Conflict, error) {
	query := "SELECT " + conflictColumns + " FROM conflicts WHERE 1=1"
	var args []interface{}

	if len(f.IDs) > 0 {
		query += " AND id IN (" + placeholders(len(f.IDs)) + ")"
		args = append(args, stringArgs(f.IDs)...)
	}
	if len(f.ClaimIDs) > 0 {
		p := placeholders(len(f.ClaimIDs))
		query += " AND (claim_a_id IN (" + p + ") OR claim_b_id IN (" + p + "))"
		args = append(args, stringArgs(f.ClaimIDs)...)
		args = append(args, stringArgs(f.ClaimIDs)...)
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.Types) > 0 {
		query += " AND conflict_type IN (" + placeholders(len(f.Types)) + ")"
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	query += " ORDER BY claim_a_id, claim_b_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list conflicts", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, wrapDBError("scan conflict", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConflictStatus persists status and resolution fields
func (s *Store) UpdateConflictStatus(ctx context.Context, c *model.Conflict) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateConflictStatus(ctx, tx, c)
	})
}

func updateConflictStatus(ctx context.Context, tx *sql.Tx, c *model.Conflict) error {
	res, err := tx.ExecContext(ctx, `UPDATE conflicts SET status = ?, resolved = ?, resolution = ?,
		resolution_reasoning = ?, resolved_by = ?, updated_at = ? WHERE id = ?`,
		string(c.Status), c.Resolved, nullString(string(c.Resolution)), c.ResolutionReasoning,
		nullString(c.ResolvedBy), formatTime(time.Now()), c.ID)
	if err != nil {
		return wrapDBError("update conflict", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundError("conflict", c.ID)
	}
	return nil
}

func scanConflict(row scanner) (*model.Conflict, error) {
	var c model.Conflict
	var conflictType, status, detectedAt string
	var resolution, resolvedBy sql.NullString

	if err := row.Scan(&c.ID, &c.ClaimAID, &c.ClaimBID, &conflictType, &c.Strength, &c.DetectedBy, &c.ResolutionHints,
		&c.Ambiguous, &status, &c.Resolved, &resolution, &c.ResolutionReasoning, &resolvedBy, &detectedAt); err != nil {
		return nil, err
	}
	c.Type = model.ConflictType(conflictType)
	c.Status = model.ConflictStatus(status)
	c.Resolution = model.Resolution(resolution.String)
	c.ResolvedBy = resolvedBy.String
	c.DetectedAt = parseTime(detectedAt)
	return &c, nil
}
