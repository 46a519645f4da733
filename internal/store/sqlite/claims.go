package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/store"
)

const claimColumns = `id, document_id, section_id, original_text, subject, predicate, object, qualifier,
	confidence, deprecated, verification_status, last_verified_at, verification_evidence`

func insertClaims(ctx context.Context, tx *sql.Tx, claims []model.AtomicClaim) error {
	for _, c := range claims {
		status := c.VerificationStatus
		if status == "" {
			status = model.StatusUnverified
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO claims (`+claimColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.SectionID, c.OriginalText, c.Subject, c.Predicate, c.Object, nullString(c.Qualifier),
			c.Confidence, c.Deprecated, string(status), formatTimePtr(c.LastVerifiedAt), nullString(c.VerificationEvidence))
		if err != nil {
			return wrapDBError("insert claim", err)
		}
	}
	return nil
}

// AddClaims inserts claims for already stored sections
func (s *Store) AddClaims(ctx context.Context, claims []model.AtomicClaim) error {
	if len(claims) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertClaims(ctx, tx, claims)
	})
}

// GetClaim loads one claim
func (s *Store) GetClaim(ctx context.Context, id string) (*model.AtomicClaim, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+claimColumns+" FROM claims WHERE id = ?", id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("claim", id)
	}
	if err != nil {
		return nil, wrapDBError("get claim", err)
	}
	return c, nil
}

// ListClaims returns claims ordered by document, then id
func (s *Store) ListClaims(ctx context.Context, f store.ClaimFilter) ([]model.AtomicClaim, error) {
	query := "SELECT " + claimColumns + " FROM claims WHERE 1=1"
	var args []interface{}

	if len(f.IDs) > 0 {
		query += " AND id IN (" + placeholders(len(f.IDs)) + ")"
		args = append(args, stringArgs(f.IDs)...)
	}
	if len(f.DocumentIDs) > 0 {
		query += " AND document_id IN (" + placeholders(len(f.DocumentIDs)) + ")"
		args = append(args, stringArgs(f.DocumentIDs)...)
	}
	if !f.IncludeDeprecated {
		query += " AND deprecated = 0"
	}
	query += " ORDER BY document_id, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list claims", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AtomicClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, wrapDBError("scan claim", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateClaimVerification records the outcome of a verification run
func (s *Store) UpdateClaimVerification(ctx context.Context, id string, status model.VerificationStatus, at time.Time, evidence string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE claims SET verification_status = ?, last_verified_at = ?, verification_evidence = ?
		WHERE id = ?`, string(status), formatTime(at), nullString(evidence), id)
	if err != nil {
		return wrapDBError("update claim verification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundError("claim", id)
	}
	return nil
}

func scanClaim(row scanner) (*model.AtomicClaim, error) {
	var c model.AtomicClaim
	var qualifier, lastVerified, evidence sql.NullString
	var status string

	if err := row.Scan(&c.ID, &c.DocumentID, &c.SectionID, &c.OriginalText, &c.Subject, &c.Predicate, &c.Object,
		&qualifier, &c.Confidence, &c.Deprecated, &status, &lastVerified, &evidence); err != nil {
		return nil, err
	}
	c.Qualifier = qualifier.String
	c.VerificationStatus = model.VerificationStatus(status)
	c.LastVerifiedAt = parseTimePtr(lastVerified)
	c.VerificationEvidence = evidence.String
	return &c, nil
}
