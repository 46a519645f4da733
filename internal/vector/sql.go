package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/concordia/internal/model"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS section_vectors (
    section_id      TEXT PRIMARY KEY,
    document_id     TEXT NOT NULL,
    header          TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL DEFAULT '',
    document_type   TEXT NOT NULL,
    authority_level INTEGER NOT NULL CHECK (authority_level BETWEEN 1 AND 10),
    deprecated      INTEGER NOT NULL DEFAULT 0,
    dimension       INTEGER NOT NULL,
    vector          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_section_vectors_document ON section_vectors(document_id);
`

// SQLIndex keeps vectors as JSON in a SQL table and searches by brute force.
// It shares the relational store's database handle.
type SQLIndex struct {
	db *sql.DB
}

// NewSQLIndex creates the vector table if needed
func NewSQLIndex(ctx context.Context, db *sql.DB) (*SQLIndex, error) {
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, fmt.Errorf("create section_vectors: %w", err)
	}
	return &SQLIndex{db: db}, nil
}

// Name returns the backend name
func (s *SQLIndex) Name() string { return "sql" }

// Upsert replaces vectors in one transaction
func (s *SQLIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO section_vectors (section_id, document_id, header, content, document_type, authority_level, deprecated, dimension, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(section_id) DO UPDATE SET
			document_id = excluded.document_id,
			header = excluded.header,
			content = excluded.content,
			document_type = excluded.document_type,
			authority_level = excluded.authority_level,
			deprecated = excluded.deprecated,
			dimension = excluded.dimension,
			vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		raw, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("encode vector %s: %w", e.SectionID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.SectionID, e.DocumentID, e.Header, e.Content,
			string(e.DocumentType), e.AuthorityLevel, e.Deprecated, len(e.Vector), string(raw)); err != nil {
			return fmt.Errorf("upsert vector %s: %w", e.SectionID, err)
		}
	}

	return tx.Commit()
}

// Search scans matching rows and ranks them by cosine similarity
func (s *SQLIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	query := `SELECT section_id, document_id, header, content, document_type, authority_level, deprecated, vector
		FROM section_vectors WHERE dimension = ?`
	args := []interface{}{len(q.Vector)}

	if !q.IncludeDeprecated {
		query += " AND deprecated = 0"
	}
	if len(q.DocumentIDs) > 0 {
		query += " AND document_id IN (" + placeholders(len(q.DocumentIDs)) + ")"
		for _, id := range q.DocumentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var docType, raw string
		if err := rows.Scan(&h.SectionID, &h.DocumentID, &h.Header, &h.Content, &docType, &h.AuthorityLevel, &h.Deprecated, &raw); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("decode vector %s: %w", h.SectionID, err)
		}
		h.DocumentType = model.DocumentType(docType)
		h.Similarity = Cosine(q.Vector, vec)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rank(hits, q), nil
}

// Vectors loads stored vectors by section id
func (s *SQLIndex) Vectors(ctx context.Context, sectionIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(sectionIDs))
	if len(sectionIDs) == 0 {
		return out, nil
	}

	// Chunk to stay under SQLite's bound parameter limit
	const chunk = 500
	for start := 0; start < len(sectionIDs); start += chunk {
		end := start + chunk
		if end > len(sectionIDs) {
			end = len(sectionIDs)
		}
		ids := sectionIDs[start:end]

		args := make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT section_id, vector FROM section_vectors WHERE section_id IN ("+placeholders(len(ids))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("query vectors: %w", err)
		}
		for rows.Next() {
			var id, raw string
			if err := rows.Scan(&id, &raw); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan vector: %w", err)
			}
			var vec []float32
			if err := json.Unmarshal([]byte(raw), &vec); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("decode vector %s: %w", id, err)
			}
			out[id] = vec
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkDeprecated flags all of a document's vectors
func (s *SQLIndex) MarkDeprecated(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE section_vectors SET deprecated = 1 WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("mark vectors deprecated: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
