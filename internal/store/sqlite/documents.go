package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/store"
)

const documentColumns = `id, source_path, content_hash, format, document_type, title, authority_level,
	raw_content, frontmatter, tags, created_at, modified_at, ingested_at, deprecated_at, superseded_by`

// SaveDocument writes a document, its sections and claims atomically
func (s *Store) SaveDocument(ctx context.Context, nd store.NewDocument) (string, bool, error) {
	if nd.Document == nil {
		return "", false, model.ValidationError("document is required")
	}

	var id string
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE content_hash = ?", nd.Document.ContentHash).Scan(&existing)
		switch {
		case err == nil:
			id = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return wrapDBError("lookup content hash", err)
		}

		if err := insertDocument(ctx, tx, nd); err != nil {
			return err
		}
		id = nd.Document.ID
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, nd store.NewDocument) error {
	d := nd.Document
	frontmatter, err := json.Marshal(orEmptyMap(d.Frontmatter))
	if err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	tags, err := json.Marshal(orEmptySlice(d.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SourcePath, d.ContentHash, d.Format, string(d.DocumentType), d.Title, d.AuthorityLevel,
		d.RawContent, string(frontmatter), string(tags),
		formatTime(d.CreatedAt), formatTime(d.ModifiedAt), formatTime(d.IngestedAt),
		formatTimePtr(d.DeprecatedAt), nullString(d.SupersededBy))
	if err != nil {
		return wrapDBError("insert document", err)
	}

	for _, sec := range nd.Sections {
		_, err := tx.ExecContext(ctx, `INSERT INTO sections
			(id, document_id, header, content, level, section_order, start_line, end_line, semantic_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sec.ID, sec.DocumentID, sec.Header, sec.Content, sec.Level, sec.Order, sec.StartLine, sec.EndLine, string(sec.SemanticType))
		if err != nil {
			return wrapDBError("insert section", err)
		}
	}

	return insertClaims(ctx, tx, nd.Claims)
}

// GetDocument loads one document by id
func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("document", id)
	}
	if err != nil {
		return nil, wrapDBError("get document", err)
	}
	return d, nil
}

// GetDocumentByHash loads the document with the given content hash
func (s *Store) GetDocumentByHash(ctx context.Context, contentHash string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE content_hash = ?", contentHash)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("document", contentHash)
	}
	if err != nil {
		return nil, wrapDBError("get document by hash", err)
	}
	return d, nil
}

// ListDocuments returns matching documents in ingestion order
func (s *Store) ListDocuments(ctx context.Context, f store.DocumentFilter) ([]*model.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE 1=1"
	var args []interface{}

	if len(f.IDs) > 0 {
		query += " AND id IN (" + placeholders(len(f.IDs)) + ")"
		args = append(args, stringArgs(f.IDs)...)
	}
	if !f.IncludeDeprecated && !f.IncludeArchived {
		query += " AND deprecated_at IS NULL"
	}
	if !f.IncludeArchived {
		query += " AND document_type <> 'archive'"
	}
	query += " ORDER BY ingested_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, wrapDBError("scan document", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeprecateDocument sets deprecated_at (one-way), records the supersession and
// deprecates the document's claims
func (s *Store) DeprecateDocument(ctx context.Context, id, supersededBy, reason string, at time.Time) (*model.Document, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var deprecatedAt sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT deprecated_at FROM documents WHERE id = ?", id).Scan(&deprecatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NotFoundError("document", id)
		}
		if err != nil {
			return wrapDBError("lookup document", err)
		}
		if deprecatedAt.Valid {
			return model.ValidationError("document %s is already deprecated", id).WithDetail("document_id", id)
		}

		if supersededBy != "" {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", supersededBy).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return model.NotFoundError("document", supersededBy)
			}
			if err != nil {
				return wrapDBError("lookup replacement", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "UPDATE documents SET deprecated_at = ?, superseded_by = ? WHERE id = ?",
			formatTime(at), nullString(supersededBy), id); err != nil {
			return wrapDBError("deprecate document", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE claims SET deprecated = 1 WHERE document_id = ?", id); err != nil {
			return wrapDBError("deprecate claims", err)
		}
		if supersededBy != "" {
			if _, err := tx.ExecContext(ctx, `INSERT INTO supersessions (old_document_id, new_document_id, reason, created_at)
				VALUES (?, ?, ?, ?)`, id, supersededBy, reason, formatTime(at)); err != nil {
				return wrapDBError("record supersession", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDocument(ctx, id)
}

// ListSupersessions returns supersessions where the document is the old or new side
func (s *Store) ListSupersessions(ctx context.Context, documentID string) ([]model.Supersession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT old_document_id, new_document_id, reason, created_at
		FROM supersessions WHERE old_document_id = ? OR new_document_id = ? ORDER BY created_at`, documentID, documentID)
	if err != nil {
		return nil, wrapDBError("list supersessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Supersession
	for rows.Next() {
		var sup model.Supersession
		var createdAt string
		if err := rows.Scan(&sup.OldDocumentID, &sup.NewDocumentID, &sup.Reason, &createdAt); err != nil {
			return nil, wrapDBError("scan supersession", err)
		}
		sup.CreatedAt = parseTime(createdAt)
		out = append(out, sup)
	}
	return out, rows.Err()
}

// ListSections returns the sections of the given documents, in document then section order
func (s *Store) ListSections(ctx context.Context, documentIDs []string) ([]model.Section, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, header, content, level, section_order, start_line, end_line, semantic_type
		FROM sections WHERE document_id IN (`+placeholders(len(documentIDs))+`) ORDER BY document_id, section_order`,
		stringArgs(documentIDs)...)
	if err != nil {
		return nil, wrapDBError("list sections", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Section
	for rows.Next() {
		var sec model.Section
		var semantic string
		if err := rows.Scan(&sec.ID, &sec.DocumentID, &sec.Header, &sec.Content, &sec.Level, &sec.Order,
			&sec.StartLine, &sec.EndLine, &semantic); err != nil {
			return nil, wrapDBError("scan section", err)
		}
		sec.SemanticType = model.SemanticType(semantic)
		out = append(out, sec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (*model.Document, error) {
	var d model.Document
	var docType, frontmatter, tags, createdAt, modifiedAt, ingestedAt string
	var deprecatedAt, supersededBy sql.NullString

	if err := row.Scan(&d.ID, &d.SourcePath, &d.ContentHash, &d.Format, &docType, &d.Title, &d.AuthorityLevel,
		&d.RawContent, &frontmatter, &tags, &createdAt, &modifiedAt, &ingestedAt, &deprecatedAt, &supersededBy); err != nil {
		return nil, err
	}

	d.DocumentType = model.DocumentType(docType)
	if err := json.Unmarshal([]byte(frontmatter), &d.Frontmatter); err != nil {
		return nil, fmt.Errorf("decode frontmatter of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", d.ID, err)
	}
	d.CreatedAt = parseTime(createdAt)
	d.ModifiedAt = parseTime(modifiedAt)
	d.IngestedAt = parseTime(ingestedAt)
	d.DeprecatedAt = parseTimePtr(deprecatedAt)
	d.SupersededBy = supersededBy.String
	return &d, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
