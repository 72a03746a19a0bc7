package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const documentColumns = `
	d.id, d.template_id, COALESCE(d.client_id, ''), d.file_name, d.content, d.created_by, d.created_at, d.updated_at,
	COALESCE((
		SELECT json_agg(json_build_object(
			'highlightRefId', dh.id,
			'sourceHighlightId', dh.source_highlight_id,
			'label', dh.label,
			'text', dh.text,
			'type', dh.type
		) ORDER BY dh.position)
		FROM document_highlights dh WHERE dh.document_id = d.id
	), '[]'::json)`

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var highlights []byte
	if err := row.Scan(&item.ID, &item.TemplateID, &item.ClientID, &item.FileName, &item.Content,
		&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt, &highlights); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(highlights, &item.Highlights); err != nil {
		return Document{}, fmt.Errorf("decode document highlights: %w", err)
	}
	return item, nil
}

func getDocument(ctx context.Context, q queryer, id string) (Document, error) {
	return scanDocument(q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = $1`, id))
}

// CreateDocument inserts a generated document with its highlight snapshot.
// When reg is non-nil the recipient is registered in the same transaction
// and the document is attached to the resulting client.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, reg *ClientRegistration) (Document, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if reg != nil {
			clientID, err := upsertClient(ctx, tx, *reg)
			if err != nil {
				return err
			}
			doc.ClientID = clientID
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, template_id, client_id, file_name, content, created_by)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		`, doc.ID, doc.TemplateID, doc.ClientID, doc.FileName, doc.Content, doc.CreatedBy); err != nil {
			return fmt.Errorf("insert document: %w", duplicateErr(err))
		}
		for _, item := range doc.Highlights {
			if err := appendDocumentHighlight(ctx, tx, doc.ID, item); err != nil {
				return err
			}
		}

		if reg != nil {
			registration := *reg
			registration.TemplateID = doc.TemplateID
			registration.DocumentID = doc.ID
			if err := recordClientDocument(ctx, tx, doc.ClientID, registration); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return getDocument(ctx, s.db, doc.ID)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, s.db, id)
}

func (s *PostgresStore) ListTemplateDocuments(ctx context.Context, templateID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.template_id = $1
		ORDER BY d.created_at, d.id
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocumentContent edits a generated document without touching its
// snapshot or its template. An empty fileName keeps the current one.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, id, fileName, content string) (Document, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET file_name = COALESCE(NULLIF($2, ''), file_name), content = $3, updated_at = NOW()
		WHERE id = $1
	`, id, fileName, content)
	if err != nil {
		return Document{}, fmt.Errorf("update document content: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return Document{}, err
	}
	return getDocument(ctx, s.db, id)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(result)
}
