package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate wraps unique constraint violations; the constraint name follows the colon.
var ErrDuplicate = errors.New("duplicate key")

// ErrForeignHighlight is returned when an upsert targets an existing
// highlight outside the caller's owner scope.
var ErrForeignHighlight = errors.New("highlight owned by another user")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func duplicateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

// Templates

const templateColumns = `
	t.id, t.project_id, t.file_name, t.content, t.source_object_key, t.created_by, t.created_at, t.updated_at,
	COALESCE((SELECT json_agg(th.highlight_id ORDER BY th.position) FROM template_highlights th WHERE th.template_id = t.id), '[]'::json),
	COALESCE((SELECT json_agg(d.id ORDER BY d.created_at, d.id) FROM documents d WHERE d.template_id = t.id), '[]'::json)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (Template, error) {
	var item Template
	var refs, docs []byte
	if err := row.Scan(&item.ID, &item.ProjectID, &item.FileName, &item.Content, &item.SourceObjectKey,
		&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt, &refs, &docs); err != nil {
		return Template{}, err
	}
	if err := json.Unmarshal(refs, &item.HighlightRefs); err != nil {
		return Template{}, fmt.Errorf("decode highlight refs: %w", err)
	}
	if err := json.Unmarshal(docs, &item.DocumentRefs); err != nil {
		return Template{}, fmt.Errorf("decode document refs: %w", err)
	}
	return item, nil
}

func getTemplate(ctx context.Context, q queryer, id string) (Template, error) {
	return scanTemplate(q.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates t WHERE t.id = $1`, id))
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, item Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, project_id, file_name, content, source_object_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ProjectID, item.FileName, item.Content, item.SourceObjectKey, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template: %w", duplicateErr(err))
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	return getTemplate(ctx, s.db, id)
}

func (s *PostgresStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates t
		WHERE ($1 = '' OR t.project_id = $1)
		  AND ($2 = '' OR t.created_by = $2)
		ORDER BY t.updated_at DESC, t.id
	`, filter.ProjectID, filter.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		item, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

// DeleteTemplate removes the template, its documents, and highlights no other template references.
func (s *PostgresStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM highlights h
			WHERE h.id IN (SELECT highlight_id FROM template_highlights WHERE template_id = $1)
			  AND NOT EXISTS (
				SELECT 1 FROM template_highlights o
				WHERE o.highlight_id = h.id AND o.template_id <> $1
			  )
		`, id); err != nil {
			return fmt.Errorf("delete template highlights: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		return requireAffected(result)
	})
}

func (s *PostgresStore) ListTemplateHighlights(ctx context.Context, templateID string) ([]Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.label, h.text, h.type, h.owner_id, h.created_at, h.updated_at
		FROM template_highlights th
		JOIN highlights h ON h.id = th.highlight_id
		WHERE th.template_id = $1
		ORDER BY th.position
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template highlights: %w", err)
	}
	defer rows.Close()

	items := make([]Highlight, 0)
	for rows.Next() {
		var item Highlight
		if err := rows.Scan(&item.ID, &item.Label, &item.Text, &item.Type, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate highlights: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProjectLabels(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT h.label
		FROM templates t
		JOIN template_highlights th ON th.template_id = t.id
		JOIN highlights h ON h.id = th.highlight_id
		WHERE t.project_id = $1
		ORDER BY h.label
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project labels: %w", err)
	}
	defer rows.Close()

	labels := make([]string, 0)
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}
	return labels, nil
}

// Highlight synchronization

// ApplyHighlightUpsert commits the template side of a synchronization:
// highlight records, template content, and appended refs. Dependent
// documents are not touched.
func (s *PostgresStore) ApplyHighlightUpsert(ctx context.Context, in HighlightUpsert) (HighlightUpsertResult, error) {
	result := HighlightUpsertResult{Created: make([]string, 0), Added: make([]Highlight, 0)}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM templates WHERE id = $1 FOR UPDATE`, in.TemplateID).Scan(&locked); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE templates
			SET file_name = COALESCE($2, file_name), content = COALESCE($3, content), updated_at = NOW()
			WHERE id = $1
		`, in.TemplateID, nullableString(in.FileName), nullableString(in.Content)); err != nil {
			return fmt.Errorf("update template: %w", err)
		}

		for _, incoming := range in.Highlights {
			var item Highlight
			var inserted bool
			err := tx.QueryRowContext(ctx, `
				INSERT INTO highlights (id, label, text, type, owner_id)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE
				SET label = EXCLUDED.label, text = EXCLUDED.text, type = EXCLUDED.type, updated_at = NOW()
				WHERE $6 = '' OR highlights.owner_id = $6
				RETURNING id, label, text, type, owner_id, created_at, updated_at, (xmax = 0)
			`, incoming.ID, incoming.Label, incoming.Text, incoming.Type, in.OwnerID, in.Scope).Scan(
				&item.ID, &item.Label, &item.Text, &item.Type, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt, &inserted)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("upsert highlight %s: %w", incoming.ID, ErrForeignHighlight)
			}
			if err != nil {
				return fmt.Errorf("upsert highlight %s: %w", incoming.ID, err)
			}
			if inserted {
				result.Created = append(result.Created, item.ID)
			}

			ref, err := tx.ExecContext(ctx, `
				INSERT INTO template_highlights (template_id, highlight_id, position)
				VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM template_highlights WHERE template_id = $1))
				ON CONFLICT (template_id, highlight_id) DO NOTHING
			`, in.TemplateID, item.ID)
			if err != nil {
				return fmt.Errorf("append highlight ref %s: %w", item.ID, err)
			}
			if affected, err := ref.RowsAffected(); err != nil {
				return fmt.Errorf("rows affected: %w", err)
			} else if affected > 0 {
				result.Added = append(result.Added, item)
			}
		}
		return nil
	})
	if err != nil {
		return HighlightUpsertResult{}, err
	}

	template, err := getTemplate(ctx, s.db, in.TemplateID)
	if err != nil {
		return HighlightUpsertResult{}, fmt.Errorf("reload template: %w", err)
	}
	result.Template = template
	return result, nil
}

// ApplyHighlightDelete drops the template's ref to the highlight and removes
// the highlight record once no template references it. Returns
// sql.ErrNoRows when the template, the ref, or the owner-scoped highlight is
// missing.
func (s *PostgresStore) ApplyHighlightDelete(ctx context.Context, in HighlightDelete) (Template, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM templates WHERE id = $1 FOR UPDATE`, in.TemplateID).Scan(&locked); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			DELETE FROM template_highlights
			WHERE template_id = $1 AND highlight_id = $2
			  AND EXISTS (SELECT 1 FROM highlights WHERE id = $2 AND ($3 = '' OR owner_id = $3))
		`, in.TemplateID, in.HighlightID, in.OwnerID)
		if err != nil {
			return fmt.Errorf("delete highlight ref: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM highlights h
			WHERE h.id = $1 AND NOT EXISTS (SELECT 1 FROM template_highlights th WHERE th.highlight_id = h.id)
		`, in.HighlightID); err != nil {
			return fmt.Errorf("delete orphaned highlight: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE templates SET content = COALESCE($2, content), updated_at = NOW() WHERE id = $1
		`, in.TemplateID, nullableString(in.Content)); err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	return getTemplate(ctx, s.db, in.TemplateID)
}

// SyncDocumentHighlights appends snapshot rows for highlights new to the
// document's template and overwrites the document content. Rows already
// present for a source highlight are left untouched.
func (s *PostgresStore) SyncDocumentHighlights(ctx context.Context, documentID string, added []DocumentHighlight, content string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE documents SET content = $2, updated_at = NOW() WHERE id = $1`, documentID, content)
		if err != nil {
			return fmt.Errorf("update document content: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		for _, item := range added {
			if err := appendDocumentHighlight(ctx, tx, documentID, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) RemoveDocumentHighlight(ctx context.Context, documentID, sourceHighlightID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE documents SET updated_at = NOW() WHERE id = $1`, documentID)
		if err != nil {
			return fmt.Errorf("touch document: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM document_highlights WHERE document_id = $1 AND source_highlight_id = $2
		`, documentID, sourceHighlightID); err != nil {
			return fmt.Errorf("remove document highlight: %w", err)
		}
		return nil
	})
}

func appendDocumentHighlight(ctx context.Context, q queryer, documentID string, item DocumentHighlight) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO document_highlights (id, document_id, source_highlight_id, label, text, type, position)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM document_highlights WHERE document_id = $2))
		ON CONFLICT (document_id, source_highlight_id) DO NOTHING
	`, item.RefID, documentID, item.SourceHighlightID, item.Label, item.Text, item.Type)
	if err != nil {
		return fmt.Errorf("append document highlight %s: %w", item.SourceHighlightID, err)
	}
	return nil
}
