package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with trigram-indexed ILIKE matching. It is
// the fallback when Meilisearch is not configured or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgSearch) Healthy() bool {
	return true
}

func likePattern(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(text)) + "%"
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	args := []any{likePattern(q.Text), q.Text, q.CreatedBy, q.ProjectID}
	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultClient {
		subQueries = append(subQueries, `
			SELECT 'client'::text AS type, c.id, c.name AS title, c.stable_identifier AS snippet,
				''::text AS project_id, c.created_by, similarity(c.name, $2) AS rank
			FROM clients c
			WHERE (c.name ILIKE $1 OR c.stable_identifier ILIKE $1 OR c.email ILIKE $1)
			  AND ($3 = '' OR c.created_by = $3)`)
	}
	if q.FilterType == "" || q.FilterType == ResultTemplate {
		subQueries = append(subQueries, `
			SELECT 'template'::text AS type, t.id, t.file_name AS title, ''::text AS snippet,
				t.project_id, t.created_by, similarity(t.file_name, $2) AS rank
			FROM templates t
			WHERE t.file_name ILIKE $1
			  AND ($3 = '' OR t.created_by = $3)
			  AND ($4 = '' OR t.project_id = $4)`)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, project_id, created_by
		FROM (%s) sub
		ORDER BY rank DESC, title
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.CreatedBy); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]ClientRecord, []TemplateRecord, error) {
	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, stable_identifier, email, created_by FROM clients
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var c ClientRecord
		if err := clientRows.Scan(&c.ID, &c.Name, &c.StableIdentifier, &c.Email, &c.CreatedBy); err != nil {
			return nil, nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	templateRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.file_name, t.project_id, t.created_by,
			COALESCE((
				SELECT array_to_string(array_agg(h.label ORDER BY th.position), E'\x1f')
				FROM template_highlights th JOIN highlights h ON h.id = th.highlight_id
				WHERE th.template_id = t.id
			), '')
		FROM templates t
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load templates: %w", err)
	}
	defer templateRows.Close()

	templates := make([]TemplateRecord, 0)
	for templateRows.Next() {
		var t TemplateRecord
		var labels string
		if err := templateRows.Scan(&t.ID, &t.FileName, &t.ProjectID, &t.CreatedBy, &labels); err != nil {
			return nil, nil, fmt.Errorf("scan template: %w", err)
		}
		t.Labels = make([]string, 0)
		if labels != "" {
			t.Labels = strings.Split(labels, "\x1f")
		}
		templates = append(templates, t)
	}
	if err := templateRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate templates: %w", err)
	}
	return clients, templates, nil
}
