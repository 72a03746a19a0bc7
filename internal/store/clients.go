package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// upsertClient resolves the registration to a client id. A confirmed stable
// identifier wins; otherwise the exact name is the conflict key, so
// concurrent registrations of one new name converge on a single row.
func upsertClient(ctx context.Context, q queryer, reg ClientRegistration) (string, error) {
	if reg.IdentityStatus == IdentityConfirmed && reg.StableIdentifier != "" {
		var id string
		err := q.QueryRowContext(ctx, `SELECT id FROM clients WHERE stable_identifier = $1`, reg.StableIdentifier).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("lookup client by identifier: %w", err)
		}
	}

	var id string
	err := q.QueryRowContext(ctx, `
		INSERT INTO clients (id, name, stable_identifier, identity_status, email, phone, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, reg.ClientID, reg.Name, reg.StableIdentifier, reg.IdentityStatus, reg.Email, reg.Phone, reg.CreatedBy).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert client: %w", duplicateErr(err))
	}
	return id, nil
}

// recordClientDocument appends the (template, document) pair and any detail
// labels the client does not have yet. Existing detail values are kept.
func recordClientDocument(ctx context.Context, q queryer, clientID string, reg ClientRegistration) error {
	if reg.TemplateID != "" && reg.DocumentID != "" {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO client_documents (client_id, template_id, document_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, clientID, reg.TemplateID, reg.DocumentID); err != nil {
			return fmt.Errorf("record client document: %w", err)
		}
	}
	for _, detail := range reg.Details {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO client_details (client_id, label, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (client_id, label) DO NOTHING
		`, clientID, detail.Label, detail.Value); err != nil {
			return fmt.Errorf("record client detail %s: %w", detail.Label, err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertClientDocument(ctx context.Context, reg ClientRegistration) (Client, error) {
	var clientID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := upsertClient(ctx, tx, reg)
		if err != nil {
			return err
		}
		clientID = id
		return recordClientDocument(ctx, tx, id, reg)
	})
	if err != nil {
		return Client{}, err
	}
	return s.GetClient(ctx, clientID)
}

// CreateClient registers a client explicitly; duplicates are errors rather
// than merges.
func (s *PostgresStore) CreateClient(ctx context.Context, item Client) (Client, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO clients (id, name, stable_identifier, identity_status, email, phone, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.Name, item.StableIdentifier, item.IdentityStatus, item.Email, item.Phone, item.CreatedBy); err != nil {
			return fmt.Errorf("insert client: %w", duplicateErr(err))
		}
		return recordClientDocument(ctx, tx, item.ID, ClientRegistration{Details: item.Details})
	})
	if err != nil {
		return Client{}, err
	}
	return s.GetClient(ctx, item.ID)
}

const clientColumns = `id, name, stable_identifier, identity_status, email, phone, created_by, created_at, updated_at`

func scanClient(row rowScanner) (Client, error) {
	var item Client
	err := row.Scan(&item.ID, &item.Name, &item.StableIdentifier, &item.IdentityStatus, &item.Email, &item.Phone,
		&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (Client, error) {
	item, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return Client{}, err
	}
	return s.loadClientRelations(ctx, item)
}

func (s *PostgresStore) GetClientByName(ctx context.Context, name string) (Client, error) {
	item, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE name = $1`, name))
	if err != nil {
		return Client{}, err
	}
	return s.loadClientRelations(ctx, item)
}

func (s *PostgresStore) ListClients(ctx context.Context, limit, offset int) ([]Client, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		item, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

// UpdateClientIdentity is the only path that changes identity fields. Empty
// email or phone keep their stored values.
func (s *PostgresStore) UpdateClientIdentity(ctx context.Context, in IdentityUpdate) (Client, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET stable_identifier = $2,
			identity_status = 'confirmed',
			email = COALESCE(NULLIF($3, ''), email),
			phone = COALESCE(NULLIF($4, ''), phone),
			updated_at = NOW()
		WHERE id = $1
	`, in.ClientID, in.StableIdentifier, in.Email, in.Phone)
	if err != nil {
		return Client{}, fmt.Errorf("update client identity: %w", duplicateErr(err))
	}
	if err := requireAffected(result); err != nil {
		return Client{}, err
	}
	return s.GetClient(ctx, in.ClientID)
}

func (s *PostgresStore) ListClientDocuments(ctx context.Context, clientID string) ([]ClientDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cd.template_id, t.file_name, cd.document_id, d.file_name, cd.created_at
		FROM client_documents cd
		JOIN templates t ON t.id = cd.template_id
		JOIN documents d ON d.id = cd.document_id
		WHERE cd.client_id = $1
		ORDER BY cd.created_at, cd.document_id
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client documents: %w", err)
	}
	defer rows.Close()

	items := make([]ClientDocument, 0)
	for rows.Next() {
		var item ClientDocument
		if err := rows.Scan(&item.TemplateID, &item.TemplateFileName, &item.DocumentID, &item.DocumentFileName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan client document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listClientDetails(ctx context.Context, clientID string) ([]ClientDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, value FROM client_details WHERE client_id = $1 ORDER BY seq
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client details: %w", err)
	}
	defer rows.Close()

	items := make([]ClientDetail, 0)
	for rows.Next() {
		var item ClientDetail
		if err := rows.Scan(&item.Label, &item.Value); err != nil {
			return nil, fmt.Errorf("scan client detail: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client details: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) loadClientRelations(ctx context.Context, item Client) (Client, error) {
	documents, err := s.ListClientDocuments(ctx, item.ID)
	if err != nil {
		return Client{}, err
	}
	details, err := s.listClientDetails(ctx, item.ID)
	if err != nil {
		return Client{}, err
	}
	item.Documents = documents
	item.Details = details
	return item, nil
}
