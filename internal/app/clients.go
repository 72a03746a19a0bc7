package app

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"docmerge/api/internal/rbac"
	"docmerge/api/internal/search"
	"docmerge/api/internal/store"
	"docmerge/api/internal/util"
)

type ClientDocumentInput struct {
	RecipientName string           `json:"recipientName"`
	TemplateID    string           `json:"templateId"`
	DocumentID    string           `json:"documentId"`
	Highlights    []HighlightInput `json:"highlights,omitempty"`
	Identity      *IdentityHints   `json:"identity,omitempty"`
}

func (in ClientDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.RecipientName, validation.Required, validation.Length(1, 256)),
		validation.Field(&in.TemplateID, validation.Required.When(in.DocumentID != "")),
		validation.Field(&in.DocumentID, validation.Required.When(in.TemplateID != "")),
		validation.Field(&in.Identity),
	)
}

type IdentityInput struct {
	StableIdentifier string `json:"stableIdentifier"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
}

func (in IdentityInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.StableIdentifier, validation.Required, validation.Length(1, 256)),
		validation.Field(&in.Email, validation.Match(emailPattern).Error("must be a valid email address")),
		validation.Field(&in.Phone, validation.Length(0, 64)),
	)
}

type RegisterClientInput struct {
	Name     string               `json:"name"`
	Identity *IdentityHints       `json:"identity,omitempty"`
	Details  []store.ClientDetail `json:"details,omitempty"`
}

// UpsertClientDocument records that the named recipient received a document.
// The client is created on first sight; detail labels it already has keep
// their values.
func (s *Service) UpsertClientDocument(ctx context.Context, session Session, input ClientDocumentInput) (store.Client, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Client{}, err
	}
	input.RecipientName = strings.TrimSpace(input.RecipientName)
	if err := invalidInput(input.Validate()); err != nil {
		return store.Client{}, err
	}
	if input.DocumentID != "" {
		document, err := s.visibleDocument(ctx, session, input.DocumentID)
		if err != nil {
			return store.Client{}, err
		}
		if document.TemplateID != input.TemplateID {
			return store.Client{}, validationFailed("Document was not generated from the template", nil)
		}
	}

	details := make([]store.ClientDetail, 0, len(input.Highlights))
	for _, item := range input.Highlights {
		if strings.TrimSpace(item.Label) == "" || item.Text == "" {
			continue
		}
		details = append(details, store.ClientDetail{Label: strings.TrimSpace(item.Label), Value: item.Text})
	}
	reg := newRegistration(session, input.RecipientName, input.Identity, details)
	reg.TemplateID = input.TemplateID
	reg.DocumentID = input.DocumentID

	client, err := s.store.UpsertClientDocument(ctx, reg)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Client{}, conflict("Recipient identity is already registered")
		}
		return store.Client{}, err
	}
	s.indexClient(client)
	return client, nil
}

// UpdateClientIdentity confirms a client's stable identifier. Another client
// already owning the identifier is a conflict.
func (s *Service) UpdateClientIdentity(ctx context.Context, session Session, clientID string, input IdentityInput) (store.Client, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Client{}, err
	}
	input.StableIdentifier = strings.TrimSpace(input.StableIdentifier)
	if err := invalidInput(input.Validate()); err != nil {
		return store.Client{}, err
	}
	if _, err := s.visibleClient(ctx, session, clientID); err != nil {
		return store.Client{}, err
	}

	client, err := s.store.UpdateClientIdentity(ctx, store.IdentityUpdate{
		ClientID:         clientID,
		StableIdentifier: input.StableIdentifier,
		Email:            normalizeEmail(input.Email),
		Phone:            strings.TrimSpace(input.Phone),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Client{}, conflict("Stable identifier belongs to another client")
		}
		return store.Client{}, translateMissing(err, "Client not found")
	}
	s.indexClient(client)
	return client, nil
}

// RegisterClient creates a client explicitly. A name or identifier already
// in use is a conflict.
func (s *Service) RegisterClient(ctx context.Context, session Session, input RegisterClientInput) (store.Client, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Client{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := invalidInput(validation.ValidateStruct(&input,
		validation.Field(&input.Name, validation.Required, validation.Length(1, 256)),
		validation.Field(&input.Identity),
	)); err != nil {
		return store.Client{}, err
	}

	reg := newRegistration(session, input.Name, input.Identity, input.Details)
	client, err := s.store.CreateClient(ctx, store.Client{
		ID:               util.NewID("cli"),
		Name:             reg.Name,
		StableIdentifier: reg.StableIdentifier,
		IdentityStatus:   reg.IdentityStatus,
		Email:            reg.Email,
		Phone:            reg.Phone,
		CreatedBy:        session.UserID,
		Details:          input.Details,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Client{}, conflict("Client already exists")
		}
		return store.Client{}, err
	}
	s.indexClient(client)
	return client, nil
}

func (s *Service) GetClient(ctx context.Context, session Session, clientID string) (store.Client, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.Client{}, err
	}
	return s.visibleClient(ctx, session, clientID)
}

// FindClientByName looks a client up by its exact display name.
func (s *Service) FindClientByName(ctx context.Context, session Session, name string) (store.Client, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.Client{}, err
	}
	client, err := s.store.GetClientByName(ctx, name)
	if err != nil {
		return store.Client{}, translateMissing(err, "Client not found")
	}
	if !canSee(session, client.CreatedBy) {
		return store.Client{}, notFound("Client not found")
	}
	return client, nil
}

func (s *Service) ListClients(ctx context.Context, session Session, limit, offset int) ([]store.Client, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	clients, err := s.store.ListClients(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	visible := make([]store.Client, 0, len(clients))
	for _, client := range clients {
		if canSee(session, client.CreatedBy) {
			visible = append(visible, client)
		}
	}
	return visible, nil
}

func (s *Service) ListClientDocuments(ctx context.Context, session Session, clientID string) ([]store.ClientDocument, error) {
	if _, err := s.GetClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	return s.store.ListClientDocuments(ctx, clientID)
}

// Search queries clients and templates visible to the session.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if rbac.Normalize(session.Role) != rbac.RoleAdmin {
		q.CreatedBy = session.UserID
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// SearchClients is Search restricted to clients.
func (s *Service) SearchClients(ctx context.Context, session Session, text string, limit int) (search.Response, error) {
	return s.Search(ctx, session, search.Query{Text: text, FilterType: search.ResultClient, Limit: limit})
}

func (s *Service) visibleClient(ctx context.Context, session Session, clientID string) (store.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return store.Client{}, translateMissing(err, "Client not found")
	}
	if !canSee(session, client.CreatedBy) {
		return store.Client{}, notFound("Client not found")
	}
	return client, nil
}
