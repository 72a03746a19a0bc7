package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"docmerge/api/internal/email"
	"docmerge/api/internal/rbac"
	"docmerge/api/internal/revisions"
	"docmerge/api/internal/store"
)

type UpdateDocumentInput struct {
	FileName string `json:"fileName,omitempty"`
	Content  string `json:"content"`
}

type SendDocumentInput struct {
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
	Format  string   `json:"format,omitempty"`
}

func (in SendDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.To, validation.Required, validation.Each(validation.Required, validation.Match(emailPattern).Error("must be a valid email address"))),
		validation.Field(&in.Subject, validation.Length(0, 256)),
	)
}

type SendResult struct {
	DocumentID string   `json:"documentId"`
	FileName   string   `json:"fileName"`
	Recipients []string `json:"recipients"`
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.Document{}, err
	}
	return s.visibleDocument(ctx, session, documentID)
}

func (s *Service) ListTemplateDocuments(ctx context.Context, session Session, templateID string) ([]store.Document, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.visibleTemplate(ctx, session, templateID); err != nil {
		return nil, err
	}
	return s.store.ListTemplateDocuments(ctx, templateID)
}

// UpdateDocumentContent edits a generated document. The template is not
// touched and no synchronization runs.
func (s *Service) UpdateDocumentContent(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (store.Document, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Document{}, err
	}
	input.FileName = strings.TrimSpace(input.FileName)
	if err := invalidInput(validation.ValidateStruct(&input,
		validation.Field(&input.FileName, validation.Length(0, 256)),
	)); err != nil {
		return store.Document{}, err
	}
	document, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return store.Document{}, err
	}
	sources := make([]string, 0, len(document.Highlights))
	for _, item := range document.Highlights {
		sources = append(sources, item.SourceHighlightID)
	}
	if err := checkMarkers(input.Content, sources); err != nil {
		return store.Document{}, err
	}

	updated, err := s.store.UpdateDocumentContent(ctx, documentID, input.FileName, input.Content)
	if err != nil {
		return store.Document{}, translateMissing(err, "Document not found")
	}
	s.recordRevision(updated, session.UserName, "Edit document")
	return updated, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return translateMissing(err, "Document not found")
	}
	if s.revisions != nil {
		if err := s.revisions.Remove(documentID); err != nil {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("remove revisions")
		}
	}
	return nil
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) ([]revisions.Revision, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.Revision{}, nil
	}
	return s.revisions.History(documentID, limit)
}

func (s *Service) DocumentRevision(ctx context.Context, session Session, documentID, hash string) (revisions.Content, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return revisions.Content{}, err
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return revisions.Content{}, err
	}
	if s.revisions == nil {
		return revisions.Content{}, notFound("Revision not found")
	}
	content, err := s.revisions.ContentAt(documentID, strings.TrimSpace(hash))
	if err != nil {
		return revisions.Content{}, translateMissing(err, "Revision not found")
	}
	return content, nil
}

// SendDocument exports the document and mails it to the recipients as an
// attachment. Delivery failures are reported, never dropped.
func (s *Service) SendDocument(ctx context.Context, session Session, documentID string, input SendDocumentInput) (SendResult, error) {
	if err := s.authorize(session, rbac.ActionSend); err != nil {
		return SendResult{}, err
	}
	if err := invalidInput(input.Validate()); err != nil {
		return SendResult{}, err
	}
	if s.notifier == nil || !s.notifier.IsConfigured() {
		return SendResult{}, domainError(http.StatusServiceUnavailable, CodeNotificationOff, "Email delivery is not configured", nil)
	}
	document, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return SendResult{}, err
	}
	result, err := s.ExportDocument(ctx, session, documentID, input.Format)
	if err != nil {
		return SendResult{}, err
	}

	recipientName := ""
	if document.ClientID != "" {
		if client, err := s.store.GetClient(ctx, document.ClientID); err == nil {
			recipientName = client.Name
		}
	}
	body, err := email.RenderDocumentEmail(email.DocumentData{
		RecipientName: recipientName,
		FileName:      result.Filename,
		SenderName:    session.UserName,
	})
	if err != nil {
		return SendResult{}, err
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = "Document: " + result.Filename
	}
	to := slices.Compact(slices.Sorted(slices.Values(input.To)))

	err = s.notifier.Send(ctx, email.Message{
		To:          to,
		Subject:     subject,
		HTMLBody:    body,
		Attachments: []email.Attachment{{Filename: result.Filename, ContentType: result.MimeType, Data: result.Data}},
	})
	s.metrics.Notification(err)
	if err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Msg("document delivery failed")
		message := "Email delivery failed"
		if errors.Is(err, email.ErrTimeout) {
			message = "Email delivery timed out"
		}
		return SendResult{}, domainError(http.StatusBadGateway, CodeNotificationFailed, message, map[string]any{"reason": err.Error()})
	}
	return SendResult{DocumentID: documentID, FileName: result.Filename, Recipients: to}, nil
}
