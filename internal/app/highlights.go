package app

import (
	"context"
	"errors"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"docmerge/api/internal/export"
	"docmerge/api/internal/rbac"
	"docmerge/api/internal/store"
	"docmerge/api/internal/util"
)

type HighlightInput struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
	Type  string `json:"type"`
}

func (h HighlightInput) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.ID, validation.Required, validation.Length(1, 128)),
		validation.Field(&h.Label, validation.Required, validation.Length(1, 256)),
		validation.Field(&h.Text, validation.Length(0, MaxValueLength)),
		validation.Field(&h.Type, validation.Length(0, 32)),
	)
}

type UpsertHighlightsInput struct {
	FileName   *string          `json:"fileName,omitempty"`
	Content    *string          `json:"content,omitempty"`
	Highlights []HighlightInput `json:"highlights"`
}

func (in UpsertHighlightsInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.FileName, validation.NilOrNotEmpty),
		validation.Field(&in.Highlights, validation.Required),
	)
}

type DeleteHighlightInput struct {
	HighlightID string  `json:"highlightId"`
	Content     *string `json:"content,omitempty"`
}

type FanoutFailure struct {
	DocumentID string `json:"documentId"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

// Fanout reports the per-document outcome of a synchronization.
type Fanout struct {
	Updated []string        `json:"updated"`
	Failed  []FanoutFailure `json:"failed"`
}

type SyncResult struct {
	Template store.Template `json:"template"`
	Created  []string       `json:"created"`
	Fanout   Fanout         `json:"fanout"`
}

// Partial reports whether some dependent documents were not updated.
func (r SyncResult) Partial() bool {
	return len(r.Fanout.Failed) > 0
}

func (s *Service) ListTemplateHighlights(ctx context.Context, session Session, templateID string) ([]store.Highlight, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.visibleTemplate(ctx, session, templateID); err != nil {
		return nil, err
	}
	return s.store.ListTemplateHighlights(ctx, templateID)
}

// UpsertHighlights creates or updates highlights on a template, appends the
// new refs, and then pushes highlights newly referenced by the template to
// every dependent document. The template write is committed before any
// document is touched.
func (s *Service) UpsertHighlights(ctx context.Context, session Session, templateID string, input UpsertHighlightsInput) (SyncResult, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return SyncResult{}, err
	}
	if err := invalidInput(input.Validate()); err != nil {
		return SyncResult{}, err
	}
	template, err := s.visibleTemplate(ctx, session, templateID)
	if err != nil {
		return SyncResult{}, err
	}

	highlights := make([]store.Highlight, 0, len(input.Highlights))
	incoming := make([]string, 0, len(input.Highlights))
	for _, item := range input.Highlights {
		kind := strings.TrimSpace(item.Type)
		if kind == "" {
			kind = "text"
		}
		highlights = append(highlights, store.Highlight{ID: item.ID, Label: strings.TrimSpace(item.Label), Text: item.Text, Type: kind})
		incoming = append(incoming, item.ID)
	}
	if input.Content != nil {
		if err := checkMarkers(*input.Content, append(slices.Clone(template.HighlightRefs), incoming...)); err != nil {
			return SyncResult{}, err
		}
	}

	applied, err := s.store.ApplyHighlightUpsert(ctx, store.HighlightUpsert{
		TemplateID: templateID,
		OwnerID:    session.UserID,
		Scope:      ownerScope(session),
		FileName:   input.FileName,
		Content:    input.Content,
		Highlights: highlights,
	})
	if errors.Is(err, store.ErrForeignHighlight) {
		return SyncResult{}, notFound("Highlight not found")
	}
	if err != nil {
		return SyncResult{}, translateMissing(err, "Template not found")
	}

	fanout := s.fanout(ctx, "upsert", session, applied.Template.DocumentRefs, func(ctx context.Context, documentID string) error {
		added := make([]store.DocumentHighlight, 0, len(applied.Added))
		for _, item := range applied.Added {
			added = append(added, store.DocumentHighlight{
				RefID:             util.NewID("dh"),
				SourceHighlightID: item.ID,
				Label:             item.Label,
				Text:              item.Text,
				Type:              item.Type,
			})
		}
		return s.store.SyncDocumentHighlights(ctx, documentID, added, applied.Template.Content)
	})

	if current, err := s.store.ListTemplateHighlights(ctx, templateID); err == nil {
		s.indexTemplate(applied.Template, current)
	}
	s.log.Info().
		Str("template_id", templateID).
		Int("highlights", len(highlights)).
		Int("added", len(applied.Added)).
		Int("documents_updated", len(fanout.Updated)).
		Int("documents_failed", len(fanout.Failed)).
		Msg("highlights synchronized")

	return SyncResult{Template: applied.Template, Created: applied.Created, Fanout: fanout}, nil
}

// DeleteHighlight removes the highlight from the template and drops the
// matching snapshot entry from each dependent document.
func (s *Service) DeleteHighlight(ctx context.Context, session Session, templateID string, input DeleteHighlightInput) (SyncResult, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return SyncResult{}, err
	}
	input.HighlightID = strings.TrimSpace(input.HighlightID)
	if err := invalidInput(validation.ValidateStruct(&input,
		validation.Field(&input.HighlightID, validation.Required),
	)); err != nil {
		return SyncResult{}, err
	}
	template, err := s.visibleTemplate(ctx, session, templateID)
	if err != nil {
		return SyncResult{}, err
	}
	current, err := s.store.ListTemplateHighlights(ctx, templateID)
	if err != nil {
		return SyncResult{}, err
	}
	scope := ownerScope(session)
	owned := slices.ContainsFunc(current, func(item store.Highlight) bool {
		return item.ID == input.HighlightID && (scope == "" || item.OwnerID == scope)
	})
	if !owned {
		return SyncResult{}, notFound("Highlight not found")
	}

	content := template.Content
	if input.Content != nil {
		content = *input.Content
	}
	ids, err := export.MarkerIDs(content)
	if err != nil {
		return SyncResult{}, validationFailed("Content is not valid markup", nil)
	}
	if slices.Contains(ids, input.HighlightID) {
		return SyncResult{}, validationFailed("Content still references the highlight", map[string]any{"highlightId": input.HighlightID})
	}

	updated, err := s.store.ApplyHighlightDelete(ctx, store.HighlightDelete{
		TemplateID:  templateID,
		HighlightID: input.HighlightID,
		OwnerID:     scope,
		Content:     input.Content,
	})
	if err != nil {
		return SyncResult{}, translateMissing(err, "Highlight not found")
	}

	fanout := s.fanout(ctx, "delete", session, updated.DocumentRefs, func(ctx context.Context, documentID string) error {
		return s.store.RemoveDocumentHighlight(ctx, documentID, input.HighlightID)
	})

	if current, err := s.store.ListTemplateHighlights(ctx, templateID); err == nil {
		s.indexTemplate(updated, current)
	}
	s.log.Info().
		Str("template_id", templateID).
		Str("highlight_id", input.HighlightID).
		Int("documents_updated", len(fanout.Updated)).
		Int("documents_failed", len(fanout.Failed)).
		Msg("highlight deleted")

	return SyncResult{Template: updated, Created: []string{}, Fanout: fanout}, nil
}

// fanout runs apply once per document with bounded concurrency. Failures are
// captured per document and never stop the remaining tasks.
func (s *Service) fanout(ctx context.Context, operation string, session Session, documentIDs []string, apply func(context.Context, string) error) Fanout {
	errs := make([]error, len(documentIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, documentID := range documentIDs {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, s.cfg.ItemTimeout)
			defer cancel()

			err := apply(itemCtx, documentID)
			if err == nil {
				if document, getErr := s.store.GetDocument(itemCtx, documentID); getErr == nil {
					s.recordRevision(document, session.UserName, "Synchronize highlights ("+operation+")")
				}
			}
			errs[i] = err
			s.metrics.Fanout(operation, err)
			return nil
		})
	}
	_ = g.Wait()

	result := Fanout{Updated: make([]string, 0, len(documentIDs)), Failed: make([]FanoutFailure, 0)}
	for i, documentID := range documentIDs {
		if errs[i] == nil {
			result.Updated = append(result.Updated, documentID)
			continue
		}
		code, _ := errorKind(errs[i])
		result.Failed = append(result.Failed, FanoutFailure{DocumentID: documentID, Code: code, Reason: errs[i].Error()})
		s.log.Warn().Err(errs[i]).Str("document_id", documentID).Str("operation", operation).Msg("document synchronization failed")
	}
	return result
}

// checkMarkers rejects content whose markers reference highlights outside
// allowed.
func checkMarkers(content string, allowed []string) error {
	ids, err := export.MarkerIDs(content)
	if err != nil {
		return validationFailed("Content is not valid markup", nil)
	}
	unknown := make([]string, 0)
	for _, id := range ids {
		if !slices.Contains(allowed, id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return validationFailed("Content references unknown highlights", map[string]any{"unknownHighlights": unknown})
	}
	return nil
}
