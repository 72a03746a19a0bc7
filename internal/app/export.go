package app

import (
	"context"
	"net/http"

	"docmerge/api/internal/export"
	"docmerge/api/internal/rbac"
	"docmerge/api/internal/store"
)

type ExportFailure struct {
	DocumentID string `json:"documentId"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

func documentSource(document store.Document) export.Source {
	values := make([]export.Value, 0, len(document.Highlights))
	for _, item := range document.Highlights {
		values = append(values, export.Value{ID: item.SourceHighlightID, Text: item.Text})
	}
	return export.Source{
		ID:       document.ID,
		FileName: document.FileName,
		Content:  document.Content,
		Values:   values,
	}
}

// ExportDocument renders the document's current content, with markers
// resolved to its snapshot values.
func (s *Service) ExportDocument(ctx context.Context, session Session, documentID, format string) (*export.Result, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	target, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	document, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.Render(ctx, documentSource(document), target)
	s.metrics.Export(string(target), err)
	if err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Str("format", string(target)).Msg("export failed")
		return nil, err
	}
	return result, nil
}

// ExportTemplate renders the template with markers resolved to the stored
// highlight values.
func (s *Service) ExportTemplate(ctx context.Context, session Session, templateID, format string) (*export.Result, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	target, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	template, err := s.visibleTemplate(ctx, session, templateID)
	if err != nil {
		return nil, err
	}
	highlights, err := s.store.ListTemplateHighlights(ctx, templateID)
	if err != nil {
		return nil, err
	}
	values := make([]export.Value, 0, len(highlights))
	for _, item := range highlights {
		values = append(values, export.Value{ID: item.ID, Text: item.Text})
	}
	result, err := s.exporter.Render(ctx, export.Source{
		ID:       template.ID,
		FileName: template.FileName,
		Content:  template.Content,
		Values:   values,
	}, target)
	s.metrics.Export(string(target), err)
	return result, err
}

// ExportBatch zips every convertible document. The caller owns the returned
// archive and must Close it. When no document converts the archive is
// discarded and a PartialBatchFailure listing every item is returned.
func (s *Service) ExportBatch(ctx context.Context, session Session, documentIDs []string, format string) (*export.Archive, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	target, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if len(documentIDs) == 0 {
		return nil, validationFailed("At least one document is required", nil)
	}
	if s.cfg.MaxBatchSize > 0 && len(documentIDs) > s.cfg.MaxBatchSize {
		return nil, validationFailed("Too many documents in batch", map[string]any{"max": s.cfg.MaxBatchSize})
	}

	archive, err := s.exporter.ExportBatch(ctx, documentIDs, target, func(ctx context.Context, id string) (export.Source, error) {
		document, err := s.visibleDocument(ctx, session, id)
		if err != nil {
			return export.Source{}, err
		}
		return documentSource(document), nil
	})
	if err != nil {
		return nil, err
	}
	for range archive.Entries {
		s.metrics.Export(string(target), nil)
	}
	for _, failure := range archive.Failed {
		s.metrics.Export(string(target), failure.Err)
		s.log.Warn().Err(failure.Err).Str("document_id", failure.ID).Msg("batch export item failed")
	}

	if len(archive.Entries) == 0 {
		failures := ExportFailures(archive.Failed)
		archive.Close()
		return nil, partialBatch(http.StatusUnprocessableEntity, "No document could be exported", map[string]any{"failed": failures})
	}
	return archive, nil
}

// ExportFailures describes archive failures with their error codes.
func ExportFailures(items []export.ItemFailure) []ExportFailure {
	failures := make([]ExportFailure, 0, len(items))
	for _, item := range items {
		code, kind := errorKind(item.Err)
		failures = append(failures, ExportFailure{DocumentID: item.ID, Code: code, Reason: kind, Message: item.Reason})
	}
	return failures
}
