package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"docmerge/api/internal/blob"
	"docmerge/api/internal/rbac"
	"docmerge/api/internal/store"
	"docmerge/api/internal/util"
)

type CreateTemplateInput struct {
	FileName   string           `json:"fileName"`
	ProjectID  string           `json:"projectId,omitempty"`
	Content    string           `json:"content"`
	Highlights []HighlightInput `json:"highlights,omitempty"`
}

func (in CreateTemplateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.FileName, validation.Required, validation.Length(1, 256)),
		validation.Field(&in.ProjectID, validation.Length(0, 128)),
		validation.Field(&in.Highlights),
	)
}

type ImportTemplateInput struct {
	FileName    string
	ProjectID   string
	ContentType string
	Data        []byte
}

type TemplateFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// CreateTemplate stores an HTML template. Highlights supplied with it are
// created in the same call.
func (s *Service) CreateTemplate(ctx context.Context, session Session, input CreateTemplateInput) (store.Template, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Template{}, err
	}
	input.FileName = strings.TrimSpace(input.FileName)
	if err := invalidInput(input.Validate()); err != nil {
		return store.Template{}, err
	}
	ids := make([]string, 0, len(input.Highlights))
	for _, item := range input.Highlights {
		ids = append(ids, item.ID)
	}
	if err := checkMarkers(input.Content, ids); err != nil {
		return store.Template{}, err
	}
	return s.createTemplate(ctx, session, store.Template{
		ID:        util.NewID("tpl"),
		ProjectID: s.projectFor(session, input.ProjectID),
		FileName:  input.FileName,
		Content:   input.Content,
		CreatedBy: session.UserID,
	}, input.Highlights)
}

// ImportTemplate converts an uploaded source file into a template. The
// original upload is kept in object storage when it is configured.
func (s *Service) ImportTemplate(ctx context.Context, session Session, input ImportTemplateInput) (store.Template, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Template{}, err
	}
	input.FileName = filepath.Base(strings.TrimSpace(input.FileName))
	if input.FileName == "" || input.FileName == "." {
		return store.Template{}, validationFailed("File name is required", nil)
	}
	if len(input.Data) == 0 {
		return store.Template{}, validationFailed("File is empty", nil)
	}

	var content string
	switch strings.ToLower(filepath.Ext(input.FileName)) {
	case ".docx":
		if s.importer == nil {
			return store.Template{}, domainError(http.StatusServiceUnavailable, CodeDependencyMissing, "Document import is not available", nil)
		}
		html, err := s.importer.ImportDOCX(ctx, input.Data)
		if err != nil {
			return store.Template{}, err
		}
		content = html
		input.ContentType = docxContentType
	case ".html", ".htm":
		content = string(input.Data)
		input.ContentType = "text/html; charset=utf-8"
	default:
		return store.Template{}, validationFailed("Only .docx and .html files can be imported", nil)
	}
	if err := checkMarkers(content, nil); err != nil {
		return store.Template{}, err
	}

	template := store.Template{
		ID:        util.NewID("tpl"),
		ProjectID: s.projectFor(session, input.ProjectID),
		FileName:  input.FileName,
		Content:   content,
		CreatedBy: session.UserID,
	}
	if s.blobs != nil {
		key := blob.TemplateKey(template.ProjectID, template.ID, template.FileName)
		if _, err := s.blobs.Put(ctx, key, input.Data, input.ContentType); err != nil {
			return store.Template{}, err
		}
		template.SourceObjectKey = key
	}
	created, err := s.createTemplate(ctx, session, template, nil)
	if err != nil && template.SourceObjectKey != "" {
		if delErr := s.blobs.Delete(ctx, template.SourceObjectKey); delErr != nil {
			s.log.Warn().Err(delErr).Str("key", template.SourceObjectKey).Msg("remove orphaned upload")
		}
	}
	return created, err
}

func (s *Service) createTemplate(ctx context.Context, session Session, template store.Template, highlights []HighlightInput) (store.Template, error) {
	if err := s.store.CreateTemplate(ctx, template); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Template{}, conflict("Template already exists")
		}
		return store.Template{}, err
	}
	if len(highlights) > 0 {
		result, err := s.UpsertHighlights(ctx, session, template.ID, UpsertHighlightsInput{Highlights: highlights})
		if err != nil {
			if cleanupErr := s.store.DeleteTemplate(ctx, template.ID); cleanupErr != nil {
				s.log.Warn().Err(cleanupErr).Str("template_id", template.ID).Msg("remove template after failed highlight write")
			}
			return store.Template{}, err
		}
		template = result.Template
	} else {
		created, err := s.store.GetTemplate(ctx, template.ID)
		if err != nil {
			return store.Template{}, err
		}
		template = created
		s.indexTemplate(template, nil)
	}
	s.log.Info().Str("template_id", template.ID).Str("file_name", template.FileName).Msg("template created")
	return template, nil
}

// TemplateSource returns the original upload a template was imported from.
func (s *Service) TemplateSource(ctx context.Context, session Session, templateID string) (TemplateFile, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return TemplateFile{}, err
	}
	template, err := s.visibleTemplate(ctx, session, templateID)
	if err != nil {
		return TemplateFile{}, err
	}
	if template.SourceObjectKey == "" || s.blobs == nil {
		return TemplateFile{}, notFound("Template has no stored source file")
	}
	data, err := s.blobs.Get(ctx, template.SourceObjectKey)
	if err != nil {
		return TemplateFile{}, translateMissing(err, "Template source file not found")
	}
	contentType := "text/html; charset=utf-8"
	if strings.EqualFold(filepath.Ext(template.SourceObjectKey), ".docx") {
		contentType = docxContentType
	}
	return TemplateFile{FileName: filepath.Base(template.SourceObjectKey), ContentType: contentType, Data: data}, nil
}

func (s *Service) GetTemplate(ctx context.Context, session Session, templateID string) (store.Template, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.Template{}, err
	}
	return s.visibleTemplate(ctx, session, templateID)
}

func (s *Service) ListTemplates(ctx context.Context, session Session, projectID string) ([]store.Template, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	filter := store.TemplateFilter{ProjectID: strings.TrimSpace(projectID)}
	if rbac.Normalize(session.Role) != rbac.RoleAdmin {
		filter.CreatedBy = session.UserID
	}
	return s.store.ListTemplates(ctx, filter)
}

// DeleteTemplate removes the template with its documents and the highlights
// no other template references.
func (s *Service) DeleteTemplate(ctx context.Context, session Session, templateID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	template, err := s.visibleTemplate(ctx, session, templateID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTemplate(ctx, templateID); err != nil {
		return translateMissing(err, "Template not found")
	}

	if template.SourceObjectKey != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, template.SourceObjectKey); err != nil {
			s.log.Warn().Err(err).Str("key", template.SourceObjectKey).Msg("delete template source")
		}
	}
	if s.search != nil {
		s.search.DeleteTemplate(templateID)
	}
	if s.revisions != nil {
		for _, documentID := range template.DocumentRefs {
			if err := s.revisions.Remove(documentID); err != nil {
				s.log.Warn().Err(err).Str("document_id", documentID).Msg("remove revisions")
			}
		}
	}
	s.log.Info().Str("template_id", templateID).Int("documents", len(template.DocumentRefs)).Msg("template deleted")
	return nil
}

// ListProjectLabels returns the distinct highlight labels used in a project.
func (s *Service) ListProjectLabels(ctx context.Context, session Session, projectID string) ([]string, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	projectID = s.projectFor(session, projectID)
	if projectID == "" {
		return []string{}, nil
	}
	return s.store.ListProjectLabels(ctx, projectID)
}

func (s *Service) projectFor(session Session, projectID string) string {
	if projectID = strings.TrimSpace(projectID); projectID != "" {
		return projectID
	}
	return session.ProjectID
}
