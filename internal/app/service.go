package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"docmerge/api/internal/auth"
	"docmerge/api/internal/config"
	"docmerge/api/internal/email"
	"docmerge/api/internal/export"
	"docmerge/api/internal/metrics"
	"docmerge/api/internal/rbac"
	"docmerge/api/internal/revisions"
	"docmerge/api/internal/search"
	"docmerge/api/internal/store"
)

// MaxValueLength bounds a single highlight value or label.
const MaxValueLength = 10000

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ProjectID string
	ExpiresAt time.Time
}

type dataStore interface {
	CreateTemplate(context.Context, store.Template) error
	GetTemplate(context.Context, string) (store.Template, error)
	ListTemplates(context.Context, store.TemplateFilter) ([]store.Template, error)
	DeleteTemplate(context.Context, string) error
	ListTemplateHighlights(context.Context, string) ([]store.Highlight, error)
	ListProjectLabels(context.Context, string) ([]string, error)
	ApplyHighlightUpsert(context.Context, store.HighlightUpsert) (store.HighlightUpsertResult, error)
	ApplyHighlightDelete(context.Context, store.HighlightDelete) (store.Template, error)
	SyncDocumentHighlights(context.Context, string, []store.DocumentHighlight, string) error
	RemoveDocumentHighlight(context.Context, string, string) error
	CreateDocument(context.Context, store.Document, *store.ClientRegistration) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListTemplateDocuments(context.Context, string) ([]store.Document, error)
	UpdateDocumentContent(context.Context, string, string, string) (store.Document, error)
	DeleteDocument(context.Context, string) error
	UpsertClientDocument(context.Context, store.ClientRegistration) (store.Client, error)
	CreateClient(context.Context, store.Client) (store.Client, error)
	GetClient(context.Context, string) (store.Client, error)
	GetClientByName(context.Context, string) (store.Client, error)
	ListClients(context.Context, int, int) ([]store.Client, error)
	UpdateClientIdentity(context.Context, store.IdentityUpdate) (store.Client, error)
	ListClientDocuments(context.Context, string) ([]store.ClientDocument, error)
	Ping(ctx context.Context) error
}

type revisionLog interface {
	Record(documentID string, content revisions.Content, author, message string) (revisions.Revision, error)
	History(documentID string, limit int) ([]revisions.Revision, error)
	ContentAt(documentID, hash string) (revisions.Content, error)
	Remove(documentID string) error
}

type blobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type notifier interface {
	IsConfigured() bool
	Send(ctx context.Context, msg email.Message) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexClient(c search.ClientRecord)
	IndexTemplate(t search.TemplateRecord)
	DeleteTemplate(id string)
}

type templateImporter interface {
	ImportDOCX(ctx context.Context, data []byte) (string, error)
}

// Deps are the collaborators of a Service. Everything except Store and
// Exporter is optional.
type Deps struct {
	Store     dataStore
	Revisions revisionLog
	Blobs     blobStore
	Notifier  notifier
	Search    searchIndex
	Exporter  *export.Service
	Importer  templateImporter
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	revisions revisionLog
	blobs     blobStore
	notifier  notifier
	search    searchIndex
	exporter  *export.Service
	importer  templateImporter
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = time.Minute
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		revisions: deps.Revisions,
		blobs:     deps.Blobs,
		notifier:  deps.Notifier,
		search:    deps.Search,
		exporter:  deps.Exporter,
		importer:  deps.Importer,
		metrics:   deps.Metrics,
		log:       deps.Log,
	}
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	name := claims.Name
	if name == "" {
		name = claims.Sub
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  name,
		Role:      string(rbac.Normalize(claims.Role)),
		ProjectID: claims.ProjectID,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// IssueToken signs a session token for the given user. Used by the CLI.
func (s *Service) IssueToken(userID, name, role, projectID string, ttl time.Duration) (string, error) {
	return auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:       userID,
		Name:      name,
		Role:      string(rbac.Normalize(role)),
		ProjectID: projectID,
		Exp:       time.Now().Add(ttl).Unix(),
	})
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

// canSee reports whether the session may address a resource created by
// createdBy. Resources outside this scope are reported as missing.
func canSee(session Session, createdBy string) bool {
	return rbac.Normalize(session.Role) == rbac.RoleAdmin || createdBy == session.UserID
}

// ownerScope is the highlight owner filter for the session; admins see all.
func ownerScope(session Session) string {
	if rbac.Normalize(session.Role) == rbac.RoleAdmin {
		return ""
	}
	return session.UserID
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) visibleTemplate(ctx context.Context, session Session, templateID string) (store.Template, error) {
	template, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return store.Template{}, translateMissing(err, "Template not found")
	}
	if !canSee(session, template.CreatedBy) {
		return store.Template{}, notFound("Template not found")
	}
	return template, nil
}

func (s *Service) visibleDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	document, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, translateMissing(err, "Document not found")
	}
	if !canSee(session, document.CreatedBy) {
		return store.Document{}, notFound("Document not found")
	}
	return document, nil
}

func translateMissing(err error, message string) error {
	if status, _, _, _ := mapError(err); status == http.StatusNotFound {
		return notFound(message)
	}
	return err
}

func (s *Service) recordRevision(document store.Document, author, message string) {
	if s.revisions == nil {
		return
	}
	_, err := s.revisions.Record(document.ID, revisions.Content{
		FileName:   document.FileName,
		Content:    document.Content,
		Highlights: document.Highlights,
	}, author, message)
	if err != nil {
		s.log.Warn().Err(err).Str("document_id", document.ID).Msg("record revision")
	}
}

func (s *Service) indexTemplate(template store.Template, highlights []store.Highlight) {
	if s.search == nil {
		return
	}
	labels := make([]string, 0, len(highlights))
	for _, item := range highlights {
		labels = append(labels, item.Label)
	}
	s.search.IndexTemplate(search.TemplateRecord{
		ID:        template.ID,
		FileName:  template.FileName,
		ProjectID: template.ProjectID,
		CreatedBy: template.CreatedBy,
		Labels:    labels,
	})
}

func (s *Service) indexClient(client store.Client) {
	if s.search == nil || client.ID == "" {
		return
	}
	s.search.IndexClient(search.ClientRecord{
		ID:               client.ID,
		Name:             client.Name,
		StableIdentifier: client.StableIdentifier,
		Email:            client.Email,
		CreatedBy:        client.CreatedBy,
	})
}

// pendingIdentifier derives the placeholder identity for a recipient known
// only by name. It is stable across retries for the same name.
func pendingIdentifier(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "pending:" + hex.EncodeToString(sum[:8])
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
