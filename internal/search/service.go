package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Engine is a primary search backend that also maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// Service tries the primary engine first and falls back to Postgres.
type Service struct {
	primary  Engine
	fallback Searcher
	log      zerolog.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Engine, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{primary: primary, fallback: fallback, log: log}
}

func (s *Service) available() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.available() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("primary search failed, falling back to postgres")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexClient pushes a client to the primary engine without blocking.
func (s *Service) IndexClient(c ClientRecord) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.primary.IndexClients([]ClientRecord{c}); err != nil {
			s.log.Warn().Err(err).Str("client_id", c.ID).Msg("index client")
		}
	}()
}

// IndexTemplate pushes a template to the primary engine without blocking.
func (s *Service) IndexTemplate(t TemplateRecord) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.primary.IndexTemplates([]TemplateRecord{t}); err != nil {
			s.log.Warn().Err(err).Str("template_id", t.ID).Msg("index template")
		}
	}()
}

func (s *Service) DeleteTemplate(id string) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.primary.DeleteTemplate(id); err != nil {
			s.log.Warn().Err(err).Str("template_id", id).Msg("delete template from index")
		}
	}()
}

// Reindex replaces the primary engine's contents with the given records.
func (s *Service) Reindex(clients []ClientRecord, templates []TemplateRecord) {
	if !s.available() {
		return
	}
	if err := s.primary.IndexClients(clients); err != nil {
		s.log.Warn().Err(err).Msg("reindex clients")
	}
	if err := s.primary.IndexTemplates(templates); err != nil {
		s.log.Warn().Err(err).Msg("reindex templates")
	}
}

// ReindexFromPG loads every searchable record from Postgres into the
// primary engine.
func (s *Service) ReindexFromPG(ctx context.Context, pg *PgSearch) {
	if !s.available() || pg == nil {
		return
	}
	clients, templates, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	s.Reindex(clients, templates)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
