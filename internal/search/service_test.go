package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeEngine struct {
	mu        sync.Mutex
	healthy   bool
	err       error
	results   []Result
	clients   []ClientRecord
	templates []TemplateRecord
	queries   []Query
}

func (f *fakeEngine) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) IndexClients(clients []ClientRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = append(f.clients, clients...)
	return nil
}

func (f *fakeEngine) IndexTemplates(templates []TemplateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = append(f.templates, templates...)
	return nil
}

func (f *fakeEngine) DeleteTemplate(string) error { return nil }

func TestSearchUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeEngine{healthy: true, results: []Result{{Type: ResultClient, ID: "cli_1", Title: "Acme"}}}
	fallback := &fakeEngine{healthy: true}
	svc := NewService(primary, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "acme", CreatedBy: "usr_1"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "cli_1", resp.Results[0].ID)
	assert.Empty(t, fallback.queries)
	assert.Equal(t, "usr_1", primary.queries[0].CreatedBy)
}

func TestSearchFallsBackOnError(t *testing.T) {
	primary := &fakeEngine{healthy: true, err: errors.New("boom")}
	fallback := &fakeEngine{healthy: true, results: []Result{{Type: ResultTemplate, ID: "tpl_1"}}}
	svc := NewService(primary, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "offer"})
	assert.Equal(t, "tpl_1", resp.Results[0].ID)
	assert.Equal(t, "offer", resp.Query)
}

func TestSearchWithoutPrimary(t *testing.T) {
	fallback := &fakeEngine{healthy: true}
	svc := NewService(nil, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "nothing"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Len(t, fallback.queries, 1)
}

func TestReindexSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeEngine{healthy: false}
	svc := NewService(primary, nil, zerolog.Nop())
	svc.Reindex([]ClientRecord{{ID: "cli_1"}}, nil)
	assert.Empty(t, primary.clients)

	primary.healthy = true
	svc.Reindex([]ClientRecord{{ID: "cli_1"}}, []TemplateRecord{{ID: "tpl_1"}})
	assert.Len(t, primary.clients, 1)
	assert.Len(t, primary.templates, 1)
}

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `%50\% off\_now%`, likePattern(" 50% off_now "))
}
