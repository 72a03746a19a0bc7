package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClient   ResultType = "client"
	ResultTemplate ResultType = "template"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
	CreatedBy string     `json:"createdBy,omitempty"`
}

// Query describes a search request. Empty CreatedBy searches every owner.
type Query struct {
	Text       string
	FilterType ResultType
	ProjectID  string
	CreatedBy  string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexClients(clients []ClientRecord) error
	IndexTemplates(templates []TemplateRecord) error
	DeleteTemplate(id string) error
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	StableIdentifier string `json:"stableIdentifier"`
	Email            string `json:"email"`
	CreatedBy        string `json:"createdBy"`
}

// TemplateRecord is the data we index for a template.
type TemplateRecord struct {
	ID        string   `json:"id"`
	FileName  string   `json:"fileName"`
	ProjectID string   `json:"projectId"`
	CreatedBy string   `json:"createdBy"`
	Labels    []string `json:"labels"`
}
