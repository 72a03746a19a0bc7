package mcpserver

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"docmerge/api/internal/app"
	"docmerge/api/internal/config"
	"docmerge/api/internal/store"
)

// stubStore answers the reads the tools make; other store calls are not
// expected in these tests.
type stubStore struct {
	*store.PostgresStore
	templates  map[string]store.Template
	highlights map[string][]store.Highlight
	clients    []store.Client
}

func (s *stubStore) GetTemplate(_ context.Context, id string) (store.Template, error) {
	item, ok := s.templates[id]
	if !ok {
		return store.Template{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *stubStore) ListTemplates(_ context.Context, filter store.TemplateFilter) ([]store.Template, error) {
	items := make([]store.Template, 0)
	for _, item := range s.templates {
		if filter.ProjectID == "" || item.ProjectID == filter.ProjectID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *stubStore) ListTemplateHighlights(_ context.Context, templateID string) ([]store.Highlight, error) {
	return s.highlights[templateID], nil
}

func (s *stubStore) GetClient(_ context.Context, id string) (store.Client, error) {
	for _, item := range s.clients {
		if item.ID == id {
			return item, nil
		}
	}
	return store.Client{}, sql.ErrNoRows
}

func (s *stubStore) GetClientByName(_ context.Context, name string) (store.Client, error) {
	for _, item := range s.clients {
		if item.Name == name {
			return item, nil
		}
	}
	return store.Client{}, sql.ErrNoRows
}

func testServer(t *testing.T) *Server {
	t.Helper()
	stub := &stubStore{
		templates: map[string]store.Template{
			"tpl_1": {ID: "tpl_1", ProjectID: "p1", FileName: "offer.html", CreatedBy: "mcp", HighlightRefs: []string{"h1", "h2"}},
		},
		highlights: map[string][]store.Highlight{
			"tpl_1": {{ID: "h1", Label: "Name", Text: "NAME"}, {ID: "h2", Label: "Salary", Text: "AMOUNT"}},
		},
		clients: []store.Client{
			{ID: "cli_1", Name: "Acme Corp", StableIdentifier: "ops@acme.test", CreatedBy: "mcp"},
		},
	}
	service := app.New(config.Config{JWTSecret: "test-secret"}, app.Deps{Store: stub, Log: zerolog.Nop()})
	return New(service, app.Session{UserID: "mcp", UserName: "mcp", Role: "editor"})
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_templates":
		result, err = srv.listTemplates(ctx, req)
	case "list_template_highlights":
		result, err = srv.listTemplateHighlights(ctx, req)
	case "upsert_highlights":
		result, err = srv.upsertHighlights(ctx, req)
	case "generate_document":
		result, err = srv.generateDocument(ctx, req)
	case "search_clients":
		result, err = srv.searchClients(ctx, req)
	case "get_client":
		result, err = srv.getClient(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListTemplateHighlights(t *testing.T) {
	srv := testServer(t)

	result := callTool(t, srv, "list_template_highlights", map[string]any{"templateId": "tpl_1"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(result))
	}
	text := resultText(result)
	if !strings.Contains(text, `"Salary"`) || strings.Index(text, `"h1"`) > strings.Index(text, `"h2"`) {
		t.Errorf("unexpected highlights: %s", text)
	}

	result = callTool(t, srv, "list_template_highlights", map[string]any{"templateId": "tpl_missing"})
	if !result.IsError || !strings.Contains(resultText(result), "NOT_FOUND") {
		t.Errorf("expected not found, got %s", resultText(result))
	}

	result = callTool(t, srv, "list_template_highlights", map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing templateId")
	}
}

func TestListTemplates(t *testing.T) {
	srv := testServer(t)
	result := callTool(t, srv, "list_templates", map[string]any{"projectId": "p1"})
	if result.IsError || !strings.Contains(resultText(result), "offer.html") {
		t.Errorf("unexpected result: %s", resultText(result))
	}
}

func TestGenerateDocumentValidation(t *testing.T) {
	srv := testServer(t)

	result := callTool(t, srv, "generate_document", map[string]any{"templateId": "tpl_missing", "recipientName": "Acme Corp"})
	if !result.IsError || !strings.Contains(resultText(result), "NOT_FOUND") {
		t.Errorf("expected not found, got %s", resultText(result))
	}

	result = callTool(t, srv, "generate_document", map[string]any{
		"templateId":    "tpl_1",
		"recipientName": "Acme Corp",
		"values":        []any{map[string]any{"highlightId": "h9", "text": "x"}},
	})
	if !result.IsError || !strings.Contains(resultText(result), "VALIDATION_ERROR") {
		t.Errorf("expected validation error, got %s", resultText(result))
	}

	result = callTool(t, srv, "generate_document", map[string]any{"templateId": "tpl_1", "recipientName": " "})
	if !result.IsError {
		t.Error("expected error for blank recipient")
	}
}

func TestGetClient(t *testing.T) {
	srv := testServer(t)

	result := callTool(t, srv, "get_client", map[string]any{"name": "Acme Corp"})
	if result.IsError || !strings.Contains(resultText(result), "cli_1") {
		t.Errorf("unexpected result: %s", resultText(result))
	}

	result = callTool(t, srv, "get_client", map[string]any{"clientId": "cli_1"})
	if result.IsError || !strings.Contains(resultText(result), "ops@acme.test") {
		t.Errorf("unexpected result: %s", resultText(result))
	}

	result = callTool(t, srv, "get_client", map[string]any{"clientId": "cli_404"})
	if !result.IsError {
		t.Error("expected error for unknown client")
	}

	result = callTool(t, srv, "get_client", map[string]any{})
	if !result.IsError {
		t.Error("expected error without id or name")
	}
}

func TestSearchClientsWithoutIndex(t *testing.T) {
	srv := testServer(t)

	result := callTool(t, srv, "search_clients", map[string]any{"query": "acme"})
	if result.IsError || resultText(result) != "no clients found" {
		t.Errorf("unexpected result: %s", resultText(result))
	}

	result = callTool(t, srv, "search_clients", map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing query")
	}
}
