// Package mcpserver exposes template and client operations as MCP tools over
// stdio, acting as a single configured user.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"docmerge/api/internal/app"
)

type Server struct {
	mcp     *server.MCPServer
	service *app.Service
	session app.Session
}

func New(service *app.Service, session app.Session) *Server {
	s := &Server{service: service, session: session}

	s.mcp = server.NewMCPServer(
		"Docmerge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List templates, optionally within one project."),
		mcp.WithString("projectId", mcp.Description("Optional project id")),
	), s.listTemplates)

	s.mcp.AddTool(mcp.NewTool("list_template_highlights",
		mcp.WithDescription("List the highlights of a template in document order."),
		mcp.WithString("templateId", mcp.Required(), mcp.Description("Template id")),
	), s.listTemplateHighlights)

	s.mcp.AddTool(mcp.NewTool("upsert_highlights",
		mcp.WithDescription("Create or update highlights on a template. New highlights are added to every document generated from it."),
		mcp.WithString("templateId", mcp.Required(), mcp.Description("Template id")),
		mcp.WithArray("highlights", mcp.Required(),
			mcp.Description("Highlights as objects with id, label, text and optional type"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	), s.upsertHighlights)

	s.mcp.AddTool(mcp.NewTool("generate_document",
		mcp.WithDescription("Generate a document for a recipient from a template. "+
			"Values override the stored text of the named highlights; the rest keep their template text."),
		mcp.WithString("templateId", mcp.Required(), mcp.Description("Template id")),
		mcp.WithString("recipientName", mcp.Required(), mcp.Description("Recipient display name")),
		mcp.WithString("email", mcp.Description("Optional recipient email, used as the stable identity")),
		mcp.WithArray("values",
			mcp.Description("Objects with highlightId and text"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	), s.generateDocument)

	s.mcp.AddTool(mcp.NewTool("search_clients",
		mcp.WithDescription("Search clients by name, identifier or email."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchClients)

	s.mcp.AddTool(mcp.NewTool("get_client",
		mcp.WithDescription("Read a client with its documents and details, by id or exact name."),
		mcp.WithString("clientId", mcp.Description("Client id")),
		mcp.WithString("name", mcp.Description("Exact client name, used when clientId is empty")),
	), s.getClient)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templates, err := s.service.ListTemplates(ctx, s.session, req.GetString("projectId", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(templates)
}

func (s *Server) listTemplateHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateID, err := req.RequireString("templateId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	highlights, err := s.service.ListTemplateHighlights(ctx, s.session, templateID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(highlights)
}

func (s *Server) upsertHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		TemplateID string               `json:"templateId"`
		Highlights []app.HighlightInput `json:"highlights"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	result, err := s.service.UpsertHighlights(ctx, s.session, args.TemplateID, app.UpsertHighlightsInput{Highlights: args.Highlights})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) generateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		TemplateID    string               `json:"templateId"`
		RecipientName string               `json:"recipientName"`
		Email         string               `json:"email"`
		Values        []app.HighlightValue `json:"values"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	request := app.GenerateRequest{
		TemplateID:    args.TemplateID,
		RecipientName: args.RecipientName,
		Values:        args.Values,
	}
	if email := strings.TrimSpace(args.Email); email != "" {
		request.Identity = &app.IdentityHints{Email: email}
	}
	generated, err := s.service.GenerateDocument(ctx, s.session, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(generated)
}

func (s *Server) searchClients(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	response, err := s.service.SearchClients(ctx, s.session, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(response.Results) == 0 {
		return mcp.NewToolResultText("no clients found"), nil
	}
	return jsonResult(response)
}

func (s *Server) getClient(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clientID := strings.TrimSpace(req.GetString("clientId", ""))
	name := strings.TrimSpace(req.GetString("name", ""))
	if clientID == "" && name == "" {
		return mcp.NewToolResultError("clientId or name is required"), nil
	}

	var (
		result any
		err    error
	)
	if clientID != "" {
		result, err = s.service.GetClient(ctx, s.session, clientID)
	} else {
		result, err = s.service.FindClientByName(ctx, s.session, name)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}
