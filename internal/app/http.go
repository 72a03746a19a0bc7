package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docmerge/api/internal/auth"
	"docmerge/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	maxUpload  int64
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	maxUpload := service.cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxUpload: maxUpload}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	if s.service.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.service.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/session", s.handleSession)
			r.Get("/search", s.handleSearch)
			r.Get("/projects/{projectID}/labels", s.handleProjectLabels)

			r.Get("/templates", s.handleListTemplates)
			r.Post("/templates", s.handleCreateTemplate)
			r.Post("/templates/import", s.handleImportTemplate)
			r.Get("/templates/{templateID}", s.handleGetTemplate)
			r.Delete("/templates/{templateID}", s.handleDeleteTemplate)
			r.Get("/templates/{templateID}/source", s.handleTemplateSource)
			r.Get("/templates/{templateID}/export", s.handleExportTemplate)
			r.Get("/templates/{templateID}/documents", s.handleTemplateDocuments)
			r.Get("/templates/{templateID}/highlights", s.handleListHighlights)
			r.Put("/templates/{templateID}/highlights", s.handleUpsertHighlights)
			r.Delete("/templates/{templateID}/highlights/{highlightID}", s.handleDeleteHighlight)

			r.Post("/documents/generate", s.handleGenerate)
			r.Post("/documents/generate/batch", s.handleGenerateBatch)
			r.Post("/documents/export", s.handleExportBatch)
			r.Get("/documents/{documentID}", s.handleGetDocument)
			r.Put("/documents/{documentID}", s.handleUpdateDocument)
			r.Delete("/documents/{documentID}", s.handleDeleteDocument)
			r.Get("/documents/{documentID}/export", s.handleExportDocument)
			r.Get("/documents/{documentID}/history", s.handleDocumentHistory)
			r.Get("/documents/{documentID}/history/{hash}", s.handleDocumentRevision)
			r.Post("/documents/{documentID}/send", s.handleSendDocument)

			r.Get("/clients", s.handleListClients)
			r.Post("/clients", s.handleRegisterClient)
			r.Post("/clients/documents", s.handleUpsertClientDocument)
			r.Get("/clients/lookup", s.handleFindClient)
			r.Get("/clients/{clientID}", s.handleGetClient)
			r.Put("/clients/{clientID}/identity", s.handleUpdateIdentity)
			r.Get("/clients/{clientID}/documents", s.handleClientDocuments)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

// Health

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"role":          session.Role,
		"projectId":     session.ProjectID,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response, err := s.service.Search(r.Context(), sessionFrom(r), search.Query{
		Text:       query.Get("q"),
		FilterType: search.ResultType(strings.TrimSpace(query.Get("type"))),
		ProjectID:  strings.TrimSpace(query.Get("projectId")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleProjectLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.service.ListProjectLabels(r.Context(), sessionFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}

// Templates

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context(), sessionFrom(r), r.URL.Query().Get("projectId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *HTTPServer) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body CreateTemplateInput
	if !s.decode(w, r, &body) {
		return
	}
	template, err := s.service.CreateTemplate(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": template})
}

func (s *HTTPServer) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "File too large or invalid multipart form", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing 'file' field in multipart form", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read uploaded file", nil)
		return
	}

	template, err := s.service.ImportTemplate(r.Context(), sessionFrom(r), ImportTemplateInput{
		FileName:    header.Filename,
		ProjectID:   r.FormValue("projectId"),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": template})
}

func (s *HTTPServer) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := s.service.GetTemplate(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template": template})
}

func (s *HTTPServer) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleTemplateSource(w http.ResponseWriter, r *http.Request) {
	file, err := s.service.TemplateSource(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, file.FileName, file.ContentType, file.Data)
}

func (s *HTTPServer) handleExportTemplate(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportTemplate(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"), r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result.Filename, result.MimeType, result.Data)
}

func (s *HTTPServer) handleTemplateDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := s.service.ListTemplateDocuments(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
}

// Highlights

func (s *HTTPServer) handleListHighlights(w http.ResponseWriter, r *http.Request) {
	highlights, err := s.service.ListTemplateHighlights(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"highlights": highlights})
}

func (s *HTTPServer) handleUpsertHighlights(w http.ResponseWriter, r *http.Request) {
	var body UpsertHighlightsInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.UpsertHighlights(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSyncResult(w, result)
}

func (s *HTTPServer) handleDeleteHighlight(w http.ResponseWriter, r *http.Request) {
	var body DeleteHighlightInput
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	body.HighlightID = chi.URLParam(r, "highlightID")
	result, err := s.service.DeleteHighlight(r.Context(), sessionFrom(r), chi.URLParam(r, "templateID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSyncResult(w, result)
}

// writeSyncResult answers 207 when some dependent documents failed to update.
func writeSyncResult(w http.ResponseWriter, result SyncResult) {
	if result.Partial() {
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"code":     CodePartialBatch,
			"template": result.Template,
			"created":  result.Created,
			"fanout":   result.Fanout,
			"details":  map[string]any{"failed": result.Fanout.Failed},
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Documents

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if !s.decode(w, r, &body) {
		return
	}
	generated, err := s.service.GenerateDocument(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, generated)
}

func (s *HTTPServer) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests    []GenerateRequest `json:"requests"`
		TemplateIDs []string          `json:"templateIds"`
		Recipients  []BatchRecipient  `json:"recipients"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	requests := body.Requests
	if len(requests) == 0 {
		requests = ExpandBatch(body.TemplateIDs, body.Recipients)
	}
	result, err := s.service.GenerateBatch(r.Context(), sessionFrom(r), requests)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch {
	case len(result.Failed) == 0:
		writeJSON(w, http.StatusOK, result)
	case len(result.Succeeded) == 0:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": CodePartialBatch, "succeeded": result.Succeeded, "failed": result.Failed})
	default:
		writeJSON(w, http.StatusMultiStatus, map[string]any{"code": CodePartialBatch, "succeeded": result.Succeeded, "failed": result.Failed})
	}
}

func (s *HTTPServer) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentIDs []string `json:"documentIds"`
		Format      string   `json:"format"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	archive, err := s.service.ExportBatch(r.Context(), sessionFrom(r), body.DocumentIDs, body.Format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer archive.Close()

	failed := make([]string, 0, len(archive.Failed))
	for _, item := range archive.Failed {
		failed = append(failed, item.ID)
	}
	header := w.Header()
	header.Set("Content-Type", "application/zip")
	header.Set("Content-Disposition", `attachment; filename="documents.zip"`)
	header.Set("X-Export-Failed-Count", strconv.Itoa(len(failed)))
	if len(failed) > 0 {
		header.Set("X-Export-Failed-Ids", strings.Join(failed, ","))
	}
	http.ServeContent(w, r, "documents.zip", time.Time{}, archive.Reader())
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	document, err := s.service.GetDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": document})
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var body UpdateDocumentInput
	if !s.decode(w, r, &body) {
		return
	}
	document, err := s.service.UpdateDocumentContent(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": document})
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleExportDocument(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"), r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result.Filename, result.MimeType, result.Data)
}

func (s *HTTPServer) handleDocumentHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	items, err := s.service.DocumentHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": items})
}

func (s *HTTPServer) handleDocumentRevision(w http.ResponseWriter, r *http.Request) {
	content, err := s.service.DocumentRevision(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": content})
}

func (s *HTTPServer) handleSendDocument(w http.ResponseWriter, r *http.Request) {
	var body SendDocumentInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.SendDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Clients

func (s *HTTPServer) handleListClients(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	clients, err := s.service.ListClients(r.Context(), sessionFrom(r), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (s *HTTPServer) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var body RegisterClientInput
	if !s.decode(w, r, &body) {
		return
	}
	client, err := s.service.RegisterClient(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"client": client})
}

func (s *HTTPServer) handleUpsertClientDocument(w http.ResponseWriter, r *http.Request) {
	var body ClientDocumentInput
	if !s.decode(w, r, &body) {
		return
	}
	client, err := s.service.UpsertClientDocument(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (s *HTTPServer) handleFindClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.service.FindClientByName(r.Context(), sessionFrom(r), r.URL.Query().Get("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (s *HTTPServer) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.service.GetClient(r.Context(), sessionFrom(r), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (s *HTTPServer) handleUpdateIdentity(w http.ResponseWriter, r *http.Request) {
	var body IdentityInput
	if !s.decode(w, r, &body) {
		return
	}
	client, err := s.service.UpdateClientIdentity(r.Context(), sessionFrom(r), chi.URLParam(r, "clientID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (s *HTTPServer) handleClientDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := s.service.ListClientDocuments(r.Context(), sessionFrom(r), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
}

// Middleware and helpers

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, CodeServerError, "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		elapsed := time.Since(started)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.service.metrics.ObserveHTTP(r.Method, route, writer.status, elapsed)
		s.service.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

// fail writes err as a JSON error and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID, X-Export-Failed-Count, X-Export-Failed-Ids")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeFile(w http.ResponseWriter, fileName, contentType string, data []byte) {
	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	header.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
