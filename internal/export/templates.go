package export

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(template.ParseFS(templateFS, "templates/document.html"))

// TemplateData holds data for the page shell.
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
}

// RenderDocumentHTML wraps body markup in the page shell every converter
// receives.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.ExecuteTemplate(&buf, "document.html", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
