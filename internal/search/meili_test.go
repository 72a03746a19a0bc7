package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
)

func TestHitToResultPrefersFormatted(t *testing.T) {
	hit := meili.Hit{
		"id":               json.RawMessage(`"cli_1"`),
		"name":             json.RawMessage(`"Acme"`),
		"stableIdentifier": json.RawMessage(`"ops@acme.test"`),
		"createdBy":        json.RawMessage(`"usr_1"`),
		"_formatted":       json.RawMessage(`{"name":"<mark>Acme</mark>","id":"cli_1"}`),
	}
	r := hitToResult(hit, ResultClient)
	assert.Equal(t, "cli_1", r.ID)
	assert.Equal(t, "<mark>Acme</mark>", r.Title)
	assert.Equal(t, "ops@acme.test", r.Snippet)
	assert.Equal(t, "usr_1", r.CreatedBy)
}

func TestHitToResultTemplate(t *testing.T) {
	hit := meili.Hit{
		"id":        json.RawMessage(`"tpl_1"`),
		"fileName":  json.RawMessage(`"offer.docx"`),
		"projectId": json.RawMessage(`"prj_1"`),
		"labels":    json.RawMessage(`["Name"]`),
	}
	r := hitToResult(hit, indexToResultType(idxTemplates))
	assert.Equal(t, ResultTemplate, r.Type)
	assert.Equal(t, "offer.docx", r.Title)
	assert.Equal(t, "prj_1", r.ProjectID)
}
