package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("DOCMERGE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DOCMERGE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, resetPublicSchema(ctx, db))
	require.NoError(t, ApplyMigrations(ctx, db, testMigrationsDir))
	return NewPostgresStore(db), ctx
}

func seedTemplate(t *testing.T, ctx context.Context, s *PostgresStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateTemplate(ctx, Template{
		ID:        id,
		ProjectID: "prj_1",
		FileName:  "offer.docx",
		Content:   `<p>Dear <span data-highlight-id="h1">NAME</span></p>`,
		CreatedBy: "usr_1",
	}))
}

func TestHighlightUpsertAppendsRefsAndReportsNew(t *testing.T) {
	s, ctx := openTestStore(t)
	seedTemplate(t, ctx, s, "tpl_1")

	first, err := s.ApplyHighlightUpsert(ctx, HighlightUpsert{
		TemplateID: "tpl_1",
		OwnerID:    "usr_1",
		Highlights: []Highlight{
			{ID: "h1", Label: "Name", Text: "Jane", Type: "text"},
			{ID: "h2", Label: "Amount", Text: "100", Type: "number"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, first.Created)
	assert.Equal(t, []string{"h1", "h2"}, first.Template.HighlightRefs)

	content := `<p><span data-highlight-id="h3">DATE</span></p>`
	second, err := s.ApplyHighlightUpsert(ctx, HighlightUpsert{
		TemplateID: "tpl_1",
		OwnerID:    "usr_1",
		Content:    &content,
		Highlights: []Highlight{
			{ID: "h1", Label: "Full name", Text: "Jane Doe", Type: "text"},
			{ID: "h3", Label: "Date", Text: "2024-01-01", Type: "date"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h3"}, second.Created)
	require.Len(t, second.Added, 1)
	assert.Equal(t, "h3", second.Added[0].ID)
	assert.Equal(t, []string{"h1", "h2", "h3"}, second.Template.HighlightRefs)
	assert.Equal(t, content, second.Template.Content)
	assert.Equal(t, "offer.docx", second.Template.FileName)

	highlights, err := s.ListTemplateHighlights(ctx, "tpl_1")
	require.NoError(t, err)
	require.Len(t, highlights, 3)
	assert.Equal(t, "Full name", highlights[0].Label)
}

func TestHighlightUpsertMissingTemplate(t *testing.T) {
	s, ctx := openTestStore(t)
	_, err := s.ApplyHighlightUpsert(ctx, HighlightUpsert{TemplateID: "missing", OwnerID: "usr_1"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestHighlightUpsertScopedToOwner(t *testing.T) {
	s, ctx := openTestStore(t)
	seedTemplate(t, ctx, s, "tpl_1")
	_, err := s.ApplyHighlightUpsert(ctx, HighlightUpsert{
		TemplateID: "tpl_1",
		OwnerID:    "usr_1",
		Scope:      "usr_1",
		Highlights: []Highlight{{ID: "h1", Label: "Name", Text: "Jane", Type: "text"}},
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateTemplate(ctx, Template{
		ID:        "tpl_2",
		ProjectID: "prj_1",
		FileName:  "letter.docx",
		Content:   "<p>Hello</p>",
		CreatedBy: "usr_2",
	}))
	_, err = s.ApplyHighlightUpsert(ctx, HighlightUpsert{
		TemplateID: "tpl_2",
		OwnerID:    "usr_2",
		Scope:      "usr_2",
		Highlights: []Highlight{
			{ID: "h5", Label: "Greeting", Text: "Hi", Type: "text"},
			{ID: "h1", Label: "Changed", Text: "Mallory", Type: "text"},
		},
	})
	require.ErrorIs(t, err, ErrForeignHighlight)

	highlights, err := s.ListTemplateHighlights(ctx, "tpl_1")
	require.NoError(t, err)
	require.Len(t, highlights, 1)
	assert.Equal(t, "Name", highlights[0].Label)
	assert.Equal(t, "Jane", highlights[0].Text)

	// The whole write rolled back, h5 included.
	other, err := s.GetTemplate(ctx, "tpl_2")
	require.NoError(t, err)
	assert.Empty(t, other.HighlightRefs)

	_, err = s.ApplyHighlightUpsert(ctx, HighlightUpsert{
		TemplateID: "tpl_2",
		OwnerID:    "usr_admin",
		Highlights: []Highlight{{ID: "h1", Label: "Full name", Text: "Jane", Type: "text"}},
	})
	require.NoError(t, err)
}

func TestDocumentSnapshotSyncAndDelete(t *testing.T) {
	s, ctx := openTestStore(t)
	seedTemplate(t, ctx, s, "tpl_1")
	_, err := s.ApplyHighlightUpsert(ctx, HighlightUpsert{
		TemplateID: "tpl_1",
		OwnerID:    "usr_1",
		Highlights: []Highlight{{ID: "h1", Label: "Name", Text: "Jane", Type: "text"}},
	})
	require.NoError(t, err)

	doc, err := s.CreateDocument(ctx, Document{
		ID:         "doc_1",
		TemplateID: "tpl_1",
		FileName:   "offer.docx",
		Content:    "<p>v1</p>",
		CreatedBy:  "usr_1",
		Highlights: []DocumentHighlight{{RefID: "dh_1", SourceHighlightID: "h1", Label: "Name", Text: "Acme", Type: "text"}},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, doc.ClientID)

	added := []DocumentHighlight{
		{RefID: "dh_2", SourceHighlightID: "h1", Label: "ignored", Text: "ignored", Type: "text"},
		{RefID: "dh_3", SourceHighlightID: "h2", Label: "Amount", Text: "5", Type: "number"},
	}
	require.NoError(t, s.SyncDocumentHighlights(ctx, "doc_1", added, "<p>v2</p>"))

	doc, err = s.GetDocument(ctx, "doc_1")
	require.NoError(t, err)
	assert.Equal(t, "<p>v2</p>", doc.Content)
	require.Len(t, doc.Highlights, 2)
	assert.Equal(t, "Acme", doc.Highlights[0].Text)
	assert.Equal(t, "h2", doc.Highlights[1].SourceHighlightID)

	require.NoError(t, s.RemoveDocumentHighlight(ctx, "doc_1", "h1"))
	doc, err = s.GetDocument(ctx, "doc_1")
	require.NoError(t, err)
	require.Len(t, doc.Highlights, 1)

	_, err = s.ApplyHighlightDelete(ctx, HighlightDelete{TemplateID: "tpl_1", HighlightID: "h1", OwnerID: "usr_2"})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	template, err := s.ApplyHighlightDelete(ctx, HighlightDelete{TemplateID: "tpl_1", HighlightID: "h1", OwnerID: "usr_1"})
	require.NoError(t, err)
	assert.Empty(t, template.HighlightRefs)
	assert.Equal(t, []string{"doc_1"}, template.DocumentRefs)

	_, err = s.ApplyHighlightDelete(ctx, HighlightDelete{TemplateID: "tpl_1", HighlightID: "h1", OwnerID: "usr_1"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestClientUpsertIsAtomicPerName(t *testing.T) {
	s, ctx := openTestStore(t)
	seedTemplate(t, ctx, s, "tpl_1")

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := s.UpsertClientDocument(ctx, ClientRegistration{
				ClientID:         "cli_" + string(rune('a'+i)),
				Name:             "Acme",
				StableIdentifier: "pending:acme",
				IdentityStatus:   IdentityPending,
				Details:          []ClientDetail{{Label: "Name", Value: string(rune('A' + i))}},
			})
			ids[i] = client.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	clients, err := s.ListClients(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, clients, 1)

	client, err := s.GetClientByName(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, client.Details, 1)
}

func TestClientDetailsFirstWriteWins(t *testing.T) {
	s, ctx := openTestStore(t)
	seedTemplate(t, ctx, s, "tpl_1")

	_, err := s.CreateDocument(ctx, Document{ID: "doc_1", TemplateID: "tpl_1", FileName: "a.docx", CreatedBy: "usr_1"}, &ClientRegistration{
		ClientID:         "cli_1",
		Name:             "Acme",
		StableIdentifier: "pending:acme",
		IdentityStatus:   IdentityPending,
		Details:          []ClientDetail{{Label: "Name", Value: "Acme Corp"}},
	})
	require.NoError(t, err)

	client, err := s.UpsertClientDocument(ctx, ClientRegistration{
		ClientID:         "cli_2",
		Name:             "Acme",
		StableIdentifier: "pending:acme",
		IdentityStatus:   IdentityPending,
		TemplateID:       "tpl_1",
		DocumentID:       "doc_1",
		Details: []ClientDetail{
			{Label: "Name", Value: "Overwritten"},
			{Label: "Amount", Value: "100"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cli_1", client.ID)
	assert.Equal(t, []ClientDetail{{Label: "Name", Value: "Acme Corp"}, {Label: "Amount", Value: "100"}}, client.Details)
	require.Len(t, client.Documents, 1)
	assert.Equal(t, "doc_1", client.Documents[0].DocumentID)
}

func TestUpdateClientIdentityConflict(t *testing.T) {
	s, ctx := openTestStore(t)

	_, err := s.CreateClient(ctx, Client{ID: "cli_1", Name: "Acme", StableIdentifier: "ops@acme.test", IdentityStatus: IdentityConfirmed})
	require.NoError(t, err)
	_, err = s.CreateClient(ctx, Client{ID: "cli_2", Name: "Globex", StableIdentifier: "pending:globex", IdentityStatus: IdentityPending})
	require.NoError(t, err)

	_, err = s.UpdateClientIdentity(ctx, IdentityUpdate{ClientID: "cli_2", StableIdentifier: "ops@acme.test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	updated, err := s.UpdateClientIdentity(ctx, IdentityUpdate{ClientID: "cli_2", StableIdentifier: "hello@globex.test", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, IdentityConfirmed, updated.IdentityStatus)
	assert.Equal(t, "555", updated.Phone)

	_, err = s.UpdateClientIdentity(ctx, IdentityUpdate{ClientID: "missing", StableIdentifier: "x@y.test"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteTemplateCascades(t *testing.T) {
	s, ctx := openTestStore(t)
	seedTemplate(t, ctx, s, "tpl_1")
	seedTemplate(t, ctx, s, "tpl_2")

	_, err := s.ApplyHighlightUpsert(ctx, HighlightUpsert{TemplateID: "tpl_1", OwnerID: "usr_1",
		Highlights: []Highlight{{ID: "solo", Label: "Solo", Type: "text"}, {ID: "shared", Label: "Shared", Type: "text"}}})
	require.NoError(t, err)
	_, err = s.ApplyHighlightUpsert(ctx, HighlightUpsert{TemplateID: "tpl_2", OwnerID: "usr_1",
		Highlights: []Highlight{{ID: "shared", Label: "Shared", Type: "text"}}})
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, Document{ID: "doc_1", TemplateID: "tpl_1", FileName: "a.docx", CreatedBy: "usr_1"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTemplate(ctx, "tpl_1"))

	_, err = s.GetDocument(ctx, "doc_1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	remaining, err := s.ListTemplateHighlights(ctx, "tpl_2")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "shared", remaining[0].ID)

	assert.ErrorIs(t, s.DeleteTemplate(ctx, "tpl_1"), sql.ErrNoRows)
}
