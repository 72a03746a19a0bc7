package app

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"docmerge/api/internal/store"
)

// memoryStore keeps the same contracts as the Postgres store in memory.
type memoryStore struct {
	mu         sync.Mutex
	templates  map[string]store.Template
	highlights map[string]store.Highlight
	documents  map[string]store.Document
	clients    map[string]store.Client
	// failSync makes synchronization writes to these documents fail.
	failSync map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		templates:  make(map[string]store.Template),
		highlights: make(map[string]store.Highlight),
		documents:  make(map[string]store.Document),
		clients:    make(map[string]store.Client),
		failSync:   make(map[string]error),
	}
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) CreateTemplate(_ context.Context, item store.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[item.ID]; ok {
		return fmt.Errorf("insert template: %w", store.ErrDuplicate)
	}
	item.HighlightRefs = []string{}
	item.DocumentRefs = []string{}
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.templates[item.ID] = item
	return nil
}

func (m *memoryStore) GetTemplate(_ context.Context, id string) (store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.template(id)
}

func (m *memoryStore) template(id string) (store.Template, error) {
	item, ok := m.templates[id]
	if !ok {
		return store.Template{}, sql.ErrNoRows
	}
	item.HighlightRefs = slices.Clone(item.HighlightRefs)
	item.DocumentRefs = slices.Clone(item.DocumentRefs)
	return item, nil
}

func (m *memoryStore) ListTemplates(_ context.Context, filter store.TemplateFilter) ([]store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Template, 0)
	for id, item := range m.templates {
		if filter.ProjectID != "" && item.ProjectID != filter.ProjectID {
			continue
		}
		if filter.CreatedBy != "" && item.CreatedBy != filter.CreatedBy {
			continue
		}
		copied, _ := m.template(id)
		items = append(items, copied)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memoryStore) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[id]
	if !ok {
		return sql.ErrNoRows
	}
	for _, documentID := range item.DocumentRefs {
		delete(m.documents, documentID)
	}
	delete(m.templates, id)
	for _, highlightID := range item.HighlightRefs {
		m.dropOrphan(highlightID)
	}
	return nil
}

func (m *memoryStore) dropOrphan(highlightID string) {
	for _, item := range m.templates {
		if slices.Contains(item.HighlightRefs, highlightID) {
			return
		}
	}
	delete(m.highlights, highlightID)
}

func (m *memoryStore) ListTemplateHighlights(_ context.Context, templateID string) ([]store.Highlight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[templateID]
	if !ok {
		return []store.Highlight{}, nil
	}
	items := make([]store.Highlight, 0, len(item.HighlightRefs))
	for _, id := range item.HighlightRefs {
		items = append(items, m.highlights[id])
	}
	return items, nil
}

func (m *memoryStore) ListProjectLabels(_ context.Context, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels := make([]string, 0)
	for _, item := range m.templates {
		if item.ProjectID != projectID {
			continue
		}
		for _, id := range item.HighlightRefs {
			labels = append(labels, m.highlights[id].Label)
		}
	}
	return slices.Compact(slices.Sorted(slices.Values(labels))), nil
}

func (m *memoryStore) ApplyHighlightUpsert(_ context.Context, in store.HighlightUpsert) (store.HighlightUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[in.TemplateID]
	if !ok {
		return store.HighlightUpsertResult{}, sql.ErrNoRows
	}
	if in.FileName != nil {
		item.FileName = *in.FileName
	}
	if in.Content != nil {
		item.Content = *in.Content
	}

	for _, incoming := range in.Highlights {
		if existing, found := m.highlights[incoming.ID]; found && in.Scope != "" && existing.OwnerID != in.Scope {
			return store.HighlightUpsertResult{}, store.ErrForeignHighlight
		}
	}

	result := store.HighlightUpsertResult{Created: make([]string, 0), Added: make([]store.Highlight, 0)}
	for _, incoming := range in.Highlights {
		existing, found := m.highlights[incoming.ID]
		if found {
			existing.Label, existing.Text, existing.Type = incoming.Label, incoming.Text, incoming.Type
			existing.UpdatedAt = time.Now()
		} else {
			existing = incoming
			existing.OwnerID = in.OwnerID
			existing.CreatedAt = time.Now()
			existing.UpdatedAt = existing.CreatedAt
			result.Created = append(result.Created, incoming.ID)
		}
		m.highlights[incoming.ID] = existing
		if !slices.Contains(item.HighlightRefs, incoming.ID) {
			item.HighlightRefs = append(item.HighlightRefs, incoming.ID)
			result.Added = append(result.Added, existing)
		}
	}
	m.templates[item.ID] = item
	result.Template, _ = m.template(item.ID)
	return result, nil
}

func (m *memoryStore) ApplyHighlightDelete(_ context.Context, in store.HighlightDelete) (store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[in.TemplateID]
	if !ok {
		return store.Template{}, sql.ErrNoRows
	}
	highlight, ok := m.highlights[in.HighlightID]
	if !ok || !slices.Contains(item.HighlightRefs, in.HighlightID) {
		return store.Template{}, sql.ErrNoRows
	}
	if in.OwnerID != "" && highlight.OwnerID != in.OwnerID {
		return store.Template{}, sql.ErrNoRows
	}
	item.HighlightRefs = slices.DeleteFunc(item.HighlightRefs, func(id string) bool { return id == in.HighlightID })
	if in.Content != nil {
		item.Content = *in.Content
	}
	m.templates[item.ID] = item
	m.dropOrphan(in.HighlightID)
	return m.template(item.ID)
}

func (m *memoryStore) SyncDocumentHighlights(_ context.Context, documentID string, added []store.DocumentHighlight, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failSync[documentID]; err != nil {
		return err
	}
	document, ok := m.documents[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	document.Content = content
	for _, item := range added {
		if !slices.ContainsFunc(document.Highlights, func(h store.DocumentHighlight) bool {
			return h.SourceHighlightID == item.SourceHighlightID
		}) {
			document.Highlights = append(document.Highlights, item)
		}
	}
	m.documents[documentID] = document
	return nil
}

func (m *memoryStore) RemoveDocumentHighlight(_ context.Context, documentID, sourceHighlightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failSync[documentID]; err != nil {
		return err
	}
	document, ok := m.documents[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	document.Highlights = slices.DeleteFunc(document.Highlights, func(h store.DocumentHighlight) bool {
		return h.SourceHighlightID == sourceHighlightID
	})
	m.documents[documentID] = document
	return nil
}

func (m *memoryStore) CreateDocument(_ context.Context, doc store.Document, reg *store.ClientRegistration) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[doc.TemplateID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	if _, ok := m.documents[doc.ID]; ok {
		return store.Document{}, store.ErrDuplicate
	}
	if reg != nil {
		clientID, err := m.upsertClient(*reg)
		if err != nil {
			return store.Document{}, err
		}
		doc.ClientID = clientID
		registration := *reg
		registration.TemplateID = doc.TemplateID
		registration.DocumentID = doc.ID
		m.recordClientDocument(clientID, registration)
	}
	doc.Highlights = slices.Clone(doc.Highlights)
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	m.documents[doc.ID] = doc
	item.DocumentRefs = append(item.DocumentRefs, doc.ID)
	m.templates[item.ID] = item
	return m.document(doc.ID)
}

func (m *memoryStore) document(id string) (store.Document, error) {
	item, ok := m.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	item.Highlights = slices.Clone(item.Highlights)
	return item, nil
}

func (m *memoryStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.document(id)
}

func (m *memoryStore) ListTemplateDocuments(_ context.Context, templateID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Document, 0)
	for _, id := range m.templates[templateID].DocumentRefs {
		item, _ := m.document(id)
		items = append(items, item)
	}
	return items, nil
}

func (m *memoryStore) UpdateDocumentContent(_ context.Context, id, fileName, content string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	if fileName != "" {
		item.FileName = fileName
	}
	item.Content = content
	m.documents[id] = item
	return m.document(id)
}

func (m *memoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.documents, id)
	if template, ok := m.templates[item.TemplateID]; ok {
		template.DocumentRefs = slices.DeleteFunc(template.DocumentRefs, func(ref string) bool { return ref == id })
		m.templates[template.ID] = template
	}
	return nil
}

func (m *memoryStore) upsertClient(reg store.ClientRegistration) (string, error) {
	if reg.IdentityStatus == store.IdentityConfirmed && reg.StableIdentifier != "" {
		for _, item := range m.clients {
			if item.StableIdentifier == reg.StableIdentifier {
				return item.ID, nil
			}
		}
	}
	for _, item := range m.clients {
		if item.Name == reg.Name {
			return item.ID, nil
		}
	}
	for _, item := range m.clients {
		if item.StableIdentifier == reg.StableIdentifier {
			return "", store.ErrDuplicate
		}
	}
	m.clients[reg.ClientID] = store.Client{
		ID:               reg.ClientID,
		Name:             reg.Name,
		StableIdentifier: reg.StableIdentifier,
		IdentityStatus:   reg.IdentityStatus,
		Email:            reg.Email,
		Phone:            reg.Phone,
		CreatedBy:        reg.CreatedBy,
		Documents:        []store.ClientDocument{},
		Details:          []store.ClientDetail{},
		CreatedAt:        time.Now(),
	}
	return reg.ClientID, nil
}

func (m *memoryStore) recordClientDocument(clientID string, reg store.ClientRegistration) {
	item := m.clients[clientID]
	if reg.TemplateID != "" && reg.DocumentID != "" {
		item.Documents = append(item.Documents, store.ClientDocument{TemplateID: reg.TemplateID, DocumentID: reg.DocumentID, CreatedAt: time.Now()})
	}
	for _, detail := range reg.Details {
		if !slices.ContainsFunc(item.Details, func(d store.ClientDetail) bool { return d.Label == detail.Label }) {
			item.Details = append(item.Details, detail)
		}
	}
	m.clients[clientID] = item
}

func (m *memoryStore) client(id string) (store.Client, error) {
	item, ok := m.clients[id]
	if !ok {
		return store.Client{}, sql.ErrNoRows
	}
	item.Documents = slices.Clone(item.Documents)
	item.Details = slices.Clone(item.Details)
	return item, nil
}

func (m *memoryStore) UpsertClientDocument(_ context.Context, reg store.ClientRegistration) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.upsertClient(reg)
	if err != nil {
		return store.Client{}, err
	}
	m.recordClientDocument(id, reg)
	return m.client(id)
}

func (m *memoryStore) CreateClient(_ context.Context, item store.Client) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.clients {
		if existing.Name == item.Name || existing.StableIdentifier == item.StableIdentifier {
			return store.Client{}, store.ErrDuplicate
		}
	}
	details := item.Details
	item.Details = []store.ClientDetail{}
	item.Documents = []store.ClientDocument{}
	m.clients[item.ID] = item
	m.recordClientDocument(item.ID, store.ClientRegistration{Details: details})
	return m.client(item.ID)
}

func (m *memoryStore) GetClient(_ context.Context, id string) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client(id)
}

func (m *memoryStore) GetClientByName(_ context.Context, name string) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.clients {
		if item.Name == name {
			return m.client(id)
		}
	}
	return store.Client{}, sql.ErrNoRows
}

func (m *memoryStore) ListClients(_ context.Context, limit, offset int) ([]store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Client, 0, len(m.clients))
	for id := range m.clients {
		item, _ := m.client(id)
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (m *memoryStore) UpdateClientIdentity(_ context.Context, in store.IdentityUpdate) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.clients[in.ClientID]
	if !ok {
		return store.Client{}, sql.ErrNoRows
	}
	for _, other := range m.clients {
		if other.ID != in.ClientID && other.StableIdentifier == in.StableIdentifier {
			return store.Client{}, fmt.Errorf("update client identity: %w", store.ErrDuplicate)
		}
	}
	item.StableIdentifier = in.StableIdentifier
	item.IdentityStatus = store.IdentityConfirmed
	if in.Email != "" {
		item.Email = in.Email
	}
	if in.Phone != "" {
		item.Phone = in.Phone
	}
	m.clients[item.ID] = item
	return m.client(item.ID)
}

func (m *memoryStore) ListClientDocuments(_ context.Context, clientID string) ([]store.ClientDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.client(clientID)
	if err != nil {
		return nil, err
	}
	return item.Documents, nil
}
