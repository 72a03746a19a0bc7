package app

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"docmerge/api/internal/rbac"
	"docmerge/api/internal/store"
	"docmerge/api/internal/util"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type HighlightValue struct {
	HighlightID string `json:"highlightId"`
	Text        string `json:"text"`
}

func (v HighlightValue) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.HighlightID, validation.Required),
		validation.Field(&v.Text, validation.Length(0, MaxValueLength)),
	)
}

// IdentityHints let the caller name a recipient by something steadier than
// its display name.
type IdentityHints struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
}

func (h IdentityHints) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Email, validation.Match(emailPattern).Error("must be a valid email address")),
		validation.Field(&h.Phone, validation.Length(0, 64)),
		validation.Field(&h.EmployeeID, validation.Length(0, 128)),
	)
}

type GenerateRequest struct {
	TemplateID    string           `json:"templateId"`
	RecipientName string           `json:"recipientName"`
	FileName      string           `json:"fileName,omitempty"`
	Values        []HighlightValue `json:"values,omitempty"`
	Identity      *IdentityHints   `json:"identity,omitempty"`
}

func (r GenerateRequest) Validate() error {
	name := strings.TrimSpace(r.RecipientName)
	return validation.ValidateStruct(&r,
		validation.Field(&r.TemplateID, validation.Required),
		validation.Field(&r.RecipientName, validation.By(func(any) error {
			if name == "" {
				return errors.New("cannot be blank")
			}
			return nil
		}), validation.Length(0, 256)),
		validation.Field(&r.FileName, validation.Length(0, 256)),
		validation.Field(&r.Values),
		validation.Field(&r.Identity),
	)
}

type Generated struct {
	Document store.Document `json:"document"`
	Client   store.Client   `json:"client"`
}

type BatchFailure struct {
	Index   int             `json:"index"`
	Request GenerateRequest `json:"request"`
	Code    string          `json:"code"`
	Reason  string          `json:"reason"`
	Message string          `json:"message"`
}

type BatchResult struct {
	Succeeded []Generated    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// BatchRecipient is one row of a template-by-recipient batch.
type BatchRecipient struct {
	Name     string           `json:"name"`
	Values   []HighlightValue `json:"values,omitempty"`
	Identity *IdentityHints   `json:"identity,omitempty"`
}

// ExpandBatch pairs every template with every recipient, templates outermost.
func ExpandBatch(templateIDs []string, recipients []BatchRecipient) []GenerateRequest {
	requests := make([]GenerateRequest, 0, len(templateIDs)*len(recipients))
	for _, templateID := range templateIDs {
		for _, recipient := range recipients {
			requests = append(requests, GenerateRequest{
				TemplateID:    templateID,
				RecipientName: recipient.Name,
				Values:        recipient.Values,
				Identity:      recipient.Identity,
			})
		}
	}
	return requests
}

// GenerateDocument merges the template with the supplied values into a new
// document and registers the recipient. The snapshot follows the template's
// ref order; highlights without a supplied value keep their stored text.
func (s *Service) GenerateDocument(ctx context.Context, session Session, req GenerateRequest) (Generated, error) {
	result, err := s.generate(ctx, session, req)
	s.metrics.Generation("single", err)
	return result, err
}

func (s *Service) generate(ctx context.Context, session Session, req GenerateRequest) (Generated, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return Generated{}, err
	}
	if err := invalidInput(req.Validate()); err != nil {
		return Generated{}, err
	}
	template, err := s.visibleTemplate(ctx, session, req.TemplateID)
	if err != nil {
		return Generated{}, err
	}

	supplied := make(map[string]string, len(req.Values))
	unknown := validation.Errors{}
	for i, value := range req.Values {
		if !slices.Contains(template.HighlightRefs, value.HighlightID) {
			unknown[strconv.Itoa(i)] = errors.New("highlight " + value.HighlightID + " is not part of the template")
			continue
		}
		supplied[value.HighlightID] = value.Text
	}
	if len(unknown) > 0 {
		return Generated{}, validationFailed("Invalid input", validation.Errors{"values": unknown})
	}

	highlights, err := s.store.ListTemplateHighlights(ctx, template.ID)
	if err != nil {
		return Generated{}, err
	}
	snapshot := make([]store.DocumentHighlight, 0, len(highlights))
	details := make([]store.ClientDetail, 0, len(highlights))
	for _, item := range highlights {
		text := item.Text
		if value, ok := supplied[item.ID]; ok {
			text = value
		}
		snapshot = append(snapshot, store.DocumentHighlight{
			RefID:             util.NewID("dh"),
			SourceHighlightID: item.ID,
			Label:             item.Label,
			Text:              text,
			Type:              item.Type,
		})
		if text != "" {
			details = append(details, store.ClientDetail{Label: item.Label, Value: text})
		}
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = template.FileName
	}
	registration := newRegistration(session, strings.TrimSpace(req.RecipientName), req.Identity, details)
	document, err := s.store.CreateDocument(ctx, store.Document{
		ID:         util.NewID("doc"),
		TemplateID: template.ID,
		FileName:   fileName,
		Content:    template.Content,
		CreatedBy:  session.UserID,
		Highlights: snapshot,
	}, &registration)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Generated{}, conflict("Recipient identity is already registered")
		}
		return Generated{}, translateMissing(err, "Template not found")
	}
	s.recordRevision(document, session.UserName, "Generate from template "+template.ID)

	client, err := s.store.GetClient(ctx, document.ClientID)
	if err != nil {
		return Generated{}, err
	}
	s.indexClient(client)

	s.log.Info().
		Str("template_id", template.ID).
		Str("document_id", document.ID).
		Str("client_id", client.ID).
		Msg("document generated")
	return Generated{Document: document, Client: client}, nil
}

// GenerateBatch runs every request independently. Results keep input order;
// one failed request never aborts the others. Cancelling ctx stops requests
// that have not started, and they are reported as failures next to the
// documents already committed.
func (s *Service) GenerateBatch(ctx context.Context, session Session, requests []GenerateRequest) (BatchResult, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return BatchResult{}, err
	}
	if len(requests) == 0 {
		return BatchResult{}, validationFailed("At least one request is required", nil)
	}
	if s.cfg.MaxBatchSize > 0 && len(requests) > s.cfg.MaxBatchSize {
		return BatchResult{}, validationFailed("Too many requests in batch", map[string]any{"max": s.cfg.MaxBatchSize})
	}

	generated := make([]Generated, len(requests))
	errs := make([]error, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range requests {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, s.cfg.ItemTimeout)
			defer cancel()

			if err := itemCtx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			generated[i], errs[i] = s.generate(itemCtx, session, req)
			s.metrics.Generation("batch", errs[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		s.log.Warn().Err(err).Int("requests", len(requests)).Msg("batch generation interrupted")
	}

	result := BatchResult{Succeeded: make([]Generated, 0, len(requests)), Failed: make([]BatchFailure, 0)}
	for i, req := range requests {
		if errs[i] == nil {
			result.Succeeded = append(result.Succeeded, generated[i])
			continue
		}
		code, kind := errorKind(errs[i])
		result.Failed = append(result.Failed, BatchFailure{Index: i, Request: req, Code: code, Reason: kind, Message: errs[i].Error()})
	}
	s.log.Info().
		Int("requests", len(requests)).
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Msg("batch generated")
	return result, nil
}

// newRegistration builds the client registration for a recipient. Email is
// preferred over employee id as the stable identifier; without either the
// identity stays pending.
func newRegistration(session Session, name string, hints *IdentityHints, details []store.ClientDetail) store.ClientRegistration {
	reg := store.ClientRegistration{
		ClientID:         util.NewID("cli"),
		Name:             name,
		StableIdentifier: pendingIdentifier(name),
		IdentityStatus:   store.IdentityPending,
		CreatedBy:        session.UserID,
		Details:          details,
	}
	if hints == nil {
		return reg
	}
	reg.Email = normalizeEmail(hints.Email)
	reg.Phone = strings.TrimSpace(hints.Phone)
	switch {
	case reg.Email != "":
		reg.StableIdentifier = reg.Email
		reg.IdentityStatus = store.IdentityConfirmed
	case strings.TrimSpace(hints.EmployeeID) != "":
		reg.StableIdentifier = "employee:" + strings.TrimSpace(hints.EmployeeID)
		reg.IdentityStatus = store.IdentityConfirmed
	}
	return reg
}
