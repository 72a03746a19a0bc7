package store

import "time"

const (
	IdentityPending   = "pending"
	IdentityConfirmed = "confirmed"
)

type Highlight struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Template struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	FileName        string    `json:"fileName"`
	Content         string    `json:"content"`
	SourceObjectKey string    `json:"sourceObjectKey,omitempty"`
	CreatedBy       string    `json:"createdBy"`
	HighlightRefs   []string  `json:"highlightRefs"`
	DocumentRefs    []string  `json:"documentRefs"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type TemplateFilter struct {
	ProjectID string
	CreatedBy string
}

// DocumentHighlight is a point-in-time copy of a template highlight.
type DocumentHighlight struct {
	RefID             string `json:"highlightRefId"`
	SourceHighlightID string `json:"sourceHighlightId"`
	Label             string `json:"label"`
	Text              string `json:"text"`
	Type              string `json:"type"`
}

type Document struct {
	ID         string              `json:"id"`
	TemplateID string              `json:"templateId"`
	ClientID   string              `json:"clientId,omitempty"`
	FileName   string              `json:"fileName"`
	Content    string              `json:"content"`
	CreatedBy  string              `json:"createdBy"`
	Highlights []DocumentHighlight `json:"highlights"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

type ClientDetail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type ClientDocument struct {
	TemplateID       string    `json:"templateId"`
	TemplateFileName string    `json:"templateFileName,omitempty"`
	DocumentID       string    `json:"documentId"`
	DocumentFileName string    `json:"documentFileName,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Client struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	StableIdentifier string           `json:"stableIdentifier"`
	IdentityStatus   string           `json:"identityStatus"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	CreatedBy        string           `json:"createdBy"`
	Documents        []ClientDocument `json:"documents"`
	Details          []ClientDetail   `json:"details"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// HighlightUpsert is one synchronizer write against a template.
// Nil FileName or Content leaves the stored value unchanged. OwnerID owns
// highlights created by the write; existing highlights are only updated when
// their owner matches Scope, and an empty Scope matches any owner.
type HighlightUpsert struct {
	TemplateID string
	OwnerID    string
	Scope      string
	FileName   *string
	Content    *string
	Highlights []Highlight
}

type HighlightUpsertResult struct {
	Template Template
	// Created holds ids of highlight records that did not exist before.
	Created []string
	// Added holds highlights newly referenced by the template, in ref order.
	Added []Highlight
}

type HighlightDelete struct {
	TemplateID  string
	HighlightID string
	// OwnerID scopes the delete; empty means any owner.
	OwnerID string
	Content *string
}

// ClientRegistration is the create-or-fetch input for a recipient plus the
// document it just received.
type ClientRegistration struct {
	ClientID         string
	Name             string
	StableIdentifier string
	IdentityStatus   string
	Email            string
	Phone            string
	CreatedBy        string
	TemplateID       string
	DocumentID       string
	Details          []ClientDetail
}

type IdentityUpdate struct {
	ClientID         string
	StableIdentifier string
	Email            string
	Phone            string
}
