package email

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "complete", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewService(tt.config).IsConfigured())
		})
	}
}

func configured() Config {
	return Config{Host: "smtp.example.com", Port: "587", From: "docs@example.com", FromName: "Docs", Timeout: time.Second}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewService(Config{}).Send(context.Background(), Message{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendBuildsMultipartWithAttachment(t *testing.T) {
	svc := NewService(configured())
	var captured []byte
	var capturedTo []string
	svc.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, "docs@example.com", from)
		capturedTo = to
		captured = msg
		return nil
	}

	attachment := []byte("PK\x03\x04 binary docx bytes")
	err := svc.Send(context.Background(), Message{
		To:          []string{"client@example.com"},
		Subject:     "Your offer",
		HTMLBody:    "<p>Hello</p>",
		Attachments: []Attachment{{Filename: "offer.docx", ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Data: attachment}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"client@example.com"}, capturedTo)

	parsed, err := mail.ReadMessage(strings.NewReader(string(captured)))
	require.NoError(t, err)
	assert.Equal(t, "Your offer", parsed.Header.Get("Subject"))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	reader := multipart.NewReader(parsed.Body, params["boundary"])
	htmlPart, err := reader.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(htmlPart)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", string(body))

	filePart, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "offer.docx", filePart.FileName())
	assert.Equal(t, "base64", filePart.Header.Get("Content-Transfer-Encoding"))
}

func TestSendSurfacesRejection(t *testing.T) {
	svc := NewService(configured())
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("550 mailbox unavailable")
	}
	err := svc.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")
}

func TestSendTimesOut(t *testing.T) {
	cfg := configured()
	cfg.Timeout = 10 * time.Millisecond
	svc := NewService(cfg)
	release := make(chan struct{})
	defer close(release)
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}
	err := svc.Send(context.Background(), Message{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRenderDocumentEmail(t *testing.T) {
	html, err := RenderDocumentEmail(DocumentData{RecipientName: "Acme <Corp>", FileName: "offer.docx"})
	require.NoError(t, err)
	assert.Contains(t, html, "Acme &lt;Corp&gt;")
	assert.Contains(t, html, "offer.docx")
	assert.Contains(t, html, "Docmerge")
	assert.NotContains(t, html, "Sent by")
}
