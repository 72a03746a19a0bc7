// Package export turns stored document markup into office files and zip
// archives.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat defaults to DOCX when value is empty.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatDOCX:
		return FormatDOCX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, value)
	}
}

func (f Format) MimeType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// Value is the literal text a marker resolves to.
type Value struct {
	ID   string
	Text string
}

// Source is everything needed to render one file.
type Source struct {
	ID       string
	Title    string
	FileName string
	Content  string
	Values   []Value
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Converter renders a complete HTML page into the target binary format.
// Implementations must be pure: identical markup yields identical bytes.
type Converter interface {
	Render(ctx context.Context, markup string) ([]byte, error)
}

var (
	// ErrConversion wraps every failure of a Converter.
	ErrConversion = errors.New("conversion failed")
	// ErrDependencyMissing indicates the converter binary is unavailable.
	ErrDependencyMissing = errors.New("export dependency missing")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
