package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// PandocConverter produces DOCX through the pandoc binary.
type PandocConverter struct {
	Path    string
	TempDir string
}

func NewPandocConverter(path, tempDir string) *PandocConverter {
	if path == "" {
		path = "pandoc"
	}
	return &PandocConverter{Path: path, TempDir: tempDir}
}

func (p *PandocConverter) command(ctx context.Context, args ...string) (*exec.Cmd, error) {
	if _, err := exec.LookPath(p.Path); err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDependencyMissing)
	}
	cmd := exec.CommandContext(ctx, p.Path, args...)
	// Pins the zip entry timestamps so identical input gives identical bytes.
	cmd.Env = append(os.Environ(), "SOURCE_DATE_EPOCH=0")
	return cmd, nil
}

func run(cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: pandoc: %s", ErrConversion, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: pandoc: %v", ErrConversion, err)
	}
	return output, nil
}

func (p *PandocConverter) Render(ctx context.Context, markup string) ([]byte, error) {
	cmd, err := p.command(ctx, "-f", "html", "-t", "docx", "--standalone", "-o", "-")
	if err != nil {
		return nil, err
	}
	cmd.Stdin = strings.NewReader(markup)
	output, err := run(cmd)
	if err != nil {
		return nil, err
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: pandoc produced no output", ErrConversion)
	}
	return output, nil
}

// ImportDOCX converts an uploaded DOCX into HTML body markup. pandoc cannot
// read zip input from stdin, so the upload is staged in a temp file that is
// removed before returning.
func (p *PandocConverter) ImportDOCX(ctx context.Context, data []byte) (string, error) {
	file, err := os.CreateTemp(p.TempDir, "import-*.docx")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	cmd, err := p.command(ctx, "-f", "docx", "-t", "html", file.Name())
	if err != nil {
		return "", err
	}
	output, err := run(cmd)
	if err != nil {
		return "", err
	}
	return string(output), nil
}
