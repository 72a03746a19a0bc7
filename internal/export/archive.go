package export

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ItemFailure records a batch entry that was left out of an archive.
type ItemFailure struct {
	ID     string `json:"documentId"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Archive is a zip written to a temp file. Close removes the file and must
// be called on every path once the archive is created.
type Archive struct {
	file    *os.File
	zw      *zip.Writer
	names   map[string]int
	size    int64
	Entries []string
	Failed  []ItemFailure
}

func NewArchive(dir string) (*Archive, error) {
	file, err := os.CreateTemp(dir, "export-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	return &Archive{
		file:    file,
		zw:      zip.NewWriter(file),
		names:   make(map[string]int),
		Entries: make([]string, 0),
		Failed:  make([]ItemFailure, 0),
	}, nil
}

// uniqueName appends -2, -3, ... before the extension for repeated names.
func (a *Archive) uniqueName(name string) string {
	a.names[name]++
	n := a.names[name]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	if _, taken := a.names[candidate]; taken {
		return a.uniqueName(name)
	}
	a.names[candidate] = 1
	return candidate
}

// Add writes one entry and returns the name it was stored under.
func (a *Archive) Add(name string, data []byte) (string, error) {
	name = a.uniqueName(name)
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("write archive entry %s: %w", name, err)
	}
	a.Entries = append(a.Entries, name)
	return name, nil
}

// Finish flushes the zip directory and rewinds the file for reading.
func (a *Archive) Finish() error {
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	size, err := a.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("size archive: %w", err)
	}
	a.size = size
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}
	return nil
}

func (a *Archive) Reader() io.ReadSeeker {
	return a.file
}

func (a *Archive) Size() int64 {
	return a.size
}

func (a *Archive) Path() string {
	return a.file.Name()
}

func (a *Archive) Close() error {
	closeErr := a.file.Close()
	if err := os.Remove(a.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return fmt.Errorf("close archive file: %w", closeErr)
	}
	return nil
}
