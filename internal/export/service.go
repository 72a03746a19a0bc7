package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"golang.org/x/sync/errgroup"
)

// Loader fetches the render input for one batch item.
type Loader func(ctx context.Context, id string) (Source, error)

type Options struct {
	TempDir     string
	Concurrency int
	ItemTimeout time.Duration
	// ObserveConversion is called after each successful converter run.
	ObserveConversion func(format string, elapsed time.Duration)
}

// Service renders sources with the converter registered for each format.
type Service struct {
	converters map[Format]Converter
	opts       Options
}

func NewService(converters map[Format]Converter, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = time.Minute
	}
	return &Service{converters: converters, opts: opts}
}

// Markup resolves markers and wraps the body in the page shell.
func (s *Service) Markup(src Source) (string, error) {
	body, err := ResolveMarkers(src.Content, src.Values)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversion, err)
	}
	title := src.Title
	if title == "" {
		title = src.FileName
	}
	page, err := RenderDocumentHTML(TemplateData{Title: title, ContentHTML: template.HTML(body)})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return page, nil
}

func (s *Service) Render(ctx context.Context, src Source, format Format) (*Result, error) {
	converter, ok := s.converters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	page, err := s.Markup(src)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	data, err := converter.Render(ctx, page)
	if err != nil {
		return nil, err
	}
	if s.opts.ObserveConversion != nil {
		s.opts.ObserveConversion(string(format), time.Since(started))
	}
	return &Result{
		Data:     data,
		Filename: OutputFilename(src.FileName, format),
		MimeType: format.MimeType(),
	}, nil
}

// ExportBatch converts every id concurrently, each under its own timeout,
// and zips the successes in input order. Failed items are listed in
// Archive.Failed. The archive file is only created after all items settle.
func (s *Service) ExportBatch(ctx context.Context, ids []string, format Format, load Loader) (*Archive, error) {
	results := make([]*Result, len(ids))
	failures := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, s.opts.ItemTimeout)
			defer cancel()

			src, err := load(itemCtx, id)
			if err != nil {
				failures[i] = err
				return nil
			}
			result, err := s.Render(itemCtx, src, format)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	archive, err := NewArchive(s.opts.TempDir)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if failures[i] != nil {
			archive.Failed = append(archive.Failed, ItemFailure{ID: id, Reason: failures[i].Error(), Err: failures[i]})
			continue
		}
		if _, err := archive.Add(results[i].Filename, results[i].Data); err != nil {
			archive.Close()
			return nil, err
		}
	}
	if err := archive.Finish(); err != nil {
		archive.Close()
		return nil, err
	}
	return archive, nil
}
