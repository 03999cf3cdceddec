package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/observability"
)

const (
	defaultQuality = 85
	defaultDPI     = 150
)

// SourceConfig controls how pages are extracted
type SourceConfig struct {
	Mode    domain.ContentMode
	Quality int     // JPEG quality, 1-100
	DPI     float64 // render resolution
}

// Source opens PDFs with go-fitz and hands out pages as JPEG images or as
// their text layer, depending on the configured mode
type Source struct {
	cfg       SourceConfig
	validator *Validator
	logger    *observability.Logger
}

// NewSource creates a document source. Zero config values select defaults.
func NewSource(cfg SourceConfig, logger *observability.Logger) *Source {
	if cfg.Mode == "" {
		cfg.Mode = domain.ContentImage
	}
	if cfg.Quality == 0 {
		cfg.Quality = defaultQuality
	}
	if cfg.DPI == 0 {
		cfg.DPI = defaultDPI
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Source{
		cfg:       cfg,
		validator: NewValidator(logger),
		logger:    logger.WithComponent("pdf"),
	}
}

// Mode reports what kind of content the source produces.
func (s *Source) Mode() domain.ContentMode {
	return s.cfg.Mode
}

// Open validates and opens a PDF. Every failure is a DocumentError.
func (s *Source) Open(ctx context.Context, path string) (domain.Document, error) {
	if err := s.validator.ValidatePDFPath(path); err != nil {
		return nil, domain.DocumentError("invalid document", err)
	}
	if err := s.validator.ValidateQuality(s.cfg.Quality); err != nil {
		return nil, domain.DocumentError("invalid render settings", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.DocumentError("open cancelled", err)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.DocumentError("failed to open PDF", err)
	}

	pageCount := doc.NumPage()
	if pageCount == 0 {
		doc.Close()
		return nil, domain.DocumentError("PDF has no pages", nil)
	}

	s.logger.Debug().Str("path", path).Int("pages", pageCount).Str("mode", string(s.cfg.Mode)).Msg("opened document")

	return &Document{
		doc:       doc,
		cfg:       s.cfg,
		pageCount: pageCount,
		pages:     make(map[int]domain.PageContent, pageCount),
	}, nil
}

// Document is an opened PDF. Pages are extracted once and cached so
// several providers can share one document.
type Document struct {
	mu        sync.Mutex
	doc       *fitz.Document
	cfg       SourceConfig
	pageCount int
	pages     map[int]domain.PageContent
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pageCount
}

// Page extracts one 1-based page.
func (d *Document) Page(ctx context.Context, pageNumber int) (domain.PageContent, error) {
	if pageNumber < 1 || pageNumber > d.pageCount {
		return domain.PageContent{}, domain.DocumentError(fmt.Sprintf("page %d out of range 1..%d", pageNumber, d.pageCount), nil)
	}
	if err := ctx.Err(); err != nil {
		return domain.PageContent{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return domain.PageContent{}, domain.DocumentError("document is closed", nil)
	}
	if page, ok := d.pages[pageNumber]; ok {
		return page, nil
	}

	var (
		page domain.PageContent
		err  error
	)
	if d.cfg.Mode == domain.ContentText {
		page, err = d.textPage(pageNumber)
	} else {
		page, err = d.imagePage(pageNumber)
	}
	if err != nil {
		return domain.PageContent{}, err
	}

	d.pages[pageNumber] = page
	return page, nil
}

func (d *Document) imagePage(pageNumber int) (domain.PageContent, error) {
	img, err := d.doc.ImageDPI(pageNumber-1, d.cfg.DPI)
	if err != nil {
		return domain.PageContent{}, domain.DocumentError(fmt.Sprintf("failed to render page %d", pageNumber), err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.cfg.Quality}); err != nil {
		return domain.PageContent{}, domain.DocumentError(fmt.Sprintf("failed to encode page %d as JPEG", pageNumber), err)
	}

	return domain.PageContent{
		PageNumber: pageNumber,
		Image:      buf.Bytes(),
		MIMEType:   "image/jpeg",
	}, nil
}

func (d *Document) textPage(pageNumber int) (domain.PageContent, error) {
	text, err := d.doc.Text(pageNumber - 1)
	if err != nil {
		return domain.PageContent{}, domain.DocumentError(fmt.Sprintf("failed to extract text of page %d", pageNumber), err)
	}
	return domain.PageContent{PageNumber: pageNumber, Text: text}, nil
}

// Close releases the underlying document.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	d.pages = nil
	return err
}
