// Package export renders assistant responses as downloadable text, PDF and
// DOCX files.
package export

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Format names a target file format.
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name with or without a leading dot.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")) {
	case FormatText, "text":
		return FormatText, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX, "word":
		return FormatDOCX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ErrInProgress is returned when an export is requested while the same
// guard is already held.
var ErrInProgress = errors.New("an export is already in progress")

// Document is the input to an Exporter.
type Document struct {
	// Text is the raw model output.
	Text string
	// Title is drawn at the top of PDFs and stored as document metadata.
	Title string
	// Heading is prepended as a level-2 heading in structured formats.
	Heading string
}

// Blank reports whether the document has nothing to render.
func (d Document) Blank() bool {
	return strings.TrimSpace(d.Text) == ""
}

// Exporter converts a document into one file format. Exporters return
// (nil, nil) for blank documents without touching their renderer.
type Exporter interface {
	Export(ctx context.Context, doc Document) ([]byte, error)
	FileExtension() string
	MimeType() string
}

// Guard is the "exporting" flag for one chat session. The zero value is
// ready to use.
type Guard struct {
	active atomic.Bool
}

// Begin acquires the guard. The returned release func must be deferred.
func (g *Guard) Begin() (func(), bool) {
	if !g.active.CompareAndSwap(false, true) {
		return func() {}, false
	}
	return func() { g.active.Store(false) }, true
}

// Active reports whether an export currently holds the guard.
func (g *Guard) Active() bool {
	return g.active.Load()
}

// Result is a finished export.
type Result struct {
	Data     []byte
	FileName string
	MimeType string
	// Skipped is set when the document was blank and nothing was rendered.
	Skipped bool
}

// Service dispatches documents to the exporter for each format.
type Service struct {
	exporters map[Format]Exporter
}

// NewService registers the text, PDF and DOCX exporters.
func NewService(pdf PDFOptions) *Service {
	return &Service{exporters: map[Format]Exporter{
		FormatText: TextExporter{},
		FormatPDF:  NewPDFRenderer(pdf),
		FormatDOCX: NewDocxRenderer(),
	}}
}

// Register replaces the exporter for a format.
func (s *Service) Register(format Format, e Exporter) {
	s.exporters[format] = e
}

// Export renders doc while holding guard (nil means ungated). The guard is
// released on every return path, including blank input and render errors.
func (s *Service) Export(ctx context.Context, guard *Guard, format Format, doc Document, baseName string) (Result, error) {
	if guard != nil {
		release, ok := guard.Begin()
		defer release()
		if !ok {
			return Result{}, ErrInProgress
		}
	}

	exporter, ok := s.exporters[format]
	if !ok {
		return Result{}, fmt.Errorf("unsupported export format %q", format)
	}
	if doc.Blank() {
		return Result{Skipped: true}, nil
	}

	data, err := exporter.Export(ctx, doc)
	if err != nil {
		return Result{}, fmt.Errorf("export %s: %w", format, err)
	}
	return Result{
		Data:     data,
		FileName: FileName(baseName, doc.Title) + exporter.FileExtension(),
		MimeType: exporter.MimeType(),
	}, nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// FileName picks a download name without extension from the first
// non-empty candidate, falling back to "response".
func FileName(candidates ...string) string {
	for _, c := range candidates {
		slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(c), "-"), "-")
		if slug != "" {
			if len(slug) > 80 {
				slug = strings.TrimRight(slug[:80], "-")
			}
			return slug
		}
	}
	return "response"
}

// TextExporter writes the literal message text as UTF-8.
type TextExporter struct{}

func (TextExporter) Export(_ context.Context, doc Document) ([]byte, error) {
	if doc.Blank() {
		return nil, nil
	}
	return []byte(doc.Text), nil
}

func (TextExporter) FileExtension() string { return ".txt" }

func (TextExporter) MimeType() string { return "text/plain; charset=utf-8" }
