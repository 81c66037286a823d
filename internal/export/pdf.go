package export

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
)

// PDFOptions controls page geometry and font. Zero fields take defaults.
type PDFOptions struct {
	Margin     float64
	LineHeight float64
	FontSize   float64
	FontFamily string
}

// UnicodeFont is the embedded UTF-8 family. Any other family is treated as
// an fpdf core font and drawn through the cp1252 translator.
const UnicodeFont = "DejaVu"

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	dejaVuRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	dejaVuBold []byte
)

// DefaultPDFOptions is A4 with 40pt margins, 16pt lines and DejaVu 12.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{Margin: 40, LineHeight: 16, FontSize: 12, FontFamily: UnicodeFont}
}

func (o PDFOptions) withDefaults() PDFOptions {
	d := DefaultPDFOptions()
	if o.Margin <= 0 {
		o.Margin = d.Margin
	}
	if o.LineHeight <= 0 {
		o.LineHeight = d.LineHeight
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.FontFamily == "" {
		o.FontFamily = d.FontFamily
	}
	return o
}

// pdfDocument is the subset of *fpdf.Fpdf the renderer drives.
type pdfDocument interface {
	SetTitle(title string, isUTF8 bool)
	SetCreator(creator string, isUTF8 bool)
	SetAutoPageBreak(auto bool, margin float64)
	SetFont(family, style string, size float64)
	AddUTF8FontFromBytes(family, style string, utf8Bytes []byte)
	GetPageSize() (float64, float64)
	GetStringWidth(s string) float64
	UnicodeTranslatorFromDescriptor(cpStr string) func(string) string
	AddPage()
	Text(x, y float64, txt string)
	Output(w io.Writer) error
	Error() error
}

// PDFRenderer draws raw text onto fixed-size pages.
type PDFRenderer struct {
	opts        PDFOptions
	newDocument func() pdfDocument
}

// NewPDFRenderer returns a renderer backed by fpdf.
func NewPDFRenderer(opts PDFOptions) *PDFRenderer {
	return &PDFRenderer{
		opts: opts.withDefaults(),
		newDocument: func() pdfDocument {
			return fpdf.New("P", "pt", "A4", "")
		},
	}
}

func (r *PDFRenderer) FileExtension() string { return ".pdf" }

func (r *PDFRenderer) MimeType() string { return "application/pdf" }

// Export implements Exporter.
func (r *PDFRenderer) Export(ctx context.Context, doc Document) ([]byte, error) {
	return r.Render(ctx, doc.Text, doc.Title)
}

// Render wraps text to the content width and paginates it. Blank text
// returns (nil, nil) without creating a document.
func (r *PDFRenderer) Render(ctx context.Context, text, title string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	text = strings.ToValidUTF8(text, "\uFFFD")
	title = strings.ToValidUTF8(title, "\uFFFD")

	pdf := r.newDocument()
	pdf.SetCreator("acqassist", true)
	pdf.SetAutoPageBreak(false, 0)
	if title = strings.TrimSpace(title); title != "" {
		pdf.SetTitle(title, true)
	}

	tr := func(s string) string { return s }
	if r.opts.FontFamily == UnicodeFont {
		pdf.AddUTF8FontFromBytes(UnicodeFont, "", dejaVuRegular)
		pdf.AddUTF8FontFromBytes(UnicodeFont, "B", dejaVuBold)
	} else {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pageWidth, pageHeight := pdf.GetPageSize()
	layout := Layout{
		PageHeight: pageHeight,
		Margin:     r.opts.Margin,
		LineHeight: r.opts.LineHeight,
	}
	width := pageWidth - 2*r.opts.Margin

	var lines []Line
	if title != "" {
		pdf.SetFont(r.opts.FontFamily, "B", r.opts.FontSize)
		for _, l := range WrapLines(title, width, func(s string) float64 { return pdf.GetStringWidth(tr(s)) }) {
			lines = append(lines, Line{Text: l, Bold: true})
		}
		lines = append(lines, Line{})
	}
	pdf.SetFont(r.opts.FontFamily, "", r.opts.FontSize)
	for _, l := range WrapLines(text, width, func(s string) float64 { return pdf.GetStringWidth(tr(s)) }) {
		lines = append(lines, Line{Text: l})
	}

	for _, page := range Paginate(lines, layout) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf.AddPage()
		for _, pl := range page {
			if pl.Text == "" {
				continue
			}
			style := ""
			if pl.Bold {
				style = "B"
			}
			pdf.SetFont(r.opts.FontFamily, style, r.opts.FontSize)
			pdf.Text(r.opts.Margin, pl.Y, tr(pl.Text))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Line is one wrapped line of output.
type Line struct {
	Text string
	Bold bool
}

// PlacedLine is a Line with its baseline on the page.
type PlacedLine struct {
	Line
	Y float64
}

// Layout is the vertical page geometry used by Paginate.
type Layout struct {
	PageHeight float64
	Margin     float64
	LineHeight float64
}

// Paginate assigns lines to pages top-down. The cursor starts at the top
// margin; a new page starts once it has moved past PageHeight-Margin.
// Every page receives at least one line.
func Paginate(lines []Line, layout Layout) [][]PlacedLine {
	if len(lines) == 0 {
		return nil
	}
	var pages [][]PlacedLine
	var page []PlacedLine
	y := layout.Margin
	for _, l := range lines {
		if y > layout.PageHeight-layout.Margin && len(page) > 0 {
			pages = append(pages, page)
			page = nil
			y = layout.Margin
		}
		page = append(page, PlacedLine{Line: l, Y: y})
		y += layout.LineHeight
	}
	return append(pages, page)
}

// WrapLines splits text into lines no wider than width as reported by
// measure. Hard newlines are kept. Breaks fall after whitespace; the
// whitespace stays at the end of the broken line, so concatenating the
// wrapped pieces of a source line reproduces it exactly. Words wider
// than width are split between runes.
func WrapLines(text string, width float64, measure func(string) float64) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if width <= 0 {
		return strings.Split(text, "\n")
	}
	var out []string
	for _, hard := range strings.Split(text, "\n") {
		out = append(out, wrapLine(hard, width, measure)...)
	}
	return out
}

func wrapLine(line string, width float64, measure func(string) float64) []string {
	if line == "" {
		return []string{""}
	}
	fits := func(s string) bool {
		return measure(strings.TrimRight(s, " \t")) <= width
	}

	var out []string
	cur := ""
	for _, tok := range splitWords(line) {
		if cur != "" && fits(cur+tok) {
			cur += tok
			continue
		}
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
		for !fits(tok) {
			head, rest := splitToWidth(tok, fits)
			out = append(out, head)
			tok = rest
		}
		cur = tok
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// splitWords cuts s before every non-space that follows a space, so each
// piece is a word plus its trailing whitespace.
func splitWords(s string) []string {
	var words []string
	start := 0
	prevSpace := false
	for i, r := range s {
		space := r == ' ' || r == '\t'
		if !space && prevSpace && i > start {
			words = append(words, s[start:i])
			start = i
		}
		prevSpace = space
	}
	return append(words, s[start:])
}

// splitToWidth returns the longest rune prefix of s that fits, and the
// remainder. At least one rune is always taken.
func splitToWidth(s string, fits func(string) bool) (string, string) {
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		next := end + size
		if end > 0 && !fits(s[:next]) {
			break
		}
		end = next
		if !fits(s[:end]) {
			break
		}
	}
	return s[:end], s[end:]
}
