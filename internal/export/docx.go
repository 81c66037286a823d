package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jonbmost/acquisition-assistant/internal/formatter"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// EmptyDocxText fills a document whose tree produced no paragraphs.
const EmptyDocxText = "No content provided."

// Paragraph is one DOCX paragraph. Heading is 1-6 for heading styles and 0
// for body text.
type Paragraph struct {
	Heading     int
	Bullet      bool
	BulletLevel int
	Runs        []TextRun
}

// TextRun is a styled span inside a paragraph. A Break run is an explicit
// line break and carries no text.
type TextRun struct {
	Text   string
	Bold   bool
	Italic bool
	Break  bool
}

// DocxRenderer walks an HTML tree and packages the result as OOXML.
type DocxRenderer struct {
	write func(w *bytes.Buffer, title string, paras []Paragraph) error
}

// NewDocxRenderer returns a renderer that writes a .docx package.
func NewDocxRenderer() *DocxRenderer {
	return &DocxRenderer{write: func(w *bytes.Buffer, title string, paras []Paragraph) error {
		return WriteDocx(w, title, paras)
	}}
}

func (r *DocxRenderer) FileExtension() string { return ".docx" }

func (r *DocxRenderer) MimeType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// Export formats doc.Text into the restricted HTML subset and renders it.
func (r *DocxRenderer) Export(ctx context.Context, doc Document) ([]byte, error) {
	if doc.Blank() {
		return nil, nil
	}
	root, err := ParseTree(formatter.FormatHTML(doc.Text, doc.Heading))
	if err != nil {
		return nil, err
	}
	return r.renderTitled(ctx, root, doc.Title)
}

// Render packages the tree. A tree without any text is a no-op.
func (r *DocxRenderer) Render(ctx context.Context, root *html.Node) ([]byte, error) {
	return r.renderTitled(ctx, root, "")
}

func (r *DocxRenderer) renderTitled(ctx context.Context, root *html.Node, title string) ([]byte, error) {
	if root == nil || !hasText(root) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := r.write(&buf, title, BuildParagraphs(root)); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseTree parses an HTML fragment or document.
func ParseTree(src string) (*html.Node, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return root, nil
}

// BuildParagraphs walks root depth-first in document order. Headings, p
// and each li of a ul become paragraphs; every other element is treated as
// a transparent container.
func BuildParagraphs(root *html.Node) []Paragraph {
	var paras []Paragraph

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.DataAtom); level > 0 {
				paras = append(paras, Paragraph{Heading: level, Runs: inlineRuns(n)})
				return
			}
			switch n.DataAtom {
			case atom.P:
				paras = append(paras, Paragraph{Runs: inlineRuns(n)})
				return
			case atom.Ul:
				for li := n.FirstChild; li != nil; li = li.NextSibling {
					if li.Type == html.ElementNode && li.DataAtom == atom.Li {
						paras = append(paras, Paragraph{Bullet: true, BulletLevel: 0, Runs: inlineRuns(li)})
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(paras) == 0 {
		return []Paragraph{{Runs: []TextRun{{Text: EmptyDocxText}}}}
	}
	return paras
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// inlineRuns flattens n's descendants into runs. Bold and italic come from
// strong/b and em/i ancestors below n; br becomes a Break run.
func inlineRuns(n *html.Node) []TextRun {
	var runs []TextRun
	var walk func(n *html.Node, bold, italic bool)
	walk = func(n *html.Node, bold, italic bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if c.Data != "" {
					runs = append(runs, TextRun{Text: c.Data, Bold: bold, Italic: italic})
				}
			case html.ElementNode:
				switch c.DataAtom {
				case atom.Br:
					runs = append(runs, TextRun{Break: true})
				case atom.Strong, atom.B:
					walk(c, true, italic)
				case atom.Em, atom.I:
					walk(c, bold, true)
				default:
					walk(c, bold, italic)
				}
			}
		}
	}
	walk(n, false, false)
	return runs
}

func hasText(n *html.Node) bool {
	if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasText(c) {
			return true
		}
	}
	return false
}
