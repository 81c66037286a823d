package formatter

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// displayMarkdown renders chat messages for the browser. Raw HTML in model
// output is dropped by goldmark's default (unsafe disabled) renderer.
var displayMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

// displayTags is the tag set that survives DisplayHTML.
var displayTags = map[string]bool{
	"p": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
	"strong": true, "em": true, "del": true,
	"code": true, "pre": true, "blockquote": true,
	"a": true,
}

// DisplayHTML renders markdown for on-screen display. Unlike FormatHTML it
// understands full CommonMark, but the output is restricted to a fixed tag
// set and links keep only http(s) and mailto targets.
func DisplayHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return "<p>" + Placeholder + "</p>"
	}

	var buf bytes.Buffer
	if err := displayMarkdown.Convert([]byte(md), &buf); err != nil {
		return FormatHTML(md, "")
	}
	return sanitizeDisplayHTML(buf.String())
}

// sanitizeDisplayHTML re-emits src keeping only displayTags. Text is
// re-escaped because the tokenizer hands back unescaped data.
func sanitizeDisplayHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var sb strings.Builder

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		switch tt {
		case html.TextToken:
			sb.WriteString(html.EscapeString(tok.Data))
		case html.StartTagToken, html.SelfClosingTagToken:
			if !displayTags[tok.Data] {
				continue
			}
			if tok.Data == "br" {
				sb.WriteString("<br>")
				continue
			}
			if tok.Data == "a" {
				if href := safeHref(tok.Attr); href != "" {
					sb.WriteString(`<a href="` + html.EscapeString(href) + `" rel="noopener noreferrer" target="_blank">`)
				} else {
					sb.WriteString("<a>")
				}
				continue
			}
			sb.WriteString("<" + tok.Data + ">")
		case html.EndTagToken:
			if displayTags[tok.Data] && tok.Data != "br" {
				sb.WriteString("</" + tok.Data + ">")
			}
		}
	}

	return strings.TrimSpace(sb.String())
}

func safeHref(attrs []html.Attribute) string {
	for _, a := range attrs {
		if a.Key != "href" {
			continue
		}
		v := strings.TrimSpace(a.Val)
		lower := strings.ToLower(v)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return v
		}
	}
	return ""
}
