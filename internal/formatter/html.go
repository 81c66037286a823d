package formatter

import (
	"strconv"
	"strings"
)

// htmlEscaper escapes every character that is significant in HTML text or
// attribute context.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes &, <, >, " and '.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// FormatHTML converts text to HTML using only h1-h6, p, ul, li, strong and br.
func FormatHTML(text, heading string) string {
	return RenderHTML(ToBlocks(text, heading))
}

// RenderHTML renders blocks. Contiguous list items share a single <ul>.
func RenderHTML(blocks []Block) string {
	var sb strings.Builder
	for _, group := range Groups(blocks) {
		first := group[0]
		switch first.Kind {
		case KindListItem:
			sb.WriteString("<ul>")
			for _, item := range group {
				sb.WriteString("<li>")
				writeRuns(&sb, item.Runs)
				sb.WriteString("</li>")
			}
			sb.WriteString("</ul>")
		case KindHeading:
			tag := "h" + strconv.Itoa(clampLevel(first.Level))
			sb.WriteString("<" + tag + ">")
			writeRuns(&sb, first.Runs)
			sb.WriteString("</" + tag + ">")
		default:
			sb.WriteString("<p>")
			writeRuns(&sb, first.Runs)
			sb.WriteString("</p>")
		}
	}
	return sb.String()
}

func writeRuns(sb *strings.Builder, runs []Run) {
	for _, r := range runs {
		text := strings.ReplaceAll(EscapeHTML(r.Text), "\n", "<br>")
		if r.Bold {
			sb.WriteString("<strong>")
			sb.WriteString(text)
			sb.WriteString("</strong>")
			continue
		}
		sb.WriteString(text)
	}
}

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	return min(level, MaxHeadingLevel)
}
