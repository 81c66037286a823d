package formatter

import "strings"

const boldMarker = "**"

// ParseInline splits s into plain and bold runs. Only "**text**" with a
// non-empty body is bold; an unmatched marker stays literal. Single
// asterisks are never treated as emphasis.
func ParseInline(s string) []Run {
	var runs []Run
	plain := func(text string) {
		if text == "" {
			return
		}
		if n := len(runs); n > 0 && !runs[n-1].Bold && !runs[n-1].Italic {
			runs[n-1].Text += text
			return
		}
		runs = append(runs, Run{Text: text})
	}

	rest := s
	for rest != "" {
		open := strings.Index(rest, boldMarker)
		if open < 0 {
			plain(rest)
			break
		}
		body := rest[open+len(boldMarker):]
		end := strings.Index(body, boldMarker)
		if end <= 0 {
			// "****" or no closing marker: keep the opening marker literal.
			plain(rest[:open+len(boldMarker)])
			rest = body
			continue
		}
		plain(rest[:open])
		runs = append(runs, Run{Text: body[:end], Bold: true})
		rest = body[end+len(boldMarker):]
	}

	if len(runs) == 0 {
		return []Run{{Text: ""}}
	}
	return runs
}
