// Package formatter turns model output into a small block model
// (headings, paragraphs, bullet items) and renders it as restricted HTML.
package formatter

import (
	"strings"
)

// Placeholder is the paragraph emitted for empty input.
const Placeholder = "No response received."

// MaxHeadingLevel is the deepest ATX heading recognized.
const MaxHeadingLevel = 6

// Kind classifies a Block.
type Kind int

const (
	KindParagraph Kind = iota
	KindHeading
	KindListItem
)

func (k Kind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindListItem:
		return "list-item"
	default:
		return "paragraph"
	}
}

// Run is a span of text sharing one inline style.
type Run struct {
	Text   string
	Bold   bool
	Italic bool
}

// Block is one classified unit of formatted text.
// Level is only meaningful for headings. GroupStart marks the first item
// of a list group so adjacent groups split by a blank line stay distinct.
type Block struct {
	Kind       Kind
	Level      int
	Runs       []Run
	GroupStart bool
}

// Text returns the block's runs concatenated without styling.
func (b Block) Text() string {
	var sb strings.Builder
	for _, r := range b.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// ToBlocks classifies text line by line. A non-empty heading is emitted
// first as a level-2 heading. Consecutive bullet lines form one list group;
// blank lines and any other line close the group.
func ToBlocks(text, heading string) []Block {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []Block{{Kind: KindParagraph, Runs: []Run{{Text: Placeholder}}}}
	}

	var blocks []Block
	if h := strings.TrimSpace(heading); h != "" {
		blocks = append(blocks, Block{Kind: KindHeading, Level: 2, Runs: ParseInline(h)})
	}

	var group []Block
	flush := func() {
		blocks = append(blocks, group...)
		group = nil
	}

	for _, raw := range strings.Split(trimmed, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		if level, rest, ok := headingLine(line); ok {
			flush()
			blocks = append(blocks, Block{Kind: KindHeading, Level: level, Runs: ParseInline(rest)})
			continue
		}
		if item, ok := bulletLine(line); ok {
			group = append(group, Block{Kind: KindListItem, Runs: ParseInline(item), GroupStart: len(group) == 0})
			continue
		}
		flush()
		blocks = append(blocks, Block{Kind: KindParagraph, Runs: ParseInline(line)})
	}
	flush()

	return blocks
}

// Groups splits blocks so each list group shares one slice and every other
// block stands alone.
func Groups(blocks []Block) [][]Block {
	var out [][]Block
	for i := 0; i < len(blocks); {
		if blocks[i].Kind != KindListItem {
			out = append(out, blocks[i:i+1])
			i++
			continue
		}
		j := i + 1
		for j < len(blocks) && blocks[j].Kind == KindListItem && !blocks[j].GroupStart {
			j++
		}
		out = append(out, blocks[i:j])
		i = j
	}
	return out
}

// headingLine reports whether line is an ATX heading: 1-6 '#' then whitespace.
func headingLine(line string) (int, string, bool) {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > MaxHeadingLevel || n >= len(line) || !isSpace(line[n]) {
		return 0, "", false
	}
	return min(n, MaxHeadingLevel), strings.TrimSpace(line[n:]), true
}

// bulletLine reports whether line starts with "- " or "* " and returns the item text.
func bulletLine(line string) (string, bool) {
	if len(line) < 2 || (line[0] != '-' && line[0] != '*') || !isSpace(line[1]) {
		return "", false
	}
	return strings.TrimSpace(line[2:]), true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
